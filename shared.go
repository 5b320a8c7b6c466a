package sitekeeper

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

func initHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}

// decodeResponse unmarshals a JSON payload into dest, which must be a pointer.
func decodeResponse(payload io.Reader, dest interface{}) error {
	d := json.NewDecoder(payload)
	if err := d.Decode(&dest); err != nil {
		return errors.Wrap(err, "error decoding JSON body")
	}
	return nil
}

// writeJSONFile marshals v and writes it to path via a temp file and rename,
// so a failed write never clobbers the previously published file.
func writeJSONFile(path string, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "error encoding JSON file")
	}
	b = append(b, '\n')
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "error creating directory for %s", path)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return errors.Wrapf(err, "error writing %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "error replacing %s", path)
	}
	return nil
}
