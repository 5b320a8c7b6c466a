package sitekeeper

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// VariableStore reads and writes GitHub Actions repository variables, which
// is where the post-URL list lives between runs. The CI platform serializes
// concurrent writers, so the store itself does no locking.
type VariableStore struct {
	// Repo is the repository in owner/name format.
	Repo string

	// Token is a GitHub token with actions:write on the repository.
	Token string

	apiBaseURL string
	client     *http.Client
	log        *zap.SugaredLogger
}

const githubAPIBaseURL = "https://api.github.com"

// NewVariableStore returns a store for the given repository.
func NewVariableStore(repo, token string, options ...func(*VariableStore)) (*VariableStore, error) {
	if repo == "" || !strings.Contains(repo, "/") {
		return nil, errors.New("repository must be specified in owner/name format")
	}
	if token == "" {
		return nil, errors.New("a GitHub token must be specified")
	}
	vs := &VariableStore{
		Repo:       repo,
		Token:      token,
		apiBaseURL: githubAPIBaseURL,
		client:     initHTTPClient(20 * time.Second),
		log:        zap.NewNop().Sugar(),
	}
	for _, o := range options {
		o(vs)
	}
	return vs, nil
}

// WithStoreLogger sets the *zap.SugaredLogger the store uses. Without it,
// a no-op log is used.
func WithStoreLogger(logger *zap.SugaredLogger) func(*VariableStore) {
	return func(vs *VariableStore) {
		vs.log = logger
	}
}

// WithStoreBaseURL overrides the GitHub API base URL, for tests and for
// GHES deployments.
func WithStoreBaseURL(baseURL string) func(*VariableStore) {
	return func(vs *VariableStore) {
		vs.apiBaseURL = strings.TrimRight(baseURL, "/")
	}
}

// Get returns the variable's current value. A variable that does not exist
// yet reads as the empty string.
func (vs *VariableStore) Get(name string) (string, error) {
	resp, err := vs.do("GET", vs.variableURL(name), "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", vs.apiError(resp, name)
	}
	var variable struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := decodeResponse(resp.Body, &variable); err != nil {
		return "", errors.Wrapf(err, "variable %s", name)
	}
	return variable.Value, nil
}

// Set updates the variable, creating it when it does not exist yet.
func (vs *VariableStore) Set(name, value string) error {
	resp, err := vs.do("PATCH", vs.variableURL(name), vs.payload(name, value))
	if err != nil {
		return err
	}
	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		resp.Body.Close()
		vs.log.Infow("updated CI variable", "repo", vs.Repo, "name", name)
		return nil
	case http.StatusNotFound:
		// Variable does not exist yet; create it below.
		resp.Body.Close()
	default:
		defer resp.Body.Close()
		return vs.apiError(resp, name)
	}

	resp, err = vs.do("POST", fmt.Sprintf("%s/repos/%s/actions/variables", vs.apiBaseURL, vs.Repo),
		vs.payload(name, value))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return vs.apiError(resp, name)
	}
	vs.log.Infow("created CI variable", "repo", vs.Repo, "name", name)
	return nil
}

func (vs *VariableStore) variableURL(name string) string {
	return fmt.Sprintf("%s/repos/%s/actions/variables/%s",
		vs.apiBaseURL, vs.Repo, url.PathEscape(name))
}

func (vs *VariableStore) payload(name, value string) string {
	b, _ := json.Marshal(struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}{Name: name, Value: value})
	return string(b)
}

func (vs *VariableStore) do(method, endpoint, body string) (*http.Response, error) {
	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, endpoint, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Add("Accept", "application/vnd.github+json")
	req.Header.Add("Authorization", "Bearer "+vs.Token)
	if body != "" {
		req.Header.Add("Content-Type", "application/json")
	}
	resp, err := vs.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "error reaching GitHub API")
	}
	return resp, nil
}

// apiError decodes GitHub's error body so run logs say more than a bare
// status code.
func (vs *VariableStore) apiError(resp *http.Response, name string) error {
	var apiResponse struct {
		Message string `json:"message"`
	}
	_ = decodeResponse(resp.Body, &apiResponse)
	return fmt.Errorf("GitHub API error for variable %s: %s: %s",
		name, resp.Status, apiResponse.Message)
}
