package sitekeeper

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// PostList is the ordered list of social post URLs shown on the page,
// newest first. Every entry is unique by exact string equality after
// normalization.
type PostList struct {
	URLs []string
}

// ParsePostList decodes the JSON array held in the CI variable. An empty
// or unset variable means an empty list.
func ParsePostList(value string) (PostList, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return PostList{}, nil
	}
	var urls []string
	if err := json.Unmarshal([]byte(value), &urls); err != nil {
		return PostList{}, errors.Wrap(err, "error decoding post list")
	}
	return PostList{URLs: urls}, nil
}

// NormalizePostURL canonicalizes a post URL: the host is lowercased and
// Twitter hosts are rewritten to x.com, so the same post can't sneak into
// the list under two spellings.
func NormalizePostURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", errors.Wrapf(err, "invalid post URL %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errors.Errorf("post URL %q must be absolute http(s)", raw)
	}
	if u.Host == "" {
		return "", errors.Errorf("post URL %q has no host", raw)
	}
	host := strings.ToLower(u.Host)
	switch host {
	case "twitter.com", "www.twitter.com", "mobile.twitter.com", "www.x.com":
		host = "x.com"
	}
	u.Host = host
	return u.String(), nil
}

// Add normalizes raw and prepends it to the list. It reports whether the
// list changed: adding a URL that is already present is a no-op, so the
// operation is idempotent.
func (l *PostList) Add(raw string) (bool, error) {
	normalized, err := NormalizePostURL(raw)
	if err != nil {
		return false, err
	}
	if l.Contains(normalized) {
		return false, nil
	}
	l.URLs = append([]string{normalized}, l.URLs...)
	return true, nil
}

// Contains reports whether u is already in the list, by exact match.
func (l PostList) Contains(u string) bool {
	for _, existing := range l.URLs {
		if existing == u {
			return true
		}
	}
	return false
}

// Encode returns the compact JSON array stored back into the CI variable.
// An empty list encodes as [], never null.
func (l PostList) Encode() (string, error) {
	urls := l.URLs
	if urls == nil {
		urls = []string{}
	}
	b, err := json.Marshal(urls)
	if err != nil {
		return "", errors.Wrap(err, "error encoding post list")
	}
	return string(b), nil
}

// Render writes the list to the static data file consumed by the page.
func (l PostList) Render(path string) error {
	urls := l.URLs
	if urls == nil {
		urls = []string{}
	}
	return writeJSONFile(path, urls)
}
