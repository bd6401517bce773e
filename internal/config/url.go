package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseRootURL extracts the remote service base URL and the opaque root
// document ID from a share URL. Share URLs take the form
// https://host/<anything>/<Title>-<id> or https://host/<anything>/<id>;
// the ID is the final hyphen-separated segment of the last path element.
func ParseRootURL(raw string) (baseURL, rootID string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("config: parsing remote URL %q: %w", raw, err)
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return "", "", fmt.Errorf("config: remote URL %q must be http(s)", raw)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")

	last := segments[len(segments)-1]
	if last == "" {
		return "", "", fmt.Errorf("config: remote URL %q has no document ID", raw)
	}

	if idx := strings.LastIndex(last, "-"); idx >= 0 && idx < len(last)-1 {
		last = last[idx+1:]
	}

	return u.Scheme + "://" + u.Host, last, nil
}
