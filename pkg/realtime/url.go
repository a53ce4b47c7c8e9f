package realtime

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildURL derives the socket URL for an access token. base may use an
// http(s) or ws(s) scheme; http schemes are mapped to their ws counterparts.
func BuildURL(base, projectID, accessToken string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("parse realtime url: unsupported scheme %q", u.Scheme)
	}

	q := u.Query()
	q.Set("projectId", projectID)
	q.Set("token", accessToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// redactURL strips the query so tokens never end up in logs.
func redactURL(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}
