package transport

import (
	"fmt"
	"net/url"
	"strings"
)

// TranscribePath is where the transcriber service accepts audio streams.
const TranscribePath = "/api/transcriber/ws/transcribe"

// Endpoint derives the websocket URL from the app's base URL. Secure origins
// map to wss and plain ones to ws; any path, query or fragment on base is
// replaced.
func Endpoint(base string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("invalid server url %q: scheme must be http, https, ws or wss", base)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server url %q: missing host", base)
	}

	u.Path = TranscribePath
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u.String(), nil
}
