package conversation

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
)

// ServerURLEnv names the environment variable holding the conversation server base URL.
const ServerURLEnv = "ARENA_SERVER_URL"

var ErrNoServerURL = errors.New(ServerURLEnv + " is not set")

// ServerURLFromEnv returns the server base URL. The environment is read once per process.
var ServerURLFromEnv = sync.OnceValues(func() (string, error) {
	return serverURL(os.Getenv(ServerURLEnv))
})

func serverURL(raw string) (string, error) {
	if raw == "" {
		return "", ErrNoServerURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", ServerURLEnv, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%s: unsupported scheme %q", ServerURLEnv, u.Scheme)
	}
	return strings.TrimSuffix(u.String(), "/"), nil
}

// StreamURL derives the event stream endpoint from the server base URL.
func StreamURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

// APIURL derives the REST endpoint from the server base URL.
func APIURL(base string) string {
	return strings.TrimSuffix(base, "/") + "/api"
}
