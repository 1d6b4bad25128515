package chat

import (
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/xiaot623/fedchat/internal/protocol"
)

// EndpointFromOrigin derives the realtime endpoint from the page origin:
// the scheme is upgraded to its websocket variant, the host is kept and the
// path is always /ws/chat.
func EndpointFromOrigin(origin string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil {
		return "", errors.Wrap(err, "parse origin")
	}
	if u.Host == "" {
		return "", errors.Errorf("origin %q has no host", origin)
	}

	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws", "":
		u.Scheme = "ws"
	default:
		return "", errors.Errorf("unsupported origin scheme %q", u.Scheme)
	}

	endpoint := url.URL{Scheme: u.Scheme, Host: u.Host, Path: protocol.ChatPath}
	return endpoint.String(), nil
}

// HTTPBaseFromOrigin normalizes the origin for plain HTTP collaborators
// such as the stats endpoint.
func HTTPBaseFromOrigin(origin string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil {
		return "", errors.Wrap(err, "parse origin")
	}
	if u.Host == "" {
		return "", errors.Errorf("origin %q has no host", origin)
	}

	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		u.Scheme = "https"
	case "http", "ws", "":
		u.Scheme = "http"
	default:
		return "", errors.Errorf("unsupported origin scheme %q", u.Scheme)
	}

	base := url.URL{Scheme: u.Scheme, Host: u.Host}
	return base.String(), nil
}
