package client

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPort is the Wired TCP port.
	DefaultPort = 4871

	// DefaultLogin is used when the target URL names no user.
	DefaultLogin = "guest"

	SchemeWired          = "wired"
	SchemeWiredWebSocket = "wired+ws"
	SchemeWiredSecureWS  = "wired+wss"
)

// URL is a parsed connection target:
// scheme://[login[:password]@]host[:port]
type URL struct {
	Scheme   string
	Login    string
	Password string
	Host     string
	Port     int
}

// ParseURL parses a connection target. A bare "host" or "host:port" is
// treated as wired://.
func ParseURL(raw string) (*URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty target", ErrInvalidURL)
	}
	if !strings.Contains(raw, "://") {
		raw = SchemeWired + "://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	u := &URL{
		Scheme: strings.ToLower(parsed.Scheme),
		Login:  DefaultLogin,
		Host:   parsed.Hostname(),
		Port:   DefaultPort,
	}
	switch u.Scheme {
	case SchemeWired, SchemeWiredWebSocket, SchemeWiredSecureWS:
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, parsed.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if p := parsed.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("%w: invalid port %q", ErrInvalidURL, p)
		}
		u.Port = port
	}
	if parsed.User != nil {
		if login := parsed.User.Username(); login != "" {
			u.Login = login
		}
		u.Password, _ = parsed.User.Password()
	}
	return u, nil
}

// Address returns host:port for dialing.
func (u *URL) Address() string {
	return net.JoinHostPort(u.Host, strconv.Itoa(u.Port))
}

// IsWebSocket reports whether the target is reached over a websocket.
func (u *URL) IsWebSocket() bool {
	return u.Scheme == SchemeWiredWebSocket || u.Scheme == SchemeWiredSecureWS
}

// WebSocketURL returns the ws:// or wss:// endpoint for websocket targets.
func (u *URL) WebSocketURL(path string) string {
	scheme := "ws"
	if u.Scheme == SchemeWiredSecureWS {
		scheme = "wss"
	}
	return (&url.URL{Scheme: scheme, Host: u.Address(), Path: path}).String()
}

// String renders the URL without its password.
func (u *URL) String() string {
	return fmt.Sprintf("%s://%s@%s", u.Scheme, u.Login, u.Address())
}
