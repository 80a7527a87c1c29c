package tunnel

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// Local is a Backend that performs no forwarding. It reports a URL on
// Host, or on BaseURL with the port substituted when BaseURL is set (for
// deployments behind an existing reverse proxy).
type Local struct {
	Host    string
	BaseURL string
}

// Name implements Backend.
func (l Local) Name() string { return "local" }

// Connect implements Backend.
func (l Local) Connect(_ context.Context, port int, _ string) (Connection, error) {
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port %d", port)
	}

	if l.BaseURL != "" {
		u, err := url.Parse(l.BaseURL)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid base url %q", l.BaseURL)
		}
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(port))
		return localConn{url: u.String()}, nil
	}

	host := l.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return localConn{url: "http://" + net.JoinHostPort(host, strconv.Itoa(port))}, nil
}

type localConn struct {
	url string
}

func (c localConn) URL() string  { return c.url }
func (c localConn) Close() error { return nil }
