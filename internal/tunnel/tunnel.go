// Package tunnel exposes local ports on public URLs for a bounded time.
//
// Provider tracks each tunnel with a logical deadline. Expiry is enforced
// by ExpireDue, run periodically by the sweep loop, so tests can drive it
// with a fake clock. A tunnel closes at its own deadline even if the
// caller also tracks expiry.
package tunnel

import (
	"context"
	"time"
)

// DefaultDuration is the lifetime of a tunnel created without one.
const DefaultDuration = 30 * time.Minute

// Tunnel describes one open tunnel.
type Tunnel struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Port      int       `json:"port"`
	Purpose   string    `json:"purpose"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Connection is a live route from a public URL to a local port.
type Connection interface {
	URL() string
	Close() error
}

// Backend opens connections. Implementations: Local, and Tailscale when
// built with the tsnet tag.
type Backend interface {
	Name() string
	Connect(ctx context.Context, port int, purpose string) (Connection, error)
}
