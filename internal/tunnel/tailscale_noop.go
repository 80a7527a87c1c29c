//go:build !tsnet

package tunnel

import (
	"errors"
	"log/slog"
)

// TailscaleConfig configures the tailnet backend.
type TailscaleConfig struct {
	Hostname string
	AuthKey  string
	StateDir string
}

// NewTailscale fails when built without the "tsnet" tag.
// Build with `go build -tags tsnet` to enable the tailscale backend.
func NewTailscale(_ TailscaleConfig, _ *slog.Logger) (Backend, error) {
	return nil, errors.New("tailscale tunnel backend not compiled in (build with -tags tsnet)")
}
