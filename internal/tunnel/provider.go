package tunnel

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/joelhooks/scoped-secrets/internal/metrics"
	"github.com/joelhooks/scoped-secrets/internal/types"
)

type entry struct {
	tunnel Tunnel
	conn   Connection
}

// Provider owns the tunnel registry.
type Provider struct {
	mu      sync.Mutex
	backend Backend
	clock   clockwork.Clock
	logger  *slog.Logger
	tunnels map[string]*entry

	// Sweep loop control
	sweepStop chan struct{}
	sweepDone chan struct{}
}

// NewProvider creates a Provider over backend.
func NewProvider(backend Backend, clk clockwork.Clock, logger *slog.Logger) *Provider {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		backend: backend,
		clock:   clk,
		logger:  logger,
		tunnels: make(map[string]*entry),
	}
}

// CreateTunnel opens a tunnel to port that expires after duration
// (DefaultDuration if zero). Failures wrap types.ErrTunnelFailed.
func (p *Provider) CreateTunnel(ctx context.Context, port int, purpose string, duration time.Duration) (*Tunnel, error) {
	if duration <= 0 {
		duration = DefaultDuration
	}

	conn, err := p.backend.Connect(ctx, port, purpose)
	if err != nil {
		p.logger.Error("tunnel connect failed", "backend", p.backend.Name(), "port", port, "error", err)
		return nil, fmt.Errorf("%w: %s: %v", types.ErrTunnelFailed, p.backend.Name(), err)
	}

	now := p.clock.Now()
	t := Tunnel{
		ID:        uuid.NewString(),
		URL:       conn.URL(),
		Port:      port,
		Purpose:   purpose,
		CreatedAt: now,
		ExpiresAt: now.Add(duration),
	}

	p.mu.Lock()
	p.tunnels[t.ID] = &entry{tunnel: t, conn: conn}
	p.mu.Unlock()
	metrics.TunnelsActive.Inc()

	p.logger.Info("tunnel opened", "tunnel", t.ID, "port", port, "purpose", purpose, "expires_at", t.ExpiresAt)
	return &t, nil
}

// CloseTunnel disconnects and forgets a tunnel. Unknown ids are ignored.
// The entry is removed even if the disconnect fails; that error is returned.
func (p *Provider) CloseTunnel(id string) error {
	p.mu.Lock()
	e, ok := p.tunnels[id]
	if ok {
		delete(p.tunnels, id)
	}
	p.mu.Unlock()

	if !ok {
		return nil
	}
	metrics.TunnelsActive.Dec()

	if err := e.conn.Close(); err != nil {
		p.logger.Warn("tunnel disconnect failed", "tunnel", id, "error", err)
		return fmt.Errorf("close tunnel %s: %w", id, err)
	}
	p.logger.Info("tunnel closed", "tunnel", id, "port", e.tunnel.Port)
	return nil
}

// ExtendTunnel pushes a tunnel's deadline forward by extra.
func (p *Provider) ExtendTunnel(id string, extra time.Duration) (*Tunnel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.tunnels[id]
	if !ok || !e.tunnel.ExpiresAt.After(p.clock.Now()) {
		return nil, fmt.Errorf("%w: %s", types.ErrTunnelNotFound, id)
	}
	e.tunnel.ExpiresAt = e.tunnel.ExpiresAt.Add(extra)
	t := e.tunnel
	return &t, nil
}

// GetTunnel returns the tunnel if it is registered.
func (p *Provider) GetTunnel(id string) (*Tunnel, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.tunnels[id]
	if !ok {
		return nil, false
	}
	t := e.tunnel
	return &t, true
}

// IsTunnelActive reports whether the tunnel is registered and not past
// its deadline.
func (p *Provider) IsTunnelActive(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.tunnels[id]
	return ok && e.tunnel.ExpiresAt.After(p.clock.Now())
}

// GetActiveTunnels returns the tunnels not past their deadline, oldest first.
func (p *Provider) GetActiveTunnels() []Tunnel {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	out := make([]Tunnel, 0, len(p.tunnels))
	for _, e := range p.tunnels {
		if e.tunnel.ExpiresAt.After(now) {
			out = append(out, e.tunnel)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ExpireDue closes every tunnel past its deadline and returns how many.
func (p *Provider) ExpireDue() int {
	p.mu.Lock()
	now := p.clock.Now()
	var due []string
	for id, e := range p.tunnels {
		if !e.tunnel.ExpiresAt.After(now) {
			due = append(due, id)
		}
	}
	p.mu.Unlock()

	for _, id := range due {
		p.logger.Info("tunnel expired", "tunnel", id)
		_ = p.CloseTunnel(id)
	}
	return len(due)
}

// StartSweepLoop runs ExpireDue every interval until StopSweepLoop.
func (p *Provider) StartSweepLoop(interval time.Duration) {
	p.sweepStop = make(chan struct{})
	p.sweepDone = make(chan struct{})
	ticker := p.clock.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		defer close(p.sweepDone)

		for {
			select {
			case <-ticker.Chan():
				p.ExpireDue()
			case <-p.sweepStop:
				return
			}
		}
	}()
}

// StopSweepLoop stops the sweep goroutine.
func (p *Provider) StopSweepLoop() {
	if p.sweepStop == nil {
		return
	}
	close(p.sweepStop)
	<-p.sweepDone
	p.sweepStop = nil
}

// CloseAll closes every tunnel.
func (p *Provider) CloseAll() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.tunnels))
	for id := range p.tunnels {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		_ = p.CloseTunnel(id)
	}
}
