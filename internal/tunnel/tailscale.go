//go:build tsnet

package tunnel

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"path/filepath"
	"strconv"

	"tailscale.com/tsnet"
)

// TailscaleConfig configures the tailnet backend.
type TailscaleConfig struct {
	// Hostname is the node name prefix; each tunnel joins as "<Hostname>-<port>".
	Hostname string
	// AuthKey enrolls nodes without interactive login. Optional.
	AuthKey  string
	StateDir string
}

// Tailscale exposes each port as an ephemeral tailnet node serving TLS
// on :443 and reverse-proxying to the local port.
type Tailscale struct {
	cfg    TailscaleConfig
	logger *slog.Logger
}

// NewTailscale creates the backend. Only available with -tags tsnet.
func NewTailscale(cfg TailscaleConfig, logger *slog.Logger) (Backend, error) {
	if cfg.Hostname == "" {
		cfg.Hostname = "agent-secrets"
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AuthKey == "" {
		logger.Warn("tailscale tunnel token not set; nodes will require interactive login")
	}
	return &Tailscale{cfg: cfg, logger: logger}, nil
}

// Name implements Backend.
func (t *Tailscale) Name() string { return "tailscale" }

// Connect implements Backend.
func (t *Tailscale) Connect(ctx context.Context, port int, purpose string) (Connection, error) {
	hostname := t.cfg.Hostname + "-" + strconv.Itoa(port)
	srv := &tsnet.Server{
		Hostname:  hostname,
		AuthKey:   t.cfg.AuthKey,
		Ephemeral: true,
	}
	if t.cfg.StateDir != "" {
		srv.Dir = filepath.Join(t.cfg.StateDir, hostname)
	}

	if _, err := srv.Up(ctx); err != nil {
		srv.Close()
		return nil, fmt.Errorf("tsnet up: %w", err)
	}

	ln, err := srv.ListenTLS("tcp", ":443")
	if err != nil {
		srv.Close()
		return nil, fmt.Errorf("tsnet listen: %w", err)
	}

	target := &url.URL{Scheme: "http", Host: net.JoinHostPort("127.0.0.1", strconv.Itoa(port))}
	httpSrv := &http.Server{Handler: httputil.NewSingleHostReverseProxy(target)}
	go func() {
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			t.logger.Warn("tailscale proxy error", "hostname", hostname, "error", err)
		}
	}()

	publicURL := "https://" + hostname
	if domains := srv.CertDomains(); len(domains) > 0 {
		publicURL = "https://" + domains[0]
	}
	t.logger.Info("tailscale tunnel up", "hostname", hostname, "purpose", purpose)

	return &tsConn{url: publicURL, srv: srv, ln: ln, httpSrv: httpSrv}, nil
}

type tsConn struct {
	url     string
	srv     *tsnet.Server
	ln      net.Listener
	httpSrv *http.Server
}

func (c *tsConn) URL() string { return c.url }

func (c *tsConn) Close() error {
	c.httpSrv.Close()
	c.ln.Close()
	return c.srv.Close()
}
