package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/joelhooks/scoped-secrets/internal/audit"
	"github.com/joelhooks/scoped-secrets/internal/backend/agefile"
	"github.com/joelhooks/scoped-secrets/internal/backend/sqlite"
	"github.com/joelhooks/scoped-secrets/internal/config"
	"github.com/joelhooks/scoped-secrets/internal/crypto"
	"github.com/joelhooks/scoped-secrets/internal/form"
	"github.com/joelhooks/scoped-secrets/internal/permission"
	"github.com/joelhooks/scoped-secrets/internal/store"
	"github.com/joelhooks/scoped-secrets/internal/tunnel"
	"github.com/joelhooks/scoped-secrets/internal/types"
	"github.com/joelhooks/scoped-secrets/internal/validate"
)

// maxRequestSize bounds one JSON-RPC line.
const maxRequestSize = 1 << 20

// Daemon manages the Unix socket server and request handling.
type Daemon struct {
	cfg       *config.Config
	listener  net.Listener
	handler   *Handler
	logger    *slog.Logger
	startedAt time.Time
	running   bool
	mu        sync.RWMutex

	// Components
	store   *store.Store
	global  *agefile.Store
	db      *sqlite.Store
	tunnels *tunnel.Provider
	forms   *form.Manager
	events  chan form.Submission
	metrics *http.Server

	// Shutdown coordination
	done chan struct{}
	wg   sync.WaitGroup
}

// NewDaemon creates a new daemon with the provided configuration.
// It opens the backing stores and wires the secret store, tunnel provider
// and form manager.
func NewDaemon(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Ensure directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	global, err := agefile.Open(agefile.Options{
		IdentityPath: cfg.IdentityPath,
		Path:         cfg.GlobalStorePath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open global store: %w", err)
	}

	db, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	clk := clockwork.NewRealClock()
	evaluator := permission.New(db, cfg.RoleCacheTTL, logger)

	opts := store.Options{
		Global:     global,
		Worlds:     db,
		Records:    db,
		Authorizer: evaluator,
		Validator:  validate.Structural{},
		Audit:      audit.New(audit.DefaultCapacity),
		Clock:      clk,
		Logger:     logger,
	}
	if salt, ok := cfg.Salt(); ok {
		box, err := crypto.NewBox(cfg.AgentID, salt, cfg.Encryption.Algorithm)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create cipher: %w", err)
		}
		opts.Cipher = box
		if cfg.Encryption.Salt == "" {
			logger.Warn("encryption uses the built-in default salt; set encryption.salt")
		}
	} else {
		logger.Warn("no encryption salt configured; encrypted secrets are unavailable")
	}

	st, err := store.New(opts)
	if err != nil {
		db.Close()
		return nil, err
	}

	tb, err := newTunnelBackend(cfg, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	tunnels := tunnel.NewProvider(tb, clk, logger)

	forms := form.NewManager(st, tunnels, form.Config{
		BindHost:   cfg.Forms.BindHost,
		PortBase:   cfg.Forms.PortBase,
		PortSize:   cfg.Forms.PortSize,
		RateLimit:  rate.Limit(cfg.Forms.RateLimit),
		RateBurst:  cfg.Forms.RateBurst,
		DefaultTTL: cfg.Forms.DefaultTTL,
	}, clk, logger)

	events := make(chan form.Submission, 16)

	handler := NewHandler(HandlerDeps{
		Store:   st,
		Forms:   forms,
		Tunnels: tunnels,
		Roles:   db,
		Cache:   evaluator,
		AgentID: cfg.AgentID,
		Events:  events,
		Logger:  logger,
	})

	return &Daemon{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		store:   st,
		global:  global,
		db:      db,
		tunnels: tunnels,
		forms:   forms,
		events:  events,
		done:    make(chan struct{}),
	}, nil
}

func newTunnelBackend(cfg *config.Config, logger *slog.Logger) (tunnel.Backend, error) {
	switch cfg.Tunnel.Backend {
	case config.TunnelTailscale:
		return tunnel.NewTailscale(tunnel.TailscaleConfig{
			Hostname: cfg.Tunnel.Hostname,
			AuthKey:  cfg.Tunnel.Token,
			StateDir: cfg.Tunnel.StateDir,
		}, logger)
	default:
		return tunnel.Local{Host: cfg.Forms.BindHost, BaseURL: cfg.Tunnel.PublicURL}, nil
	}
}

// Start starts the daemon and begins listening on the Unix socket.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return types.ErrDaemonAlreadyRunning
	}

	// Remove existing socket file if present
	if err := os.Remove(d.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		d.mu.Unlock()
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	// Create Unix socket listener
	listener, err := net.Listen("unix", d.cfg.SocketPath)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("failed to listen on socket: %w", err)
	}

	// Set socket permissions to 0600 (owner only)
	if err := os.Chmod(d.cfg.SocketPath, 0600); err != nil {
		listener.Close()
		d.mu.Unlock()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	d.listener = listener
	d.startedAt = time.Now()
	d.running = true
	d.mu.Unlock()

	d.logger.Info("daemon started",
		"socket", d.cfg.SocketPath, "agent", d.cfg.AgentID,
		"tunnel", d.cfg.Tunnel.Backend, "encryption", d.store.EncryptionAvailable())

	// Start expiry sweeps
	d.tunnels.StartSweepLoop(d.cfg.Forms.SweepInterval)
	d.forms.StartSweepLoop(d.cfg.Forms.SweepInterval)

	go consumeEvents(d.events, d.logger)

	if d.cfg.MetricsAddr != "" {
		d.startMetrics()
	}

	// Accept connections in a goroutine
	d.wg.Add(1)
	go d.acceptLoop()

	return nil
}

func (d *Daemon) startMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	d.metrics = &http.Server{
		Addr:              d.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := d.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("metrics server stopped", "addr", d.cfg.MetricsAddr, "error", err)
		}
	}()
	d.logger.Info("serving metrics", "addr", d.cfg.MetricsAddr)
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return types.ErrDaemonNotRunning
	}
	d.running = false
	d.mu.Unlock()

	// Close the listener to stop accepting new connections
	if d.listener != nil {
		d.listener.Close()
	}

	// Signal shutdown and wait for all connections to finish
	close(d.done)
	d.wg.Wait()

	// Close every form session, then any tunnel left behind. forms.Stop
	// drains in-flight submissions, so nothing sends on events after it.
	d.forms.Stop()
	d.tunnels.StopSweepLoop()
	d.tunnels.CloseAll()
	close(d.events)

	if d.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.metrics.Shutdown(ctx)
	}

	if err := d.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	d.logger.Info("daemon stopped")
	return nil
}

// acceptLoop accepts incoming connections and spawns handlers.
func (d *Daemon) acceptLoop() {
	defer d.wg.Done()

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			// Check if we're shutting down
			select {
			case <-d.done:
				return
			default:
				d.logger.Warn("accept failed", "error", err)
				continue
			}
		}

		// Handle connection in a goroutine
		d.wg.Add(1)
		go d.handleConnection(conn)
	}
}

// handleConnection processes requests from a single connection.
// Each line is expected to be a JSON-RPC request.
func (d *Daemon) handleConnection(conn net.Conn) {
	defer d.wg.Done()
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-d.done:
			// Unblock the scanner so shutdown is not held by idle clients.
			conn.SetReadDeadline(time.Now())
		case <-ctx.Done():
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRequestSize)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		// Check if we're shutting down
		select {
		case <-d.done:
			return
		default:
		}

		// Parse JSON-RPC request
		var req types.RPCRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			// Send parse error response
			resp := &types.RPCResponse{
				JSONRPC: "2.0",
				Error: &types.RPCError{
					Code:    types.RPCParseError,
					Message: fmt.Sprintf("parse error: %v", err),
				},
				ID: nil,
			}
			_ = encoder.Encode(resp)
			continue
		}

		// Dispatch to handler
		resp := d.handler.HandleRequest(ctx, &req)

		// Inject startedAt into status responses
		if req.Method == MethodStatus && resp.Result != nil {
			if status, ok := resp.Result.(*types.DaemonStatus); ok {
				d.mu.RLock()
				status.StartedAt = d.startedAt
				status.Running = d.running
				d.mu.RUnlock()
			}
		}

		// Write response
		if err := encoder.Encode(resp); err != nil {
			// Connection error, close and return
			return
		}
	}

	if err := scanner.Err(); err != nil {
		select {
		case <-d.done:
		default:
			d.logger.Warn("connection error", "error", err)
		}
	}
}

// IsRunning returns true if the daemon is currently running.
func (d *Daemon) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) *types.DaemonStatus {
	status, err := d.handler.handleStatus(ctx)
	if err != nil {
		d.logger.Warn("status unavailable", "error", err)
		status = &types.DaemonStatus{AgentID: d.cfg.AgentID}
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	status.Running = d.running
	status.StartedAt = d.startedAt
	return status
}
