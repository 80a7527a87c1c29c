package form

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/joelhooks/scoped-secrets/internal/metrics"
	"github.com/joelhooks/scoped-secrets/internal/tunnel"
	"github.com/joelhooks/scoped-secrets/internal/types"
)

// SecretSetter persists one secret. *store.Store satisfies it.
type SecretSetter interface {
	Set(ctx context.Context, key, value string, sctx types.SecretContext, patch *types.ConfigPatch) (bool, error)
}

// Tunneler opens public routes to local ports. *tunnel.Provider satisfies it.
type Tunneler interface {
	CreateTunnel(ctx context.Context, port int, purpose string, duration time.Duration) (*tunnel.Tunnel, error)
	CloseTunnel(id string) error
	ExtendTunnel(id string, extra time.Duration) (*tunnel.Tunnel, error)
}

// Config tunes the manager.
type Config struct {
	// BindHost is the interface form servers listen on.
	BindHost string
	// PortBase and PortSize bound the port range. PortBase 0 uses
	// ephemeral ports.
	PortBase int
	PortSize int
	// RateLimit and RateBurst limit submissions per session. Zero disables.
	RateLimit rate.Limit
	RateBurst int
	// DefaultTTL replaces a request's zero ExpiresIn. Falls back to
	// DefaultExpiresIn.
	DefaultTTL time.Duration
	// ShutdownTimeout bounds how long a closing server waits for requests.
	ShutdownTimeout time.Duration
	// Retention is how long a closed session stays queryable before the
	// sweep forgets it. Defaults to DefaultRetention.
	Retention time.Duration
}

// DefaultRetention keeps closed sessions visible to status polls.
const DefaultRetention = 10 * time.Minute

// Created is returned by CreateSecretForm.
type Created struct {
	SessionID string    `json:"sessionId"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Result is the outcome of a submission that reached validation.
type Result struct {
	Accepted bool              `json:"success"`
	Errors   map[string]string `json:"errors,omitempty"`
	Message  string            `json:"message,omitempty"`
	Status   Status            `json:"status"`
}

// Manager owns the form session registry and each session's HTTP surface.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session
	// retired holds closed sessions until Retention passes.
	retired map[string]*session

	store      SecretSetter
	tunnels    Tunneler
	ports      *portPool
	clock      clockwork.Clock
	logger     *slog.Logger
	cfg        Config
	validators map[string]FieldValidator

	// servers tracks serve and shutdown goroutines.
	servers sync.WaitGroup

	// Submit holds stopMu for reading; Stop takes it to drain them.
	stopMu  sync.RWMutex
	stopped bool

	// Sweep loop control
	sweepStop chan struct{}
	sweepDone chan struct{}
}

// NewManager creates a Manager.
func NewManager(store SecretSetter, tunnels Tunneler, cfg Config, clk clockwork.Clock, logger *slog.Logger) *Manager {
	if cfg.BindHost == "" {
		cfg.BindHost = "127.0.0.1"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions:   make(map[string]*session),
		retired:    make(map[string]*session),
		store:      store,
		tunnels:    tunnels,
		ports:      newPortPool(cfg.PortBase, cfg.PortSize),
		clock:      clk,
		logger:     logger,
		cfg:        cfg,
		validators: make(map[string]FieldValidator),
	}
}

// RegisterValidator makes fn available to fields whose Rules.Custom is name.
// Register validators before creating forms that use them.
func (m *Manager) RegisterValidator(name string, fn FieldValidator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validators[name] = fn
}

// CreateSecretForm starts a session collecting req's secrets into sctx's
// scope. Accepted submissions are sent on events when it is non-nil.
// Tunnel and listener failures are returned as errors.
func (m *Manager) CreateSecretForm(ctx context.Context, req Request, sctx types.SecretContext, events chan<- Submission) (*Created, error) {
	if len(req.Secrets) == 0 {
		return nil, types.ErrNoSecrets
	}
	for _, s := range req.Secrets {
		if s.Key == "" {
			return nil, fmt.Errorf("%w: secret without key", types.ErrInvalidPayload)
		}
	}

	if req.ExpiresIn <= 0 {
		req.ExpiresIn = m.cfg.DefaultTTL
	}
	req = withDefaults(req)
	now := m.clock.Now()
	schema := BuildSchema(req, now)

	port, ln, err := m.ports.acquire(m.cfg.BindHost)
	if err != nil {
		return nil, err
	}

	tn, err := m.tunnels.CreateTunnel(ctx, port, "form:"+schema.ID, req.ExpiresIn)
	if err != nil {
		ln.Close()
		m.ports.release(port)
		return nil, err
	}

	id := uuid.NewString()
	s := &session{
		info: Session{
			ID:        id,
			FormID:    schema.ID,
			TunnelID:  tn.ID,
			Port:      port,
			URL:       tn.URL + "/form/" + id,
			Schema:    schema,
			Request:   req,
			Context:   sctx,
			CreatedAt: now,
			ExpiresAt: schema.ExpiresAt,
			Status:    StatusActive,
		},
		events:   events,
		listener: ln,
	}
	if m.cfg.RateLimit > 0 {
		burst := m.cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(m.cfg.RateLimit, burst)
	}
	s.server = &http.Server{
		Handler:           m.router(id),
		ReadHeaderTimeout: 10 * time.Second,
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	metrics.FormSessionsActive.Inc()

	m.servers.Add(1)
	go func() {
		defer m.servers.Done()
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Warn("form server stopped", "session", id, "error", err)
		}
	}()

	m.logger.Info("form session created",
		"session", id, "form", schema.ID, "port", port, "scope", sctx.String(),
		"fields", len(schema.Fields), "expires_at", schema.ExpiresAt)

	return &Created{SessionID: id, URL: s.info.URL, ExpiresAt: schema.ExpiresAt}, nil
}

// lookup returns a registered or recently closed session.
func (m *Manager) lookup(id string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	return m.retired[id]
}

// GetSession returns a snapshot of the session. A session past its
// deadline reports StatusExpired even before the sweep closes it. Closed
// sessions stay visible with their terminal status for Retention.
func (m *Manager) GetSession(id string) (*Session, bool) {
	s := m.lookup(id)
	if s == nil {
		return nil, false
	}
	snap := s.snapshot(m.clock.Now())
	return &snap, true
}

// ListSessions returns snapshots of every open session, oldest first.
func (m *Manager) ListSessions() []Session {
	m.mu.Lock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	now := m.clock.Now()
	out := make([]Session, 0, len(all))
	for _, s := range all {
		out = append(out, s.snapshot(now))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ActiveCount returns the number of open sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Submit validates payload against the session's schema and, if every
// field passes, persists each secret in declaration order. Field errors
// are returned in Result without persisting anything. A session that is
// closed, completed or expired yields types.ErrSessionNotActive; an
// unknown one types.ErrSessionNotFound. A store failure stops the
// remaining secrets; secrets already stored stay stored.
func (m *Manager) Submit(ctx context.Context, id string, payload map[string]string, remoteAddr string) (*Result, error) {
	m.stopMu.RLock()
	defer m.stopMu.RUnlock()

	s := m.lookup(id)
	if s == nil {
		return nil, types.NewSessionError(id, types.ErrSessionNotFound)
	}
	if m.stopped {
		return nil, types.NewSessionError(id, types.ErrSessionNotActive)
	}

	res, sub, done, err := m.submit(ctx, s, payload, remoteAddr)
	if done {
		if cerr := m.CloseSession(id); cerr != nil {
			m.logger.Warn("closing completed session", "session", id, "error", cerr)
		}
	}
	if err != nil {
		return nil, err
	}
	if sub != nil && s.events != nil {
		select {
		case s.events <- *sub:
		case <-ctx.Done():
			m.logger.Warn("submission event dropped", "session", id, "error", ctx.Err())
		}
	}
	return res, nil
}

func (m *Manager) submit(ctx context.Context, s *session, payload map[string]string, remoteAddr string) (*Result, *Submission, bool, error) {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	id := s.info.ID
	if !s.active(m.clock.Now()) {
		metrics.FormSubmissions.WithLabelValues("rejected").Inc()
		return nil, nil, false, types.NewSessionError(id, types.ErrSessionNotActive)
	}

	m.mu.Lock()
	custom := make(map[string]FieldValidator, len(m.validators))
	for k, v := range m.validators {
		custom[k] = v
	}
	m.mu.Unlock()

	// Schema, Request and Context are immutable after creation.
	schema, req, sctx := s.info.Schema, s.info.Request, s.info.Context

	if errs := validatePayload(schema.Fields, payload, custom); len(errs) > 0 {
		metrics.FormSubmissions.WithLabelValues("invalid").Inc()
		return &Result{Errors: errs, Status: StatusActive}, nil, false, nil
	}

	var keys []string
	for _, secret := range req.Secrets {
		value, ok := payload[secret.Key]
		if !ok || value == "" {
			continue
		}
		if s.closed.Load() {
			metrics.FormSubmissions.WithLabelValues("rejected").Inc()
			return nil, nil, false, types.NewSessionError(id, types.ErrSessionNotActive)
		}

		patch := secret.Config
		if patch == nil && secret.Kind != "" {
			patch = &types.ConfigPatch{Kind: secret.Kind}
		} else if patch != nil && patch.Kind == "" && secret.Kind != "" {
			p := *patch
			p.Kind = secret.Kind
			patch = &p
		}

		stored, err := m.store.Set(ctx, secret.Key, value, sctx, patch)
		if err != nil {
			metrics.FormSubmissions.WithLabelValues("error").Inc()
			m.logger.Error("form persistence failed", "session", id, "key", secret.Key, "stored", len(keys), "error", err)
			return nil, nil, false, types.NewSessionError(id, err)
		}
		if !stored {
			metrics.FormSubmissions.WithLabelValues("error").Inc()
			m.logger.Warn("form persistence rejected", "session", id, "key", secret.Key, "stored", len(keys))
			return nil, nil, false, types.NewSessionError(id, fmt.Errorf("%w: %s", types.ErrPersistRejected, secret.Key))
		}
		keys = append(keys, secret.Key)
	}

	now := m.clock.Now()
	sub := Submission{
		ID:          uuid.NewString(),
		SessionID:   id,
		FormID:      schema.ID,
		Keys:        keys,
		Context:     sctx,
		RemoteAddr:  remoteAddr,
		SubmittedAt: now,
	}

	s.mu.Lock()
	if s.closed.Load() || s.info.Status != StatusActive {
		s.mu.Unlock()
		metrics.FormSubmissions.WithLabelValues("rejected").Inc()
		m.logger.Warn("form closed during persistence", "session", id, "stored", len(keys))
		return nil, nil, false, types.NewSessionError(id, types.ErrSessionNotActive)
	}
	s.info.Submissions = append(s.info.Submissions, sub)
	done := len(s.info.Submissions) >= schema.MaxSubmissions
	if done {
		s.info.Status = StatusCompleted
	}
	status := s.info.Status
	s.mu.Unlock()

	metrics.FormSubmissions.WithLabelValues("accepted").Inc()
	m.logger.Info("form submission accepted", "session", id, "keys", len(keys), "status", status)

	return &Result{Accepted: true, Message: schema.SuccessMessage, Status: status}, &sub, done, nil
}

// ExtendSession pushes an active session's deadline, and its tunnel's,
// forward by extra.
func (m *Manager) ExtendSession(id string, extra time.Duration) (*Session, error) {
	s := m.lookup(id)
	if s == nil {
		return nil, types.NewSessionError(id, types.ErrSessionNotFound)
	}
	if !s.active(m.clock.Now()) {
		return nil, types.NewSessionError(id, types.ErrSessionNotActive)
	}

	if _, err := m.tunnels.ExtendTunnel(s.info.TunnelID, extra); err != nil {
		return nil, types.NewSessionError(id, err)
	}

	s.mu.Lock()
	s.info.ExpiresAt = s.info.ExpiresAt.Add(extra)
	s.info.Schema.ExpiresAt = s.info.ExpiresAt
	s.mu.Unlock()

	snap := s.snapshot(m.clock.Now())
	return &snap, nil
}

// CloseSession retires the session, closes its tunnel and shuts down its
// HTTP server in the background. An open session becomes expired; a
// completed one stays completed. Unknown or already closed ids are a
// no-op. Safe to call from the session's own handlers.
func (m *Manager) CloseSession(id string) error {
	now := m.clock.Now()

	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		m.retired[id] = s
		s.closedAt = now
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	s.closed.Store(true)
	s.mu.Lock()
	if s.info.Status == StatusActive {
		s.info.Status = StatusExpired
	}
	tunnelID, port, status := s.info.TunnelID, s.info.Port, s.info.Status
	s.mu.Unlock()
	metrics.FormSessionsActive.Dec()

	err := m.tunnels.CloseTunnel(tunnelID)

	m.servers.Add(1)
	go func() {
		defer m.servers.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ShutdownTimeout)
		defer cancel()
		if serr := s.server.Shutdown(ctx); serr != nil {
			s.server.Close()
		}
		m.ports.release(port)
	}()

	m.logger.Info("form session closed", "session", id, "status", status)
	if err != nil {
		return types.NewSessionError(id, err)
	}
	return nil
}

// Sweep closes every session that is completed or past its deadline and
// returns how many were closed. Closed sessions older than Retention are
// forgotten.
func (m *Manager) Sweep() int {
	now := m.clock.Now()

	m.mu.Lock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	for id, s := range m.retired {
		if !now.Before(s.closedAt.Add(m.cfg.Retention)) {
			delete(m.retired, id)
		}
	}
	m.mu.Unlock()

	closed := 0
	for _, s := range all {
		snap := s.snapshot(now)
		if snap.Status == StatusActive {
			continue
		}
		if err := m.CloseSession(snap.ID); err != nil {
			m.logger.Warn("sweep close failed", "session", snap.ID, "error", err)
		}
		closed++
	}
	return closed
}

// StartSweepLoop runs Sweep every interval until Stop.
func (m *Manager) StartSweepLoop(interval time.Duration) {
	m.sweepStop = make(chan struct{})
	m.sweepDone = make(chan struct{})
	ticker := m.clock.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		defer close(m.sweepDone)

		for {
			select {
			case <-ticker.Chan():
				m.Sweep()
			case <-m.sweepStop:
				return
			}
		}
	}()
}

// Stop halts the sweep loop, waits for in-flight submissions, closes
// every session and waits for their servers to drain. Later submissions
// fail with types.ErrSessionNotActive.
func (m *Manager) Stop() {
	if m.sweepStop != nil {
		close(m.sweepStop)
		<-m.sweepDone
		m.sweepStop = nil
	}

	m.stopMu.Lock()
	m.stopped = true
	m.stopMu.Unlock()

	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.CloseSession(id); err != nil {
			m.logger.Warn("closing session at shutdown", "session", id, "error", err)
		}
	}
	m.servers.Wait()
}
