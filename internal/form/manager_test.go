package form

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/joelhooks/scoped-secrets/internal/audit"
	"github.com/joelhooks/scoped-secrets/internal/backend"
	"github.com/joelhooks/scoped-secrets/internal/permission"
	"github.com/joelhooks/scoped-secrets/internal/store"
	"github.com/joelhooks/scoped-secrets/internal/tunnel"
	"github.com/joelhooks/scoped-secrets/internal/types"
)

var epoch = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

var globalCtx = types.SecretContext{Scope: types.ScopeGlobal, AgentID: "agent-1"}

type fakeTunnels struct {
	mu       sync.Mutex
	n        int
	open     map[string]int
	closed   []string
	extended map[string]time.Duration
	fail     error
}

func newFakeTunnels() *fakeTunnels {
	return &fakeTunnels{open: make(map[string]int), extended: make(map[string]time.Duration)}
}

func (f *fakeTunnels) CreateTunnel(_ context.Context, port int, purpose string, d time.Duration) (*tunnel.Tunnel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrTunnelFailed, f.fail)
	}
	f.n++
	id := fmt.Sprintf("t-%d", f.n)
	f.open[id] = port
	return &tunnel.Tunnel{ID: id, URL: "https://forms.example", Port: port, Purpose: purpose, CreatedAt: epoch, ExpiresAt: epoch.Add(d)}, nil
}

func (f *fakeTunnels) CloseTunnel(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.open, id)
	f.closed = append(f.closed, id)
	return nil
}

func (f *fakeTunnels) ExtendTunnel(id string, extra time.Duration) (*tunnel.Tunnel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.open[id]; !ok {
		return nil, types.ErrTunnelNotFound
	}
	f.extended[id] += extra
	return &tunnel.Tunnel{ID: id}, nil
}

func (f *fakeTunnels) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.open)
}

type setterFunc func(ctx context.Context, key, value string, sctx types.SecretContext, patch *types.ConfigPatch) (bool, error)

func (f setterFunc) Set(ctx context.Context, key, value string, sctx types.SecretContext, patch *types.ConfigPatch) (bool, error) {
	return f(ctx, key, value, sctx, patch)
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	mem := backend.NewMemory()
	s, err := store.New(store.Options{
		Global:     mem,
		Worlds:     mem,
		Records:    mem,
		Authorizer: permission.New(mem, 0, nil),
		Audit:      audit.New(audit.DefaultCapacity),
		Clock:      clockwork.NewFakeClockAt(epoch),
	})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return s
}

func newManager(t *testing.T, setter SecretSetter, cfg Config) (*Manager, *fakeTunnels, *clockwork.FakeClock) {
	t.Helper()
	tunnels := newFakeTunnels()
	fc := clockwork.NewFakeClockAt(epoch)
	m := NewManager(setter, tunnels, cfg, fc, nil)
	t.Cleanup(m.Stop)
	return m, tunnels, fc
}

func apiKeyRequest() Request {
	return Request{
		Title:   "Connect the API",
		Secrets: []SecretRequest{{Key: "API_KEY", Kind: types.KindAPIKey, Required: true}},
	}
}

func TestCreateSecretForm(t *testing.T) {
	m, tunnels, _ := newManager(t, newStore(t), Config{})

	created, err := m.CreateSecretForm(context.Background(), apiKeyRequest(), globalCtx, nil)
	if err != nil {
		t.Fatalf("CreateSecretForm: %v", err)
	}
	if want := "https://forms.example/form/" + created.SessionID; created.URL != want {
		t.Errorf("URL = %q, want %q", created.URL, want)
	}
	if !created.ExpiresAt.Equal(epoch.Add(DefaultExpiresIn)) {
		t.Errorf("ExpiresAt = %v", created.ExpiresAt)
	}

	sess, ok := m.GetSession(created.SessionID)
	if !ok {
		t.Fatal("session not registered")
	}
	if sess.Status != StatusActive {
		t.Errorf("Status = %q, want active", sess.Status)
	}
	if tunnels.openCount() != 1 {
		t.Errorf("open tunnels = %d, want 1", tunnels.openCount())
	}
	if m.ActiveCount() != 1 || len(m.ListSessions()) != 1 {
		t.Errorf("registry size = %d", m.ActiveCount())
	}
}

func TestCreateSecretFormRejectsEmptyRequest(t *testing.T) {
	m, _, _ := newManager(t, newStore(t), Config{})
	if _, err := m.CreateSecretForm(context.Background(), Request{}, globalCtx, nil); !errors.Is(err, types.ErrNoSecrets) {
		t.Errorf("error = %v, want ErrNoSecrets", err)
	}
}

func TestCreateSecretFormTunnelFailure(t *testing.T) {
	m, tunnels, _ := newManager(t, newStore(t), Config{})
	tunnels.fail = errors.New("backend down")

	_, err := m.CreateSecretForm(context.Background(), apiKeyRequest(), globalCtx, nil)
	if !errors.Is(err, types.ErrTunnelFailed) {
		t.Fatalf("error = %v, want ErrTunnelFailed", err)
	}
	if m.ActiveCount() != 0 {
		t.Error("failed creation left a session behind")
	}
	if m.ports.inUseCount() != 0 {
		t.Error("failed creation leaked its port")
	}
}

func TestSubmitPersistsAndCompletes(t *testing.T) {
	st := newStore(t)
	m, tunnels, _ := newManager(t, st, Config{})
	events := make(chan Submission, 1)

	created, err := m.CreateSecretForm(context.Background(), apiKeyRequest(), globalCtx, events)
	if err != nil {
		t.Fatalf("CreateSecretForm: %v", err)
	}

	res, err := m.Submit(context.Background(), created.SessionID, map[string]string{"API_KEY": "sk-test-123"}, "203.0.113.7")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.Accepted || res.Status != StatusCompleted {
		t.Fatalf("result = %+v, want accepted and completed", res)
	}

	got, ok, err := st.Get(context.Background(), "API_KEY", globalCtx)
	if err != nil || !ok || got != "sk-test-123" {
		t.Fatalf("stored value = %q, %v, %v", got, ok, err)
	}

	select {
	case sub := <-events:
		if len(sub.Keys) != 1 || sub.Keys[0] != "API_KEY" || sub.SessionID != created.SessionID {
			t.Errorf("event = %+v", sub)
		}
	default:
		t.Error("no submission event delivered")
	}

	sess, ok := m.GetSession(created.SessionID)
	if !ok || sess.Status != StatusCompleted || len(sess.Submissions) != 1 {
		t.Errorf("session = %+v, %v; want completed with one submission", sess, ok)
	}
	if m.ActiveCount() != 0 {
		t.Error("completed session still counted as open")
	}
	if tunnels.openCount() != 0 {
		t.Error("completed session kept its tunnel")
	}

	_, err = m.Submit(context.Background(), created.SessionID, map[string]string{"API_KEY": "sk-other"}, "")
	if !errors.Is(err, types.ErrSessionNotActive) {
		t.Errorf("second submit error = %v, want ErrSessionNotActive", err)
	}
	if got, _, _ := st.Get(context.Background(), "API_KEY", globalCtx); got != "sk-test-123" {
		t.Errorf("rejected submission overwrote the value: %q", got)
	}
}

func TestClosedSessionRetention(t *testing.T) {
	m, _, fc := newManager(t, newStore(t), Config{Retention: time.Minute})
	created, err := m.CreateSecretForm(context.Background(), apiKeyRequest(), globalCtx, nil)
	if err != nil {
		t.Fatalf("CreateSecretForm: %v", err)
	}
	if err := m.CloseSession(created.SessionID); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}

	sess, ok := m.GetSession(created.SessionID)
	if !ok || sess.Status != StatusExpired {
		t.Fatalf("closed session = %+v, %v; want expired", sess, ok)
	}
	if _, err := m.ExtendSession(created.SessionID, time.Minute); !errors.Is(err, types.ErrSessionNotActive) {
		t.Errorf("ExtendSession(closed) error = %v, want ErrSessionNotActive", err)
	}

	fc.Advance(30 * time.Second)
	m.Sweep()
	if _, ok := m.GetSession(created.SessionID); !ok {
		t.Error("closed session forgotten before retention passed")
	}

	fc.Advance(30 * time.Second)
	m.Sweep()
	if _, ok := m.GetSession(created.SessionID); ok {
		t.Error("closed session kept after retention")
	}
	_, err = m.Submit(context.Background(), created.SessionID, map[string]string{"API_KEY": "sk-1"}, "")
	if !errors.Is(err, types.ErrSessionNotFound) {
		t.Errorf("submit after retention error = %v, want ErrSessionNotFound", err)
	}
}

func TestSubmitMultipleAllowed(t *testing.T) {
	m, _, _ := newManager(t, newStore(t), Config{})
	req := apiKeyRequest()
	req.MaxSubmissions = 2

	created, err := m.CreateSecretForm(context.Background(), req, globalCtx, nil)
	if err != nil {
		t.Fatalf("CreateSecretForm: %v", err)
	}

	res, err := m.Submit(context.Background(), created.SessionID, map[string]string{"API_KEY": "sk-1"}, "")
	if err != nil || res.Status != StatusActive {
		t.Fatalf("first submit = %+v, %v", res, err)
	}
	sess, _ := m.GetSession(created.SessionID)
	if len(sess.Submissions) != 1 {
		t.Errorf("submissions = %d, want 1", len(sess.Submissions))
	}

	res, err = m.Submit(context.Background(), created.SessionID, map[string]string{"API_KEY": "sk-2"}, "")
	if err != nil || res.Status != StatusCompleted {
		t.Fatalf("second submit = %+v, %v", res, err)
	}
}

func TestSubmitValidationIsAtomic(t *testing.T) {
	var calls int
	setter := setterFunc(func(context.Context, string, string, types.SecretContext, *types.ConfigPatch) (bool, error) {
		calls++
		return true, nil
	})
	m, _, _ := newManager(t, setter, Config{})

	req := Request{Secrets: []SecretRequest{
		{Key: "USER", Required: true},
		{Key: "PASS", Required: true},
	}}
	created, err := m.CreateSecretForm(context.Background(), req, globalCtx, nil)
	if err != nil {
		t.Fatalf("CreateSecretForm: %v", err)
	}

	res, err := m.Submit(context.Background(), created.SessionID, map[string]string{"USER": "alice"}, "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Accepted || res.Errors["PASS"] == "" {
		t.Errorf("result = %+v, want PASS error", res)
	}
	if calls != 0 {
		t.Errorf("store called %d times for an invalid payload", calls)
	}

	sess, _ := m.GetSession(created.SessionID)
	if sess.Status != StatusActive || len(sess.Submissions) != 0 {
		t.Errorf("session = %s with %d submissions", sess.Status, len(sess.Submissions))
	}
}

func TestSubmitPartialFailure(t *testing.T) {
	var stored []string
	boom := errors.New("disk full")
	setter := setterFunc(func(_ context.Context, key, _ string, _ types.SecretContext, _ *types.ConfigPatch) (bool, error) {
		if key == "B" {
			return false, boom
		}
		stored = append(stored, key)
		return true, nil
	})
	m, _, _ := newManager(t, setter, Config{})

	req := Request{Secrets: []SecretRequest{{Key: "A"}, {Key: "B"}, {Key: "C"}}}
	created, err := m.CreateSecretForm(context.Background(), req, globalCtx, nil)
	if err != nil {
		t.Fatalf("CreateSecretForm: %v", err)
	}

	_, err = m.Submit(context.Background(), created.SessionID, map[string]string{"A": "1", "B": "2", "C": "3"}, "")
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want store error", err)
	}
	if len(stored) != 1 || stored[0] != "A" {
		t.Errorf("stored = %v, want only A", stored)
	}

	sess, _ := m.GetSession(created.SessionID)
	if len(sess.Submissions) != 0 || sess.Status != StatusActive {
		t.Errorf("failed submission was recorded: %+v", sess.Submissions)
	}
}

func TestSubmitPersistRejected(t *testing.T) {
	setter := setterFunc(func(context.Context, string, string, types.SecretContext, *types.ConfigPatch) (bool, error) {
		return false, nil
	})
	m, _, _ := newManager(t, setter, Config{})

	created, err := m.CreateSecretForm(context.Background(), apiKeyRequest(), globalCtx, nil)
	if err != nil {
		t.Fatalf("CreateSecretForm: %v", err)
	}
	_, err = m.Submit(context.Background(), created.SessionID, map[string]string{"API_KEY": "sk-1"}, "")
	if !errors.Is(err, types.ErrPersistRejected) {
		t.Errorf("error = %v, want ErrPersistRejected", err)
	}
}

func TestSubmitSkipsEmptyOptional(t *testing.T) {
	var keys []string
	setter := setterFunc(func(_ context.Context, key, _ string, _ types.SecretContext, patch *types.ConfigPatch) (bool, error) {
		keys = append(keys, key)
		if patch == nil || patch.Kind != types.KindURL {
			return false, fmt.Errorf("patch = %+v, want url kind", patch)
		}
		return true, nil
	})
	m, _, _ := newManager(t, setter, Config{})

	req := Request{Secrets: []SecretRequest{
		{Key: "ENDPOINT", Kind: types.KindURL, Required: true},
		{Key: "FALLBACK", Kind: types.KindURL},
	}}
	created, err := m.CreateSecretForm(context.Background(), req, globalCtx, nil)
	if err != nil {
		t.Fatalf("CreateSecretForm: %v", err)
	}

	if _, err := m.Submit(context.Background(), created.SessionID, map[string]string{"ENDPOINT": "https://api.example"}, ""); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(keys) != 1 || keys[0] != "ENDPOINT" {
		t.Errorf("persisted keys = %v", keys)
	}
}

func TestSubmitAfterCloseMidFlight(t *testing.T) {
	var m *Manager
	var sessionID string
	var calls int
	setter := setterFunc(func(context.Context, string, string, types.SecretContext, *types.ConfigPatch) (bool, error) {
		calls++
		if err := m.CloseSession(sessionID); err != nil {
			return false, err
		}
		return true, nil
	})
	m, _, _ = newManager(t, setter, Config{})

	req := Request{Secrets: []SecretRequest{{Key: "A"}, {Key: "B"}}}
	created, err := m.CreateSecretForm(context.Background(), req, globalCtx, nil)
	if err != nil {
		t.Fatalf("CreateSecretForm: %v", err)
	}
	sessionID = created.SessionID

	_, err = m.Submit(context.Background(), sessionID, map[string]string{"A": "1", "B": "2"}, "")
	if !errors.Is(err, types.ErrSessionNotActive) {
		t.Errorf("error = %v, want ErrSessionNotActive", err)
	}
	if calls != 1 {
		t.Errorf("store called %d times, want 1", calls)
	}
}

func TestSubmitClosedDuringOnlySecret(t *testing.T) {
	var m *Manager
	var sessionID string
	var stored []string
	setter := setterFunc(func(_ context.Context, key, _ string, _ types.SecretContext, _ *types.ConfigPatch) (bool, error) {
		stored = append(stored, key)
		if err := m.CloseSession(sessionID); err != nil {
			return false, err
		}
		return true, nil
	})
	m, _, _ = newManager(t, setter, Config{})
	events := make(chan Submission, 1)

	created, err := m.CreateSecretForm(context.Background(), apiKeyRequest(), globalCtx, events)
	if err != nil {
		t.Fatalf("CreateSecretForm: %v", err)
	}
	sessionID = created.SessionID

	res, err := m.Submit(context.Background(), sessionID, map[string]string{"API_KEY": "sk-1"}, "")
	if !errors.Is(err, types.ErrSessionNotActive) {
		t.Fatalf("Submit = %+v, %v; want ErrSessionNotActive", res, err)
	}
	if len(stored) != 1 {
		t.Errorf("stored = %v, want the one secret kept", stored)
	}

	sess, ok := m.GetSession(sessionID)
	if !ok || sess.Status != StatusExpired || len(sess.Submissions) != 0 {
		t.Errorf("session = %+v, %v; want expired without submissions", sess, ok)
	}
	select {
	case sub := <-events:
		t.Errorf("event emitted for a closed session: %+v", sub)
	default:
	}
}

func TestSubmitAfterStop(t *testing.T) {
	m, _, _ := newManager(t, newStore(t), Config{})
	events := make(chan Submission, 1)
	created, err := m.CreateSecretForm(context.Background(), apiKeyRequest(), globalCtx, events)
	if err != nil {
		t.Fatalf("CreateSecretForm: %v", err)
	}

	m.Stop()
	close(events)

	_, err = m.Submit(context.Background(), created.SessionID, map[string]string{"API_KEY": "sk-1"}, "")
	if !errors.Is(err, types.ErrSessionNotActive) {
		t.Errorf("submit after Stop error = %v, want ErrSessionNotActive", err)
	}
}

func TestSessionExpiry(t *testing.T) {
	m, tunnels, fc := newManager(t, newStore(t), Config{})
	req := apiKeyRequest()
	req.ExpiresIn = 100 * time.Millisecond

	created, err := m.CreateSecretForm(context.Background(), req, globalCtx, nil)
	if err != nil {
		t.Fatalf("CreateSecretForm: %v", err)
	}

	fc.Advance(200 * time.Millisecond)

	sess, ok := m.GetSession(created.SessionID)
	if !ok || sess.Status != StatusExpired {
		t.Fatalf("session = %v, %v; want expired", sess, ok)
	}
	_, err = m.Submit(context.Background(), created.SessionID, map[string]string{"API_KEY": "sk-1"}, "")
	if !errors.Is(err, types.ErrSessionNotActive) {
		t.Errorf("submit error = %v, want ErrSessionNotActive", err)
	}

	if n := m.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if m.ActiveCount() != 0 {
		t.Error("expired session still open after sweep")
	}
	if sess, ok := m.GetSession(created.SessionID); !ok || sess.Status != StatusExpired {
		t.Errorf("swept session = %v, %v; want expired", sess, ok)
	}
	if tunnels.openCount() != 0 {
		t.Error("sweep left the tunnel open")
	}
}

func TestSweepLoop(t *testing.T) {
	m, _, fc := newManager(t, newStore(t), Config{})
	req := apiKeyRequest()
	req.ExpiresIn = time.Second

	created, err := m.CreateSecretForm(context.Background(), req, globalCtx, nil)
	if err != nil {
		t.Fatalf("CreateSecretForm: %v", err)
	}

	m.StartSweepLoop(500 * time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && m.ActiveCount() != 0 {
		fc.Advance(500 * time.Millisecond)
		time.Sleep(10 * time.Millisecond)
	}
	if m.ActiveCount() != 0 {
		t.Fatal("sweep loop did not close the expired session")
	}
	if sess, ok := m.GetSession(created.SessionID); !ok || sess.Status != StatusExpired {
		t.Errorf("session = %v, %v; want expired", sess, ok)
	}
}

func TestCloseSessionIdempotent(t *testing.T) {
	m, tunnels, _ := newManager(t, newStore(t), Config{})
	created, err := m.CreateSecretForm(context.Background(), apiKeyRequest(), globalCtx, nil)
	if err != nil {
		t.Fatalf("CreateSecretForm: %v", err)
	}

	if err := m.CloseSession(created.SessionID); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	if err := m.CloseSession(created.SessionID); err != nil {
		t.Errorf("second CloseSession: %v", err)
	}
	if err := m.CloseSession("unknown"); err != nil {
		t.Errorf("CloseSession(unknown): %v", err)
	}
	if len(tunnels.closed) != 1 {
		t.Errorf("tunnel closed %d times, want 1", len(tunnels.closed))
	}
}

func TestExtendSession(t *testing.T) {
	m, tunnels, fc := newManager(t, newStore(t), Config{})
	req := apiKeyRequest()
	req.ExpiresIn = time.Minute

	created, err := m.CreateSecretForm(context.Background(), req, globalCtx, nil)
	if err != nil {
		t.Fatalf("CreateSecretForm: %v", err)
	}

	sess, err := m.ExtendSession(created.SessionID, time.Minute)
	if err != nil {
		t.Fatalf("ExtendSession: %v", err)
	}
	if !sess.ExpiresAt.Equal(epoch.Add(2 * time.Minute)) {
		t.Errorf("ExpiresAt = %v", sess.ExpiresAt)
	}
	if tunnels.extended["t-1"] != time.Minute {
		t.Errorf("tunnel extended by %v", tunnels.extended["t-1"])
	}

	fc.Advance(90 * time.Second)
	if s, _ := m.GetSession(created.SessionID); s.Status != StatusActive {
		t.Errorf("status after 90s = %s, want active", s.Status)
	}

	if _, err := m.ExtendSession("missing", time.Minute); !errors.Is(err, types.ErrSessionNotFound) {
		t.Errorf("ExtendSession(missing) error = %v", err)
	}
}

func TestCustomValidator(t *testing.T) {
	m, _, _ := newManager(t, newStore(t), Config{})
	m.RegisterValidator("sk-prefix", func(v string) string {
		if !strings.HasPrefix(v, "sk-") {
			return "API key must start with sk-"
		}
		return ""
	})

	req := Request{Secrets: []SecretRequest{{Key: "API_KEY", Required: true, Rules: &Rules{Custom: "sk-prefix"}}}}
	created, err := m.CreateSecretForm(context.Background(), req, globalCtx, nil)
	if err != nil {
		t.Fatalf("CreateSecretForm: %v", err)
	}

	res, err := m.Submit(context.Background(), created.SessionID, map[string]string{"API_KEY": "pk-1"}, "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Errors["API_KEY"] != "API key must start with sk-" {
		t.Errorf("errors = %v", res.Errors)
	}
}

func TestStopClosesEverything(t *testing.T) {
	tunnels := newFakeTunnels()
	m := NewManager(newStore(t), tunnels, Config{}, clockwork.NewFakeClockAt(epoch), nil)
	for i := 0; i < 3; i++ {
		if _, err := m.CreateSecretForm(context.Background(), apiKeyRequest(), globalCtx, nil); err != nil {
			t.Fatalf("CreateSecretForm: %v", err)
		}
	}
	m.StartSweepLoop(time.Minute)

	m.Stop()

	if m.ActiveCount() != 0 || tunnels.openCount() != 0 {
		t.Errorf("after Stop: %d sessions, %d tunnels", m.ActiveCount(), tunnels.openCount())
	}
	if m.ports.inUseCount() != 0 {
		t.Errorf("after Stop: %d ports in use", m.ports.inUseCount())
	}
}

func serve(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHTTPSurface(t *testing.T) {
	st := newStore(t)
	m, _, _ := newManager(t, st, Config{})

	req := Request{
		Title: "Connect the API",
		Secrets: []SecretRequest{
			{Key: "API_KEY", Kind: types.KindAPIKey, Required: true},
			{Key: "SETTINGS", Kind: types.KindConfig},
		},
	}
	created, err := m.CreateSecretForm(context.Background(), req, globalCtx, nil)
	if err != nil {
		t.Fatalf("CreateSecretForm: %v", err)
	}
	id := created.SessionID
	h := m.router(id)

	page := serve(t, h, http.MethodGet, "/form/"+id, "")
	if page.Code != http.StatusOK {
		t.Fatalf("GET form = %d", page.Code)
	}
	if body := page.Body.String(); !strings.Contains(body, "Connect the API") || !strings.Contains(body, `type="password"`) || !strings.Contains(body, "<textarea") {
		t.Errorf("page missing expected fields:\n%s", body)
	}

	if w := serve(t, h, http.MethodGet, "/form/other", ""); w.Code != http.StatusNotFound {
		t.Errorf("GET other session = %d, want 404", w.Code)
	}

	status := serve(t, h, http.MethodGet, "/api/form/"+id+"/status", "")
	var view StatusView
	if err := json.Unmarshal(status.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if view.Status != StatusActive || view.MaxSubmissions != 1 || view.SubmissionsCount != 0 {
		t.Errorf("status = %+v", view)
	}

	if w := serve(t, h, http.MethodPost, "/api/form/"+id+"/submit", "not json"); w.Code != http.StatusBadRequest {
		t.Errorf("bad JSON = %d, want 400", w.Code)
	}

	w := serve(t, h, http.MethodPost, "/api/form/"+id+"/submit", `{"SETTINGS": {"a": 1}}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("missing required = %d, want 422", w.Code)
	}
	var res Result
	json.Unmarshal(w.Body.Bytes(), &res)
	if res.Errors["API_KEY"] == "" {
		t.Errorf("errors = %v", res.Errors)
	}

	w = serve(t, h, http.MethodPost, "/api/form/"+id+"/submit", `{"API_KEY": "sk-test-123", "SETTINGS": {"a": 1}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("valid submit = %d: %s", w.Code, w.Body)
	}

	settings, ok, err := st.Get(context.Background(), "SETTINGS", globalCtx)
	if err != nil || !ok || settings != `{"a": 1}` {
		t.Errorf("SETTINGS = %q, %v, %v", settings, ok, err)
	}

	if w := serve(t, h, http.MethodPost, "/api/form/"+id+"/submit", `{"API_KEY": "sk-2"}`); w.Code != http.StatusGone {
		t.Errorf("submit after completion = %d, want 410", w.Code)
	}
	if w := serve(t, h, http.MethodGet, "/form/"+id, ""); w.Code != http.StatusGone {
		t.Errorf("GET completed form = %d, want 410", w.Code)
	}
	status = serve(t, h, http.MethodGet, "/api/form/"+id+"/status", "")
	if err := json.Unmarshal(status.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if view.Status != StatusCompleted || view.SubmissionsCount != 1 {
		t.Errorf("status after completion = %+v", view)
	}
}

func TestHTTPExpiredPage(t *testing.T) {
	m, _, fc := newManager(t, newStore(t), Config{})
	req := apiKeyRequest()
	req.ExpiresIn = time.Minute
	created, err := m.CreateSecretForm(context.Background(), req, globalCtx, nil)
	if err != nil {
		t.Fatalf("CreateSecretForm: %v", err)
	}
	h := m.router(created.SessionID)

	fc.Advance(2 * time.Minute)

	if w := serve(t, h, http.MethodGet, "/form/"+created.SessionID, ""); w.Code != http.StatusGone {
		t.Errorf("GET expired form = %d, want 410", w.Code)
	}
	w := serve(t, h, http.MethodPost, "/api/form/"+created.SessionID+"/submit", `{"API_KEY": "sk-1"}`)
	if w.Code != http.StatusGone {
		t.Errorf("submit to expired form = %d, want 410", w.Code)
	}
}

func TestHTTPRateLimit(t *testing.T) {
	m, _, _ := newManager(t, newStore(t), Config{RateLimit: 0.001, RateBurst: 1})
	created, err := m.CreateSecretForm(context.Background(), apiKeyRequest(), globalCtx, nil)
	if err != nil {
		t.Fatalf("CreateSecretForm: %v", err)
	}
	h := m.router(created.SessionID)
	path := "/api/form/" + created.SessionID + "/submit"

	if w := serve(t, h, http.MethodPost, path, `{}`); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("first submit = %d, want 422", w.Code)
	}
	if w := serve(t, h, http.MethodPost, path, `{}`); w.Code != http.StatusTooManyRequests {
		t.Errorf("second submit = %d, want 429", w.Code)
	}
}

func TestDecodePayload(t *testing.T) {
	got, err := decodePayload(bytes.NewBufferString(`{"a": "x", "b": {"k": true}, "c": null, "d": 5}`))
	if err != nil {
		t.Fatalf("decodePayload: %v", err)
	}
	want := map[string]string{"a": "x", "b": `{"k": true}`, "d": "5"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}

	if _, err := decodePayload(bytes.NewBufferString(`null`)); err == nil {
		t.Error("null body should be rejected")
	}
}
