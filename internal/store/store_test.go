package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/joelhooks/scoped-secrets/internal/audit"
	"github.com/joelhooks/scoped-secrets/internal/backend"
	"github.com/joelhooks/scoped-secrets/internal/crypto"
	"github.com/joelhooks/scoped-secrets/internal/permission"
	"github.com/joelhooks/scoped-secrets/internal/types"
	"github.com/joelhooks/scoped-secrets/internal/validate"
)

const agentID = "agent-1"

var epoch = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store *Store
	mem   *backend.Memory
	clock *clockwork.FakeClock
	log   *audit.Log
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	ctx := context.Background()

	mem := backend.NewMemory()
	_ = mem.SetWorldRole(ctx, "w1", "owner", types.RoleOwner)
	_ = mem.SetWorldRole(ctx, "w1", "admin", types.RoleAdmin)
	_ = mem.SetWorldRole(ctx, "w1", "member", types.RoleMember)

	box, err := crypto.NewBox(agentID, "test-salt", "")
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}

	fc := clockwork.NewFakeClockAt(epoch)
	log := audit.New(audit.DefaultCapacity)
	opts := Options{
		Global:     mem,
		Worlds:     mem,
		Records:    mem,
		Authorizer: permission.New(mem, 0, nil),
		Cipher:     box,
		Audit:      log,
		Clock:      fc,
	}
	for _, m := range mutate {
		m(&opts)
	}

	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{store: s, mem: mem, clock: fc, log: log}
}

func globalCtx() types.SecretContext {
	return types.SecretContext{Scope: types.ScopeGlobal, AgentID: agentID}
}

func worldCtx(requester string) types.SecretContext {
	return types.SecretContext{Scope: types.ScopeWorld, WorldID: "w1", AgentID: agentID, RequesterID: requester}
}

func userCtx(requester string) types.SecretContext {
	return types.SecretContext{Scope: types.ScopeUser, UserID: "u1", AgentID: agentID, RequesterID: requester}
}

func boolPtr(b bool) *bool { return &b }

func TestRoundTripAllScopes(t *testing.T) {
	contexts := map[string]types.SecretContext{
		"global": globalCtx(),
		"world":  worldCtx("owner"),
		"user":   userCtx("u1"),
	}

	for name, sctx := range contexts {
		for _, encrypted := range []bool{true, false} {
			t.Run(name, func(t *testing.T) {
				f := newFixture(t)
				ctx := context.Background()

				ok, err := f.store.Set(ctx, "API_KEY", "sk-test-123", sctx, &types.ConfigPatch{Encrypted: boolPtr(encrypted)})
				if err != nil || !ok {
					t.Fatalf("Set = %v, %v", ok, err)
				}

				got, found, err := f.store.Get(ctx, "API_KEY", sctx)
				if err != nil || !found {
					t.Fatalf("Get = %q, %v, %v", got, found, err)
				}
				if got != "sk-test-123" {
					t.Errorf("Get = %q, want sk-test-123", got)
				}
			})
		}
	}
}

func TestSameKeyIndependentPerScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.Set(ctx, "TOKEN", "global-v", globalCtx(), nil)
	f.store.Set(ctx, "TOKEN", "world-v", worldCtx("owner"), nil)
	f.store.Set(ctx, "TOKEN", "user-v", userCtx("u1"), nil)

	tests := []struct {
		sctx types.SecretContext
		want string
	}{
		{globalCtx(), "global-v"},
		{worldCtx("owner"), "world-v"},
		{userCtx("u1"), "user-v"},
	}
	for _, tt := range tests {
		got, _, err := f.store.Get(ctx, "TOKEN", tt.sctx)
		if err != nil {
			t.Fatalf("Get(%s): %v", tt.sctx, err)
		}
		if got != tt.want {
			t.Errorf("Get(%s) = %q, want %q", tt.sctx, got, tt.want)
		}
	}
}

func TestGetMissing(t *testing.T) {
	f := newFixture(t)

	got, found, err := f.store.Get(context.Background(), "NOPE", globalCtx())
	if err != nil || found || got != "" {
		t.Errorf("Get(missing) = %q, %v, %v; want \"\", false, nil", got, found, err)
	}
}

func TestEncryptionDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.Set(ctx, "G", "plain-global", globalCtx(), nil)
	f.store.Set(ctx, "W", "enc-world", worldCtx("owner"), nil)

	g, _ := f.mem.GetSecret(ctx, "G")
	if g.Value.IsEncrypted() || g.Config.Encrypted {
		t.Errorf("global secret encrypted by default: %+v", g)
	}

	w, _ := f.mem.GetWorld(ctx, "w1")
	rec := w.Secrets["W"]
	if !rec.Value.IsEncrypted() || !rec.Config.Encrypted {
		t.Errorf("world secret not encrypted by default: %+v", rec)
	}
	if rec.Value.Encrypted.KeyID != crypto.DefaultKeyID {
		t.Errorf("KeyID = %q, want %q", rec.Value.Encrypted.KeyID, crypto.DefaultKeyID)
	}
	if rec.Config.Kind != types.KindSecret {
		t.Errorf("Kind = %q, want secret", rec.Config.Kind)
	}
}

func TestListOmitsValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sctx := userCtx("u1")

	f.store.Set(ctx, "API_KEY", "sk-very-secret", sctx, &types.ConfigPatch{Kind: types.KindAPIKey})
	f.store.Set(ctx, "PLAIN", "also-secret", sctx, &types.ConfigPatch{Encrypted: boolPtr(false)})

	list, err := f.store.List(ctx, sctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("List returned %d entries, want 2", len(list))
	}
	if list["API_KEY"].Kind != types.KindAPIKey {
		t.Errorf("API_KEY kind = %q", list["API_KEY"].Kind)
	}

	data, err := json.Marshal(list)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, needle := range []string{`"value"`, "sk-very-secret", "also-secret", "ciphertext"} {
		if strings.Contains(string(data), needle) {
			t.Errorf("listing contains %s: %s", needle, data)
		}
	}
}

func TestListDeniedIsEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.Set(ctx, "K", "v", userCtx("u1"), nil)

	list, err := f.store.List(ctx, userCtx("u2"))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("denied List returned %d entries", len(list))
	}
}

func TestUserScopeForeignWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if ok, _ := f.store.Set(ctx, "K", "original", userCtx("u1"), nil); !ok {
		t.Fatal("owner Set failed")
	}

	ok, err := f.store.Set(ctx, "K", "hijacked", userCtx("u2"), nil)
	if err != nil || ok {
		t.Fatalf("foreign Set = %v, %v; want false, nil", ok, err)
	}

	got, _, _ := f.store.Get(ctx, "K", userCtx("u1"))
	if got != "original" {
		t.Errorf("value after foreign write = %q, want original", got)
	}

	if _, found, _ := f.store.Get(ctx, "K", userCtx("u2")); found {
		t.Error("foreign Get succeeded")
	}
}

func TestWorldRoles(t *testing.T) {
	tests := []struct {
		requester string
		wantWrite bool
		wantRead  bool
	}{
		{"owner", true, true},
		{"admin", true, true},
		{"member", false, true},
		{"outsider", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.requester, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.store.Set(ctx, "SEED", "seed", worldCtx("owner"), nil)

			ok, err := f.store.Set(ctx, "K", "v", worldCtx(tt.requester), nil)
			if err != nil {
				t.Fatalf("Set: %v", err)
			}
			if ok != tt.wantWrite {
				t.Errorf("Set = %v, want %v", ok, tt.wantWrite)
			}

			_, found, _ := f.store.Get(ctx, "SEED", worldCtx(tt.requester))
			if found != tt.wantRead {
				t.Errorf("Get found = %v, want %v", found, tt.wantRead)
			}
		})
	}
}

func TestMissingScopeID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, sctx := range []types.SecretContext{
		{Scope: types.ScopeWorld, AgentID: agentID, RequesterID: "owner"},
		{Scope: types.ScopeUser, AgentID: agentID},
		{Scope: "galaxy", AgentID: agentID},
	} {
		ok, err := f.store.Set(ctx, "K", "v", sctx, nil)
		if ok || err != nil {
			t.Errorf("Set(%+v) = %v, %v; want false, nil", sctx, ok, err)
		}
		if _, found, err := f.store.Get(ctx, "K", sctx); found || err != nil {
			t.Errorf("Get(%+v) = %v, %v; want false, nil", sctx, found, err)
		}
	}
}

func TestCorruptedAuthTag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sctx := worldCtx("owner")

	if ok, err := f.store.Set(ctx, "K", "v", sctx, nil); !ok || err != nil {
		t.Fatalf("Set = %v, %v", ok, err)
	}

	w, _ := f.mem.GetWorld(ctx, "w1")
	rec := w.Secrets["K"]
	tag, _ := base64.StdEncoding.DecodeString(rec.Value.Encrypted.AuthTag)
	tag[0] ^= 0x01
	rec.Value.Encrypted.AuthTag = base64.StdEncoding.EncodeToString(tag)
	w.Secrets["K"] = rec
	if err := f.mem.UpdateWorld(ctx, w); err != nil {
		t.Fatalf("UpdateWorld: %v", err)
	}

	_, found, err := f.store.Get(ctx, "K", sctx)
	if !errors.Is(err, types.ErrDecryptionFailed) {
		t.Fatalf("Get error = %v, want ErrDecryptionFailed", err)
	}
	if found {
		t.Error("corrupted Get reported found")
	}
	var secretErr *types.SecretError
	if !errors.As(err, &secretErr) || secretErr.Key != "K" {
		t.Errorf("error = %#v, want *SecretError for K", err)
	}
}

func TestBareStringBackwardCompatible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var rec types.SecretRecord
	if err := json.Unmarshal([]byte(`{"key":"LEGACY","value":"old-plain","config":{"type":"secret","scope":"world","encrypted":true}}`), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	_ = f.mem.UpdateWorld(ctx, &backend.World{ID: "w1", Secrets: map[string]types.SecretRecord{"LEGACY": rec}})

	got, found, err := f.store.Get(ctx, "LEGACY", worldCtx("member"))
	if err != nil || !found || got != "old-plain" {
		t.Errorf("Get = %q, %v, %v; want old-plain", got, found, err)
	}
}

func TestFailClosedWithoutCipher(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Cipher = nil })
	ctx := context.Background()

	if f.store.EncryptionAvailable() {
		t.Fatal("EncryptionAvailable() = true without cipher")
	}

	ok, err := f.store.Set(ctx, "G", "plain", globalCtx(), nil)
	if err != nil || !ok {
		t.Fatalf("plaintext global Set = %v, %v", ok, err)
	}

	ok, err = f.store.Set(ctx, "W", "v", worldCtx("owner"), nil)
	if ok || !errors.Is(err, types.ErrEncryptionUnavailable) {
		t.Errorf("encrypted Set = %v, %v; want false, ErrEncryptionUnavailable", ok, err)
	}

	ok, err = f.store.Set(ctx, "W", "v", worldCtx("owner"), &types.ConfigPatch{Encrypted: boolPtr(false)})
	if err != nil || !ok {
		t.Errorf("explicit plaintext world Set = %v, %v", ok, err)
	}
}

func TestValidatorRejects(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Validator = validate.Structural{} })
	ctx := context.Background()
	sctx := userCtx("u1")

	ok, err := f.store.Set(ctx, "HOOK", "not a url", sctx, &types.ConfigPatch{Kind: types.KindURL})
	if ok || err != nil {
		t.Fatalf("invalid Set = %v, %v; want false, nil", ok, err)
	}
	if _, found, _ := f.store.Get(ctx, "HOOK", sctx); found {
		t.Error("invalid value was persisted")
	}

	ok, err = f.store.Set(ctx, "HOOK", "https://example.com/hook", sctx, &types.ConfigPatch{Kind: types.KindURL})
	if !ok || err != nil {
		t.Fatalf("valid Set = %v, %v", ok, err)
	}
	list, _ := f.store.List(ctx, sctx)
	cfg := list["HOOK"]
	if cfg.Status != types.StatusValid || cfg.ValidatedAt == nil {
		t.Errorf("config after validation = %+v", cfg)
	}

	ok, err = f.store.Set(ctx, "HOOK", "still not a url", sctx, nil)
	if ok || err != nil {
		t.Fatalf("invalid update = %v, %v; want false, nil", ok, err)
	}
	got, found, err := f.store.Get(ctx, "HOOK", sctx)
	if err != nil || !found || got != "https://example.com/hook" {
		t.Errorf("value after rejected update = %q, %v, %v", got, found, err)
	}
	list, _ = f.store.List(ctx, sctx)
	cfg = list["HOOK"]
	if cfg.Status != types.StatusInvalid || !strings.Contains(cfg.LastError, "absolute http(s) url") {
		t.Errorf("config after rejected update = %+v", cfg)
	}
	if cfg.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", cfg.Attempts)
	}

	if ok, _ := f.store.Set(ctx, "HOOK", "https://example.com/v2", sctx, nil); !ok {
		t.Fatal("valid update rejected")
	}
	list, _ = f.store.List(ctx, sctx)
	if cfg := list["HOOK"]; cfg.Status != types.StatusValid || cfg.LastError != "" {
		t.Errorf("config after recovery = %+v", cfg)
	}
}

func TestPatchMergesOverExisting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sctx := userCtx("u1")

	f.store.Set(ctx, "K", "v1", sctx, &types.ConfigPatch{
		Kind:        types.KindCredential,
		Description: "db password",
		Required:    boolPtr(true),
	})
	f.clock.Advance(time.Hour)
	f.store.Set(ctx, "K", "v2", sctx, nil)

	list, _ := f.store.List(ctx, sctx)
	cfg := list["K"]
	if cfg.Kind != types.KindCredential || cfg.Description != "db password" || !cfg.Required {
		t.Errorf("metadata lost on update: %+v", cfg)
	}
	if !cfg.CreatedAt.Equal(epoch) {
		t.Errorf("CreatedAt = %v, want %v", cfg.CreatedAt, epoch)
	}
	if !cfg.UpdatedAt.Equal(epoch.Add(time.Hour)) {
		t.Errorf("UpdatedAt = %v, want %v", cfg.UpdatedAt, epoch.Add(time.Hour))
	}
	if cfg.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", cfg.Attempts)
	}
	if cfg.OwnerID != "u1" || cfg.Scope != types.ScopeUser {
		t.Errorf("owner = %q scope = %q", cfg.OwnerID, cfg.Scope)
	}
}

func TestGrantRevokeCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sctx := userCtx("u1")

	if f.store.CheckAccess(ctx, "K", sctx, "bob", types.ActionRead) {
		t.Error("CheckAccess on missing secret = true")
	}

	f.store.Set(ctx, "K", "v", sctx, nil)

	ok, err := f.store.GrantAccess(ctx, "K", sctx, "bob", []types.Action{types.ActionRead}, 0)
	if !ok || err != nil {
		t.Fatalf("GrantAccess = %v, %v", ok, err)
	}
	f.store.GrantAccess(ctx, "K", sctx, "bob", []types.Action{types.ActionWrite, types.ActionRead}, 0)

	if !f.store.CheckAccess(ctx, "K", sctx, "bob", types.ActionRead) {
		t.Error("bob read = false after grant")
	}
	if !f.store.CheckAccess(ctx, "K", sctx, "bob", types.ActionWrite) {
		t.Error("bob write = false after merged grant")
	}
	if f.store.CheckAccess(ctx, "K", sctx, "carol", types.ActionRead) {
		t.Error("carol read = true without grant")
	}

	list, _ := f.store.List(ctx, sctx)
	cfg := list["K"]
	if len(cfg.Permissions) != 1 || len(cfg.Permissions[0].Permissions) != 2 {
		t.Errorf("permissions = %+v", cfg.Permissions)
	}
	if len(cfg.SharedWith) != 1 || cfg.SharedWith[0] != "bob" {
		t.Errorf("sharedWith = %v, want [bob]", cfg.SharedWith)
	}
	if cfg.Permissions[0].GrantedBy != "u1" {
		t.Errorf("GrantedBy = %q, want u1", cfg.Permissions[0].GrantedBy)
	}

	ok, _ = f.store.RevokeAccess(ctx, "K", sctx, "bob", []types.Action{types.ActionWrite})
	if !ok {
		t.Fatal("partial revoke failed")
	}
	if f.store.CheckAccess(ctx, "K", sctx, "bob", types.ActionWrite) {
		t.Error("bob write = true after revoke")
	}
	if !f.store.CheckAccess(ctx, "K", sctx, "bob", types.ActionRead) {
		t.Error("bob read lost on partial revoke")
	}

	ok, _ = f.store.RevokeAccess(ctx, "K", sctx, "bob", nil)
	if !ok {
		t.Fatal("full revoke failed")
	}
	list, _ = f.store.List(ctx, sctx)
	if cfg := list["K"]; len(cfg.Permissions) != 0 || len(cfg.SharedWith) != 0 {
		t.Errorf("after full revoke: permissions=%v sharedWith=%v", cfg.Permissions, cfg.SharedWith)
	}

	if ok, _ := f.store.RevokeAccess(ctx, "K", sctx, "bob", nil); ok {
		t.Error("revoking absent grant returned true")
	}

	if got, _, _ := f.store.Get(ctx, "K", sctx); got != "v" {
		t.Errorf("value changed by grant/revoke: %q", got)
	}
}

func TestGrantExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sctx := userCtx("u1")
	f.store.Set(ctx, "K", "v", sctx, nil)

	f.store.GrantAccess(ctx, "K", sctx, "bob", []types.Action{types.ActionRead}, time.Minute)
	if !f.store.CheckAccess(ctx, "K", sctx, "bob", types.ActionRead) {
		t.Fatal("grant not effective before expiry")
	}

	f.clock.Advance(time.Minute)
	if f.store.CheckAccess(ctx, "K", sctx, "bob", types.ActionRead) {
		t.Error("expired grant still effective")
	}
}

func TestGrantRequiresShare(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.Set(ctx, "K", "v", worldCtx("owner"), nil)

	ok, err := f.store.GrantAccess(ctx, "K", worldCtx("member"), "bob", []types.Action{types.ActionRead}, 0)
	if ok || err != nil {
		t.Errorf("member GrantAccess = %v, %v; want false, nil", ok, err)
	}
	ok, _ = f.store.GrantAccess(ctx, "K", worldCtx("admin"), "bob", []types.Action{types.ActionRead}, 0)
	if !ok {
		t.Error("admin GrantAccess = false")
	}
	if ok, _ := f.store.GrantAccess(ctx, "MISSING", worldCtx("admin"), "bob", []types.Action{types.ActionRead}, 0); ok {
		t.Error("GrantAccess on missing secret = true")
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, sctx := range []types.SecretContext{globalCtx(), worldCtx("owner"), userCtx("u1")} {
		f.store.Set(ctx, "K", "v", sctx, nil)

		ok, err := f.store.Delete(ctx, "K", sctx)
		if !ok || err != nil {
			t.Errorf("Delete(%s) = %v, %v", sctx, ok, err)
		}
		if _, found, _ := f.store.Get(ctx, "K", sctx); found {
			t.Errorf("Get after Delete(%s) found value", sctx)
		}
		if ok, _ := f.store.Delete(ctx, "K", sctx); ok {
			t.Errorf("second Delete(%s) = true", sctx)
		}
	}

	f.store.Set(ctx, "K", "v", worldCtx("owner"), nil)
	if ok, _ := f.store.Delete(ctx, "K", worldCtx("member")); ok {
		t.Error("member Delete = true")
	}
}

func TestCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.Set(ctx, "A", "1", globalCtx(), nil)
	f.store.Set(ctx, "B", "2", globalCtx(), nil)
	f.store.Set(ctx, "C", "3", userCtx("u1"), nil)

	if n, _ := f.store.Count(ctx, globalCtx()); n != 2 {
		t.Errorf("global Count = %d, want 2", n)
	}
	if n, _ := f.store.Count(ctx, userCtx("")); n != 1 {
		t.Errorf("user Count = %d, want 1", n)
	}
}

func TestAuditEveryCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sctx := userCtx("u1")

	f.store.Set(ctx, "K", "v", sctx, nil)
	f.store.Get(ctx, "K", sctx)
	f.store.Get(ctx, "K", userCtx("u2"))
	f.store.GrantAccess(ctx, "K", sctx, "bob", []types.Action{types.ActionRead}, 0)
	f.store.RevokeAccess(ctx, "K", sctx, "bob", nil)
	f.store.CheckAccess(ctx, "K", sctx, "bob", types.ActionRead)

	logs := f.store.GetAccessLogs("K", nil)
	if len(logs) != 6 {
		t.Fatalf("access log has %d entries, want 6", len(logs))
	}

	wantActions := []types.Action{types.ActionWrite, types.ActionRead, types.ActionRead, types.ActionShare, types.ActionShare, types.ActionRead}
	wantSuccess := []bool{true, true, false, true, true, false}
	for i, e := range logs {
		if e.Action != wantActions[i] || e.Success != wantSuccess[i] {
			t.Errorf("entry %d = %s/%v, want %s/%v", i, e.Action, e.Success, wantActions[i], wantSuccess[i])
		}
		if !e.Timestamp.Equal(epoch) {
			t.Errorf("entry %d timestamp = %v, want fake clock time", i, e.Timestamp)
		}
	}
	if logs[2].AccessedBy != "u2" || logs[2].Error != outcomeDenied {
		t.Errorf("denied entry = %+v", logs[2])
	}
}

func TestGetAccessLogsByContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.Set(ctx, "K", "v", globalCtx(), nil)
	f.store.Set(ctx, "K", "v", worldCtx("owner"), nil)
	f.store.Set(ctx, "K", "v", userCtx("u1"), nil)

	world := worldCtx("")
	if got := f.store.GetAccessLogs("K", &world); len(got) != 1 {
		t.Errorf("world logs = %d, want 1", len(got))
	}
	if got := f.store.GetAccessLogs("K", nil); len(got) != 3 {
		t.Errorf("all logs = %d, want 3", len(got))
	}
}

type failingGlobal struct {
	backend.GlobalStore
}

func (failingGlobal) GetSecret(context.Context, string) (*types.SecretRecord, error) {
	return nil, nil
}

func (failingGlobal) PutSecret(context.Context, types.SecretRecord) error {
	return errors.New("disk full")
}

func TestBackendFailurePropagates(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Global = failingGlobal{} })

	ok, err := f.store.Set(context.Background(), "K", "v", globalCtx(), nil)
	if ok || err == nil {
		t.Fatalf("Set = %v, %v; want false, error", ok, err)
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("error = %v, want backend cause", err)
	}

	logs := f.store.GetAccessLogs("K", nil)
	if len(logs) != 1 || logs[0].Success || logs[0].Error == "" {
		t.Errorf("failure not audited: %+v", logs)
	}
}

func TestNewRequiresAuthorizer(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New without authorizer succeeded")
	}
}
