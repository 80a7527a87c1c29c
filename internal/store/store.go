// Package store resolves, encrypts and authorizes secrets at the global,
// world and user scopes. Every call is recorded in the access log.
//
// NotFound and PermissionDenied are expected outcomes and are reported as
// false/absent returns. Errors are reserved for backend failures and for
// payloads that fail authentication on decrypt.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/joelhooks/scoped-secrets/internal/audit"
	"github.com/joelhooks/scoped-secrets/internal/backend"
	"github.com/joelhooks/scoped-secrets/internal/metrics"
	"github.com/joelhooks/scoped-secrets/internal/types"
)

// Audit outcomes, also used as the metrics result label.
const (
	outcomeOK             = "ok"
	outcomeDenied         = "denied"
	outcomeNotFound       = "not_found"
	outcomeInvalid        = "invalid"
	outcomeMissingScopeID = "missing_scope_id"
	outcomeError          = "error"
)

// Cipher encrypts individual secret values. *crypto.Box satisfies it.
type Cipher interface {
	Encrypt(plaintext string) (*types.EncryptedPayload, error)
	Decrypt(p *types.EncryptedPayload) (string, error)
}

// Authorizer applies the scope rule table. *permission.Evaluator satisfies it.
type Authorizer interface {
	Allow(ctx context.Context, action types.Action, sctx types.SecretContext) bool
}

// Validator checks a value's format for its kind before it is stored.
type Validator interface {
	Validate(kind types.SecretKind, value string) error
}

// Options wires a Store to its collaborators. Cipher and Validator are
// optional; without a Cipher, encrypted writes and reads fail with
// types.ErrEncryptionUnavailable.
type Options struct {
	Global  backend.GlobalStore
	Worlds  backend.WorldStore
	Records backend.RecordStore

	Authorizer Authorizer
	Cipher     Cipher
	Validator  Validator
	Audit      *audit.Log
	Clock      clockwork.Clock
	Logger     *slog.Logger
}

// Store is the scoped secret store.
type Store struct {
	global  backend.GlobalStore
	worlds  backend.WorldStore
	records backend.RecordStore

	authz     Authorizer
	cipher    Cipher
	validator Validator
	audit     *audit.Log
	clock     clockwork.Clock
	logger    *slog.Logger

	// writeMu serializes read-modify-write cycles on backend records.
	writeMu sync.Mutex
}

// New creates a Store. Authorizer is required.
func New(opts Options) (*Store, error) {
	if opts.Authorizer == nil {
		return nil, errors.New("store: authorizer is required")
	}
	s := &Store{
		global:    opts.Global,
		worlds:    opts.Worlds,
		records:   opts.Records,
		authz:     opts.Authorizer,
		cipher:    opts.Cipher,
		validator: opts.Validator,
		audit:     opts.Audit,
		clock:     opts.Clock,
		logger:    opts.Logger,
	}
	if s.audit == nil {
		s.audit = audit.New(audit.DefaultCapacity)
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// EncryptionAvailable reports whether a Cipher is configured.
func (s *Store) EncryptionAvailable() bool {
	return s.cipher != nil
}

// Get returns the plaintext value of key in sctx's scope. The bool is false
// when the secret is absent, the requester is denied, or the context lacks
// its scope identifier. A payload that fails authentication returns an error
// wrapping types.ErrDecryptionFailed.
func (s *Store) Get(ctx context.Context, key string, sctx types.SecretContext) (string, bool, error) {
	if !scopeReady(sctx) {
		s.record(key, types.ActionRead, sctx, outcomeMissingScopeID, nil)
		return "", false, nil
	}
	if !s.authz.Allow(ctx, types.ActionRead, sctx) {
		s.deny(key, types.ActionRead, sctx)
		return "", false, nil
	}

	rec, _, err := s.load(ctx, key, sctx)
	if err != nil {
		s.record(key, types.ActionRead, sctx, outcomeError, err)
		return "", false, types.NewSecretError(key, sctx, err)
	}
	if rec == nil {
		s.record(key, types.ActionRead, sctx, outcomeNotFound, nil)
		return "", false, nil
	}

	value, err := s.reveal(rec.Value)
	if err != nil {
		s.record(key, types.ActionRead, sctx, outcomeError, err)
		s.logger.Error("secret payload failed to decrypt", "key", key, "scope", sctx.String(), "error", err)
		return "", false, types.NewSecretError(key, sctx, err)
	}

	s.record(key, types.ActionRead, sctx, outcomeOK, nil)
	return value, true, nil
}

func (s *Store) reveal(v types.SecretValue) (string, error) {
	if !v.IsEncrypted() {
		return v.Plain, nil
	}
	if s.cipher == nil {
		return "", types.ErrEncryptionUnavailable
	}
	return s.cipher.Decrypt(v.Encrypted)
}

// Set stores value under key in sctx's scope, merging patch over the
// existing metadata (or the scope defaults for a new secret). It returns
// false without error when denied, when the context lacks its scope
// identifier, or when the value fails format validation. Backend and
// encryption failures are returned as errors.
func (s *Store) Set(ctx context.Context, key, value string, sctx types.SecretContext, patch *types.ConfigPatch) (bool, error) {
	if key == "" || !scopeReady(sctx) {
		s.record(key, types.ActionWrite, sctx, outcomeMissingScopeID, nil)
		return false, nil
	}
	if !s.authz.Allow(ctx, types.ActionWrite, sctx) {
		s.deny(key, types.ActionWrite, sctx)
		return false, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	existing, recordID, err := s.load(ctx, key, sctx)
	if err != nil {
		s.record(key, types.ActionWrite, sctx, outcomeError, err)
		return false, types.NewSecretError(key, sctx, err)
	}

	now := s.clock.Now()
	var cfg types.SecretConfig
	if existing != nil {
		cfg = existing.Config
	} else {
		cfg = defaultConfig(sctx, now)
	}
	applyPatch(&cfg, patch)

	if s.validator != nil {
		if verr := s.validator.Validate(cfg.Kind, value); verr != nil {
			s.record(key, types.ActionWrite, sctx, outcomeInvalid, verr)
			s.logger.Info("secret rejected by validator", "key", key, "scope", sctx.String(), "kind", cfg.Kind)
			if existing != nil {
				s.markInvalid(ctx, *existing, sctx, recordID, verr, now)
			}
			return false, nil
		}
		validated := now
		cfg.ValidatedAt = &validated
	}
	cfg.Attempts++
	cfg.LastError = ""
	if patch == nil || patch.Status == "" {
		cfg.Status = types.StatusValid
	}
	cfg.UpdatedAt = now

	stored := types.PlainValue(value)
	if cfg.Encrypted {
		if s.cipher == nil {
			s.record(key, types.ActionWrite, sctx, outcomeError, types.ErrEncryptionUnavailable)
			return false, types.NewSecretError(key, sctx, types.ErrEncryptionUnavailable)
		}
		payload, err := s.cipher.Encrypt(value)
		if err != nil {
			s.record(key, types.ActionWrite, sctx, outcomeError, err)
			return false, types.NewSecretError(key, sctx, err)
		}
		stored = types.SecretValue{Encrypted: payload}
	}

	rec := types.SecretRecord{Key: key, Value: stored, Config: cfg}
	if err := s.put(ctx, rec, sctx, recordID); err != nil {
		s.record(key, types.ActionWrite, sctx, outcomeError, err)
		return false, types.NewSecretError(key, sctx, err)
	}

	s.record(key, types.ActionWrite, sctx, outcomeOK, nil)
	s.logger.Debug("secret stored", "key", key, "scope", sctx.String(), "encrypted", cfg.Encrypted)
	return true, nil
}

// markInvalid keeps the stored value but records the rejected write on
// its config. Failures are logged; the write already failed.
func (s *Store) markInvalid(ctx context.Context, rec types.SecretRecord, sctx types.SecretContext, recordID string, verr error, now time.Time) {
	rec.Config.Status = types.StatusInvalid
	rec.Config.LastError = verr.Error()
	rec.Config.Attempts++
	rec.Config.UpdatedAt = now
	if err := s.put(ctx, rec, sctx, recordID); err != nil {
		s.logger.Warn("recording validation failure", "key", rec.Key, "scope", sctx.String(), "error", err)
	}
}

func defaultConfig(sctx types.SecretContext, now time.Time) types.SecretConfig {
	return types.SecretConfig{
		Kind:      types.KindSecret,
		Scope:     sctx.Scope,
		OwnerID:   sctx.OwnerID(),
		WorldID:   sctx.WorldID,
		Encrypted: sctx.Scope != types.ScopeGlobal,
		Status:    types.StatusMissing,
		CreatedAt: now,
	}
}

func applyPatch(cfg *types.SecretConfig, patch *types.ConfigPatch) {
	if patch == nil {
		return
	}
	if patch.Kind != "" {
		cfg.Kind = patch.Kind
	}
	if patch.Description != "" {
		cfg.Description = patch.Description
	}
	if patch.Required != nil {
		cfg.Required = *patch.Required
	}
	if patch.Encrypted != nil {
		cfg.Encrypted = *patch.Encrypted
	}
	if patch.Permissions != nil {
		cfg.Permissions = append([]types.SecretPermission(nil), patch.Permissions...)
		syncSharedWith(cfg)
	}
	if patch.Status != "" {
		cfg.Status = patch.Status
	}
}

// syncSharedWith rebuilds SharedWith from the grant list.
func syncSharedWith(cfg *types.SecretConfig) {
	cfg.SharedWith = nil
	for _, p := range cfg.Permissions {
		cfg.SharedWith = append(cfg.SharedWith, p.EntityID)
	}
}

// Delete removes key from sctx's scope. The bool is false when the secret
// is absent or the requester is denied.
func (s *Store) Delete(ctx context.Context, key string, sctx types.SecretContext) (bool, error) {
	if !scopeReady(sctx) {
		s.record(key, types.ActionDelete, sctx, outcomeMissingScopeID, nil)
		return false, nil
	}
	if !s.authz.Allow(ctx, types.ActionDelete, sctx) {
		s.deny(key, types.ActionDelete, sctx)
		return false, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	removed, err := s.remove(ctx, key, sctx)
	if err != nil {
		s.record(key, types.ActionDelete, sctx, outcomeError, err)
		return false, types.NewSecretError(key, sctx, err)
	}
	if !removed {
		s.record(key, types.ActionDelete, sctx, outcomeNotFound, nil)
		return false, nil
	}
	s.record(key, types.ActionDelete, sctx, outcomeOK, nil)
	return true, nil
}

// List returns metadata for every secret in sctx's scope. Values are never
// included. A denied requester or an incomplete context gets an empty map.
func (s *Store) List(ctx context.Context, sctx types.SecretContext) (map[string]types.SecretConfig, error) {
	out := make(map[string]types.SecretConfig)
	if !scopeReady(sctx) || !s.authz.Allow(ctx, types.ActionRead, sctx) {
		return out, nil
	}

	recs, err := s.list(ctx, sctx)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", sctx, err)
	}
	for _, rec := range recs {
		out[rec.Key] = rec.Config
	}
	return out, nil
}

// Count returns the number of secrets stored in sctx's scope, without
// permission checks. Used for status displays.
func (s *Store) Count(ctx context.Context, sctx types.SecretContext) (int, error) {
	if !scopeReady(sctx) {
		return 0, nil
	}
	recs, err := s.list(ctx, sctx)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// GetAccessLogs returns the access log entries for key, optionally
// restricted to entries whose context matches sctx.
func (s *Store) GetAccessLogs(key string, sctx *types.SecretContext) []types.AccessLogEntry {
	return s.audit.Query(key, sctx)
}

// AuditLog exposes the underlying access log.
func (s *Store) AuditLog() *audit.Log {
	return s.audit
}

func (s *Store) deny(key string, action types.Action, sctx types.SecretContext) {
	s.logger.Warn("secret access denied",
		"key", key, "action", action, "scope", sctx.String(), "requester", sctx.Requester())
	s.record(key, action, sctx, outcomeDenied, nil)
}

// record appends one access log entry and bumps the operation counter.
func (s *Store) record(key string, action types.Action, sctx types.SecretContext, outcome string, err error) {
	success := outcome == outcomeOK
	b := audit.NewEntry(key, action, success).WithContext(sctx).At(s.clock.Now())
	switch {
	case err != nil:
		b.WithError(err)
	case !success:
		b.WithReason(outcome)
	}
	s.audit.Append(b.Build())
	metrics.SecretOperations.WithLabelValues(string(action), string(sctx.Scope), outcome).Inc()
}

// scopeReady reports whether sctx names a valid scope and, for world and
// user scopes, its owning identifier.
func scopeReady(sctx types.SecretContext) bool {
	if !sctx.Scope.Valid() {
		return false
	}
	return sctx.Scope == types.ScopeGlobal || sctx.OwnerID() != ""
}
