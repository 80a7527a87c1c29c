package store

import (
	"context"
	"slices"
	"time"

	"github.com/joelhooks/scoped-secrets/internal/audit"
	"github.com/joelhooks/scoped-secrets/internal/types"
)

// GrantAccess gives granteeID the listed permissions on key. Actions are
// merged into any existing grant for the same entity. A positive ttl sets
// the grant's expiry. Requires share permission on the scope; the bool is
// false when denied or when the secret does not exist.
func (s *Store) GrantAccess(ctx context.Context, key string, sctx types.SecretContext, granteeID string, perms []types.Action, ttl time.Duration) (bool, error) {
	return s.mutateGrants(ctx, key, sctx, func(cfg *types.SecretConfig, now time.Time) bool {
		if granteeID == "" || len(perms) == 0 {
			return false
		}
		var expires *time.Time
		if ttl > 0 {
			t := now.Add(ttl)
			expires = &t
		}

		for i := range cfg.Permissions {
			p := &cfg.Permissions[i]
			if p.EntityID != granteeID {
				continue
			}
			for _, a := range perms {
				if !slices.Contains(p.Permissions, a) {
					p.Permissions = append(p.Permissions, a)
				}
			}
			p.GrantedBy = sctx.Requester()
			p.GrantedAt = now
			p.ExpiresAt = expires
			return true
		}

		cfg.Permissions = append(cfg.Permissions, types.SecretPermission{
			EntityID:    granteeID,
			Permissions: slices.Clone(perms),
			GrantedBy:   sctx.Requester(),
			GrantedAt:   now,
			ExpiresAt:   expires,
		})
		return true
	})
}

// RevokeAccess removes the listed permissions from granteeID's grant on
// key. An empty perms list removes the whole grant. Requires share
// permission; the bool is false when denied, when the secret does not
// exist, or when there was nothing to revoke.
func (s *Store) RevokeAccess(ctx context.Context, key string, sctx types.SecretContext, granteeID string, perms []types.Action) (bool, error) {
	return s.mutateGrants(ctx, key, sctx, func(cfg *types.SecretConfig, _ time.Time) bool {
		idx := slices.IndexFunc(cfg.Permissions, func(p types.SecretPermission) bool {
			return p.EntityID == granteeID
		})
		if idx < 0 {
			return false
		}

		if len(perms) == 0 {
			cfg.Permissions = slices.Delete(cfg.Permissions, idx, idx+1)
			return true
		}

		p := &cfg.Permissions[idx]
		before := len(p.Permissions)
		p.Permissions = slices.DeleteFunc(p.Permissions, func(a types.Action) bool {
			return slices.Contains(perms, a)
		})
		if len(p.Permissions) == before {
			return false
		}
		if len(p.Permissions) == 0 {
			cfg.Permissions = slices.Delete(cfg.Permissions, idx, idx+1)
		}
		return true
	})
}

// mutateGrants loads key, applies fn to its metadata and re-persists the
// record with its value untouched. fn reports whether anything changed.
func (s *Store) mutateGrants(ctx context.Context, key string, sctx types.SecretContext, fn func(*types.SecretConfig, time.Time) bool) (bool, error) {
	if !scopeReady(sctx) {
		s.record(key, types.ActionShare, sctx, outcomeMissingScopeID, nil)
		return false, nil
	}
	if !s.authz.Allow(ctx, types.ActionShare, sctx) {
		s.deny(key, types.ActionShare, sctx)
		return false, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rec, recordID, err := s.load(ctx, key, sctx)
	if err != nil {
		s.record(key, types.ActionShare, sctx, outcomeError, err)
		return false, types.NewSecretError(key, sctx, err)
	}
	if rec == nil {
		s.record(key, types.ActionShare, sctx, outcomeNotFound, nil)
		return false, nil
	}

	now := s.clock.Now()
	if !fn(&rec.Config, now) {
		s.record(key, types.ActionShare, sctx, outcomeInvalid, nil)
		return false, nil
	}
	syncSharedWith(&rec.Config)
	rec.Config.UpdatedAt = now

	if err := s.put(ctx, *rec, sctx, recordID); err != nil {
		s.record(key, types.ActionShare, sctx, outcomeError, err)
		return false, types.NewSecretError(key, sctx, err)
	}
	s.record(key, types.ActionShare, sctx, outcomeOK, nil)
	return true, nil
}

// CheckAccess reports whether entityID holds an unexpired grant for perm on
// key. It returns false when the secret or its grant list is absent.
func (s *Store) CheckAccess(ctx context.Context, key string, sctx types.SecretContext, entityID string, perm types.Action) bool {
	if !scopeReady(sctx) {
		s.record(key, perm, sctx, outcomeMissingScopeID, nil)
		return false
	}

	rec, _, err := s.load(ctx, key, sctx)
	if err != nil {
		s.logger.Warn("access check failed", "key", key, "scope", sctx.String(), "error", err)
		s.recordCheck(key, perm, sctx, entityID, outcomeError)
		return false
	}
	if rec == nil {
		s.recordCheck(key, perm, sctx, entityID, outcomeNotFound)
		return false
	}

	now := s.clock.Now()
	for _, p := range rec.Config.Permissions {
		if p.EntityID == entityID && p.Allows(perm, now) {
			s.recordCheck(key, perm, sctx, entityID, outcomeOK)
			return true
		}
	}
	s.recordCheck(key, perm, sctx, entityID, outcomeDenied)
	return false
}

func (s *Store) recordCheck(key string, perm types.Action, sctx types.SecretContext, entityID, outcome string) {
	success := outcome == outcomeOK
	b := audit.NewEntry(key, perm, success).WithContext(sctx).WithAccessor(entityID).At(s.clock.Now())
	if !success {
		b.WithReason(outcome)
	}
	s.audit.Append(b.Build())
}
