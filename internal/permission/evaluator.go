// Package permission decides whether a requester may act on a scope.
//
// The rule table:
//
//	scope  | read                     | write / delete / share
//	global | always                   | requester is the agent
//	world  | requester has any role   | requester is OWNER or ADMIN
//	user   | requester is the user    | requester is the user
package permission

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/joelhooks/scoped-secrets/internal/types"
)

// roleCacheSize bounds the number of cached (world, requester) roles.
const roleCacheSize = 1024

// RoleLookup resolves a requester's role within a world.
type RoleLookup interface {
	WorldRole(ctx context.Context, worldID, requesterID string) (types.Role, error)
}

// Evaluator applies the scope rule table. World roles are fetched through
// RoleLookup and optionally cached for a short TTL.
type Evaluator struct {
	roles  RoleLookup
	cache  *expirable.LRU[string, types.Role]
	logger *slog.Logger
}

// New creates an Evaluator. A zero cacheTTL disables role caching.
// roles may be nil, in which case every world check is denied.
func New(roles RoleLookup, cacheTTL time.Duration, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Evaluator{roles: roles, logger: logger}
	if cacheTTL > 0 {
		e.cache = expirable.NewLRU[string, types.Role](roleCacheSize, nil, cacheTTL)
	}
	return e
}

// Allow reports whether sctx's requester may perform action in sctx's scope.
// It never returns an error: lookup failures deny.
func (e *Evaluator) Allow(ctx context.Context, action types.Action, sctx types.SecretContext) bool {
	requester := sctx.Requester()

	switch sctx.Scope {
	case types.ScopeGlobal:
		if action == types.ActionRead {
			return true
		}
		return requester != "" && requester == sctx.AgentID

	case types.ScopeWorld:
		if sctx.WorldID == "" || requester == "" {
			return false
		}
		role := e.worldRole(ctx, sctx.WorldID, requester)
		if action == types.ActionRead {
			return role != types.RoleNone && role != ""
		}
		return role == types.RoleOwner || role == types.RoleAdmin

	case types.ScopeUser:
		return sctx.UserID != "" && requester == sctx.UserID
	}

	return false
}

// Invalidate drops a cached role, e.g. after a membership change.
func (e *Evaluator) Invalidate(worldID, requesterID string) {
	if e.cache != nil {
		e.cache.Remove(cacheKey(worldID, requesterID))
	}
}

func (e *Evaluator) worldRole(ctx context.Context, worldID, requesterID string) types.Role {
	key := cacheKey(worldID, requesterID)
	if e.cache != nil {
		if role, ok := e.cache.Get(key); ok {
			return role
		}
	}

	if e.roles == nil {
		return types.RoleNone
	}

	role, err := e.roles.WorldRole(ctx, worldID, requesterID)
	if err != nil {
		e.logger.Warn("role lookup failed, denying",
			"world", worldID, "requester", requesterID, "error", err)
		return types.RoleNone
	}

	if e.cache != nil {
		e.cache.Add(key, role)
	}
	return role
}

func cacheKey(worldID, requesterID string) string {
	return worldID + "\x00" + requesterID
}
