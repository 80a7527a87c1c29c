// Package daemon implements a JSON-RPC daemon over Unix sockets.
package daemon

import (
	"github.com/joelhooks/scoped-secrets/internal/form"
	"github.com/joelhooks/scoped-secrets/internal/types"
)

// JSON-RPC method names
const (
	MethodGet    = "secrets.get"
	MethodSet    = "secrets.set"
	MethodList   = "secrets.list"
	MethodDelete = "secrets.delete"
	MethodGrant  = "secrets.grant"
	MethodRevoke = "secrets.revoke"
	MethodCheck  = "secrets.check"
	MethodAudit  = "secrets.audit"
	MethodStatus = "secrets.status"

	MethodFormCreate = "forms.create"
	MethodFormGet    = "forms.get"
	MethodFormClose  = "forms.close"
	MethodFormList   = "forms.list"
	MethodFormExtend = "forms.extend"

	MethodSetRole = "worlds.setRole"
)

// Every secrets.* call carries a SecretContext. The daemon always replaces
// its agent_id with its own, and an empty scope means global.

// GetParams are parameters for secrets.get
type GetParams struct {
	Key     string              `json:"key"`
	Context types.SecretContext `json:"context"`
}

// GetResult is the result of secrets.get. Found is false when the secret
// is absent or the requester may not read it.
type GetResult struct {
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
	Found bool   `json:"found"`
}

// SetParams are parameters for secrets.set
type SetParams struct {
	Key     string              `json:"key"`
	Value   string              `json:"value"`
	Context types.SecretContext `json:"context"`
	Config  *types.ConfigPatch  `json:"config,omitempty"`
}

// SetResult is the result of secrets.set
type SetResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ListParams are parameters for secrets.list
type ListParams struct {
	Context types.SecretContext `json:"context"`
}

// ListResult is the result of secrets.list. Values are never included.
type ListResult struct {
	Secrets map[string]types.SecretConfig `json:"secrets"`
}

// DeleteParams are parameters for secrets.delete
type DeleteParams struct {
	Key     string              `json:"key"`
	Context types.SecretContext `json:"context"`
}

// DeleteResult is the result of secrets.delete
type DeleteResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// GrantParams are parameters for secrets.grant
type GrantParams struct {
	Key         string              `json:"key"`
	Context     types.SecretContext `json:"context"`
	EntityID    string              `json:"entity_id"`
	Permissions []types.Action      `json:"permissions"`
	TTL         string              `json:"ttl,omitempty"` // Duration string like "1h", "30m"
}

// RevokeParams are parameters for secrets.revoke. Empty Permissions
// removes the whole grant.
type RevokeParams struct {
	Key         string              `json:"key"`
	Context     types.SecretContext `json:"context"`
	EntityID    string              `json:"entity_id"`
	Permissions []types.Action      `json:"permissions,omitempty"`
}

// GrantResult is the result of secrets.grant and secrets.revoke
type GrantResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// CheckParams are parameters for secrets.check
type CheckParams struct {
	Key        string              `json:"key"`
	Context    types.SecretContext `json:"context"`
	EntityID   string              `json:"entity_id"`
	Permission types.Action        `json:"permission"`
}

// CheckResult is the result of secrets.check
type CheckResult struct {
	Allowed bool `json:"allowed"`
}

// AuditParams are parameters for secrets.audit. With Key set, entries for
// that key are returned, optionally filtered by Context; otherwise the
// last Tail entries.
type AuditParams struct {
	Key     string               `json:"key,omitempty"`
	Context *types.SecretContext `json:"context,omitempty"`
	Tail    int                  `json:"tail"` // Number of recent entries to return (0 = 100)
}

// AuditResult is the result of secrets.audit
type AuditResult struct {
	Entries []types.AccessLogEntry `json:"entries"`
}

// FormCreateParams are parameters for forms.create
type FormCreateParams struct {
	Title          string               `json:"title,omitempty"`
	Description    string               `json:"description,omitempty"`
	Secrets        []form.SecretRequest `json:"secrets"`
	Mode           form.Mode            `json:"mode,omitempty"`
	ExpiresIn      string               `json:"expires_in,omitempty"` // Duration string like "30m"
	MaxSubmissions int                  `json:"max_submissions,omitempty"`
	SubmitLabel    string               `json:"submit_label,omitempty"`
	SuccessMessage string               `json:"success_message,omitempty"`
	Context        types.SecretContext  `json:"context"`
}

// SessionParams are parameters for forms.get and forms.close
type SessionParams struct {
	SessionID string `json:"session_id"`
}

// FormExtendParams are parameters for forms.extend
type FormExtendParams struct {
	SessionID string `json:"session_id"`
	Extra     string `json:"extra"` // Duration string like "10m"
}

// FormCloseResult is the result of forms.close
type FormCloseResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// FormListResult is the result of forms.list
type FormListResult struct {
	Sessions []form.Session `json:"sessions"`
}

// SetRoleParams are parameters for worlds.setRole. Role NONE removes the
// membership.
type SetRoleParams struct {
	WorldID  string     `json:"world_id"`
	EntityID string     `json:"entity_id"`
	Role     types.Role `json:"role"`
}

// SetRoleResult is the result of worlds.setRole
type SetRoleResult struct {
	Success bool `json:"success"`
}

// StatusResult is the result of secrets.status (uses types.DaemonStatus)
