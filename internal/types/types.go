// Package types defines shared types for the scoped secrets daemon.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Scope partitions secret storage.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeWorld  Scope = "world"
	ScopeUser   Scope = "user"
)

// Valid reports whether s is one of the known scopes.
func (s Scope) Valid() bool {
	switch s {
	case ScopeGlobal, ScopeWorld, ScopeUser:
		return true
	}
	return false
}

// SecretKind describes what a secret value is.
type SecretKind string

const (
	KindAPIKey     SecretKind = "api_key"
	KindPrivateKey SecretKind = "private_key"
	KindPublicKey  SecretKind = "public_key"
	KindURL        SecretKind = "url"
	KindCredential SecretKind = "credential"
	KindConfig     SecretKind = "config"
	KindSecret     SecretKind = "secret"
)

// SecretStatus tracks the validation lifecycle of a stored secret.
type SecretStatus string

const (
	StatusMissing    SecretStatus = "missing"
	StatusGenerating SecretStatus = "generating"
	StatusValidating SecretStatus = "validating"
	StatusInvalid    SecretStatus = "invalid"
	StatusValid      SecretStatus = "valid"
)

// Action represents the type of access being attempted or audited.
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
	ActionShare  Action = "share"
)

// Role is a requester's standing within a world.
type Role string

const (
	RoleNone   Role = "NONE"
	RoleMember Role = "MEMBER"
	RoleAdmin  Role = "ADMIN"
	RoleOwner  Role = "OWNER"
)

// SecretContext is the caller's request frame. All permission decisions
// are pure functions of this struct plus the target record.
type SecretContext struct {
	Scope       Scope  `json:"scope"`
	WorldID     string `json:"world_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	AgentID     string `json:"agent_id"`
	RequesterID string `json:"requester_id,omitempty"`
}

// Requester returns the identity actually asking. An empty RequesterID
// means the agent is acting on its own behalf.
func (c SecretContext) Requester() string {
	if c.RequesterID != "" {
		return c.RequesterID
	}
	return c.AgentID
}

// OwnerID returns the identifier that owns the scope instance, or "" for
// the global scope.
func (c SecretContext) OwnerID() string {
	switch c.Scope {
	case ScopeWorld:
		return c.WorldID
	case ScopeUser:
		return c.UserID
	}
	return ""
}

// String renders the context for logs, e.g. "world:abc".
func (c SecretContext) String() string {
	if id := c.OwnerID(); id != "" {
		return fmt.Sprintf("%s:%s", c.Scope, id)
	}
	return string(c.Scope)
}

// EncryptedPayload is the stored form of an encrypted secret value.
type EncryptedPayload struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	AuthTag    string `json:"authTag"`
	Algorithm  string `json:"algorithm"`
	KeyID      string `json:"keyId"`
}

// SecretValue is either a bare plaintext string or an EncryptedPayload.
// Records written before encryption existed hold a bare JSON string.
type SecretValue struct {
	Plain     string
	Encrypted *EncryptedPayload
}

// PlainValue wraps a plaintext value.
func PlainValue(s string) SecretValue { return SecretValue{Plain: s} }

// IsEncrypted reports whether the value holds an encrypted payload.
func (v SecretValue) IsEncrypted() bool { return v.Encrypted != nil }

// MarshalJSON encodes plaintext as a JSON string and payloads as objects.
func (v SecretValue) MarshalJSON() ([]byte, error) {
	if v.Encrypted != nil {
		return json.Marshal(v.Encrypted)
	}
	return json.Marshal(v.Plain)
}

// UnmarshalJSON accepts either a JSON string or an encrypted payload object.
func (v *SecretValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = SecretValue{Plain: s}
		return nil
	}
	var p EncryptedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("%w: secret value is neither string nor payload: %v", ErrStoreCorrupted, err)
	}
	*v = SecretValue{Encrypted: &p}
	return nil
}

// SecretPermission is one grant on a secret.
type SecretPermission struct {
	EntityID    string     `json:"entityId"`
	Permissions []Action   `json:"permissions"`
	GrantedBy   string     `json:"grantedBy"`
	GrantedAt   time.Time  `json:"grantedAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// Allows reports whether the grant includes action and is unexpired at now.
func (p SecretPermission) Allows(action Action, now time.Time) bool {
	if p.ExpiresAt != nil && !now.Before(*p.ExpiresAt) {
		return false
	}
	for _, a := range p.Permissions {
		if a == action {
			return true
		}
	}
	return false
}

// SecretConfig is the descriptive metadata of a stored secret. It never
// carries the value, so it is safe to return from listings.
type SecretConfig struct {
	Kind        SecretKind         `json:"type"`
	Scope       Scope              `json:"scope"`
	OwnerID     string             `json:"ownerId,omitempty"`
	WorldID     string             `json:"worldId,omitempty"`
	Description string             `json:"description,omitempty"`
	Required    bool               `json:"required"`
	Encrypted   bool               `json:"encrypted"`
	Permissions []SecretPermission `json:"permissions,omitempty"`
	SharedWith  []string           `json:"sharedWith,omitempty"`
	Status      SecretStatus       `json:"status"`
	Attempts    int                `json:"attempts"`
	LastError   string             `json:"lastError,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
	ValidatedAt *time.Time         `json:"validatedAt,omitempty"`
}

// SecretRecord is one stored secret: metadata plus its value.
type SecretRecord struct {
	Key    string       `json:"key"`
	Value  SecretValue  `json:"value"`
	Config SecretConfig `json:"config"`
}

// ConfigPatch is a partial SecretConfig supplied to set. Nil fields and
// empty strings leave the current value in place.
type ConfigPatch struct {
	Kind        SecretKind         `json:"type,omitempty"`
	Description string             `json:"description,omitempty"`
	Required    *bool              `json:"required,omitempty"`
	Encrypted   *bool              `json:"encrypted,omitempty"`
	Permissions []SecretPermission `json:"permissions,omitempty"`
	Status      SecretStatus       `json:"status,omitempty"`
}

// AccessLogEntry records one attempted access.
type AccessLogEntry struct {
	SecretKey  string        `json:"secretKey"`
	AccessedBy string        `json:"accessedBy"`
	Action     Action        `json:"action"`
	Timestamp  time.Time     `json:"timestamp"`
	Context    SecretContext `json:"context"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
}

// DaemonStatus represents the current state of the daemon.
type DaemonStatus struct {
	Running        bool      `json:"running"`
	StartedAt      time.Time `json:"started_at"`
	AgentID        string    `json:"agent_id"`
	GlobalSecrets  int       `json:"global_secrets"`
	ActiveSessions int       `json:"active_sessions"`
	ActiveTunnels  int       `json:"active_tunnels"`
	AuditEntries   int       `json:"audit_entries"`
	Encryption     bool      `json:"encryption"`
}

// RPCRequest represents a JSON-RPC 2.0 request.
type RPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      interface{} `json:"id"`
}

// RPCResponse represents a JSON-RPC 2.0 response.
type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes.
const (
	RPCParseError     = -32700
	RPCInvalidRequest = -32600
	RPCMethodNotFound = -32601
	RPCInvalidParams  = -32602
	RPCInternalError  = -32603
)

// Application-specific error codes (starting at -32000).
const (
	RPCSessionNotFound  = -32000
	RPCSessionNotActive = -32001
	RPCTunnelFailed     = -32002
	RPCEncryptionError  = -32004
	RPCDecryptionError  = -32005
	RPCUnauthorized     = -32006
)
