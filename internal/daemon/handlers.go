package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joelhooks/scoped-secrets/internal/backend"
	"github.com/joelhooks/scoped-secrets/internal/form"
	"github.com/joelhooks/scoped-secrets/internal/store"
	"github.com/joelhooks/scoped-secrets/internal/tunnel"
	"github.com/joelhooks/scoped-secrets/internal/types"
)

// defaultAuditTail is used when secrets.audit asks for no specific count.
const defaultAuditTail = 100

// RoleInvalidator drops cached role lookups. *permission.Evaluator
// satisfies it.
type RoleInvalidator interface {
	Invalidate(worldID, requesterID string)
}

// Handler dispatches RPC requests to appropriate methods.
type Handler struct {
	store   *store.Store
	forms   *form.Manager
	tunnels *tunnel.Provider
	roles   backend.RoleStore
	cache   RoleInvalidator
	agentID string
	events  chan<- form.Submission
	logger  *slog.Logger
}

// HandlerDeps are the collaborators a Handler dispatches to.
type HandlerDeps struct {
	Store   *store.Store
	Forms   *form.Manager
	Tunnels *tunnel.Provider
	Roles   backend.RoleStore
	Cache   RoleInvalidator
	AgentID string
	// Events receives accepted form submissions. Optional.
	Events chan<- form.Submission
	Logger *slog.Logger
}

// NewHandler creates a new RPC handler with all required dependencies.
func NewHandler(deps HandlerDeps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:   deps.Store,
		forms:   deps.Forms,
		tunnels: deps.Tunnels,
		roles:   deps.Roles,
		cache:   deps.Cache,
		agentID: deps.AgentID,
		events:  deps.Events,
		logger:  logger,
	}
}

// HandleRequest dispatches an RPC request to the appropriate handler method.
func (h *Handler) HandleRequest(ctx context.Context, req *types.RPCRequest) *types.RPCResponse {
	resp := &types.RPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
	}

	var (
		result interface{}
		err    error
	)

	switch req.Method {
	case MethodGet:
		result, err = h.handleGet(ctx, req.Params)
	case MethodSet:
		result, err = h.handleSet(ctx, req.Params)
	case MethodList:
		result, err = h.handleList(ctx, req.Params)
	case MethodDelete:
		result, err = h.handleDelete(ctx, req.Params)
	case MethodGrant:
		result, err = h.handleGrant(ctx, req.Params)
	case MethodRevoke:
		result, err = h.handleRevoke(ctx, req.Params)
	case MethodCheck:
		result, err = h.handleCheck(ctx, req.Params)
	case MethodAudit:
		result, err = h.handleAudit(req.Params)
	case MethodStatus:
		result, err = h.handleStatus(ctx)
	case MethodFormCreate:
		result, err = h.handleFormCreate(ctx, req.Params)
	case MethodFormGet:
		result, err = h.handleFormGet(req.Params)
	case MethodFormClose:
		result, err = h.handleFormClose(req.Params)
	case MethodFormList:
		result = &FormListResult{Sessions: h.forms.ListSessions()}
	case MethodFormExtend:
		result, err = h.handleFormExtend(req.Params)
	case MethodSetRole:
		result, err = h.handleSetRole(ctx, req.Params)
	default:
		resp.Error = &types.RPCError{
			Code:    types.RPCMethodNotFound,
			Message: fmt.Sprintf("method %q not found", req.Method),
		}
		return resp
	}

	var ip *invalidParams
	switch {
	case errors.As(err, &ip):
		resp.Error = &types.RPCError{Code: types.RPCInvalidParams, Message: ip.msg}
	case err != nil:
		resp.Error = types.RPCErrorFromError(err)
	default:
		resp.Result = result
	}
	return resp
}

// invalidParams marks an error as a JSON-RPC invalid params error.
type invalidParams struct {
	msg string
}

func (e *invalidParams) Error() string { return e.msg }

func errInvalidParams(format string, args ...interface{}) error {
	return &invalidParams{msg: fmt.Sprintf(format, args...)}
}

// scoped normalizes a caller-supplied context: the agent id is always
// the daemon's own, and an empty scope means global.
func (h *Handler) scoped(sctx types.SecretContext) (types.SecretContext, error) {
	if sctx.Scope == "" {
		sctx.Scope = types.ScopeGlobal
	}
	if !sctx.Scope.Valid() {
		return sctx, fmt.Errorf("%w: %q", types.ErrInvalidScope, sctx.Scope)
	}
	sctx.AgentID = h.agentID
	return sctx, nil
}

// handleGet returns a secret's plaintext value.
func (h *Handler) handleGet(ctx context.Context, params interface{}) (*GetResult, error) {
	var p GetParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, errInvalidParams("invalid parameters: %v", err)
	}
	if p.Key == "" {
		return nil, errInvalidParams("key is required")
	}
	sctx, err := h.scoped(p.Context)
	if err != nil {
		return nil, err
	}

	value, ok, err := h.store.Get(ctx, p.Key, sctx)
	if err != nil {
		return nil, err
	}
	return &GetResult{Key: p.Key, Value: value, Found: ok}, nil
}

// handleSet stores a secret.
func (h *Handler) handleSet(ctx context.Context, params interface{}) (*SetResult, error) {
	var p SetParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, errInvalidParams("invalid parameters: %v", err)
	}
	if p.Key == "" {
		return nil, errInvalidParams("key is required")
	}
	if p.Value == "" {
		return nil, errInvalidParams("value is required")
	}
	sctx, err := h.scoped(p.Context)
	if err != nil {
		return nil, err
	}

	ok, err := h.store.Set(ctx, p.Key, p.Value, sctx, p.Config)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &SetResult{Success: false, Message: fmt.Sprintf("secret %q was not stored (denied, invalid or incomplete context)", p.Key)}, nil
	}
	return &SetResult{Success: true, Message: fmt.Sprintf("secret %q stored in %s", p.Key, sctx)}, nil
}

// handleList returns metadata for the scope's secrets.
func (h *Handler) handleList(ctx context.Context, params interface{}) (*ListResult, error) {
	var p ListParams
	if params != nil {
		if err := unmarshalParams(params, &p); err != nil {
			return nil, errInvalidParams("invalid parameters: %v", err)
		}
	}
	sctx, err := h.scoped(p.Context)
	if err != nil {
		return nil, err
	}

	secrets, err := h.store.List(ctx, sctx)
	if err != nil {
		return nil, err
	}
	return &ListResult{Secrets: secrets}, nil
}

// handleDelete removes a secret.
func (h *Handler) handleDelete(ctx context.Context, params interface{}) (*DeleteResult, error) {
	var p DeleteParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, errInvalidParams("invalid parameters: %v", err)
	}
	if p.Key == "" {
		return nil, errInvalidParams("key is required")
	}
	sctx, err := h.scoped(p.Context)
	if err != nil {
		return nil, err
	}

	ok, err := h.store.Delete(ctx, p.Key, sctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &DeleteResult{Success: false, Message: fmt.Sprintf("secret %q not deleted (absent or denied)", p.Key)}, nil
	}
	return &DeleteResult{Success: true, Message: fmt.Sprintf("secret %q deleted successfully", p.Key)}, nil
}

// handleGrant shares a secret with another entity.
func (h *Handler) handleGrant(ctx context.Context, params interface{}) (*GrantResult, error) {
	var p GrantParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, errInvalidParams("invalid parameters: %v", err)
	}
	if p.Key == "" || p.EntityID == "" {
		return nil, errInvalidParams("key and entity_id are required")
	}
	if len(p.Permissions) == 0 {
		return nil, errInvalidParams("at least one permission is required")
	}

	var ttl time.Duration
	if p.TTL != "" {
		var err error
		ttl, err = time.ParseDuration(p.TTL)
		if err != nil {
			return nil, errInvalidParams("invalid ttl duration: %v", err)
		}
	}
	sctx, err := h.scoped(p.Context)
	if err != nil {
		return nil, err
	}

	ok, err := h.store.GrantAccess(ctx, p.Key, sctx, p.EntityID, p.Permissions, ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &GrantResult{Success: false, Message: "grant not applied (absent secret or share denied)"}, nil
	}
	return &GrantResult{Success: true, Message: fmt.Sprintf("granted %v on %q to %s", p.Permissions, p.Key, p.EntityID)}, nil
}

// handleRevoke withdraws a grant.
func (h *Handler) handleRevoke(ctx context.Context, params interface{}) (*GrantResult, error) {
	var p RevokeParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, errInvalidParams("invalid parameters: %v", err)
	}
	if p.Key == "" || p.EntityID == "" {
		return nil, errInvalidParams("key and entity_id are required")
	}
	sctx, err := h.scoped(p.Context)
	if err != nil {
		return nil, err
	}

	ok, err := h.store.RevokeAccess(ctx, p.Key, sctx, p.EntityID, p.Permissions)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &GrantResult{Success: false, Message: "nothing revoked"}, nil
	}
	return &GrantResult{Success: true, Message: fmt.Sprintf("revoked access on %q from %s", p.Key, p.EntityID)}, nil
}

// handleCheck reports whether an entity holds a grant.
func (h *Handler) handleCheck(ctx context.Context, params interface{}) (*CheckResult, error) {
	var p CheckParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, errInvalidParams("invalid parameters: %v", err)
	}
	if p.Key == "" || p.EntityID == "" || p.Permission == "" {
		return nil, errInvalidParams("key, entity_id and permission are required")
	}
	sctx, err := h.scoped(p.Context)
	if err != nil {
		return nil, err
	}
	return &CheckResult{Allowed: h.store.CheckAccess(ctx, p.Key, sctx, p.EntityID, p.Permission)}, nil
}

// handleAudit returns access log entries.
func (h *Handler) handleAudit(params interface{}) (*AuditResult, error) {
	var p AuditParams
	if params != nil {
		if err := unmarshalParams(params, &p); err != nil {
			return nil, errInvalidParams("invalid parameters: %v", err)
		}
	}

	if p.Key != "" {
		var filter *types.SecretContext
		if p.Context != nil {
			sctx, err := h.scoped(*p.Context)
			if err != nil {
				return nil, err
			}
			filter = &sctx
		}
		return &AuditResult{Entries: h.store.GetAccessLogs(p.Key, filter)}, nil
	}

	if p.Tail <= 0 {
		p.Tail = defaultAuditTail
	}
	return &AuditResult{Entries: h.store.AuditLog().Tail(p.Tail)}, nil
}

// handleStatus returns the current daemon status.
func (h *Handler) handleStatus(ctx context.Context) (*types.DaemonStatus, error) {
	global, err := h.store.Count(ctx, types.SecretContext{Scope: types.ScopeGlobal, AgentID: h.agentID})
	if err != nil {
		return nil, fmt.Errorf("failed to count global secrets: %w", err)
	}

	// Note: StartedAt and Running will be populated by the daemon itself
	return &types.DaemonStatus{
		Running:        true,
		AgentID:        h.agentID,
		GlobalSecrets:  global,
		ActiveSessions: h.forms.ActiveCount(),
		ActiveTunnels:  len(h.tunnels.GetActiveTunnels()),
		AuditEntries:   h.store.AuditLog().Len(),
		Encryption:     h.store.EncryptionAvailable(),
	}, nil
}

// handleFormCreate opens a form session.
func (h *Handler) handleFormCreate(ctx context.Context, params interface{}) (*form.Created, error) {
	var p FormCreateParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, errInvalidParams("invalid parameters: %v", err)
	}

	var expiresIn time.Duration
	if p.ExpiresIn != "" {
		var err error
		expiresIn, err = time.ParseDuration(p.ExpiresIn)
		if err != nil {
			return nil, errInvalidParams("invalid expires_in duration: %v", err)
		}
	}
	sctx, err := h.scoped(p.Context)
	if err != nil {
		return nil, err
	}

	req := form.Request{
		Title:          p.Title,
		Description:    p.Description,
		Secrets:        p.Secrets,
		Mode:           p.Mode,
		ExpiresIn:      expiresIn,
		MaxSubmissions: p.MaxSubmissions,
		SubmitLabel:    p.SubmitLabel,
		SuccessMessage: p.SuccessMessage,
	}

	// The session outlives this request.
	return h.forms.CreateSecretForm(context.WithoutCancel(ctx), req, sctx, h.events)
}

// handleFormGet returns a session snapshot.
func (h *Handler) handleFormGet(params interface{}) (*form.Session, error) {
	var p SessionParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, errInvalidParams("invalid parameters: %v", err)
	}
	sess, ok := h.forms.GetSession(p.SessionID)
	if !ok {
		return nil, types.NewSessionError(p.SessionID, types.ErrSessionNotFound)
	}
	return sess, nil
}

// handleFormClose closes a session.
func (h *Handler) handleFormClose(params interface{}) (*FormCloseResult, error) {
	var p SessionParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, errInvalidParams("invalid parameters: %v", err)
	}
	if p.SessionID == "" {
		return nil, errInvalidParams("session_id is required")
	}
	if err := h.forms.CloseSession(p.SessionID); err != nil {
		return nil, err
	}
	return &FormCloseResult{Success: true, Message: fmt.Sprintf("form session %q closed", p.SessionID)}, nil
}

// handleFormExtend pushes a session's deadline.
func (h *Handler) handleFormExtend(params interface{}) (*form.Session, error) {
	var p FormExtendParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, errInvalidParams("invalid parameters: %v", err)
	}
	extra, err := time.ParseDuration(p.Extra)
	if err != nil || extra <= 0 {
		return nil, errInvalidParams("extra must be a positive duration")
	}
	return h.forms.ExtendSession(p.SessionID, extra)
}

// handleSetRole records a world membership.
func (h *Handler) handleSetRole(ctx context.Context, params interface{}) (*SetRoleResult, error) {
	var p SetRoleParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, errInvalidParams("invalid parameters: %v", err)
	}
	if p.WorldID == "" || p.EntityID == "" {
		return nil, errInvalidParams("world_id and entity_id are required")
	}
	switch p.Role {
	case types.RoleNone, types.RoleMember, types.RoleAdmin, types.RoleOwner:
	default:
		return nil, errInvalidParams("unknown role %q", p.Role)
	}

	if err := h.roles.SetWorldRole(ctx, p.WorldID, p.EntityID, p.Role); err != nil {
		return nil, err
	}
	if h.cache != nil {
		h.cache.Invalidate(p.WorldID, p.EntityID)
	}
	h.logger.Info("world role set", "world", p.WorldID, "entity", p.EntityID, "role", p.Role)
	return &SetRoleResult{Success: true}, nil
}

// consumeEvents logs accepted form submissions until events is closed.
func consumeEvents(events <-chan form.Submission, logger *slog.Logger) {
	for sub := range events {
		logger.Info("form submission received",
			"session", sub.SessionID, "form", sub.FormID, "keys", sub.Keys,
			"scope", sub.Context.String(), "remote", sub.RemoteAddr)
	}
}

// unmarshalParams is a helper to unmarshal interface{} params to a specific type.
func unmarshalParams(params interface{}, target interface{}) error {
	if params == nil {
		return fmt.Errorf("parameters are required")
	}

	// Convert to JSON and back (handles map[string]interface{} from JSON decoder)
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to unmarshal params: %w", err)
	}

	return nil
}
