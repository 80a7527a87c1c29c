// Package output provides HATEOAS-style responses for the secrets CLI.
// By default, all output is JSON for agent consumption.
// Use --output table for human-readable output.
package output

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joelhooks/scoped-secrets/internal/types"
)

// Action represents a possible next action (HATEOAS-style)
type Action struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Command     string `json:"command"`
	Dangerous   bool   `json:"dangerous,omitempty"`
}

// Response is the standard CLI response format
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    int         `json:"code,omitempty"`
	Actions []Action    `json:"actions,omitempty"`

	// Raw is what raw mode prints instead of Data, e.g. a bare secret value.
	Raw string `json:"-"`
}

// Mode is the output mode selected on the command line. Empty auto-detects.
var Mode OutputMode

// Stdout is where Print writes.
var Stdout io.Writer = os.Stdout

// Version info (set by ldflags)
var (
	Version = "dev"
	Commit  = "unknown"
)

// Print outputs the response in the selected mode.
func Print(r Response) {
	if err := GetFormatter(Mode).Format(Stdout, r); err != nil {
		fmt.Fprintf(os.Stderr, "output: %v\n", err)
	}
}

// Success creates a successful response
func Success(message string, data interface{}, actions ...Action) Response {
	return Response{
		Success: true,
		Message: message,
		Data:    data,
		Actions: actions,
	}
}

// Error creates an error response. Daemon RPC errors keep their code.
func Error(err error, actions ...Action) Response {
	r := Response{
		Success: false,
		Error:   err.Error(),
		Actions: actions,
	}
	var rpcErr *types.RPCError
	if errors.As(err, &rpcErr) {
		r.Code = rpcErr.Code
		r.Error = rpcErr.Message
	}
	return r
}

// ErrorMsg creates an error response from a string
func ErrorMsg(msg string, actions ...Action) Response {
	return Response{
		Success: false,
		Error:   msg,
		Actions: actions,
	}
}

// scopeFlags renders the CLI flags selecting sctx's scope.
func scopeFlags(sctx types.SecretContext) string {
	switch sctx.Scope {
	case types.ScopeWorld:
		return " --world " + sctx.WorldID
	case types.ScopeUser:
		return " --user " + sctx.UserID
	}
	return ""
}

// Common action builders
func ActionServe() Action {
	return Action{
		Name:        "serve",
		Description: "Start the secrets daemon",
		Command:     "secrets serve",
	}
}

func ActionSet(key string, sctx types.SecretContext) Action {
	cmd := "secrets set <key>"
	if key != "" {
		cmd = "secrets set " + key
	}
	return Action{
		Name:        "set",
		Description: "Store a secret (value is read from stdin or prompted)",
		Command:     cmd + scopeFlags(sctx),
	}
}

func ActionGet(key string, sctx types.SecretContext) Action {
	return Action{
		Name:        "get",
		Description: fmt.Sprintf("Read %s", key),
		Command:     fmt.Sprintf("secrets get %s%s", key, scopeFlags(sctx)),
	}
}

func ActionList(sctx types.SecretContext) Action {
	return Action{
		Name:        "list",
		Description: "List secrets in this scope",
		Command:     "secrets list" + scopeFlags(sctx),
	}
}

func ActionDelete(key string, sctx types.SecretContext) Action {
	return Action{
		Name:        "delete",
		Description: fmt.Sprintf("Delete %s", key),
		Command:     fmt.Sprintf("secrets delete %s%s", key, scopeFlags(sctx)),
		Dangerous:   true,
	}
}

func ActionGrant(key string, sctx types.SecretContext) Action {
	return Action{
		Name:        "grant",
		Description: fmt.Sprintf("Share %s with another entity", key),
		Command:     fmt.Sprintf("secrets grant %s <entity> --perm read%s", key, scopeFlags(sctx)),
	}
}

func ActionRevoke(key, entity string, sctx types.SecretContext) Action {
	return Action{
		Name:        "revoke",
		Description: fmt.Sprintf("Withdraw %s's access to %s", entity, key),
		Command:     fmt.Sprintf("secrets revoke %s %s%s", key, entity, scopeFlags(sctx)),
	}
}

func ActionStatus() Action {
	return Action{
		Name:        "status",
		Description: "Check daemon status",
		Command:     "secrets status",
	}
}

func ActionAudit(key string) Action {
	if key == "" {
		return Action{
			Name:        "audit",
			Description: "View the access log",
			Command:     "secrets audit",
		}
	}
	return Action{
		Name:        "audit_key",
		Description: fmt.Sprintf("View access log entries for %s", key),
		Command:     "secrets audit --key " + key,
	}
}

func ActionAuditTail(n int) Action {
	return Action{
		Name:        "audit_tail",
		Description: fmt.Sprintf("View last %d audit entries", n),
		Command:     fmt.Sprintf("secrets audit --tail %d", n),
	}
}

func ActionFormCreate(key string) Action {
	cmd := "secrets form create <key>"
	if key != "" {
		cmd = "secrets form create " + key
	}
	return Action{
		Name:        "form_create",
		Description: "Collect a secret from a human through a one-off web form",
		Command:     cmd,
	}
}

func ActionFormStatus(id string) Action {
	return Action{
		Name:        "form_status",
		Description: "Check whether the form was submitted",
		Command:     "secrets form status " + id,
	}
}

func ActionFormExtend(id string) Action {
	return Action{
		Name:        "form_extend",
		Description: "Keep the form open longer",
		Command:     fmt.Sprintf("secrets form extend %s --by 10m", id),
	}
}

func ActionFormClose(id string) Action {
	return Action{
		Name:        "form_close",
		Description: "Close the form and its tunnel",
		Command:     "secrets form close " + id,
		Dangerous:   true,
	}
}

func ActionSetRole(world string) Action {
	return Action{
		Name:        "role",
		Description: fmt.Sprintf("Give an entity a role in world %s", world),
		Command:     fmt.Sprintf("secrets role %s <entity> MEMBER", world),
	}
}

func ActionHelp(cmd string) Action {
	return Action{
		Name:        "help",
		Description: fmt.Sprintf("Get help for %s", cmd),
		Command:     fmt.Sprintf("secrets %s --help", cmd),
	}
}

// ActionsForSecrets returns a get action per key
func ActionsForSecrets(keys []string, sctx types.SecretContext) []Action {
	actions := make([]Action, 0, len(keys))
	for _, key := range keys {
		actions = append(actions, ActionGet(key, sctx))
	}
	return actions
}

// ActionsWhenDaemonDown returns actions when the daemon is unreachable
func ActionsWhenDaemonDown() []Action {
	return []Action{
		ActionServe(),
		ActionHelp("serve"),
	}
}

// ActionsAfterSet returns suggested actions after storing a secret
func ActionsAfterSet(key string, sctx types.SecretContext) []Action {
	return []Action{
		ActionGet(key, sctx),
		ActionGrant(key, sctx),
		ActionList(sctx),
	}
}

// ActionsWhenEmpty returns actions when a scope holds no secrets
func ActionsWhenEmpty(sctx types.SecretContext) []Action {
	return []Action{
		ActionSet("", sctx),
		ActionFormCreate(""),
	}
}

// ActionsWhenDenied returns actions after a read or write was refused
func ActionsWhenDenied(sctx types.SecretContext) []Action {
	actions := []Action{ActionAudit("")}
	if sctx.Scope == types.ScopeWorld {
		actions = append([]Action{ActionSetRole(sctx.WorldID)}, actions...)
	}
	return actions
}

// ActionsAfterFormCreate returns suggested actions once a form is open
func ActionsAfterFormCreate(id string) []Action {
	return []Action{
		ActionFormStatus(id),
		ActionFormExtend(id),
		ActionFormClose(id),
	}
}

// BuildEnvExport formats a secret for shell export
func BuildEnvExport(varName, value string) string {
	// Escape single quotes in value
	escaped := strings.ReplaceAll(value, "'", "'\\''")
	return fmt.Sprintf("export %s='%s'", varName, escaped)
}
