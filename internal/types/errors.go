// Package types defines shared types for the scoped secrets daemon.
package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for the scoped secrets system.
var (
	// Store errors
	ErrStoreNotInitialized = errors.New("store not initialized")
	ErrStoreCorrupted      = errors.New("store data corrupted")
	ErrMissingScopeID      = errors.New("scope requires an owning identifier")
	ErrInvalidScope        = errors.New("invalid scope")

	// Encryption errors
	ErrEncryptionFailed      = errors.New("encryption failed")
	ErrDecryptionFailed      = errors.New("decryption failed")
	ErrEncryptionUnavailable = errors.New("encryption unavailable: no salt configured")
	ErrUnknownAlgorithm      = errors.New("unknown encryption algorithm")
	ErrInvalidIdentity       = errors.New("invalid age identity")
	ErrIdentityNotFound      = errors.New("identity file not found")

	// Form session errors
	ErrSessionNotFound  = errors.New("form session not found")
	ErrSessionNotActive = errors.New("form session is not active")
	ErrPortsExhausted   = errors.New("no free port in form port range")
	ErrPersistRejected  = errors.New("secret store rejected the submitted value")
	ErrInvalidPayload   = errors.New("invalid submission payload")
	ErrNoSecrets        = errors.New("form request declares no secrets")

	// Tunnel errors
	ErrTunnelFailed   = errors.New("tunnel creation failed")
	ErrTunnelNotFound = errors.New("tunnel not found")

	// Daemon errors
	ErrDaemonNotRunning     = errors.New("daemon is not running")
	ErrDaemonAlreadyRunning = errors.New("daemon is already running")
	ErrConnectionFailed     = errors.New("connection to daemon failed")
)

// SecretError wraps an error with the secret key and scope for context.
type SecretError struct {
	Key   string
	Scope string
	Err   error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret %q (%s): %v", e.Key, e.Scope, e.Err)
}

func (e *SecretError) Unwrap() error {
	return e.Err
}

// NewSecretError creates a new SecretError.
func NewSecretError(key string, ctx SecretContext, err error) *SecretError {
	return &SecretError{Key: key, Scope: ctx.String(), Err: err}
}

// SessionError wraps an error with form session context.
type SessionError struct {
	SessionID string
	Err       error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("form session %q: %v", e.SessionID, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// NewSessionError creates a new SessionError.
func NewSessionError(id string, err error) *SessionError {
	return &SessionError{SessionID: id, Err: err}
}

// UserError provides structured, user-friendly error messages with actionable suggestions.
// Pattern: What went wrong + Why it matters + How to fix + Help reference
type UserError struct {
	What       string
	Why        string
	Suggestion string
	HelpRef    string
	Context    map[string]string
}

func (e *UserError) Error() string {
	msg := fmt.Sprintf("Error: %s\n", e.What)

	if len(e.Context) > 0 {
		for key, value := range e.Context {
			msg += fmt.Sprintf("  %s: %s\n", key, value)
		}
		msg += "\n"
	}

	if e.Why != "" {
		msg += fmt.Sprintf("%s\n\n", e.Why)
	}

	if e.Suggestion != "" {
		msg += fmt.Sprintf("%s\n\n", e.Suggestion)
	}

	if e.HelpRef != "" {
		msg += fmt.Sprintf("See '%s' for more information.\n", e.HelpRef)
	}

	return msg
}

// NewUserError creates a new UserError with the given details.
func NewUserError(what, why, suggestion, helpRef string) *UserError {
	return &UserError{
		What:       what,
		Why:        why,
		Suggestion: suggestion,
		HelpRef:    helpRef,
		Context:    make(map[string]string),
	}
}

// WithContext adds contextual key-value pairs to the error.
func (e *UserError) WithContext(key, value string) *UserError {
	e.Context[key] = value
	return e
}

// RPCErrorFromError converts a Go error to an RPCError with appropriate code.
func RPCErrorFromError(err error) *RPCError {
	code := RPCInternalError

	switch {
	case errors.Is(err, ErrSessionNotFound):
		code = RPCSessionNotFound
	case errors.Is(err, ErrSessionNotActive):
		code = RPCSessionNotActive
	case errors.Is(err, ErrTunnelFailed), errors.Is(err, ErrPortsExhausted):
		code = RPCTunnelFailed
	case errors.Is(err, ErrEncryptionFailed), errors.Is(err, ErrEncryptionUnavailable):
		code = RPCEncryptionError
	case errors.Is(err, ErrDecryptionFailed):
		code = RPCDecryptionError
	case errors.Is(err, ErrInvalidScope), errors.Is(err, ErrNoSecrets):
		code = RPCInvalidParams
	}

	return &RPCError{
		Code:    code,
		Message: err.Error(),
	}
}
