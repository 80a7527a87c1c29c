// Package types defines exit codes following standard Unix conventions.
package types

import "errors"

// Exit codes for the secrets CLI.
// These follow standard Unix/BSD sysexits.h conventions where applicable.
const (
	// ExitSuccess indicates the operation completed successfully.
	ExitSuccess = 0

	// ExitGenericError indicates a generic error occurred.
	ExitGenericError = 1

	// ExitMisuse indicates the command was used incorrectly.
	ExitMisuse = 2

	// ExitDataError indicates the input data format was invalid.
	// Examples: malformed JSON, corrupt encrypted data.
	ExitDataError = 64

	// ExitNoPermission indicates the requester was denied.
	ExitNoPermission = 65

	// ExitIOError indicates an I/O error occurred.
	ExitIOError = 66

	// ExitDaemonUnavailable indicates the daemon is not running or unreachable.
	ExitDaemonUnavailable = 69

	// ExitInternalError indicates an unexpected internal error.
	ExitInternalError = 70
)

// ExitCodeFromError returns the appropriate exit code for a given error.
func ExitCodeFromError(err error) int {
	if err == nil {
		return ExitSuccess
	}

	switch {
	case IsDaemonError(err):
		return ExitDaemonUnavailable
	case IsCorruption(err):
		return ExitDataError
	case errors.Is(err, ErrTunnelFailed):
		return ExitIOError
	default:
		return ExitGenericError
	}
}

// IsDaemonError reports whether err means the daemon could not be reached.
func IsDaemonError(err error) bool {
	return errors.Is(err, ErrDaemonNotRunning) || errors.Is(err, ErrConnectionFailed)
}

// IsCorruption reports whether err means stored data could not be trusted.
func IsCorruption(err error) bool {
	return errors.Is(err, ErrStoreCorrupted) || errors.Is(err, ErrDecryptionFailed)
}
