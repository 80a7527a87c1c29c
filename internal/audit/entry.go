package audit

import (
	"time"

	"github.com/joelhooks/scoped-secrets/internal/types"
)

// EntryBuilder provides a fluent interface for creating access log entries.
type EntryBuilder struct {
	entry types.AccessLogEntry
}

// NewEntry starts an entry for an attempted action on key.
// The timestamp is set to the current time.
func NewEntry(key string, action types.Action, success bool) *EntryBuilder {
	return &EntryBuilder{
		entry: types.AccessLogEntry{
			SecretKey: key,
			Action:    action,
			Timestamp: time.Now(),
			Success:   success,
		},
	}
}

// WithContext snapshots the request context and records its effective
// requester as the accessor.
func (b *EntryBuilder) WithContext(sctx types.SecretContext) *EntryBuilder {
	b.entry.Context = sctx
	b.entry.AccessedBy = sctx.Requester()
	return b
}

// WithAccessor overrides the accessor identity.
func (b *EntryBuilder) WithAccessor(id string) *EntryBuilder {
	b.entry.AccessedBy = id
	return b
}

// WithError records a failure reason. A nil error is ignored.
func (b *EntryBuilder) WithError(err error) *EntryBuilder {
	if err != nil {
		b.entry.Error = err.Error()
	}
	return b
}

// WithReason records a failure reason that is not a Go error, such as a denial.
func (b *EntryBuilder) WithReason(reason string) *EntryBuilder {
	b.entry.Error = reason
	return b
}

// At sets the entry timestamp.
func (b *EntryBuilder) At(t time.Time) *EntryBuilder {
	b.entry.Timestamp = t
	return b
}

// Build returns the constructed entry.
func (b *EntryBuilder) Build() types.AccessLogEntry {
	return b.entry
}
