// Package audit keeps a bounded, in-memory log of secret access attempts.
package audit

import (
	"sync"

	"github.com/joelhooks/scoped-secrets/internal/types"
)

// DefaultCapacity is the number of entries retained before the oldest is evicted.
const DefaultCapacity = 1000

// Log is a fixed-capacity ring of the most recent access log entries.
// Appending beyond capacity evicts the oldest entry. Safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	entries []types.AccessLogEntry
	start   int
	size    int
}

// New creates a log holding at most capacity entries. A non-positive
// capacity selects DefaultCapacity.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{entries: make([]types.AccessLogEntry, capacity)}
}

// Append records an entry, evicting the oldest one when full.
func (l *Log) Append(entry types.AccessLogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	capacity := len(l.entries)
	if l.size < capacity {
		l.entries[(l.start+l.size)%capacity] = entry
		l.size++
		return
	}
	l.entries[l.start] = entry
	l.start = (l.start + 1) % capacity
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Capacity returns the maximum number of retained entries.
func (l *Log) Capacity() int {
	return len(l.entries)
}

// Tail returns up to the last n entries, oldest first. n <= 0 returns all.
func (l *Log) Tail(n int) []types.AccessLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > l.size {
		n = l.size
	}
	out := make([]types.AccessLogEntry, 0, n)
	for i := l.size - n; i < l.size; i++ {
		out = append(out, l.entries[(l.start+i)%len(l.entries)])
	}
	return out
}

// Query returns the entries for key, oldest first. When sctx is non-nil,
// entries must also match its scope and any world or user id it sets.
func (l *Log) Query(key string, sctx *types.SecretContext) []types.AccessLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []types.AccessLogEntry
	for i := 0; i < l.size; i++ {
		e := l.entries[(l.start+i)%len(l.entries)]
		if e.SecretKey != key {
			continue
		}
		if sctx != nil && !matchContext(e.Context, *sctx) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func matchContext(got, want types.SecretContext) bool {
	if got.Scope != want.Scope {
		return false
	}
	if want.WorldID != "" && got.WorldID != want.WorldID {
		return false
	}
	if want.UserID != "" && got.UserID != want.UserID {
		return false
	}
	return true
}
