package form

import (
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/joelhooks/scoped-secrets/internal/types"
)

// Status is a session's lifecycle state. Completed and expired are terminal.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

// Submission records one accepted submission. It never carries values.
type Submission struct {
	ID          string              `json:"id"`
	SessionID   string              `json:"sessionId"`
	FormID      string              `json:"formId"`
	Keys        []string            `json:"keys"`
	Context     types.SecretContext `json:"context"`
	RemoteAddr  string              `json:"remoteAddr,omitempty"`
	SubmittedAt time.Time           `json:"submittedAt"`
}

// Session is a snapshot of a form session.
type Session struct {
	ID          string              `json:"id"`
	FormID      string              `json:"formId"`
	TunnelID    string              `json:"tunnelId"`
	Port        int                 `json:"port"`
	URL         string              `json:"url"`
	Schema      Schema              `json:"schema"`
	Request     Request             `json:"request"`
	Context     types.SecretContext `json:"context"`
	CreatedAt   time.Time           `json:"createdAt"`
	ExpiresAt   time.Time           `json:"expiresAt"`
	Submissions []Submission        `json:"submissions"`
	Status      Status              `json:"status"`
}

// StatusView is the public status document served by the form surface.
type StatusView struct {
	Status           Status    `json:"status"`
	SubmissionsCount int       `json:"submissionsCount"`
	MaxSubmissions   int       `json:"maxSubmissions"`
	ExpiresAt        time.Time `json:"expiresAt"`
}

type session struct {
	// submitMu serializes submissions; mu guards the fields in info.
	submitMu sync.Mutex
	mu       sync.Mutex
	info     Session

	events   chan<- Submission
	limiter  *rate.Limiter
	server   *http.Server
	listener net.Listener
	closed   atomic.Bool
	// closedAt is guarded by Manager.mu.
	closedAt time.Time
}

// snapshot returns a copy of the session, marking it expired if its
// deadline has passed while still active.
func (s *session) snapshot(now time.Time) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(now)

	out := s.info
	out.Submissions = append([]Submission(nil), s.info.Submissions...)
	return out
}

func (s *session) expireLocked(now time.Time) {
	if s.info.Status == StatusActive && !now.Before(s.info.ExpiresAt) {
		s.info.Status = StatusExpired
	}
}

// active reports whether the session can accept a submission at now.
func (s *session) active(now time.Time) bool {
	if s.closed.Load() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(now)
	return s.info.Status == StatusActive
}

func (s *session) statusView(now time.Time) StatusView {
	snap := s.snapshot(now)
	return StatusView{
		Status:           snap.Status,
		SubmissionsCount: len(snap.Submissions),
		MaxSubmissions:   snap.Schema.MaxSubmissions,
		ExpiresAt:        snap.ExpiresAt,
	}
}
