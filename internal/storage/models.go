package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when a conditional transition finds the
	// record outside the state it requires (e.g. resolving a non-pending request).
	ErrInvalidState = errors.New("invalid state")

	// ErrUnavailable is returned when the database could not serve a call.
	ErrUnavailable = errors.New("store unavailable")

	// ErrTimeout is returned when a store call exceeded its deadline.
	ErrTimeout = errors.New("store timeout")
)

// Status is the lifecycle state of a HelpRequest.
type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
	StatusTimeout  Status = "timeout"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusResolved, StatusTimeout:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusTimeout
}

// DefaultEscalationWindow is how long a help request stays pending before
// the sweeper may time it out.
const DefaultEscalationWindow = 30 * time.Minute

// DefaultResolver is recorded as resolvedBy when a supervisor gives no name.
const DefaultResolver = "Supervisor"

// DefaultSearchLimit bounds the number of entries returned by SearchKnowledge.
const DefaultSearchLimit = 5

// KnowledgeEntry is a learned or seeded question/answer pair.
type KnowledgeEntry struct {
	ID              string     `json:"id"`
	Question        string     `json:"question"`
	Answer          string     `json:"answer"`
	CreatedAt       time.Time  `json:"createdAt"`
	UsageCount      int64      `json:"usageCount"`
	LastUsedAt      *time.Time `json:"lastUsedAt,omitempty"`
	SourceRequestID string     `json:"sourceRequestId,omitempty"`
}

// HelpRequest is an escalation awaiting (or past) a supervisor answer.
// Answer, ResolvedAt and ResolvedBy are set if and only if Status is resolved.
type HelpRequest struct {
	ID          string     `json:"id"`
	Question    string     `json:"question"`
	CallerPhone string     `json:"callerPhone"`
	Status      Status     `json:"status"`
	Answer      string     `json:"answer,omitempty"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`
	ResolvedBy  string     `json:"resolvedBy,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	TimeoutAt   time.Time  `json:"timeoutAt"`
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
