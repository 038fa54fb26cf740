// Package escalation orchestrates answering caller questions from the
// knowledge base, escalating the rest to a supervisor and learning from
// supervisor answers.
package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/frontdesk/internal/matcher"
	"github.com/kalambet/frontdesk/internal/notify"
	"github.com/kalambet/frontdesk/internal/storage"
)

// EscalationPhrase is said to the caller when their question is escalated.
const EscalationPhrase = "Let me check with my supervisor and get back to you."

// ApologyPhrase replaces EscalationPhrase when the request could not be recorded.
const ApologyPhrase = "I'm having trouble reaching my supervisor right now, please try again shortly."

// KnowledgeStore is the knowledge side of the store the engine needs.
// Implemented by storage.Store and storage.PostgresStore.
type KnowledgeStore interface {
	SearchKnowledge(ctx context.Context, query string) ([]storage.KnowledgeEntry, error)
	RecordUsage(ctx context.Context, id string) error
	InsertKnowledge(ctx context.Context, question, answer, sourceRequestID string) (storage.KnowledgeEntry, error)
	MostUsed(ctx context.Context, limit int) ([]storage.KnowledgeEntry, error)
	ListKnowledge(ctx context.Context, limit, offset int) ([]storage.KnowledgeEntry, error)
}

// RequestStore is the help-request side of the store the engine needs.
type RequestStore interface {
	CreateHelpRequest(ctx context.Context, question, callerPhone string) (storage.HelpRequest, error)
	GetHelpRequest(ctx context.Context, id string) (storage.HelpRequest, error)
	ListHelpRequests(ctx context.Context, status storage.Status) ([]storage.HelpRequest, error)
	ResolveHelpRequest(ctx context.Context, id, answer, resolvedBy string) (storage.HelpRequest, error)
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

// Metrics receives counters from the engine. Implemented by *metrics.Metrics.
type Metrics interface {
	RecordCall(outcome string)
	RecordResolved()
	RecordExpired(n int64)
	RecordStoreError(op string)
}

// EventPublisher receives lifecycle events for live supervisor views.
type EventPublisher interface {
	Publish(Event)
}

// EventType names a help-request lifecycle event.
type EventType string

const (
	EventCreated  EventType = "created"
	EventResolved EventType = "resolved"
	EventTimeout  EventType = "timeout"
)

// Event is a help-request lifecycle change. Request is set for created and
// resolved events, Count for timeout sweeps.
type Event struct {
	Type    EventType            `json:"type"`
	Request *storage.HelpRequest `json:"request,omitempty"`
	Count   int64                `json:"count,omitempty"`
	At      time.Time            `json:"at"`
}

// OutcomeKind tells whether a question was answered or escalated.
type OutcomeKind string

const (
	Answered  OutcomeKind = "answered"
	Escalated OutcomeKind = "escalated"
)

// Outcome is the result of Handle. Message is what the assistant says to the
// caller: the answer, or EscalationPhrase.
type Outcome struct {
	Kind      OutcomeKind `json:"kind"`
	Answer    string      `json:"answer,omitempty"`
	EntryID   string      `json:"entryId,omitempty"`
	RequestID string      `json:"requestId,omitempty"`
	Message   string      `json:"message"`
}

// Lookup is the result of matching a question against the knowledge base.
// Match is nil when no candidate was accepted.
type Lookup struct {
	Candidates []storage.KnowledgeEntry `json:"results"`
	Match      *storage.KnowledgeEntry  `json:"match,omitempty"`
}

// Resolution is the result of Resolve: the closed request and the knowledge
// entry learned from it.
type Resolution struct {
	Request storage.HelpRequest    `json:"request"`
	Entry   storage.KnowledgeEntry `json:"knowledgeEntry"`
}

// Engine runs the escalation lifecycle. It holds no mutable state of its
// own; concurrent calls rely on the store's conditional updates.
type Engine struct {
	knowledge KnowledgeStore
	requests  RequestStore
	matcher   matcher.Matcher
	notifier  notify.Notifier
	events    EventPublisher
	metrics   Metrics
	clock     storage.Clock
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier sets the collaborator that texts answers back to callers.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithEvents sets the publisher for lifecycle events.
func WithEvents(p EventPublisher) Option {
	return func(e *Engine) { e.events = p }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger overrides slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the clock used for event timestamps.
func WithClock(c storage.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// New creates an Engine. A nil matcher uses matcher.Default.
func New(knowledge KnowledgeStore, requests RequestStore, m matcher.Matcher, opts ...Option) *Engine {
	if m == nil {
		m = matcher.Default
	}
	e := &Engine{
		knowledge: knowledge,
		requests:  requests,
		matcher:   m,
		clock:     systemClock{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.notifier == nil {
		e.notifier = notify.Log{Logger: e.logger}
	}
	return e
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Handle answers question from the knowledge base when the matcher accepts a
// candidate, otherwise opens a help request for a supervisor.
func (e *Engine) Handle(ctx context.Context, question, callerPhone string) (Outcome, error) {
	question = strings.TrimSpace(question)
	callerPhone = strings.TrimSpace(callerPhone)
	if question == "" {
		return Outcome{}, required("question")
	}
	if callerPhone == "" {
		return Outcome{}, required("callerPhone")
	}

	lookup, err := e.Lookup(ctx, question)
	if err != nil {
		e.recordCall("failed")
		return Outcome{}, err
	}
	if lookup.Match != nil {
		e.recordCall(string(Answered))
		e.logger.Info("answered from knowledge base", "entry_id", lookup.Match.ID, "caller_phone", callerPhone)
		return Outcome{
			Kind:    Answered,
			Answer:  lookup.Match.Answer,
			EntryID: lookup.Match.ID,
			Message: lookup.Match.Answer,
		}, nil
	}

	hr, err := e.Escalate(ctx, question, callerPhone)
	if err != nil {
		e.recordCall("failed")
		return Outcome{}, err
	}
	e.recordCall(string(Escalated))

	return Outcome{
		Kind:      Escalated,
		RequestID: hr.ID,
		Message:   EscalationPhrase,
	}, nil
}

// Escalate opens a pending help request for a supervisor without consulting
// the knowledge base.
func (e *Engine) Escalate(ctx context.Context, question, callerPhone string) (storage.HelpRequest, error) {
	question = strings.TrimSpace(question)
	callerPhone = strings.TrimSpace(callerPhone)
	if question == "" {
		return storage.HelpRequest{}, required("question")
	}
	if callerPhone == "" {
		return storage.HelpRequest{}, required("callerPhone")
	}

	hr, err := e.requests.CreateHelpRequest(ctx, question, callerPhone)
	if err != nil {
		e.recordStoreError("create_help_request")
		return storage.HelpRequest{}, fmt.Errorf("escalating question: %w", err)
	}

	e.logger.Info("supervisor alert: caller needs help",
		"request_id", hr.ID,
		"caller_phone", hr.CallerPhone,
		"question", hr.Question,
		"timeout_at", hr.TimeoutAt,
	)
	e.publish(Event{Type: EventCreated, Request: &hr})
	return hr, nil
}

// Lookup searches the knowledge base and applies the matcher to the ranked
// candidates. When a candidate is accepted its usage is recorded; a failure
// to record usage is logged and does not fail the lookup.
func (e *Engine) Lookup(ctx context.Context, question string) (Lookup, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Lookup{}, required("question")
	}

	candidates, err := e.knowledge.SearchKnowledge(ctx, question)
	if err != nil {
		e.recordStoreError("search_knowledge")
		return Lookup{}, fmt.Errorf("searching knowledge: %w", err)
	}

	result := Lookup{Candidates: candidates}
	entry, ok := e.matcher.Match(question, candidates)
	if !ok {
		return result, nil
	}

	if err := e.knowledge.RecordUsage(ctx, entry.ID); err != nil {
		e.recordStoreError("record_usage")
		e.logger.Warn("recording knowledge usage failed", "entry_id", entry.ID, "error", err)
	}
	result.Match = &entry
	return result, nil
}

// Resolve closes a pending request with the supervisor's answer, learns it
// as a new knowledge entry and texts the caller. resolvedBy defaults to
// storage.DefaultResolver.
//
// A request that is no longer pending fails with ErrInvalidState and nothing
// is learned. If the request closes but the knowledge insert fails, the
// returned Resolution carries the closed request alongside the error.
// Notification failures are logged only.
func (e *Engine) Resolve(ctx context.Context, requestID, answer, resolvedBy string) (Resolution, error) {
	requestID = strings.TrimSpace(requestID)
	answer = strings.TrimSpace(answer)
	if requestID == "" {
		return Resolution{}, required("requestId")
	}
	if answer == "" {
		return Resolution{}, required("answer")
	}

	hr, err := e.requests.ResolveHelpRequest(ctx, requestID, answer, resolvedBy)
	if err != nil {
		if IsRetryable(err) {
			e.recordStoreError("resolve_help_request")
		}
		return Resolution{}, fmt.Errorf("resolving request %s: %w", requestID, err)
	}
	e.recordResolved()
	e.logger.Info("help request resolved", "request_id", hr.ID, "resolved_by", hr.ResolvedBy)

	entry, err := e.knowledge.InsertKnowledge(ctx, hr.Question, hr.Answer, hr.ID)
	if err != nil {
		e.recordStoreError("insert_knowledge")
		e.logger.Error("learning supervisor answer failed", "request_id", hr.ID, "error", err)
		e.publish(Event{Type: EventResolved, Request: &hr})
		return Resolution{Request: hr}, fmt.Errorf("learning answer for request %s: %w", hr.ID, err)
	}
	e.logger.Info("knowledge learned", "entry_id", entry.ID, "request_id", hr.ID)

	msg := notify.Message{
		RequestID:   hr.ID,
		CallerPhone: hr.CallerPhone,
		Question:    hr.Question,
		Answer:      hr.Answer,
	}
	if err := e.notifier.Notify(ctx, msg); err != nil {
		e.logger.Warn("caller notification failed", "request_id", hr.ID, "error", err)
	}

	e.publish(Event{Type: EventResolved, Request: &hr})
	return Resolution{Request: hr, Entry: entry}, nil
}

// ExpireOverdue moves every pending request whose deadline is before now to
// timeout and returns how many changed.
func (e *Engine) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	n, err := e.requests.ExpireOverdue(ctx, now)
	if err != nil {
		e.recordStoreError("expire_overdue")
		return 0, fmt.Errorf("expiring overdue requests: %w", err)
	}
	if n > 0 {
		if e.metrics != nil {
			e.metrics.RecordExpired(n)
		}
		e.logger.Info("help requests timed out", "count", n)
		e.publish(Event{Type: EventTimeout, Count: n})
	}
	return n, nil
}

// Get returns one help request.
func (e *Engine) Get(ctx context.Context, requestID string) (storage.HelpRequest, error) {
	if strings.TrimSpace(requestID) == "" {
		return storage.HelpRequest{}, required("requestId")
	}
	return e.requests.GetHelpRequest(ctx, requestID)
}

// List returns help requests newest first, optionally filtered by status.
func (e *Engine) List(ctx context.Context, status storage.Status) ([]storage.HelpRequest, error) {
	if status != "" && !status.Valid() {
		return nil, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", status)}
	}
	return e.requests.ListHelpRequests(ctx, status)
}

// SearchKnowledge returns ranked candidates without matching or recording usage.
func (e *Engine) SearchKnowledge(ctx context.Context, query string) ([]storage.KnowledgeEntry, error) {
	return e.knowledge.SearchKnowledge(ctx, query)
}

// MostUsed returns the most frequently served entries.
func (e *Engine) MostUsed(ctx context.Context, limit int) ([]storage.KnowledgeEntry, error) {
	return e.knowledge.MostUsed(ctx, limit)
}

// ListKnowledge returns entries newest first.
func (e *Engine) ListKnowledge(ctx context.Context, limit, offset int) ([]storage.KnowledgeEntry, error) {
	return e.knowledge.ListKnowledge(ctx, limit, offset)
}

func (e *Engine) publish(ev Event) {
	if e.events == nil {
		return
	}
	ev.At = e.clock.Now().UTC()
	e.events.Publish(ev)
}

func (e *Engine) recordCall(outcome string) {
	if e.metrics != nil {
		e.metrics.RecordCall(outcome)
	}
}

func (e *Engine) recordResolved() {
	if e.metrics != nil {
		e.metrics.RecordResolved()
	}
}

func (e *Engine) recordStoreError(op string) {
	if e.metrics != nil {
		e.metrics.RecordStoreError(op)
	}
}
