package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS knowledge_entries (
	id                TEXT PRIMARY KEY,
	question          TEXT NOT NULL CHECK (length(btrim(question)) > 0),
	answer            TEXT NOT NULL CHECK (length(btrim(answer)) > 0),
	created_at        TIMESTAMPTZ NOT NULL,
	usage_count       BIGINT NOT NULL DEFAULT 0 CHECK (usage_count >= 0),
	last_used_at      TIMESTAMPTZ,
	source_request_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_knowledge_usage ON knowledge_entries (usage_count DESC);
CREATE INDEX IF NOT EXISTS idx_knowledge_created ON knowledge_entries (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_knowledge_fts ON knowledge_entries
	USING GIN (to_tsvector('english', question || ' ' || answer));

CREATE TABLE IF NOT EXISTS help_requests (
	id           TEXT PRIMARY KEY,
	question     TEXT NOT NULL,
	caller_phone TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'resolved', 'timeout')),
	answer       TEXT,
	resolved_at  TIMESTAMPTZ,
	resolved_by  TEXT,
	created_at   TIMESTAMPTZ NOT NULL,
	timeout_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_help_requests_status_created ON help_requests (status, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_help_requests_timeout ON help_requests (timeout_at);
`

const pgKnowledgeColumns = `id, question, answer, created_at, usage_count, last_used_at, source_request_id`

const pgDocument = `to_tsvector('english', question || ' ' || answer)`

// PostgresStore implements the same knowledge and help-request operations as
// Store on top of PostgreSQL.
type PostgresStore struct {
	db *sql.DB
	settings
}

// NewPostgresStore wraps an existing *sql.DB. The schema must already exist
// (see Migrate).
func NewPostgresStore(db *sql.DB, opts ...Option) *PostgresStore {
	return &PostgresStore{db: db, settings: newSettings(opts)}
}

// OpenPostgres connects to dsn and applies the schema.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	s := NewPostgresStore(db, opts...)
	if err := s.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates tables and indexes if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("applying postgres schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return classify("pinging postgres", err)
	}
	return nil
}

// InsertKnowledge appends a new entry; duplicates are allowed.
func (s *PostgresStore) InsertKnowledge(ctx context.Context, question, answer, sourceRequestID string) (KnowledgeEntry, error) {
	question = strings.TrimSpace(question)
	answer = strings.TrimSpace(answer)
	if question == "" || answer == "" {
		return KnowledgeEntry{}, errors.New("inserting knowledge: question and answer are required")
	}

	e := KnowledgeEntry{
		ID:              uuid.New().String(),
		Question:        question,
		Answer:          answer,
		CreatedAt:       truncateToStored(s.clock.Now()),
		SourceRequestID: sourceRequestID,
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `INSERT INTO knowledge_entries (id, question, answer, created_at, usage_count, source_request_id) VALUES ($1, $2, $3, $4, 0, $5)`,
		e.ID, e.Question, e.Answer, e.CreatedAt, nullString(e.SourceRequestID))
	if err != nil {
		return KnowledgeEntry{}, classify("inserting knowledge", err)
	}
	return e, nil
}

// GetKnowledge returns a single entry by ID.
func (s *PostgresStore) GetKnowledge(ctx context.Context, id string) (KnowledgeEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	e, err := scanPgKnowledge(s.db.QueryRowContext(ctx, `SELECT `+pgKnowledgeColumns+` FROM knowledge_entries WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return KnowledgeEntry{}, ErrNotFound
	}
	if err != nil {
		return KnowledgeEntry{}, classify("getting knowledge", err)
	}
	return e, nil
}

// SearchKnowledge ranks with ts_rank over question and answer, falling back to
// a case-insensitive substring scan only when the full-text query finds nothing.
func (s *PostgresStore) SearchKnowledge(ctx context.Context, query string) ([]KnowledgeEntry, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if tsq := tsQuery(query); tsq != "" {
		results, err := s.queryKnowledge(ctx, "full-text search",
			`SELECT `+pgKnowledgeColumns+` FROM knowledge_entries WHERE `+pgDocument+` @@ to_tsquery('english', $1) ORDER BY ts_rank(`+pgDocument+`, to_tsquery('english', $1)) DESC, created_at ASC LIMIT $2`,
			tsq, DefaultSearchLimit)
		if err != nil {
			return nil, err
		}
		if len(results) > 0 {
			return results, nil
		}
	}

	return s.queryKnowledge(ctx, "substring search",
		`SELECT `+pgKnowledgeColumns+` FROM knowledge_entries WHERE strpos(lower(question), lower($1)) > 0 OR strpos(lower(answer), lower($1)) > 0 ORDER BY created_at ASC LIMIT $2`,
		query, DefaultSearchLimit)
}

// RecordUsage increments an entry's usage counter and stamps last_used_at.
func (s *PostgresStore) RecordUsage(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `UPDATE knowledge_entries SET usage_count = usage_count + 1, last_used_at = $1 WHERE id = $2`,
		s.clock.Now().UTC(), id)
	if err != nil {
		return classify("recording usage", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("recording usage", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MostUsed returns entries ordered by usage count, highest first.
func (s *PostgresStore) MostUsed(ctx context.Context, limit int) ([]KnowledgeEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.queryKnowledge(ctx, "listing most used knowledge",
		`SELECT `+pgKnowledgeColumns+` FROM knowledge_entries ORDER BY usage_count DESC, created_at DESC LIMIT $1`, limit)
}

// ListKnowledge returns entries newest first.
func (s *PostgresStore) ListKnowledge(ctx context.Context, limit, offset int) ([]KnowledgeEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.queryKnowledge(ctx, "listing knowledge",
		`SELECT `+pgKnowledgeColumns+` FROM knowledge_entries ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
}

func (s *PostgresStore) queryKnowledge(ctx context.Context, op, query string, args ...any) ([]KnowledgeEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var results []KnowledgeEntry
	for rows.Next() {
		e, err := scanPgKnowledge(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return results, nil
}

// CreateHelpRequest persists a new pending request due after the escalation window.
func (s *PostgresStore) CreateHelpRequest(ctx context.Context, question, callerPhone string) (HelpRequest, error) {
	question = strings.TrimSpace(question)
	callerPhone = strings.TrimSpace(callerPhone)
	if question == "" || callerPhone == "" {
		return HelpRequest{}, errors.New("creating help request: question and caller phone are required")
	}

	now := truncateToStored(s.clock.Now())
	hr := HelpRequest{
		ID:          uuid.New().String(),
		Question:    question,
		CallerPhone: callerPhone,
		Status:      StatusPending,
		CreatedAt:   now,
		TimeoutAt:   now.Add(s.window),
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `INSERT INTO help_requests (id, question, caller_phone, status, created_at, timeout_at) VALUES ($1, $2, $3, 'pending', $4, $5)`,
		hr.ID, hr.Question, hr.CallerPhone, hr.CreatedAt, hr.TimeoutAt)
	if err != nil {
		return HelpRequest{}, classify("creating help request", err)
	}
	return hr, nil
}

// GetHelpRequest returns a single request by ID.
func (s *PostgresStore) GetHelpRequest(ctx context.Context, id string) (HelpRequest, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	hr, err := scanPgHelpRequest(s.db.QueryRowContext(ctx, `SELECT `+helpRequestColumns+` FROM help_requests WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return HelpRequest{}, ErrNotFound
	}
	if err != nil {
		return HelpRequest{}, classify("getting help request", err)
	}
	return hr, nil
}

// ListHelpRequests returns requests newest first. An empty status lists all.
func (s *PostgresStore) ListHelpRequests(ctx context.Context, status Status) ([]HelpRequest, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+helpRequestColumns+` FROM help_requests ORDER BY created_at DESC`)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+helpRequestColumns+` FROM help_requests WHERE status = $1 ORDER BY created_at DESC`, string(status))
	}
	if err != nil {
		return nil, classify("listing help requests", err)
	}
	defer rows.Close()

	var results []HelpRequest
	for rows.Next() {
		hr, err := scanPgHelpRequest(rows)
		if err != nil {
			return nil, classify("scanning help request", err)
		}
		results = append(results, hr)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("listing help requests", err)
	}
	return results, nil
}

// CountHelpRequests returns how many requests are in the given status (all when empty).
func (s *PostgresStore) CountHelpRequests(ctx context.Context, status Status) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int
	var err error
	if status == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM help_requests`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM help_requests WHERE status = $1`, string(status)).Scan(&n)
	}
	if err != nil {
		return 0, classify("counting help requests", err)
	}
	return n, nil
}

// ResolveHelpRequest moves a pending request to resolved with one conditional
// UPDATE, returning ErrInvalidState when it is no longer pending.
func (s *PostgresStore) ResolveHelpRequest(ctx context.Context, id, answer, resolvedBy string) (HelpRequest, error) {
	answer = strings.TrimSpace(answer)
	resolvedBy = strings.TrimSpace(resolvedBy)
	if answer == "" {
		return HelpRequest{}, errors.New("resolving help request: answer is required")
	}
	if resolvedBy == "" {
		resolvedBy = DefaultResolver
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	hr, err := scanPgHelpRequest(s.db.QueryRowContext(ctx,
		`UPDATE help_requests SET status = 'resolved', answer = $1, resolved_at = $2, resolved_by = $3 WHERE id = $4 AND status = 'pending' RETURNING `+helpRequestColumns,
		answer, truncateToStored(s.clock.Now()), resolvedBy, id))
	if err == nil {
		return hr, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return HelpRequest{}, classify("resolving help request", err)
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM help_requests WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return HelpRequest{}, ErrNotFound
	}
	if err != nil {
		return HelpRequest{}, classify("resolving help request", err)
	}
	return HelpRequest{}, fmt.Errorf("request %s is %s: %w", id, status, ErrInvalidState)
}

// ExpireOverdue times out every pending request whose deadline is before now.
func (s *PostgresStore) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `UPDATE help_requests SET status = 'timeout' WHERE status = 'pending' AND timeout_at < $1`, now.UTC())
	if err != nil {
		return 0, classify("expiring overdue requests", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("expiring overdue requests", err)
	}
	return n, nil
}

func scanPgKnowledge(r rowScanner) (KnowledgeEntry, error) {
	var e KnowledgeEntry
	var lastUsed sql.NullTime
	var source sql.NullString
	if err := r.Scan(&e.ID, &e.Question, &e.Answer, &e.CreatedAt, &e.UsageCount, &lastUsed, &source); err != nil {
		return KnowledgeEntry{}, err
	}
	e.CreatedAt = e.CreatedAt.UTC()
	if lastUsed.Valid {
		t := lastUsed.Time.UTC()
		e.LastUsedAt = &t
	}
	e.SourceRequestID = source.String
	return e, nil
}

func scanPgHelpRequest(r rowScanner) (HelpRequest, error) {
	var hr HelpRequest
	var status string
	var answer, resolvedBy sql.NullString
	var resolvedAt sql.NullTime
	if err := r.Scan(&hr.ID, &hr.Question, &hr.CallerPhone, &status, &answer, &resolvedAt, &resolvedBy, &hr.CreatedAt, &hr.TimeoutAt); err != nil {
		return HelpRequest{}, err
	}
	hr.Status = Status(status)
	hr.Answer = answer.String
	hr.ResolvedBy = resolvedBy.String
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		hr.ResolvedAt = &t
	}
	hr.CreatedAt = hr.CreatedAt.UTC()
	hr.TimeoutAt = hr.TimeoutAt.UTC()
	return hr, nil
}
