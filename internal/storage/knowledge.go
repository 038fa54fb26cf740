package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const knowledgeColumns = `k.id, k.question, k.answer, k.created_at, k.usage_count, k.last_used_at, k.source_request_id`

// InsertKnowledge appends a new entry. Duplicates are allowed: the table is
// a learning log, not a set.
func (s *Store) InsertKnowledge(ctx context.Context, question, answer, sourceRequestID string) (KnowledgeEntry, error) {
	question = strings.TrimSpace(question)
	answer = strings.TrimSpace(answer)
	if question == "" || answer == "" {
		return KnowledgeEntry{}, errors.New("inserting knowledge: question and answer are required")
	}

	e := KnowledgeEntry{
		ID:              uuid.New().String(),
		Question:        question,
		Answer:          answer,
		CreatedAt:       s.clock.Now().UTC(),
		SourceRequestID: sourceRequestID,
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge_entries (id, question, answer, created_at, usage_count, source_request_id)
		VALUES (?, ?, ?, ?, 0, ?)`,
		e.ID, e.Question, e.Answer, formatTime(e.CreatedAt), nullString(e.SourceRequestID),
	)
	if err != nil {
		return KnowledgeEntry{}, classify("inserting knowledge", err)
	}
	e.CreatedAt = truncateToStored(e.CreatedAt)
	return e, nil
}

// GetKnowledge returns a single entry by ID.
func (s *Store) GetKnowledge(ctx context.Context, id string) (KnowledgeEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `SELECT `+knowledgeColumns+` FROM knowledge_entries k WHERE k.id = ?`, id)
	e, err := scanKnowledge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return KnowledgeEntry{}, ErrNotFound
	}
	if err != nil {
		return KnowledgeEntry{}, classify("getting knowledge", err)
	}
	return e, nil
}

// SearchKnowledge returns up to DefaultSearchLimit entries, most relevant first.
// The primary strategy is bm25-ranked full-text search over question and
// answer; only when it yields nothing does a case-insensitive substring scan
// run instead. The two result sets are never merged.
func (s *Store) SearchKnowledge(ctx context.Context, query string) ([]KnowledgeEntry, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if match := ftsMatchQuery(query); match != "" {
		rows, err := s.db.QueryContext(ctx, `
			SELECT `+knowledgeColumns+`
			FROM knowledge_fts
			JOIN knowledge_entries k ON k.seq = knowledge_fts.rowid
			WHERE knowledge_fts MATCH ?
			ORDER BY knowledge_fts.rank, k.created_at ASC
			LIMIT ?`, match, DefaultSearchLimit)
		if err != nil {
			return nil, classify("full-text search", err)
		}
		results, err := collectKnowledge(rows)
		if err != nil {
			return nil, classify("full-text search", err)
		}
		if len(results) > 0 {
			return results, nil
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+knowledgeColumns+`
		FROM knowledge_entries k
		WHERE instr(fold(k.question), fold(?)) > 0 OR instr(fold(k.answer), fold(?)) > 0
		ORDER BY k.created_at ASC, k.seq ASC
		LIMIT ?`, query, query, DefaultSearchLimit)
	if err != nil {
		return nil, classify("substring search", err)
	}
	results, err := collectKnowledge(rows)
	if err != nil {
		return nil, classify("substring search", err)
	}
	return results, nil
}

// RecordUsage atomically increments an entry's usage counter and stamps last_used_at.
func (s *Store) RecordUsage(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE knowledge_entries SET usage_count = usage_count + 1, last_used_at = ? WHERE id = ?`,
		formatTime(s.clock.Now()), id)
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
func (s *Store) MostUsed(ctx context.Context, limit int) ([]KnowledgeEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+knowledgeColumns+` FROM knowledge_entries k
		ORDER BY k.usage_count DESC, k.created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, classify("listing most used knowledge", err)
	}
	results, err := collectKnowledge(rows)
	if err != nil {
		return nil, classify("listing most used knowledge", err)
	}
	return results, nil
}

// ListKnowledge returns entries newest first.
func (s *Store) ListKnowledge(ctx context.Context, limit, offset int) ([]KnowledgeEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+knowledgeColumns+` FROM knowledge_entries k
		ORDER BY k.created_at DESC, k.seq DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, classify("listing knowledge", err)
	}
	results, err := collectKnowledge(rows)
	if err != nil {
		return nil, classify("listing knowledge", err)
	}
	return results, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKnowledge(r rowScanner) (KnowledgeEntry, error) {
	var e KnowledgeEntry
	var createdAt string
	var lastUsed, source sql.NullString
	if err := r.Scan(&e.ID, &e.Question, &e.Answer, &createdAt, &e.UsageCount, &lastUsed, &source); err != nil {
		return KnowledgeEntry{}, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return KnowledgeEntry{}, err
	}
	e.CreatedAt = t
	if e.LastUsedAt, err = parseNullTime(lastUsed); err != nil {
		return KnowledgeEntry{}, err
	}
	e.SourceRequestID = source.String
	return e, nil
}

func collectKnowledge(rows *sql.Rows) ([]KnowledgeEntry, error) {
	defer rows.Close()

	var results []KnowledgeEntry
	for rows.Next() {
		e, err := scanKnowledge(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning knowledge entry: %w", err)
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// truncateToStored drops precision the text encoding cannot hold, so values
// returned from writes compare equal to values read back later.
func truncateToStored(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
