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

const helpRequestColumns = `id, question, caller_phone, status, answer, resolved_at, resolved_by, created_at, timeout_at`

// CreateHelpRequest persists a new pending request whose deadline is now plus
// the store's escalation window.
func (s *Store) CreateHelpRequest(ctx context.Context, question, callerPhone string) (HelpRequest, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO help_requests (id, question, caller_phone, status, created_at, timeout_at)
		VALUES (?, ?, ?, 'pending', ?, ?)`,
		hr.ID, hr.Question, hr.CallerPhone, formatTime(hr.CreatedAt), formatTime(hr.TimeoutAt),
	)
	if err != nil {
		return HelpRequest{}, classify("creating help request", err)
	}
	return hr, nil
}

// GetHelpRequest returns a single request by ID.
func (s *Store) GetHelpRequest(ctx context.Context, id string) (HelpRequest, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	hr, err := scanHelpRequest(s.db.QueryRowContext(ctx, `SELECT `+helpRequestColumns+` FROM help_requests WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return HelpRequest{}, ErrNotFound
	}
	if err != nil {
		return HelpRequest{}, classify("getting help request", err)
	}
	return hr, nil
}

// ListHelpRequests returns requests newest first. An empty status lists all.
func (s *Store) ListHelpRequests(ctx context.Context, status Status) ([]HelpRequest, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+helpRequestColumns+` FROM help_requests ORDER BY created_at DESC, seq DESC`)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+helpRequestColumns+` FROM help_requests WHERE status = ? ORDER BY created_at DESC, seq DESC`, string(status))
	}
	if err != nil {
		return nil, classify("listing help requests", err)
	}
	defer rows.Close()

	var results []HelpRequest
	for rows.Next() {
		hr, err := scanHelpRequest(rows)
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
func (s *Store) CountHelpRequests(ctx context.Context, status Status) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int
	var err error
	if status == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM help_requests`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM help_requests WHERE status = ?`, string(status)).Scan(&n)
	}
	if err != nil {
		return 0, classify("counting help requests", err)
	}
	return n, nil
}

// ResolveHelpRequest transitions a pending request to resolved in a single
// conditional UPDATE. If the request is no longer pending (already resolved,
// or timed out by a concurrent sweep) it returns ErrInvalidState and leaves
// the row untouched.
func (s *Store) ResolveHelpRequest(ctx context.Context, id, answer, resolvedBy string) (HelpRequest, error) {
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

	now := truncateToStored(s.clock.Now())
	hr, err := scanHelpRequest(s.db.QueryRowContext(ctx, `
		UPDATE help_requests
		SET status = 'resolved', answer = ?, resolved_at = ?, resolved_by = ?
		WHERE id = ? AND status = 'pending'
		RETURNING `+helpRequestColumns,
		answer, formatTime(now), resolvedBy, id,
	))
	if err == nil {
		return hr, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return HelpRequest{}, classify("resolving help request", err)
	}

	// Nothing matched: tell "unknown id" apart from "not pending".
	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM help_requests WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return HelpRequest{}, ErrNotFound
	}
	if err != nil {
		return HelpRequest{}, classify("resolving help request", err)
	}
	return HelpRequest{}, fmt.Errorf("request %s is %s: %w", id, status, ErrInvalidState)
}

// ExpireOverdue bulk-transitions every pending request whose deadline is
// before now to timeout and reports how many rows changed. The status filter
// is evaluated inside the UPDATE, so a request resolved before the sweep
// lands is never timed out.
func (s *Store) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE help_requests SET status = 'timeout' WHERE status = 'pending' AND timeout_at < ?`,
		formatTime(now))
	if err != nil {
		return 0, classify("expiring overdue requests", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("expiring overdue requests", err)
	}
	return n, nil
}

func scanHelpRequest(r rowScanner) (HelpRequest, error) {
	var hr HelpRequest
	var status, createdAt, timeoutAt string
	var answer, resolvedAt, resolvedBy sql.NullString
	if err := r.Scan(&hr.ID, &hr.Question, &hr.CallerPhone, &status, &answer, &resolvedAt, &resolvedBy, &createdAt, &timeoutAt); err != nil {
		return HelpRequest{}, err
	}
	hr.Status = Status(status)
	hr.Answer = answer.String
	hr.ResolvedBy = resolvedBy.String

	var err error
	if hr.ResolvedAt, err = parseNullTime(resolvedAt); err != nil {
		return HelpRequest{}, err
	}
	if hr.CreatedAt, err = parseTime(createdAt); err != nil {
		return HelpRequest{}, err
	}
	if hr.TimeoutAt, err = parseTime(timeoutAt); err != nil {
		return HelpRequest{}, err
	}
	return hr, nil
}
