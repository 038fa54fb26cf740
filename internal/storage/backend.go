package storage

import (
	"context"
	"fmt"
	"time"
)

// Backend is the full set of operations both the SQLite and PostgreSQL
// stores provide.
type Backend interface {
	InsertKnowledge(ctx context.Context, question, answer, sourceRequestID string) (KnowledgeEntry, error)
	GetKnowledge(ctx context.Context, id string) (KnowledgeEntry, error)
	SearchKnowledge(ctx context.Context, query string) ([]KnowledgeEntry, error)
	RecordUsage(ctx context.Context, id string) error
	MostUsed(ctx context.Context, limit int) ([]KnowledgeEntry, error)
	ListKnowledge(ctx context.Context, limit, offset int) ([]KnowledgeEntry, error)

	CreateHelpRequest(ctx context.Context, question, callerPhone string) (HelpRequest, error)
	GetHelpRequest(ctx context.Context, id string) (HelpRequest, error)
	ListHelpRequests(ctx context.Context, status Status) ([]HelpRequest, error)
	CountHelpRequests(ctx context.Context, status Status) (int, error)
	ResolveHelpRequest(ctx context.Context, id, answer, resolvedBy string) (HelpRequest, error)
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Backend = (*Store)(nil)
	_ Backend = (*PostgresStore)(nil)
)

// Driver names accepted by OpenBackend.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// OpenBackend opens the store selected by driver. dataDir is used by SQLite,
// dsn by PostgreSQL.
func OpenBackend(ctx context.Context, driver, dataDir, dsn string, opts ...Option) (Backend, error) {
	switch driver {
	case "", DriverSQLite:
		return Open(dataDir, opts...)
	case DriverPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("storage driver %q requires a DSN", driver)
		}
		return OpenPostgres(ctx, dsn, opts...)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
