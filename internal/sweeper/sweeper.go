// Package sweeper periodically times out help requests nobody answered.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/frontdesk/internal/storage"
)

// DefaultInterval is how often Run sweeps when no interval is given.
const DefaultInterval = 5 * time.Minute

// Expirer transitions overdue pending requests to timeout.
// Implemented by escalation.Engine and the storage stores.
type Expirer interface {
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

// Metrics receives one call per sweep. Implemented by *metrics.Metrics.
type Metrics interface {
	RecordSweep(err error)
}

// Sweeper calls ExpireOverdue on a fixed interval. It keeps no state
// between runs.
type Sweeper struct {
	expirer  Expirer
	interval time.Duration
	clock    storage.Clock
	metrics  Metrics
	logger   *slog.Logger
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithClock overrides the clock that supplies "now" to each sweep.
func WithClock(c storage.Clock) Option {
	return func(s *Sweeper) { s.clock = c }
}

// WithMetrics records every run.
func WithMetrics(m Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

// WithLogger overrides slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

// New creates a Sweeper. If interval is <= 0, it defaults to DefaultInterval.
func New(expirer Expirer, interval time.Duration, opts ...Option) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Sweeper{
		expirer:  expirer,
		interval: interval,
		clock:    wallClock{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Interval returns the configured sweep interval.
func (s *Sweeper) Interval() time.Duration {
	return s.interval
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
// Failed runs are logged and retried on the next tick; a run that overruns
// the interval delays the next one rather than stacking.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("timeout sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single sweep and returns how many requests timed out.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	n, err := s.expirer.ExpireOverdue(ctx, s.clock.Now())
	if s.metrics != nil {
		s.metrics.RecordSweep(err)
	}
	if err != nil {
		return 0, fmt.Errorf("sweeping overdue requests: %w", err)
	}
	if n > 0 {
		s.logger.Debug("sweep complete", "timed_out", n)
	}
	return n, nil
}
