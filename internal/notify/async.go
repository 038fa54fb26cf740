package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Async wraps a Notifier so Notify returns immediately. Each delivery runs in
// its own goroutine under a fresh timeout, detached from the caller's context,
// and failures are logged.
type Async struct {
	next    Notifier
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewAsync wraps next. If timeout is <= 0, it defaults to 10s.
func NewAsync(next Notifier, timeout time.Duration, logger *slog.Logger) *Async {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Async{next: next, timeout: timeout, logger: logger}
}

// Notify schedules delivery and always returns nil. Messages sent after
// Close are dropped with a warning.
func (a *Async) Notify(_ context.Context, msg Message) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		a.logger.Warn("notifier closed, dropping text", "request_id", msg.RequestID)
		return nil
	}
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.next.Notify(ctx, msg); err != nil {
			a.logger.Warn("caller notification failed",
				"request_id", msg.RequestID,
				"caller_phone", msg.CallerPhone,
				"error", err,
			)
		}
	}()
	return nil
}

// Close stops accepting messages and waits for in-flight deliveries.
func (a *Async) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.wg.Wait()
	return nil
}
