// Package notify delivers supervisor answers back to callers out-of-band.
package notify

import (
	"context"
	"fmt"
	"log/slog"
)

// Message is the text-back sent to a caller once their question is answered.
type Message struct {
	RequestID   string `json:"requestId"`
	CallerPhone string `json:"callerPhone"`
	Question    string `json:"question"`
	Answer      string `json:"answer"`
}

// Notifier sends a Message to the caller.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// FormatText renders the SMS body for msg.
func FormatText(msg Message) string {
	return fmt.Sprintf("Hi! Regarding your question %q: %s", msg.Question, msg.Answer)
}

// Log writes the text-back to the structured log instead of sending it.
// It is the default when no gateway is configured.
type Log struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (l Log) Notify(_ context.Context, msg Message) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("texting customer",
		"request_id", msg.RequestID,
		"caller_phone", msg.CallerPhone,
		"text", FormatText(msg),
	)
	return nil
}
