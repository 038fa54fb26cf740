package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

const (
	defaultWebhookTimeout = 10 * time.Second
	maxRetries            = 3
	initialBackoff        = 500 * time.Millisecond
)

// Webhook POSTs each Message as JSON to an SMS gateway endpoint. Responses
// with 429 or a 5xx status are retried with exponential backoff.
type Webhook struct {
	url        string
	token      string
	httpClient *http.Client
	backoff    time.Duration
}

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

// WithBearerToken sets the Authorization header sent with every request.
func WithBearerToken(token string) WebhookOption {
	return func(w *Webhook) { w.token = token }
}

// WithHTTPTimeout bounds each delivery attempt.
func WithHTTPTimeout(d time.Duration) WebhookOption {
	return func(w *Webhook) {
		if d > 0 {
			w.httpClient.Timeout = d
		}
	}
}

// WithInitialBackoff sets the delay before the first retry (doubled each attempt).
func WithInitialBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.backoff = d }
}

// NewWebhook creates a Webhook notifier targeting url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:        url,
		httpClient: &http.Client{Timeout: defaultWebhookTimeout},
		backoff:    initialBackoff,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type webhookPayload struct {
	Message
	Text string `json:"text"`
}

// Notify implements Notifier.
func (w *Webhook) Notify(ctx context.Context, msg Message) error {
	body, err := json.Marshal(webhookPayload{Message: msg, Text: FormatText(msg)})
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}

	var lastErr error
	for attempt := range maxRetries {
		err := w.send(ctx, body)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(w.backoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("webhook failed after %d attempts: %w", maxRetries, lastErr)
}

// statusError is returned for non-2xx gateway responses.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("unexpected status %d", e.status)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.status, e.body)
}

func isRetryable(err error) bool {
	se, ok := err.(*statusError)
	if !ok {
		return false
	}
	return se.status == http.StatusTooManyRequests || se.status >= 500
}

func (w *Webhook) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &statusError{status: resp.StatusCode, body: string(bytes.TrimSpace(respBody))}
}
