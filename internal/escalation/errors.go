package escalation

import (
	"errors"
	"fmt"

	"github.com/kalambet/frontdesk/internal/storage"
)

// Store errors, re-exported so callers need not import storage.
var (
	ErrNotFound         = storage.ErrNotFound
	ErrInvalidState     = storage.ErrInvalidState
	ErrStoreUnavailable = storage.ErrUnavailable
	ErrTimeout          = storage.ErrTimeout
)

// ValidationError reports a missing or empty input rejected before any
// store call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func required(field string) error {
	return &ValidationError{Field: field, Message: "is required"}
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsRetryable reports whether err is a transient store failure the caller
// may retry. InvalidState and NotFound are never retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrTimeout)
}
