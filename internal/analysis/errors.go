package analysis

import (
	"errors"
	"fmt"
)

// Precondition errors, checked locally before any network call.
var (
	ErrEmptySource    = errors.New("analysis: please provide source text to analyze")
	ErrSourceTooLarge = fmt.Errorf("analysis: source exceeds %d character limit", MaxSourceChars)
)

// ServiceError is a reasoning-service failure. Retryable is decided at the
// point of raise from the HTTP status or stop reason, never inferred later
// from message text.
type ServiceError struct {
	Op         string // "request", "response", "parse"
	Status     int    // HTTP status, 0 for transport/parse failures
	StopReason string // service finish reason when no text came back
	Retryable  bool
	Err        error
}

func (e *ServiceError) Error() string {
	msg := fmt.Sprintf("analysis %s failed", e.Op)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.StopReason != "" {
		msg += fmt.Sprintf(" (stop reason %s)", e.StopReason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ServiceError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a ServiceError marked retryable.
func IsRetryable(err error) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Retryable
}
