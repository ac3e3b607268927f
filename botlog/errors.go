package botlog

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRetryable matches failures the submitter retries: network errors,
	// 5xx and 401.
	ErrRetryable = errors.New("retryable transport error")
	// ErrNonRetryable matches failures that end delivery at once.
	ErrNonRetryable = errors.New("non-retryable request error")
)

// RequestError describes a failed insert attempt. StatusCode is zero when no
// response was received.
type RequestError struct {
	Err        error
	Body       string
	StatusCode int
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("insert failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("insert failed: %v", e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed.
func (e *RequestError) Retryable() bool {
	return isRetryableStatus(e.StatusCode)
}

// Unauthorized reports whether the token was rejected.
func (e *RequestError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// Is matches ErrRetryable or ErrNonRetryable according to the status.
func (e *RequestError) Is(target error) bool {
	switch target {
	case ErrRetryable:
		return e.Retryable()
	case ErrNonRetryable:
		return !e.Retryable()
	}
	return false
}

// isRetryableStatus treats "no response" (0), 401 and 5xx as transient.
// Every other 4xx points at the payload or schema.
func isRetryableStatus(code int) bool {
	return code == 0 || code == http.StatusUnauthorized || code >= http.StatusInternalServerError
}
