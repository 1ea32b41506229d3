package pncp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoContent is the API's way of saying a window has no records.
	ErrNoContent = errors.New("no content for window")
	// ErrPageNotFound is returned for pages past the end of a result set.
	ErrPageNotFound = errors.New("page not found")
)

type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Transient reports whether the status indicates upstream degradation that
// a retry may clear.
func (e *StatusError) Transient() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

type EnvelopeError struct {
	Err error
}

func (e *EnvelopeError) Error() string { return "malformed envelope: " + e.Err.Error() }
func (e *EnvelopeError) Unwrap() error { return e.Err }

// Retryable classifies an error for retry purposes. Rate limiting, 5xx
// statuses, malformed envelopes and transport failures are worth retrying;
// other 4xx statuses and the no-content sentinels are not.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrNoContent), errors.Is(err, ErrPageNotFound):
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	return true
}

// StatusCode extracts the HTTP status behind err, or 0 when none applies.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	if errors.Is(err, ErrPageNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrNoContent) {
		return http.StatusNoContent
	}
	return 0
}
