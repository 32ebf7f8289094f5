// Package tenk provides an HTTP client for the 10,000ft resource management
// API: user and leave-type directory listings plus per-user assignment
// create, update, and delete.
package tenk

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels for errors.Is checks against an *APIError.
var (
	ErrBadRequest    = errors.New("tenk: bad request")
	ErrUnauthorized  = errors.New("tenk: unauthorized")
	ErrForbidden     = errors.New("tenk: forbidden")
	ErrNotFound      = errors.New("tenk: not found")
	ErrConflict      = errors.New("tenk: conflict")
	ErrUnprocessable = errors.New("tenk: unprocessable entity")
	ErrThrottled     = errors.New("tenk: throttled")
	ErrServerError   = errors.New("tenk: server error")
	ErrUnexpected    = errors.New("tenk: unexpected status")
)

var statusSentinels = map[int]error{
	http.StatusBadRequest:          ErrBadRequest,
	http.StatusUnauthorized:        ErrUnauthorized,
	http.StatusForbidden:           ErrForbidden,
	http.StatusNotFound:            ErrNotFound,
	http.StatusConflict:            ErrConflict,
	http.StatusUnprocessableEntity: ErrUnprocessable,
	http.StatusTooManyRequests:     ErrThrottled,
}

// APIError is a non-2xx response. Path never includes the API key.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tenk: %s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same request may succeed later.
func (e *APIError) Retryable() bool {
	return isRetryable(e.StatusCode)
}

// classifyStatus maps a non-2xx status to its sentinel. Codes without a
// dedicated sentinel fall back to ErrServerError or ErrUnexpected.
func classifyStatus(code int) error {
	if err, ok := statusSentinels[code]; ok {
		return err
	}

	if code >= http.StatusInternalServerError {
		return ErrServerError
	}

	return ErrUnexpected
}

// isRetryable is consulted for idempotent reads only.
func isRetryable(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= http.StatusInternalServerError && code != http.StatusNotImplemented
}
