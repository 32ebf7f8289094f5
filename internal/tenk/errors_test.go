package tenk

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus_Fallbacks(t *testing.T) {
	assert.Equal(t, ErrThrottled, classifyStatus(http.StatusTooManyRequests))
	assert.Equal(t, ErrServerError, classifyStatus(http.StatusBadGateway))
	assert.Equal(t, ErrServerError, classifyStatus(http.StatusNotImplemented))
	assert.Equal(t, ErrUnexpected, classifyStatus(http.StatusGone))
}

func TestAPIError_Retryable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusNotImplemented, false},
		{http.StatusNotFound, false},
		{http.StatusUnprocessableEntity, false},
	}

	for _, tt := range tests {
		err := &APIError{StatusCode: tt.status, Err: classifyStatus(tt.status)}
		assert.Equal(t, tt.want, err.Retryable(), "status %d", tt.status)
	}
}

func TestAPIError_WrapsSentinel(t *testing.T) {
	var err error = &APIError{
		Method:     http.MethodDelete,
		Path:       "/users/7/leave_time/9",
		StatusCode: http.StatusNotFound,
		Message:    "gone",
		Err:        ErrNotFound,
	}

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "tenk: DELETE /users/7/leave_time/9: HTTP 404: gone", err.Error())
}
