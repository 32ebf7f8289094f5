package sync

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/leavesync/internal/tenk"
)

func newTestBackend(t *testing.T, handler http.HandlerFunc) *TenkBackend {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := tenk.NewClient(srv.URL+"/api/v1", "key", srv.Client(), testLogger(t), "leavesync-test")

	return NewTenkBackend(client, 50, testLogger(t))
}

func TestTenkBackend_Create(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/users/7/assignments", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("leave_id"))
		assert.Equal(t, "2023-05-01", r.URL.Query().Get("starts_at"))
		assert.Equal(t, "2023-05-03", r.URL.Query().Get("ends_at"))
		_, _ = fmt.Fprint(w, `{"id":42,"user_id":7,"leave_id":3,"starts_at":"2023-05-01","ends_at":"2023-05-03"}`)
	})

	a, err := b.Create(t.Context(), 7, 3, "2023-05-01", "2023-05-03")
	require.NoError(t, err)
	assert.Equal(t, Assignment{ID: 42, OwnerID: 7}, a)
}

func TestTenkBackend_Update(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/users/7/assignments/42", r.URL.Path)
		_, _ = fmt.Fprint(w, `{"id":42,"user_id":7}`)
	})

	a, err := b.Update(t.Context(), 7, 42, "2023-05-02", "2023-05-04")
	require.NoError(t, err)
	assert.Equal(t, int64(42), a.ID)
}

func TestTenkBackend_CreateFailureSurfaces(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	b := newTestBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := b.Create(t.Context(), 7, 3, "2023-05-01", "2023-05-03")
	require.ErrorIs(t, err, tenk.ErrServerError)
	assert.Equal(t, int32(1), calls.Load(), "mutations are never retried")
}

func TestTenkBackend_DeleteNotFoundIsSuccess(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	})

	require.NoError(t, b.Delete(t.Context(), 7, 42))
}

func TestTenkBackend_DeleteForbiddenFails(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	require.ErrorIs(t, b.Delete(t.Context(), 7, 42), tenk.ErrForbidden)
}

func TestTenkBackend_PeopleSkipsArchived(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/users", r.URL.Path)
		assert.Equal(t, "50", r.URL.Query().Get("per_page"))
		_, _ = fmt.Fprint(w, `{"data":[
			{"id":1,"display_name":"Alice Smith"},
			{"id":2,"display_name":"Old Timer","archived":true}
		],"paging":{}}`)
	})

	people, err := b.People(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []NamedID{{Name: "Alice Smith", ID: 1}}, people)
}

func TestTenkBackend_LeaveTypes(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/leave_types", r.URL.Path)
		_, _ = fmt.Fprint(w, `{"data":[{"id":10,"name":"Vacation"},{"id":11,"name":"Sick"}],"paging":{}}`)
	})

	types, err := b.LeaveTypes(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []NamedID{{Name: "Vacation", ID: 10}, {Name: "Sick", ID: 11}}, types)
}

func TestRetryable(t *testing.T) {
	throttled := &tenk.APIError{StatusCode: http.StatusTooManyRequests, Err: tenk.ErrThrottled}
	rejected := &tenk.APIError{StatusCode: http.StatusUnprocessableEntity, Err: tenk.ErrUnprocessable}

	assert.True(t, retryable(throttled))
	assert.True(t, retryable(fmt.Errorf("event e1: create: %w", throttled)))
	assert.False(t, retryable(rejected))
	assert.False(t, retryable(errors.New("plain failure")))
}
