package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/leavesync/internal/config"
	"github.com/tonimelisma/leavesync/internal/sync"
)

// fakeTenk serves the parts of the 10,000ft API a pass touches.
type fakeTenk struct {
	mu      stdsync.Mutex
	nextID  int64
	created []string
	deleted []string

	failDeletes bool
}

func (f *fakeTenk) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /users", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"data":[{"id":1,"display_name":"Alice Smith"},{"id":2,"display_name":"Bob Jones"}],"paging":{}}`)
	})

	mux.HandleFunc("GET /leave_types", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"data":[{"id":10,"name":"Vacation"}],"paging":{}}`)
	})

	mux.HandleFunc("POST /users/{user}/assignments", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		f.nextID++
		q := r.URL.Query()
		f.created = append(f.created, r.PathValue("user")+":"+q.Get("starts_at")+".."+q.Get("ends_at"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": f.nextID, "user_id": 1, "leave_id": 10,
			"starts_at": q.Get("starts_at"), "ends_at": q.Get("ends_at"),
		})
	})

	mux.HandleFunc("DELETE /users/{user}/assignments/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		if f.failDeletes {
			http.Error(w, `{"message":"backend unavailable"}`, http.StatusInternalServerError)
			return
		}

		f.deleted = append(f.deleted, r.PathValue("id"))
		w.WriteHeader(http.StatusNoContent)
	})

	return mux
}

func (f *fakeTenk) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.created)
}

// passFixture wires an ICS feed and a fake 10,000ft into a resolved config.
type passFixture struct {
	rc   *config.ResolvedConfig
	tenk *fakeTenk

	mu   stdsync.Mutex
	feed string
}

func newPassFixture(t *testing.T) *passFixture {
	t.Helper()

	f := &passFixture{tenk: &fakeTenk{}}

	tenkSrv := httptest.NewServer(f.tenk.handler())
	t.Cleanup(tenkSrv.Close)

	feedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		w.Header().Set("Content-Type", "text/calendar")
		_, _ = fmt.Fprint(w, f.feed)
	}))
	t.Cleanup(feedSrv.Close)

	f.rc = testResolvedConfig(t)
	f.rc.Calendar.Provider = config.ProviderICS
	f.rc.Calendar.ICSURL = feedSrv.URL + "/leave.ics"
	f.rc.Tenk.BaseURL = tenkSrv.URL
	f.rc.Tenk.APIKey = "test-key"

	return f
}

func (f *passFixture) setFeed(events ...string) {
	lines := []string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//test//leavesync//EN"}
	lines = append(lines, events...)
	lines = append(lines, "END:VCALENDAR")

	f.mu.Lock()
	f.feed = strings.Join(lines, "\r\n") + "\r\n"
	f.mu.Unlock()
}

// vevent builds an all-day event starting days from today.
func vevent(uid, summary string, days int, cancelled bool) string {
	start := time.Now().UTC().AddDate(0, 0, days)
	lines := []string{
		"BEGIN:VEVENT",
		"UID:" + uid,
		"SUMMARY:" + summary,
		"DTSTART;VALUE=DATE:" + start.Format("20060102"),
		"DTEND;VALUE=DATE:" + start.AddDate(0, 0, 2).Format("20060102"),
	}

	if cancelled {
		lines = append(lines, "STATUS:CANCELLED")
	}

	lines = append(lines, "END:VEVENT")

	return strings.Join(lines, "\r\n")
}

func TestRunPass_CreatesThenDeletesOnCancel(t *testing.T) {
	t.Parallel()

	f := newPassFixture(t)
	cc := testCLIContext(t, f.rc)

	f.setFeed(vevent("ev-1", "Alice Smith - Vacation", 10, false))

	report, err := runPass(t.Context(), f.rc, cc.Logger, sync.RunOpts{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.True(t, report.CursorAdvanced)
	assert.Equal(t, 1, f.tenk.createdCount())

	// Same feed body: nothing to do.
	report, err = runPass(t.Context(), f.rc, cc.Logger, sync.RunOpts{})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Events)
	assert.Equal(t, 1, f.tenk.createdCount())

	f.setFeed(vevent("ev-1", "Alice Smith - Vacation", 10, true))

	report, err = runPass(t.Context(), f.rc, cc.Logger, sync.RunOpts{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, []string{"1"}, f.tenk.deleted)

	out, err := buildStatus(t.Context(), cc, false, defaultStatusRuns)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Correlations)
	assert.Len(t, out.Runs, 3)
}

func TestRunPass_DryRunSavesNothing(t *testing.T) {
	t.Parallel()

	f := newPassFixture(t)
	cc := testCLIContext(t, f.rc)

	f.setFeed(vevent("ev-1", "Alice Smith - Vacation", 5, false))

	report, err := runPass(t.Context(), f.rc, cc.Logger, sync.RunOpts{DryRun: true})
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 0, f.tenk.createdCount())

	out, err := buildStatus(t.Context(), cc, false, defaultStatusRuns)
	require.NoError(t, err)
	assert.False(t, out.HasCursor)
	assert.Empty(t, out.Runs)
}

func TestRunPass_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	f := newPassFixture(t)
	f.rc.Tenk.APIKey = ""

	_, err := runPass(t.Context(), f.rc, testCLIContext(t, f.rc).Logger, sync.RunOpts{})
	require.Error(t, err)
}

func TestRunPass_UnknownPersonIsSkipped(t *testing.T) {
	t.Parallel()

	f := newPassFixture(t)
	cc := testCLIContext(t, f.rc)

	f.setFeed(
		vevent("ev-1", "Nobody Known - Vacation", 3, false),
		vevent("ev-2", "Team offsite", 4, false),
	)

	report, err := runPass(t.Context(), f.rc, cc.Logger, sync.RunOpts{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Skipped)
	assert.True(t, report.Complete())
}

func TestRunSync_NukeFailureExitsNonZero(t *testing.T) {
	t.Parallel()

	f := newPassFixture(t)
	cc := testCLIContext(t, f.rc)

	f.setFeed(vevent("ev-1", "Alice Smith - Vacation", 6, false))

	_, err := runPass(t.Context(), f.rc, cc.Logger, sync.RunOpts{})
	require.NoError(t, err)

	f.tenk.mu.Lock()
	f.tenk.failDeletes = true
	f.tenk.mu.Unlock()

	cmd := newSyncCmd()
	cmd.SetArgs([]string{"--nuke"})
	cmd.SetContext(context.WithValue(t.Context(), cliContextKey{}, cc))

	err = cmd.Execute()
	require.ErrorIs(t, err, errIncompleteNuke)
	assert.Contains(t, err.Error(), "1 delete(s) failed")

	out, err := buildStatus(t.Context(), cc, false, 1)
	require.NoError(t, err)
	require.Len(t, out.Runs, 1)
	assert.Equal(t, sync.ModeNuke, out.Runs[0].Mode)
	assert.Equal(t, 1, out.Runs[0].Failed)
}

func TestRunWatch_FirstPassThenStop(t *testing.T) {
	t.Parallel()

	f := newPassFixture(t)
	f.rc.Sync.Schedule = "@every 1h"
	cc := testCLIContext(t, f.rc)

	f.setFeed(vevent("ev-1", "Bob Jones - Vacation", 7, false))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	done := make(chan error, 1)

	go func() { done <- runWatch(ctx, cc, sync.RunOpts{Initial: true}) }()

	require.Eventually(t, func() bool { return f.tenk.createdCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	pid, err := readPIDFile(daemonPIDPath(f.rc))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch mode did not stop")
	}

	_, err = os.Stat(daemonPIDPath(f.rc))
	assert.True(t, errors.Is(err, os.ErrNotExist), "PID file removed on exit")
}

func TestRunWatch_RejectsBadSchedule(t *testing.T) {
	t.Parallel()

	rc := testResolvedConfig(t)
	rc.Sync.Schedule = "every so often"

	err := runWatch(t.Context(), testCLIContext(t, rc), sync.RunOpts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduling")
}

func TestRestartOnlyKeys(t *testing.T) {
	t.Parallel()

	prev := config.DefaultConfig()
	next := config.DefaultConfig()
	next.Logging.LogLevel = "debug"
	next.Logging.LogFile = "/var/log/leavesync.log"
	next.Sync.Schedule = "@every 5m"

	changed := config.ChangedKeys(prev, next)
	assert.Equal(t, []string{"logging.log_level", "logging.log_file"}, restartOnlyKeys(changed))
	assert.Empty(t, restartOnlyKeys([]string{"sync.schedule", "tenk.per_page"}))
}

func TestCronParser_AcceptsDefaults(t *testing.T) {
	t.Parallel()

	for _, spec := range []string{"@every 15m", "@hourly", "*/5 * * * *", "0 6 * * 1-5"} {
		_, err := cronParser.Parse(spec)
		assert.NoError(t, err, spec)
	}

	_, err := cronParser.Parse("0 0 6 * * *")
	assert.Error(t, err, "seconds field is not accepted")
}

func TestNewReportOutput(t *testing.T) {
	t.Parallel()

	r := &sync.Report{
		RunID:   "run-9",
		Mode:    sync.ModeIncremental,
		Created: 1,
		Failed:  1,
		Errors:  []error{errors.New("ev-3: create: tenk: server error")},
	}

	r.NukeFailed = 2

	out := newReportOutput(r)
	assert.Equal(t, 2, out.NukeFailed)
	assert.Equal(t, "run-9", out.RunID)
	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, []string{"ev-3: create: tenk: server error"}, out.Errors)
}

func TestSyncCmd_WatchExclusiveFlags(t *testing.T) {
	t.Parallel()

	cmd := newSyncCmd()
	cmd.SetArgs([]string{"--watch", "--nuke"})
	cmd.SetOut(&strings.Builder{})
	cmd.SetErr(&strings.Builder{})
	cmd.SetContext(context.WithValue(t.Context(), cliContextKey{}, testCLIContext(t, testResolvedConfig(t))))

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the others can be")
}

func TestScheduleSlot_KeepsOneEntry(t *testing.T) {
	t.Parallel()

	c := cron.New(cron.WithParser(cronParser))
	slot := &scheduleSlot{cron: c, job: cron.FuncJob(func() {})}

	require.NoError(t, slot.set("@every 15m"))
	require.NoError(t, slot.set("@every 15m"))
	require.Len(t, c.Entries(), 1)

	first := slot.id

	require.NoError(t, slot.set("@hourly"))
	require.Len(t, c.Entries(), 1)
	assert.NotEqual(t, first, slot.id)

	require.Error(t, slot.set("not a schedule"))
	require.Len(t, c.Entries(), 1)
	assert.Equal(t, "@hourly", slot.spec, "bad spec keeps the previous entry")
}
