package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/leavesync/internal/calendar"
)

// testLogger returns a debug-level logger that writes to t.Log.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

// testNow is the fixed clock for engine tests: today is 2023-05-02.
var testNow = time.Date(2023, 5, 2, 10, 0, 0, 0, time.UTC)

// fakeSource serves canned listings keyed by cursor. Page tokens are the
// index of the next page in the listing.
type fakeSource struct {
	listings map[string][]*calendar.Page
	errs     map[string]error
	pageErrs map[int]error // keyed by page index, any cursor
	onList   func()
	requests []calendar.ListRequest
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		listings: make(map[string][]*calendar.Page),
		errs:     make(map[string]error),
		pageErrs: make(map[int]error),
	}
}

// set registers a one-page listing for cursor that ends with next.
func (f *fakeSource) set(cursor, next string, events ...calendar.Event) {
	f.listings[cursor] = []*calendar.Page{{Events: events, NextCursor: next}}
}

// setPages registers a multi-page listing; page tokens are wired up here.
func (f *fakeSource) setPages(cursor, next string, pages ...[]calendar.Event) {
	out := make([]*calendar.Page, len(pages))

	for i, events := range pages {
		out[i] = &calendar.Page{Events: events}
		if i < len(pages)-1 {
			out[i].NextPageToken = strconv.Itoa(i + 1)
		} else {
			out[i].NextCursor = next
		}
	}

	f.listings[cursor] = out
}

func (f *fakeSource) List(_ context.Context, req calendar.ListRequest) (*calendar.Page, error) {
	f.requests = append(f.requests, req)

	if f.onList != nil {
		f.onList()
	}

	if err, ok := f.errs[req.Cursor]; ok {
		return nil, err
	}

	idx := 0
	if req.PageToken != "" {
		var err error
		if idx, err = strconv.Atoi(req.PageToken); err != nil {
			return nil, err
		}
	}

	if err, ok := f.pageErrs[idx]; ok {
		return nil, err
	}

	pages, ok := f.listings[req.Cursor]
	if !ok || idx >= len(pages) {
		return nil, fmt.Errorf("fake source: no page %d for cursor %q", idx, req.Cursor)
	}

	return pages[idx], nil
}

// fakeGateway keeps remote assignments in memory and records every call.
type fakeGateway struct {
	nextID      int64
	assignments map[int64]Entry
	failOwners  map[int64]error
	calls       []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		nextID:      100,
		assignments: make(map[int64]Entry),
		failOwners:  make(map[int64]error),
	}
}

func (g *fakeGateway) Create(_ context.Context, ownerID, leaveTypeID int64, start, end Date) (Assignment, error) {
	g.calls = append(g.calls, fmt.Sprintf("create owner=%d leave=%d %s..%s", ownerID, leaveTypeID, start, end))

	if err := g.failOwners[ownerID]; err != nil {
		return Assignment{}, err
	}

	g.nextID++
	g.assignments[g.nextID] = Entry{
		AssignmentID: g.nextID, OwnerID: ownerID, LeaveTypeID: leaveTypeID, Start: start, End: end,
	}

	return Assignment{ID: g.nextID, OwnerID: ownerID}, nil
}

func (g *fakeGateway) Update(_ context.Context, ownerID, assignmentID int64, start, end Date) (Assignment, error) {
	g.calls = append(g.calls, fmt.Sprintf("update owner=%d id=%d %s..%s", ownerID, assignmentID, start, end))

	if err := g.failOwners[ownerID]; err != nil {
		return Assignment{}, err
	}

	a, ok := g.assignments[assignmentID]
	if !ok {
		return Assignment{}, errors.New("fake gateway: no such assignment")
	}

	a.Start, a.End = start, end
	g.assignments[assignmentID] = a

	return Assignment{ID: assignmentID, OwnerID: ownerID}, nil
}

func (g *fakeGateway) Delete(_ context.Context, ownerID, assignmentID int64) error {
	g.calls = append(g.calls, fmt.Sprintf("delete owner=%d id=%d", ownerID, assignmentID))

	if err := g.failOwners[ownerID]; err != nil {
		return err
	}

	delete(g.assignments, assignmentID)

	return nil
}

// fakeDirectory serves fixed people and leave types.
type fakeDirectory struct {
	people     []NamedID
	leaveTypes []NamedID
	err        error
	peopleN    int
	leaveN     int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		people: []NamedID{
			{Name: "Alice Smith", ID: 1},
			{Name: "Bob Jones", ID: 2},
		},
		leaveTypes: []NamedID{
			{Name: "Vacation", ID: 10},
			{Name: "Sick Leave", ID: 11},
		},
	}
}

func (d *fakeDirectory) People(context.Context) ([]NamedID, error) {
	d.peopleN++
	return d.people, d.err
}

func (d *fakeDirectory) LeaveTypes(context.Context) ([]NamedID, error) {
	d.leaveN++
	return d.leaveTypes, d.err
}

// newTestStore opens a Store in a temp directory.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "state.db")

	store, err := OpenStore(t.Context(), dbPath, testLogger(t))
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close(): %v", err)
		}
	})

	return store
}

type engineFixture struct {
	engine *Engine
	source *fakeSource
	gw     *fakeGateway
	dir    *fakeDirectory
	store  *Store
}

func newTestEngine(t *testing.T) *engineFixture {
	t.Helper()

	f := &engineFixture{
		source: newFakeSource(),
		gw:     newFakeGateway(),
		dir:    newFakeDirectory(),
		store:  newTestStore(t),
	}

	f.engine = NewEngine(&EngineConfig{
		Source:    f.source,
		Gateway:   f.gw,
		Directory: f.dir,
		Store:     f.store,
		Logger:    testLogger(t),
		Now:       func() time.Time { return testNow },
	})

	return f
}

// seed commits correlations and a cursor before a test run.
func (f *engineFixture) seed(t *testing.T, cursor string, entries map[string]Entry) {
	t.Helper()

	c := NewCorrelations(nil)
	for id, e := range entries {
		c.Put(id, e)
		f.gw.assignments[e.AssignmentID] = e
	}

	require.NoError(t, f.store.Commit(t.Context(), c, cursor, ""))
}

// state reloads what the store holds.
func (f *engineFixture) state(t *testing.T) (map[string]Entry, string, Date) {
	t.Helper()

	st, err := f.store.Load(t.Context())
	require.NoError(t, err)

	return maps.Collect(st.Correlations.All()), st.Cursor, st.Watermark
}

func activeEvent(id, title, start, end string) calendar.Event {
	return calendar.Event{
		ID:     id,
		Status: calendar.StatusActive,
		Title:  title,
		Start:  calendar.When{Date: start},
		End:    calendar.When{Date: end},
	}
}

func cancelledEvent(id string) calendar.Event {
	return calendar.Event{ID: id, Status: calendar.StatusCancelled}
}
