package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/leavesync/internal/calendar"
)

// ErrPageLimit is returned when a listing keeps returning page tokens past
// the configured maximum.
var ErrPageLimit = errors.New("sync: page limit exceeded")

// Report summarizes one run. Failed counts per-item gateway failures; any
// failure means the pass is incomplete and the cursor stays where it was.
// NukeFailed counts assignments a nuke could not delete; their entries are
// gone, so they do not hold the cursor back.
type Report struct {
	RunID          string
	Mode           string
	DryRun         bool
	Pages          int
	Events         int
	Created        int
	Updated        int
	Deleted        int
	Unchanged      int
	Skipped        int
	Failed         int
	Purged         int
	Nuked          int
	NukeFailed     int
	Restarted      bool
	CursorAdvanced bool
	Errors         []error
}

// Complete reports whether every item in the pass succeeded.
func (r *Report) Complete() bool { return r.Failed == 0 }

func (r *Report) fail(err error) {
	r.Failed++
	r.Errors = append(r.Errors, err)
}

// pass holds the per-pass collaborators and the report being filled.
type pass struct {
	e      *Engine
	dir    *Directory
	corr   *Correlations
	report *Report
	dryRun bool
	logger *slog.Logger
}

// Reconcile runs one pass over the changes since cursor, or over the full
// forward window when initial is set or cursor is empty. It returns the
// cursor from the final page; callers persist it only when the report is
// complete.
func (e *Engine) Reconcile(ctx context.Context, cursor string, corr *Correlations, initial bool) (string, *Report, error) {
	report := &Report{}
	next, err := e.reconcile(ctx, cursor, corr, initial, report, false, e.logger)

	return next, report, err
}

func (e *Engine) reconcile(
	ctx context.Context, cursor string, corr *Correlations, initial bool,
	report *Report, dryRun bool, logger *slog.Logger,
) (string, error) {
	p := &pass{
		e:      e,
		dir:    NewDirectory(e.directory, logger),
		corr:   corr,
		report: report,
		dryRun: dryRun,
		logger: logger,
	}

	return p.run(ctx, cursor, initial)
}

// run drives the page loop, restarting once as a full listing when the
// calendar rejects the cursor.
func (p *pass) run(ctx context.Context, cursor string, initial bool) (string, error) {
	if initial {
		cursor = ""
	}

	next, err := p.listAll(ctx, cursor)
	if errors.Is(err, calendar.ErrCursorExpired) && cursor != "" {
		p.logger.Warn("sync cursor expired, restarting with a full listing")
		p.report.Restarted = true

		return p.listAll(ctx, "")
	}

	return next, err
}

func (p *pass) listAll(ctx context.Context, cursor string) (string, error) {
	req := calendar.ListRequest{
		Cursor:   cursor,
		PageSize: p.e.pageSize,
	}

	if cursor == "" {
		req.TimeMin = startOfDay(p.e.nowFunc())
	}

	for page := 1; ; page++ {
		if page > p.e.maxPages {
			return "", fmt.Errorf("%w: more than %d pages", ErrPageLimit, p.e.maxPages)
		}

		if err := ctx.Err(); err != nil {
			return "", err
		}

		pg, err := p.e.source.List(ctx, req)
		if err != nil {
			return "", fmt.Errorf("sync: listing calendar page %d: %w", page, err)
		}

		p.report.Pages++

		p.logger.Debug("calendar page fetched",
			slog.Int("page", page),
			slog.Int("events", len(pg.Events)),
			slog.Bool("more", pg.NextPageToken != ""),
		)

		for i := range pg.Events {
			if err := ctx.Err(); err != nil {
				return "", err
			}

			if err := p.apply(ctx, &pg.Events[i]); err != nil {
				return "", err
			}
		}

		if pg.NextPageToken == "" {
			return pg.NextCursor, nil
		}

		req.PageToken = pg.NextPageToken
	}
}

// apply handles one event. Only fatal errors are returned; per-item
// failures and skips are recorded on the report.
func (p *pass) apply(ctx context.Context, ev *calendar.Event) error {
	p.report.Events++

	// Warm before the first mutation so a directory failure aborts the
	// pass before anything is written remotely.
	if err := p.dir.Warm(ctx); err != nil {
		return err
	}

	logger := p.logger.With(slog.String("event_id", ev.ID))

	if ev.Status == calendar.StatusCancelled {
		p.applyCancel(ctx, ev.ID, logger)
		return nil
	}

	return p.applyActive(ctx, ev, logger)
}

func (p *pass) applyCancel(ctx context.Context, eventID string, logger *slog.Logger) {
	entry, ok := p.corr.Get(eventID)
	if !ok {
		logger.Debug("cancelled event has no assignment")
		p.report.Unchanged++

		return
	}

	if p.dryRun {
		logger.Info("would delete assignment", slog.Int64("assignment_id", entry.AssignmentID))
		p.report.Deleted++

		return
	}

	if err := p.e.gateway.Delete(ctx, entry.OwnerID, entry.AssignmentID); err != nil {
		logger.Error("deleting assignment failed",
			slog.Int64("assignment_id", entry.AssignmentID),
			slog.String("error", err.Error()),
			slog.Bool("retryable", retryable(err)),
		)
		p.report.fail(fmt.Errorf("event %s: delete: %w", eventID, err))

		return
	}

	p.corr.Remove(eventID)
	p.report.Deleted++

	logger.Info("deleted assignment", slog.Int64("assignment_id", entry.AssignmentID))
}

func (p *pass) applyActive(ctx context.Context, ev *calendar.Event, logger *slog.Logger) error {
	person, category, err := ParseTitle(ev.Title, p.e.delimiter)
	if err != nil {
		logger.Warn("skipping event with malformed title", slog.String("title", ev.Title))
		p.report.Skipped++

		return nil
	}

	ownerID, ok, err := p.dir.ResolvePerson(ctx, person)
	if err != nil {
		return err
	}

	if !ok {
		logger.Warn("skipping event for unknown person", slog.String("person", person))
		p.report.Skipped++

		return nil
	}

	leaveTypeID, ok, err := p.dir.ResolveLeaveType(ctx, category)
	if err != nil {
		return err
	}

	if !ok {
		logger.Warn("skipping event with unknown leave type", slog.String("leave_type", category))
		p.report.Skipped++

		return nil
	}

	start, end, err := NormalizeWindow(ev.Start, ev.End)
	if err != nil {
		logger.Warn("skipping event with unusable window", slog.String("error", err.Error()))
		p.report.Skipped++

		return nil
	}

	want := Entry{OwnerID: ownerID, LeaveTypeID: leaveTypeID, Start: start, End: end}
	logger = logger.With(
		slog.Int64("owner_id", ownerID),
		slog.Int64("leave_type_id", leaveTypeID),
		slog.String("start", start.String()),
		slog.String("end", end.String()),
	)

	existing, ok := p.corr.Get(ev.ID)

	switch {
	case !ok:
		p.create(ctx, ev.ID, want, logger)
	case existing.OwnerID != ownerID || existing.LeaveTypeID != leaveTypeID:
		p.replace(ctx, ev.ID, existing, want, logger)
	case existing.Start == start && existing.End == end:
		logger.Debug("assignment unchanged")
		p.report.Unchanged++
	default:
		p.update(ctx, ev.ID, existing, want, logger)
	}

	return nil
}

func (p *pass) create(ctx context.Context, eventID string, want Entry, logger *slog.Logger) {
	if p.dryRun {
		logger.Info("would create assignment")
		p.report.Created++

		return
	}

	a, err := p.e.gateway.Create(ctx, want.OwnerID, want.LeaveTypeID, want.Start, want.End)
	if err != nil {
		logger.Error("creating assignment failed",
			slog.String("error", err.Error()),
			slog.Bool("retryable", retryable(err)),
		)
		p.report.fail(fmt.Errorf("event %s: create: %w", eventID, err))

		return
	}

	want.AssignmentID = a.ID
	p.corr.Put(eventID, want)
	p.report.Created++

	logger.Info("created assignment", slog.Int64("assignment_id", a.ID))
}

func (p *pass) update(ctx context.Context, eventID string, existing, want Entry, logger *slog.Logger) {
	logger = logger.With(slog.Int64("assignment_id", existing.AssignmentID))

	if p.dryRun {
		logger.Info("would update assignment")
		p.report.Updated++

		return
	}

	a, err := p.e.gateway.Update(ctx, existing.OwnerID, existing.AssignmentID, want.Start, want.End)
	if err != nil {
		logger.Error("updating assignment failed",
			slog.String("error", err.Error()),
			slog.Bool("retryable", retryable(err)),
		)
		p.report.fail(fmt.Errorf("event %s: update: %w", eventID, err))

		return
	}

	want.AssignmentID = existing.AssignmentID
	if a.ID != 0 {
		want.AssignmentID = a.ID
	}

	p.corr.Put(eventID, want)
	p.report.Updated++

	logger.Info("updated assignment")
}

// replace moves an assignment to a different owner or leave type, which
// update cannot do: the old record is deleted and a new one created.
func (p *pass) replace(ctx context.Context, eventID string, existing, want Entry, logger *slog.Logger) {
	if p.dryRun {
		logger.Info("would replace assignment", slog.Int64("old_assignment_id", existing.AssignmentID))
		p.report.Updated++

		return
	}

	if err := p.e.gateway.Delete(ctx, existing.OwnerID, existing.AssignmentID); err != nil {
		logger.Error("deleting replaced assignment failed",
			slog.Int64("assignment_id", existing.AssignmentID),
			slog.String("error", err.Error()),
			slog.Bool("retryable", retryable(err)),
		)
		p.report.fail(fmt.Errorf("event %s: replace: delete: %w", eventID, err))

		return
	}

	p.corr.Remove(eventID)

	a, err := p.e.gateway.Create(ctx, want.OwnerID, want.LeaveTypeID, want.Start, want.End)
	if err != nil {
		logger.Error("recreating assignment failed",
			slog.String("error", err.Error()),
			slog.Bool("retryable", retryable(err)),
		)
		p.report.fail(fmt.Errorf("event %s: replace: create: %w", eventID, err))

		return
	}

	want.AssignmentID = a.ID
	p.corr.Put(eventID, want)
	p.report.Updated++

	logger.Info("replaced assignment",
		slog.Int64("old_assignment_id", existing.AssignmentID),
		slog.Int64("assignment_id", a.ID),
	)
}

// retryable reports whether a gateway error says the call may succeed on
// a later pass.
func retryable(err error) bool {
	var r interface{ Retryable() bool }

	return errors.As(err, &r) && r.Retryable()
}

// startOfDay returns midnight UTC of t's UTC date.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
