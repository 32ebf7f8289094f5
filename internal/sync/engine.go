// Package sync reconciles calendar leave events into scheduling service
// assignments. One run loads state, optionally nukes everything it created,
// reconciles one pass of calendar changes, sweeps expired correlations once
// per day, and commits state in a single transaction.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/leavesync/internal/calendar"
)

// Defaults for pass sizing.
const (
	DefaultPageSize = 2500
	DefaultMaxPages = 1000
)

// Run modes recorded in run history.
const (
	ModeInitial     = "initial"
	ModeIncremental = "incremental"
	ModeNuke        = "nuke"
)

// StateStore persists state between runs. *Store implements it.
type StateStore interface {
	Load(ctx context.Context) (*State, error)
	Commit(ctx context.Context, c *Correlations, cursor string, watermark Date) error
	RecordRun(ctx context.Context, r *RunRecord) error
}

var _ StateStore = (*Store)(nil)

// EngineConfig holds the options for NewEngine.
type EngineConfig struct {
	Source         calendar.Source
	Gateway        Gateway
	Directory      DirectorySource
	Store          StateStore
	TitleDelimiter string
	PageSize       int
	MaxPages       int
	Logger         *slog.Logger
	Now            func() time.Time // defaults to time.Now
}

// RunOpts selects run behavior.
type RunOpts struct {
	Initial bool // ignore the stored cursor and list the full window
	Nuke    bool // delete every correlated assignment before the pass
	DryRun  bool // log planned operations; call no gateway and commit nothing
}

// Engine orchestrates sync runs. A single Engine runs one pass at a time.
type Engine struct {
	source    calendar.Source
	gateway   Gateway
	directory DirectorySource
	store     StateStore
	delimiter string
	pageSize  int
	maxPages  int
	logger    *slog.Logger
	nowFunc   func() time.Time
}

// NewEngine creates an Engine, filling zero-valued options with defaults.
func NewEngine(cfg *EngineConfig) *Engine {
	e := &Engine{
		source:    cfg.Source,
		gateway:   cfg.Gateway,
		directory: cfg.Directory,
		store:     cfg.Store,
		delimiter: cfg.TitleDelimiter,
		pageSize:  cfg.PageSize,
		maxPages:  cfg.MaxPages,
		logger:    cfg.Logger,
		nowFunc:   cfg.Now,
	}

	if e.delimiter == "" {
		e.delimiter = DefaultTitleDelimiter
	}

	if e.pageSize <= 0 {
		e.pageSize = DefaultPageSize
	}

	if e.maxPages <= 0 {
		e.maxPages = DefaultMaxPages
	}

	if e.logger == nil {
		e.logger = slog.Default()
	}

	if e.nowFunc == nil {
		e.nowFunc = time.Now
	}

	return e
}

// RunOnce executes one run. A fatal error after mutations still commits the
// correlation changes made so far, but never advances the cursor. The
// returned report is non-nil whenever state was loaded.
func (e *Engine) RunOnce(ctx context.Context, opts RunOpts) (*Report, error) {
	started := e.nowFunc()
	runID := uuid.NewString()
	logger := e.logger.With(slog.String("run_id", runID))

	state, err := e.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:  runID,
		Mode:   runMode(opts, state.Cursor),
		DryRun: opts.DryRun,
	}

	logger.Info("sync run starting",
		slog.String("mode", report.Mode),
		slog.Bool("dry_run", opts.DryRun),
		slog.Int("correlations", state.Correlations.Len()),
	)

	corr := state.Correlations
	cursor := state.Cursor
	watermark := state.Watermark

	if opts.Nuke {
		e.nuke(ctx, corr, report, logger)
		cursor = ""
		watermark = ""

		// A dry run leaves the loaded table intact; reconcile against what a
		// real nuke would have left.
		if opts.DryRun {
			corr = NewCorrelations(nil)
		}
	}

	next, passErr := e.reconcile(ctx, cursor, corr, opts.Initial, report, opts.DryRun, logger)

	if passErr == nil {
		var purged int

		watermark, purged = MaybeSweep(DateOf(e.nowFunc().UTC()), watermark, corr)
		report.Purged = purged

		if purged > 0 {
			logger.Info("purged expired correlations", slog.Int("count", purged))
		}

		if report.Complete() {
			cursor = next
			report.CursorAdvanced = true
		}
	}

	if opts.DryRun {
		logger.Info("dry run complete, nothing committed", reportAttrs(report)...)

		return report, passErr
	}

	// Commit even when the run was canceled so work done so far is kept.
	commitCtx := context.WithoutCancel(ctx)

	if err := e.store.Commit(commitCtx, corr, cursor, watermark); err != nil {
		if passErr != nil {
			return report, fmt.Errorf("%w (and committing state: %w)", passErr, err)
		}

		return report, err
	}

	if err := e.store.RecordRun(commitCtx, e.runRecord(report, started, passErr)); err != nil {
		logger.Warn("recording run history failed", slog.String("error", err.Error()))
	}

	if passErr != nil {
		logger.Error("sync run aborted", append(reportAttrs(report), slog.String("error", passErr.Error()))...)

		return report, passErr
	}

	logger.Info("sync run complete", reportAttrs(report)...)

	return report, nil
}

// nuke deletes the remote assignment behind every correlation and then
// clears the table. A failed delete is recorded on the report but the entry
// is dropped anyway, leaving that assignment untracked.
func (e *Engine) nuke(ctx context.Context, c *Correlations, report *Report, logger *slog.Logger) {
	logger.Warn("deleting every synced assignment", slog.Int("count", c.Len()))

	for id, entry := range c.All() {
		if report.DryRun {
			logger.Info("would delete assignment",
				slog.String("event_id", id),
				slog.Int64("assignment_id", entry.AssignmentID),
			)
			report.Nuked++

			continue
		}

		if err := e.gateway.Delete(ctx, entry.OwnerID, entry.AssignmentID); err != nil {
			logger.Error("nuke: deleting assignment failed",
				slog.String("event_id", id),
				slog.Int64("assignment_id", entry.AssignmentID),
				slog.String("error", err.Error()),
			)
			report.NukeFailed++
			report.Errors = append(report.Errors,
				fmt.Errorf("nuke: assignment %d (event %s): %w", entry.AssignmentID, id, err))

			continue
		}

		report.Nuked++
	}

	if !report.DryRun {
		c.Clear()
	}
}

func (e *Engine) runRecord(r *Report, started time.Time, runErr error) *RunRecord {
	rec := &RunRecord{
		ID:             r.RunID,
		Mode:           r.Mode,
		StartedAt:      started,
		FinishedAt:     e.nowFunc(),
		Events:         r.Events,
		Created:        r.Created,
		Updated:        r.Updated,
		Deleted:        r.Deleted,
		Unchanged:      r.Unchanged,
		Skipped:        r.Skipped,
		Failed:         r.Failed + r.NukeFailed,
		Purged:         r.Purged,
		CursorAdvanced: r.CursorAdvanced,
	}

	if runErr != nil {
		rec.Error = runErr.Error()
	}

	return rec
}

func runMode(opts RunOpts, cursor string) string {
	switch {
	case opts.Nuke:
		return ModeNuke
	case opts.Initial || cursor == "":
		return ModeInitial
	default:
		return ModeIncremental
	}
}

func reportAttrs(r *Report) []any {
	return []any{
		slog.Int("events", r.Events),
		slog.Int("created", r.Created),
		slog.Int("updated", r.Updated),
		slog.Int("deleted", r.Deleted),
		slog.Int("unchanged", r.Unchanged),
		slog.Int("skipped", r.Skipped),
		slog.Int("failed", r.Failed),
		slog.Int("purged", r.Purged),
		slog.Bool("cursor_advanced", r.CursorAdvanced),
	}
}
