package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/leavesync/internal/config"
	"github.com/tonimelisma/leavesync/internal/sync"
)

// errIncompletePass is returned when at least one item failed, so the exit
// status is non-zero even though the run itself finished.
var errIncompletePass = errors.New("sync pass incomplete, cursor not advanced")

// errIncompleteNuke is returned when --nuke could not delete every
// assignment. Those assignments are no longer tracked and need manual
// cleanup.
var errIncompleteNuke = errors.New("nuke incomplete, assignments left untracked")

// pidFileName sits next to the state database.
const pidFileName = "leavesync.pid"

// cronParser accepts standard five-field expressions and descriptors such
// as "@every 15m" or "@hourly".
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type syncFlags struct {
	initial bool
	nuke    bool
	dryRun  bool
	watch   bool
}

func newSyncCmd() *cobra.Command {
	var f syncFlags

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile calendar leave events into 10,000ft",
		Long: `Run one reconciliation pass: fetch calendar changes since the last pass and
create, update, or delete the matching 10,000ft leave assignments.

Use --initial to ignore the saved cursor and re-read the whole forward window.
Use --nuke to delete every assignment this tool created before the pass.
Use --dry-run to log planned changes without making them.
Use --watch to keep running passes on the configured schedule.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, f)
		},
	}

	cmd.Flags().BoolVar(&f.initial, "initial", false, "ignore the saved cursor and list the full window")
	cmd.Flags().BoolVar(&f.nuke, "nuke", false, "delete every synced assignment and reset state before the pass")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "log planned changes without calling 10,000ft or saving state")
	cmd.Flags().BoolVar(&f.watch, "watch", false, "run passes continuously on the configured schedule")

	cmd.MarkFlagsMutuallyExclusive("nuke", "watch")
	cmd.MarkFlagsMutuallyExclusive("dry-run", "watch")

	return cmd
}

func runSync(cmd *cobra.Command, f syncFlags) error {
	cc := mustCLIContext(cmd.Context())
	ctx := shutdownContext(cmd.Context(), cc.Logger)

	opts := sync.RunOpts{Initial: f.initial, Nuke: f.nuke, DryRun: f.dryRun}

	if f.watch {
		return runWatch(ctx, cc, opts)
	}

	report, err := runPass(ctx, cc.Cfg, cc.Logger, opts)
	if report != nil {
		if printErr := printReport(cc, report); printErr != nil {
			return printErr
		}
	}

	if err != nil {
		return err
	}

	if report.NukeFailed > 0 {
		return fmt.Errorf("%w: %d delete(s) failed", errIncompleteNuke, report.NukeFailed)
	}

	if !report.Complete() {
		return fmt.Errorf("%w: %d item(s) failed", errIncompletePass, report.Failed)
	}

	return nil
}

// reportOutput is the JSON schema for `sync --json`.
type reportOutput struct {
	RunID          string   `json:"run_id"`
	Mode           string   `json:"mode"`
	DryRun         bool     `json:"dry_run"`
	Events         int      `json:"events"`
	Created        int      `json:"created"`
	Updated        int      `json:"updated"`
	Deleted        int      `json:"deleted"`
	Unchanged      int      `json:"unchanged"`
	Skipped        int      `json:"skipped"`
	Failed         int      `json:"failed"`
	Purged         int      `json:"purged"`
	Nuked          int      `json:"nuked,omitempty"`
	NukeFailed     int      `json:"nuke_failed,omitempty"`
	Restarted      bool     `json:"restarted,omitempty"`
	CursorAdvanced bool     `json:"cursor_advanced"`
	Errors         []string `json:"errors,omitempty"`
}

func newReportOutput(r *sync.Report) reportOutput {
	out := reportOutput{
		RunID:          r.RunID,
		Mode:           r.Mode,
		DryRun:         r.DryRun,
		Events:         r.Events,
		Created:        r.Created,
		Updated:        r.Updated,
		Deleted:        r.Deleted,
		Unchanged:      r.Unchanged,
		Skipped:        r.Skipped,
		Failed:         r.Failed,
		Purged:         r.Purged,
		Nuked:          r.Nuked,
		NukeFailed:     r.NukeFailed,
		Restarted:      r.Restarted,
		CursorAdvanced: r.CursorAdvanced,
	}

	for _, err := range r.Errors {
		out.Errors = append(out.Errors, err.Error())
	}

	return out
}

func printReport(cc *CLIContext, r *sync.Report) error {
	if cc.Flags.JSON {
		return writeJSON(os.Stdout, newReportOutput(r))
	}

	prefix := ""
	if r.DryRun {
		prefix = "Dry run: would have "
	}

	cc.Statusf("%screated %d, updated %d, deleted %d (%d unchanged, %d skipped, %d failed) from %d events\n",
		prefix, r.Created, r.Updated, r.Deleted, r.Unchanged, r.Skipped, r.Failed, r.Events)

	if r.Nuked > 0 || r.NukeFailed > 0 {
		cc.Statusf("%snuked %d assignments before the pass (%d failed, left untracked)\n",
			prefix, r.Nuked, r.NukeFailed)
	}

	if r.Purged > 0 {
		cc.Statusf("Purged %d expired correlations\n", r.Purged)
	}

	for _, err := range r.Errors {
		cc.Statusf("  %v\n", err)
	}

	return nil
}

// daemonPIDPath returns where the watch daemon records its PID.
func daemonPIDPath(rc *config.ResolvedConfig) string {
	return filepath.Join(filepath.Dir(rc.State.DBPath), pidFileName)
}

// runWatch runs one pass immediately and then one per schedule tick until
// ctx is canceled. Passes never overlap. SIGHUP reloads the config file;
// the new settings apply from the next pass.
func runWatch(ctx context.Context, cc *CLIContext, opts sync.RunOpts) error {
	logger := cc.Logger

	cleanup, err := writePIDFile(daemonPIDPath(cc.Cfg))
	if err != nil {
		return err
	}
	defer cleanup()

	holder := config.NewHolder(cc.Cfg)

	w := &watcher{
		holder: holder,
		logger: logger,
		flags:  cc.Flags,
		opts:   opts,
	}

	sched := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger{logger}),
	)

	job := cron.NewChain(cron.SkipIfStillRunning(cronLogger{logger})).Then(cron.FuncJob(func() {
		w.pass(ctx)
	}))

	slot := &scheduleSlot{cron: sched, job: job}
	if err := slot.set(cc.Cfg.Sync.Schedule); err != nil {
		return err
	}

	logger.Info("watch mode started",
		slog.String("schedule", cc.Cfg.Sync.Schedule),
		slog.Int("pid", os.Getpid()),
	)

	// First pass runs before the scheduler starts.
	job.Run()
	sched.Start()

	hup, stopHUP := reloadSignals()
	defer stopHUP()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				next, reloadErr := w.reload()
				if reloadErr != nil {
					logger.Error("config reload failed, keeping previous config",
						slog.String("error", reloadErr.Error()),
					)

					continue
				}

				changed := config.ChangedKeys(&holder.Config().Config, &next.Config)
				if len(changed) == 0 {
					logger.Info("config reloaded, nothing changed")
					continue
				}

				if err := slot.set(next.Sync.Schedule); err != nil {
					logger.Error("new schedule rejected, keeping previous config",
						slog.String("error", err.Error()),
					)

					continue
				}

				holder.Update(next)

				logger.Info("config reloaded",
					slog.Any("changed", changed),
					slog.String("schedule", next.Sync.Schedule),
				)

				if pending := restartOnlyKeys(changed); len(pending) > 0 {
					logger.Warn("logging settings changed, restart the daemon to apply them",
						slog.Any("keys", pending),
					)
				}
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("watch mode stopping, waiting for running pass")

		stopped := sched.Stop()

		timeout := holder.Config().ShutdownTimeout
		select {
		case <-stopped.Done():
			return nil
		case <-time.After(timeout):
			return fmt.Errorf("running pass did not stop within %s", timeout)
		}
	})

	return g.Wait()
}

// restartOnlyKeys returns the changed keys a running daemon cannot apply.
// The logger is built once at startup.
func restartOnlyKeys(changed []string) []string {
	var out []string

	for _, k := range changed {
		if strings.HasPrefix(k, "logging.") {
			out = append(out, k)
		}
	}

	return out
}

// scheduleSlot keeps exactly one cron entry for the pass job.
type scheduleSlot struct {
	cron *cron.Cron
	job  cron.Job
	spec string
	id   cron.EntryID
}

// set moves the job to spec. An invalid spec leaves the current entry in
// place.
func (s *scheduleSlot) set(spec string) error {
	if spec == s.spec {
		return nil
	}

	id, err := s.cron.AddJob(spec, s.job)
	if err != nil {
		return fmt.Errorf("scheduling %q: %w", spec, err)
	}

	if s.id != 0 {
		s.cron.Remove(s.id)
	}

	s.id, s.spec = id, spec

	return nil
}

// watcher runs passes from the current config snapshot.
type watcher struct {
	holder *config.Holder
	logger *slog.Logger
	flags  CLIFlags
	opts   sync.RunOpts
}

// pass runs one pass. Errors are logged; the next tick tries again. Only
// the first pass honors --initial.
func (w *watcher) pass(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	opts := w.opts
	w.opts.Initial = false

	report, err := runPass(ctx, w.holder.Config(), w.logger, opts)

	switch {
	case errors.Is(err, sync.ErrLocked):
		w.logger.Warn("state database busy, skipping this pass")
	case err != nil:
		w.logger.Error("sync pass failed", slog.String("error", err.Error()))
	case !report.Complete():
		w.logger.Warn("sync pass incomplete, will retry next tick", slog.Int("failed", report.Failed))
	}
}

// reload re-resolves configuration the same way startup did.
func (w *watcher) reload() (*config.ResolvedConfig, error) {
	w.logger.Info("reloading configuration")

	return config.Resolve(config.ReadEnvOverrides(), config.CLIOverrides{ConfigPath: w.flags.ConfigPath})
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, slog.String("error", err.Error()))...)
}
