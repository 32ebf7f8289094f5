package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/leavesync/internal/config"
	"github.com/tonimelisma/leavesync/internal/sync"
	"github.com/tonimelisma/leavesync/internal/tokenfile"
)

// Token state constants for status reporting.
const (
	tokenStateMissing     = "missing"
	tokenStateExpired     = "expired"
	tokenStateValid       = "valid"
	tokenStateNotRequired = "not required"
)

const defaultStatusRuns = 5

func newStatusCmd() *cobra.Command {
	var (
		entries bool
		runs    int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sync state, token status, and recent runs",
		Long: `Display what the last passes left behind: whether a cursor is saved, how many
events are correlated to 10,000ft assignments, the retention watermark, the
watch daemon PID, and the most recent runs.

Reads the state database without locking it, so it works while a daemon runs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, entries, runs)
		},
	}

	cmd.Flags().BoolVar(&entries, "entries", false, "list every correlation entry")
	cmd.Flags().IntVar(&runs, "runs", defaultStatusRuns, "number of recent runs to show")

	return cmd
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	Provider     string           `json:"provider"`
	TokenState   string           `json:"token_state"`
	Account      string           `json:"account,omitempty"`
	DBPath       string           `json:"db_path"`
	Synced       bool             `json:"synced"`
	Schema       int64            `json:"schema_version,omitempty"`
	HasCursor    bool             `json:"has_cursor"`
	Watermark    string           `json:"retention_watermark,omitempty"`
	Correlations int              `json:"correlations"`
	DaemonPID    int              `json:"daemon_pid,omitempty"`
	Entries      []statusEntry    `json:"entries,omitempty"`
	Runs         []sync.RunRecord `json:"recent_runs,omitempty"`
}

type statusEntry struct {
	EventID      string `json:"event_id"`
	AssignmentID int64  `json:"assignment_id"`
	OwnerID      int64  `json:"owner_id"`
	LeaveTypeID  int64  `json:"leave_type_id"`
	Start        string `json:"start"`
	End          string `json:"end"`
}

func runStatus(cmd *cobra.Command, withEntries bool, runs int) error {
	cc := mustCLIContext(cmd.Context())

	out, err := buildStatus(cmd.Context(), cc, withEntries, runs)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return writeJSON(os.Stdout, out)
	}

	printStatusText(os.Stdout, out)

	return nil
}

func buildStatus(ctx context.Context, cc *CLIContext, withEntries bool, runs int) (*statusOutput, error) {
	rc := cc.Cfg

	out := &statusOutput{
		Provider: rc.Calendar.Provider,
		DBPath:   rc.State.DBPath,
	}

	out.TokenState, out.Account = tokenState(rc, time.Now())

	if pid, err := readPIDFile(daemonPIDPath(rc)); err == nil {
		out.DaemonPID = pid
	}

	store, err := sync.OpenStoreReadOnly(ctx, rc.State.DBPath, cc.Logger)
	if errors.Is(err, sync.ErrNoState) {
		return out, nil
	}

	if err != nil {
		return nil, err
	}
	defer store.Close()

	state, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}

	out.Synced = true

	if out.Schema, err = store.SchemaVersion(ctx); err != nil {
		return nil, err
	}
	out.HasCursor = state.Cursor != ""
	out.Watermark = state.Watermark.String()
	out.Correlations = state.Correlations.Len()

	if withEntries {
		for id, e := range state.Correlations.All() {
			out.Entries = append(out.Entries, statusEntry{
				EventID:      id,
				AssignmentID: e.AssignmentID,
				OwnerID:      e.OwnerID,
				LeaveTypeID:  e.LeaveTypeID,
				Start:        e.Start.String(),
				End:          e.End.String(),
			})
		}
	}

	if runs > 0 {
		out.Runs, err = store.ListRuns(ctx, runs)
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

// tokenState reports whether the saved calendar token can authorize a pass.
// An access token past its expiry is still valid while a refresh token is
// present.
func tokenState(rc *config.ResolvedConfig, now time.Time) (state, account string) {
	if rc.Calendar.Provider != config.ProviderGoogle {
		return tokenStateNotRequired, ""
	}

	tf, err := tokenfile.Load(rc.Calendar.TokenFile)
	if err != nil || tf == nil {
		return tokenStateMissing, ""
	}

	if tf.Token.RefreshToken == "" && !tf.Token.Expiry.IsZero() && tf.Token.Expiry.Before(now) {
		return tokenStateExpired, tf.Account
	}

	return tokenStateValid, tf.Account
}

func printStatusText(w io.Writer, out *statusOutput) {
	fmt.Fprintf(w, "Calendar:      %s (token: %s)\n", out.Provider, out.TokenState)

	if out.Account != "" {
		fmt.Fprintf(w, "Account:       %s\n", out.Account)
	}

	if out.Schema > 0 {
		fmt.Fprintf(w, "State:         %s (schema v%d)\n", out.DBPath, out.Schema)
	} else {
		fmt.Fprintf(w, "State:         %s\n", out.DBPath)
	}

	daemon := "not running"
	if out.DaemonPID != 0 {
		daemon = "PID " + strconv.Itoa(out.DaemonPID)
	}

	fmt.Fprintf(w, "Watch daemon:  %s\n", daemon)

	if !out.Synced {
		fmt.Fprintln(w, "\nNo sync has run yet. Run 'leavesync sync' to start.")
		return
	}

	cursor := "none (next pass lists the full window)"
	if out.HasCursor {
		cursor = "saved"
	}

	watermark := out.Watermark
	if watermark == "" {
		watermark = "(none)"
	}

	fmt.Fprintf(w, "Cursor:        %s\n", cursor)
	fmt.Fprintf(w, "Correlations:  %d\n", out.Correlations)
	fmt.Fprintf(w, "Swept through: %s\n", watermark)

	if len(out.Entries) > 0 {
		fmt.Fprintln(w)

		rows := make([][]string, 0, len(out.Entries))
		for _, e := range out.Entries {
			rows = append(rows, []string{
				e.EventID,
				strconv.FormatInt(e.AssignmentID, 10),
				strconv.FormatInt(e.OwnerID, 10),
				strconv.FormatInt(e.LeaveTypeID, 10),
				e.Start,
				e.End,
			})
		}

		printTable(w, []string{"EVENT", "ASSIGNMENT", "OWNER", "LEAVE TYPE", "START", "END"}, rows)
	}

	if len(out.Runs) > 0 {
		fmt.Fprintln(w)

		rows := make([][]string, 0, len(out.Runs))
		for i := range out.Runs {
			rows = append(rows, runRow(&out.Runs[i]))
		}

		printTable(w, []string{"STARTED", "MODE", "CREATED", "UPDATED", "DELETED", "FAILED", "RESULT"}, rows)
	}
}

func runRow(r *sync.RunRecord) []string {
	result := "ok"

	switch {
	case r.Error != "":
		result = r.Error
	case !r.CursorAdvanced:
		result = "incomplete"
	}

	return []string{
		formatTime(r.StartedAt, time.Now()),
		r.Mode,
		strconv.Itoa(r.Created),
		strconv.Itoa(r.Updated),
		strconv.Itoa(r.Deleted),
		strconv.Itoa(r.Failed),
		result,
	}
}
