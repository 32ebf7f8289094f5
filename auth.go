package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/leavesync/internal/calendar"
	"github.com/tonimelisma/leavesync/internal/config"
)

var errICSNoLogin = errors.New("calendar.provider is \"ics\": no login needed")

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authorize read access to the Google calendar",
		Long: `Opens a browser for Google OAuth consent and saves the resulting token to
calendar.token_file. Only needed for the google calendar provider.`,
		RunE: runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved calendar token",
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show which Google account and calendar the saved token reads",
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	rc := cc.Cfg
	logger := cc.Logger

	if rc.Calendar.Provider != config.ProviderGoogle {
		return errICSNoLogin
	}

	oauthCfg, err := googleOAuthConfig(rc)
	if err != nil {
		return err
	}

	ctx := shutdownContext(cmd.Context(), logger)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, newHTTPClient(rc))

	// The consent prompt must stay visible even with --quiet.
	fmt.Fprintln(os.Stderr, "Opening your browser to authorize calendar access...")

	ts, err := calendar.Login(ctx, oauthCfg, rc.Calendar.TokenFile, openBrowser, logger)
	if err != nil {
		return err
	}

	account, err := lookupAccount(ctx, rc, ts, logger)
	if err != nil {
		// The token is saved; the account name is cosmetic.
		logger.Warn("could not look up account name", "error", err)
		cc.Statusf("Login successful.\n")

		return nil
	}

	if err := calendar.RecordAccount(rc.Calendar.TokenFile, account); err != nil {
		return err
	}

	cc.Statusf("Logged in as %s.\n", account)

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if err := calendar.Logout(cc.Cfg.Calendar.TokenFile, cc.Logger); err != nil {
		return err
	}

	cc.Statusf("Logged out.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	Account    string `json:"account"`
	CalendarID string `json:"calendar_id"`
	TokenFile  string `json:"token_file"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	rc := cc.Cfg

	if rc.Calendar.Provider != config.ProviderGoogle {
		return errICSNoLogin
	}

	ctx := cmd.Context()
	httpClient := newHTTPClient(rc)

	src, err := newGoogleSource(ctx, rc, httpClient, cc.Logger)
	if err != nil {
		return err
	}

	account, err := src.Account(ctx)
	if err != nil {
		return fmt.Errorf("fetching calendar account: %w", err)
	}

	out := whoamiOutput{
		Account:    account,
		CalendarID: rc.Calendar.CalendarID,
		TokenFile:  rc.Calendar.TokenFile,
	}

	if cc.Flags.JSON {
		return writeJSON(os.Stdout, out)
	}

	fmt.Printf("Account:   %s\n", out.Account)
	fmt.Printf("Calendar:  %s\n", out.CalendarID)
	fmt.Printf("Token:     %s\n", out.TokenFile)

	return nil
}

// lookupAccount asks the calendar API who owns the token just obtained.
func lookupAccount(
	ctx context.Context, rc *config.ResolvedConfig, ts oauth2.TokenSource, logger *slog.Logger,
) (string, error) {
	src, err := calendar.NewGoogleSource(ctx, rc.Calendar.CalendarID, logger, googleClientOptions(ctx, rc, ts)...)
	if err != nil {
		return "", err
	}

	return src.Account(ctx)
}

// openBrowser hands url to the platform's default opener.
func openBrowser(url string) error {
	var name string

	switch runtime.GOOS {
	case "darwin":
		name = "open"
	default:
		name = "xdg-open"
	}

	c := exec.Command(name, url)

	if err := c.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", name, err)
	}

	// Reap the opener without blocking the auth flow.
	go func() { _ = c.Wait() }()

	return nil
}
