package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/leavesync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

const logFilePermissions = 0o600

// CLIFlags holds the global persistent flags.
type CLIFlags struct {
	ConfigPath string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext is built once in the root pre-run and handed to every
// subcommand through the command context.
type CLIContext struct {
	Flags  CLIFlags
	Cfg    *config.ResolvedConfig
	Logger *slog.Logger
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext stored by the root pre-run. Missing
// context is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("leavesync: command run without CLI context")
	}

	return cc
}

// newRootCmd builds the root command with all subcommands registered.
func newRootCmd() *cobra.Command {
	flags := &CLIFlags{}

	cmd := &cobra.Command{
		Use:   "leavesync",
		Short: "Mirror calendar leave events into 10,000ft",
		Long: `Reads leave events ("Person - Category") from a Google or ICS calendar and
keeps matching leave assignments in 10,000ft in step with them.`,
		Version: version,
		// Errors are printed once by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := loadCLIContext(*flags)
			if err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flags.JSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "only log errors and suppress status output")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newReloadCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadCLIContext resolves configuration through defaults, file, environment
// and flags, then builds the logger from the result.
func loadCLIContext(flags CLIFlags) (*CLIContext, error) {
	resolved, err := config.Resolve(config.ReadEnvOverrides(), config.CLIOverrides{
		ConfigPath: flags.ConfigPath,
	})
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger, err := buildLogger(resolved, flags, os.Stderr)
	if err != nil {
		return nil, err
	}

	return &CLIContext{Flags: flags, Cfg: resolved, Logger: logger}, nil
}

// buildLogger creates the process logger. The config sets the baseline
// level; --verbose and --quiet override it. When log_file is set, logs go
// there instead of stderr.
func buildLogger(rc *config.ResolvedConfig, flags CLIFlags, stderr *os.File) (*slog.Logger, error) {
	level := slog.LevelInfo

	if rc != nil {
		switch rc.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	var (
		w      io.Writer = stderr
		format           = "auto"
		tty              = isatty.IsTerminal(stderr.Fd()) || isatty.IsCygwinTerminal(stderr.Fd())
	)

	if rc != nil {
		format = rc.Logging.LogFormat

		if rc.Logging.LogFile != "" {
			f, err := os.OpenFile(rc.Logging.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermissions)
			if err != nil {
				return nil, fmt.Errorf("opening log file: %w", err)
			}

			w = f
			tty = false
		}
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format == "auto" && !tty) {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}

	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// newHTTPClient returns a client whose dial and response-header timeouts
// come from the [network] section.
func newHTTPClient(rc *config.ResolvedConfig) *http.Client {
	dialer := &net.Dialer{Timeout: rc.ConnectTimeout}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = rc.ConnectTimeout
	transport.ResponseHeaderTimeout = rc.DataTimeout

	return &http.Client{Transport: transport}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
