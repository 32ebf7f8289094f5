package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/leavesync/internal/config"
)

const redactedSecret = "<redacted>"

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(newConfigShowCmd(), newConfigPathsCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Long: `Prints every setting after defaults, config file, environment and flags are
applied. The 10,000ft API key is redacted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if cc.Flags.JSON {
				return writeJSON(os.Stdout, redactConfig(cc.Cfg))
			}

			return config.RenderEffective(cc.Cfg, os.Stdout)
		},
	}
}

func newConfigPathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "List the files leavesync reads and writes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			paths := filePaths(cc.Cfg)

			if cc.Flags.JSON {
				return writeJSON(os.Stdout, paths)
			}

			printPaths(os.Stdout, paths)

			return nil
		},
	}
}

// redactConfig returns a copy of rc that is safe to print.
func redactConfig(rc *config.ResolvedConfig) *config.ResolvedConfig {
	out := *rc
	if out.Tenk.APIKey != "" {
		out.Tenk.APIKey = redactedSecret
	}

	return &out
}

// pathEntry is one row of `config paths`.
type pathEntry struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
}

func filePaths(rc *config.ResolvedConfig) []pathEntry {
	entries := []pathEntry{
		{Name: "config", Path: rc.ConfigPath},
		{Name: "state", Path: rc.State.DBPath},
		{Name: "pid", Path: daemonPIDPath(rc)},
	}

	if rc.Calendar.Provider == config.ProviderGoogle {
		entries = append(entries,
			pathEntry{Name: "token", Path: rc.Calendar.TokenFile},
			pathEntry{Name: "client secret", Path: rc.Calendar.ClientSecretFile},
		)
	}

	if rc.Logging.LogFile != "" {
		entries = append(entries, pathEntry{Name: "log", Path: rc.Logging.LogFile})
	}

	for i := range entries {
		if entries[i].Path == "" {
			continue
		}

		_, err := os.Stat(entries[i].Path)
		entries[i].Exists = err == nil || !errors.Is(err, fs.ErrNotExist)
	}

	return entries
}

func printPaths(w io.Writer, entries []pathEntry) {
	rows := make([][]string, 0, len(entries))

	for _, e := range entries {
		path, state := e.Path, "missing"

		switch {
		case path == "":
			path, state = "(unset)", ""
		case e.Exists:
			state = "present"
		}

		rows = append(rows, []string{e.Name, path, state})
	}

	printTable(w, []string{"FILE", "PATH", "STATE"}, rows)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}
