package config

import (
	"fmt"
	"io"
)

// redacted replaces secret values in rendered output.
const redacted = "<redacted>"

// RenderEffective writes the resolved configuration as annotated TOML to w.
// This powers "config show": the values after defaults, file, environment
// and flags have all been applied. The API key is never printed.
func RenderEffective(rc *ResolvedConfig, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", rc.ConfigPath)

	c := &rc.Calendar
	ew.printf("[calendar]\n")
	ew.printf("  provider           = %q\n", c.Provider)
	ew.printf("  calendar_id        = %q\n", c.CalendarID)
	ew.printf("  client_secret_file = %q\n", c.ClientSecretFile)
	ew.printf("  token_file         = %q\n", c.TokenFile)
	ew.printf("  ics_url            = %q\n", c.ICSURL)
	ew.printf("  ics_horizon_days   = %d\n\n", c.ICSHorizonDays)

	apiKey := ""
	if rc.Tenk.APIKey != "" {
		apiKey = redacted
	}

	ew.printf("[tenk]\n")
	ew.printf("  base_url = %q\n", rc.Tenk.BaseURL)
	ew.printf("  api_key  = %q\n", apiKey)
	ew.printf("  per_page = %d\n\n", rc.Tenk.PerPage)

	ew.printf("[state]\n")
	ew.printf("  db_path = %q\n\n", rc.State.DBPath)

	s := &rc.Sync
	ew.printf("[sync]\n")
	ew.printf("  page_size        = %d\n", s.PageSize)
	ew.printf("  max_pages        = %d\n", s.MaxPages)
	ew.printf("  title_delimiter  = %q\n", s.TitleDelimiter)
	ew.printf("  schedule         = %q\n", s.Schedule)
	ew.printf("  shutdown_timeout = %q\n\n", s.ShutdownTimeout)

	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", rc.Logging.LogLevel)
	ew.printf("  log_file   = %q\n", rc.Logging.LogFile)
	ew.printf("  log_format = %q\n\n", rc.Logging.LogFormat)

	ew.printf("[network]\n")
	ew.printf("  connect_timeout = %q\n", rc.Network.ConnectTimeout)
	ew.printf("  data_timeout    = %q\n", rc.Network.DataTimeout)
	ew.printf("  user_agent      = %q\n", rc.Network.UserAgent)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Later writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
