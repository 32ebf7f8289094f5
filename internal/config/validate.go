package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Validation range constants.
const (
	minPageSize        = 1
	maxPageSize        = 2500
	minMaxPages        = 1
	minTenkPerPage     = 1
	maxTenkPerPage     = 1000
	minHorizonDays     = 1
	maxHorizonDays     = 3650
	minShutdownTimeout = 1 * time.Second
	minConnectTimeout  = 1 * time.Second
	minDataTimeout     = 5 * time.Second
)

// scheduleParser accepts the same expressions the watch scheduler does.
var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate checks all configuration values and returns all errors found,
// so users can fix every issue in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateCalendar(&cfg.Calendar)...)
	errs = append(errs, validateTenk(&cfg.Tenk)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

// ValidateResolved checks constraints that only make sense after the
// override chain has been applied.
func ValidateResolved(rc *ResolvedConfig) error {
	var errs []error

	if rc.State.DBPath == "" {
		errs = append(errs, errors.New("db_path: could not determine a state database path"))
	} else if !filepath.IsAbs(rc.State.DBPath) {
		errs = append(errs, fmt.Errorf("db_path: must be absolute after expansion, got %q", rc.State.DBPath))
	}

	if rc.Calendar.Provider == ProviderGoogle && rc.Calendar.TokenFile == "" {
		errs = append(errs, errors.New("token_file: could not determine a token path"))
	}

	return errors.Join(errs...)
}

// RequireAPIKey reports whether the scheduling service can be called.
func (rc *ResolvedConfig) RequireAPIKey() error {
	if strings.TrimSpace(rc.Tenk.APIKey) == "" {
		return fmt.Errorf("tenk.api_key is not set (set %s or api_key under [tenk])", EnvAPIKey)
	}

	return nil
}

func validateCalendar(c *CalendarConfig) []error {
	var errs []error

	switch c.Provider {
	case ProviderGoogle:
		if c.CalendarID == "" {
			errs = append(errs, errors.New("calendar_id: must not be empty"))
		}
	case ProviderICS:
		errs = append(errs, validateURL("ics_url", c.ICSURL)...)
	default:
		errs = append(errs, fmt.Errorf("provider: must be one of google, ics; got %q", c.Provider))
	}

	if c.ICSHorizonDays < minHorizonDays || c.ICSHorizonDays > maxHorizonDays {
		errs = append(errs, fmt.Errorf("ics_horizon_days: must be between %d and %d, got %d",
			minHorizonDays, maxHorizonDays, c.ICSHorizonDays))
	}

	return errs
}

func validateTenk(t *TenkConfig) []error {
	var errs []error

	errs = append(errs, validateURL("base_url", t.BaseURL)...)

	if t.PerPage < minTenkPerPage || t.PerPage > maxTenkPerPage {
		errs = append(errs, fmt.Errorf("per_page: must be between %d and %d, got %d",
			minTenkPerPage, maxTenkPerPage, t.PerPage))
	}

	return errs
}

func validateURL(field, value string) []error {
	if value == "" {
		return []error{fmt.Errorf("%s: must not be empty", field)}
	}

	u, err := url.Parse(value)
	if err != nil {
		return []error{fmt.Errorf("%s: %w", field, err)}
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return []error{fmt.Errorf("%s: must be an http or https URL, got %q", field, value)}
	}

	return nil
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if s.PageSize < minPageSize || s.PageSize > maxPageSize {
		errs = append(errs, fmt.Errorf("page_size: must be between %d and %d, got %d",
			minPageSize, maxPageSize, s.PageSize))
	}

	if s.MaxPages < minMaxPages {
		errs = append(errs, fmt.Errorf("max_pages: must be >= %d, got %d", minMaxPages, s.MaxPages))
	}

	if strings.TrimSpace(s.TitleDelimiter) == "" {
		errs = append(errs, errors.New("title_delimiter: must contain a non-space character"))
	}

	if _, err := scheduleParser.Parse(s.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("schedule: invalid expression %q: %w", s.Schedule, err))
	}

	errs = append(errs, validateDurationMin("shutdown_timeout", s.ShutdownTimeout, minShutdownTimeout)...)

	return errs
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("data_timeout", n.DataTimeout, minDataTimeout)...)

	return errs
}
