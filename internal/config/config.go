// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for leavesync. Values resolve through a
// four-layer override chain: defaults, config file, environment, CLI flags.
package config

import "time"

// Calendar providers.
const (
	ProviderGoogle = "google"
	ProviderICS    = "ics"
)

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Calendar CalendarConfig `toml:"calendar"`
	Tenk     TenkConfig     `toml:"tenk"`
	State    StateConfig    `toml:"state"`
	Sync     SyncConfig     `toml:"sync"`
	Logging  LoggingConfig  `toml:"logging"`
	Network  NetworkConfig  `toml:"network"`
}

// CalendarConfig selects and configures the calendar the leave events are
// read from.
type CalendarConfig struct {
	Provider         string `toml:"provider"`
	CalendarID       string `toml:"calendar_id"`
	ClientSecretFile string `toml:"client_secret_file"`
	TokenFile        string `toml:"token_file"`
	ICSURL           string `toml:"ics_url"`
	ICSHorizonDays   int    `toml:"ics_horizon_days"`
}

// TenkConfig points at the scheduling service. APIKey is usually supplied
// through LEAVESYNC_API_KEY rather than the file.
type TenkConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	PerPage int    `toml:"per_page"`
}

// StateConfig locates the state database.
type StateConfig struct {
	DBPath string `toml:"db_path"`
}

// SyncConfig controls the reconciliation pass and watch mode.
type SyncConfig struct {
	PageSize        int    `toml:"page_size"`
	MaxPages        int    `toml:"max_pages"`
	TitleDelimiter  string `toml:"title_delimiter"`
	Schedule        string `toml:"schedule"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

// LoggingConfig controls log output: level, destination, and format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings.
type CLIOverrides struct {
	ConfigPath string // --config flag (empty = use default)
}

// ResolvedConfig is the fully merged configuration with paths expanded and
// durations parsed, ready for the CLI to build clients from.
type ResolvedConfig struct {
	Config

	ConfigPath      string
	ConnectTimeout  time.Duration
	DataTimeout     time.Duration
	ShutdownTimeout time.Duration
}
