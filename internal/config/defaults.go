package config

// Default values for configuration options. These are layer 0 of the
// override chain.
const (
	defaultProvider        = ProviderGoogle
	defaultCalendarID      = "primary"
	defaultICSHorizonDays  = 365
	defaultTenkBaseURL     = "https://api.10000ft.com/api/v1"
	defaultTenkPerPage     = 1000
	defaultPageSize        = 2500
	defaultMaxPages        = 1000
	defaultTitleDelimiter  = "-"
	defaultSchedule        = "@every 15m"
	defaultShutdownTimeout = "30s"
	defaultLogLevel        = "info"
	defaultLogFormat       = "auto"
	defaultConnectTimeout  = "10s"
	defaultDataTimeout     = "60s"
)

// File names under the data directory.
const (
	defaultTokenFileName = "google-token.json"
	defaultDBFileName    = "leavesync.db"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep their
// defaults. Paths stay empty here and are derived during Resolve.
func DefaultConfig() *Config {
	return &Config{
		Calendar: CalendarConfig{
			Provider:       defaultProvider,
			CalendarID:     defaultCalendarID,
			ICSHorizonDays: defaultICSHorizonDays,
		},
		Tenk: TenkConfig{
			BaseURL: defaultTenkBaseURL,
			PerPage: defaultTenkPerPage,
		},
		Sync: SyncConfig{
			PageSize:        defaultPageSize,
			MaxPages:        defaultMaxPages,
			TitleDelimiter:  defaultTitleDelimiter,
			Schedule:        defaultSchedule,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			DataTimeout:    defaultDataTimeout,
		},
	}
}
