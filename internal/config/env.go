package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig  = "LEAVESYNC_CONFIG"
	EnvAPIKey  = "LEAVESYNC_API_KEY"
	EnvStateDB = "LEAVESYNC_STATE_DB"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // LEAVESYNC_CONFIG: override config file path
	APIKey     string // LEAVESYNC_API_KEY: scheduling service API key
	StateDB    string // LEAVESYNC_STATE_DB: state database path
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. It does not modify a Config; Resolve applies the fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		APIKey:     os.Getenv(EnvAPIKey),
		StateDB:    os.Getenv(EnvStateDB),
	}
}
