package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal and come with "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*ResolvedConfig, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	if env.APIKey != "" {
		cfg.Tenk.APIKey = env.APIKey
	}

	if env.StateDB != "" {
		cfg.State.DBPath = env.StateDB
	}

	resolved, err := buildResolved(cfg, cfgPath)
	if err != nil {
		return nil, err
	}

	if err := ValidateResolved(resolved); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return resolved, nil
}

// buildResolved fills derived paths and parses durations. Durations were
// validated by Validate, so parse errors here only come from env overrides.
func buildResolved(cfg *Config, cfgPath string) (*ResolvedConfig, error) {
	rc := &ResolvedConfig{
		Config:     *cfg,
		ConfigPath: cfgPath,
	}

	if rc.Calendar.TokenFile == "" {
		rc.Calendar.TokenFile = DefaultTokenPath()
	}

	if rc.State.DBPath == "" {
		rc.State.DBPath = DefaultDBPath()
	}

	rc.Calendar.TokenFile = expandTilde(rc.Calendar.TokenFile)
	rc.Calendar.ClientSecretFile = expandTilde(rc.Calendar.ClientSecretFile)
	rc.State.DBPath = expandTilde(rc.State.DBPath)
	rc.Logging.LogFile = expandTilde(rc.Logging.LogFile)

	var err error

	if rc.ConnectTimeout, err = time.ParseDuration(rc.Network.ConnectTimeout); err != nil {
		return nil, fmt.Errorf("connect_timeout: %w", err)
	}

	if rc.DataTimeout, err = time.ParseDuration(rc.Network.DataTimeout); err != nil {
		return nil, fmt.Errorf("data_timeout: %w", err)
	}

	if rc.ShutdownTimeout, err = time.ParseDuration(rc.Sync.ShutdownTimeout); err != nil {
		return nil, fmt.Errorf("shutdown_timeout: %w", err)
	}

	return rc, nil
}
