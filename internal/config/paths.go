package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// appName names the per-user config and data directories.
const appName = "leavesync"

const configFileName = "config.toml"

// dirs holds the per-user directories for one platform.
type dirs struct {
	config string
	data   string
}

// platformDirs picks the directories for goos. Linux follows the XDG base
// directory spec; macOS keeps config and data together under Application
// Support. An empty home yields empty paths.
func platformDirs(goos, home string, getenv func(string) string) dirs {
	if home == "" {
		return dirs{}
	}

	switch goos {
	case platformDarwin:
		d := filepath.Join(home, "Library", "Application Support", appName)
		return dirs{config: d, data: d}
	case platformLinux:
		return dirs{
			config: xdgDir(getenv("XDG_CONFIG_HOME"), filepath.Join(home, ".config")),
			data:   xdgDir(getenv("XDG_DATA_HOME"), filepath.Join(home, ".local", "share")),
		}
	default:
		return dirs{
			config: filepath.Join(home, ".config", appName),
			data:   filepath.Join(home, ".local", "share", appName),
		}
	}
}

func xdgDir(env, fallback string) string {
	// The XDG spec ignores relative values.
	if env != "" && filepath.IsAbs(env) {
		return filepath.Join(env, appName)
	}

	return filepath.Join(fallback, appName)
}

func currentDirs() dirs {
	home, err := os.UserHomeDir()
	if err != nil {
		return dirs{}
	}

	return platformDirs(runtime.GOOS, home, os.Getenv)
}

// DefaultConfigDir returns the directory holding config.toml.
func DefaultConfigDir() string { return currentDirs().config }

// DefaultDataDir returns the directory holding the state database and the
// calendar token.
func DefaultDataDir() string { return currentDirs().data }

// DefaultConfigPath is used when neither LEAVESYNC_CONFIG nor --config is
// given.
func DefaultConfigPath() string { return inDir(DefaultConfigDir(), configFileName) }

// DefaultTokenPath is used when calendar.token_file is unset.
func DefaultTokenPath() string { return inDir(DefaultDataDir(), defaultTokenFileName) }

// DefaultDBPath is used when neither state.db_path nor LEAVESYNC_STATE_DB is
// set.
func DefaultDBPath() string { return inDir(DefaultDataDir(), defaultDBFileName) }

func inDir(dir, name string) string {
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, name)
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, rest)
}
