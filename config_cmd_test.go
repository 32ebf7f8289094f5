package main

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/leavesync/internal/config"
)

func TestRedactConfig_LeavesOriginal(t *testing.T) {
	t.Parallel()

	rc := testResolvedConfig(t)
	rc.Tenk.APIKey = "s3cret"

	out := redactConfig(rc)
	assert.Equal(t, redactedSecret, out.Tenk.APIKey)
	assert.Equal(t, "s3cret", rc.Tenk.APIKey)
}

func TestRedactConfig_EmptyKeyStaysEmpty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, redactConfig(testResolvedConfig(t)).Tenk.APIKey)
}

func TestFilePaths_Google(t *testing.T) {
	t.Parallel()

	rc := testResolvedConfig(t)
	rc.Calendar.Provider = config.ProviderGoogle
	require.NoError(t, os.WriteFile(rc.ConfigPath, []byte("\n"), 0o600))

	entries := filePaths(rc)

	byName := make(map[string]pathEntry, len(entries))
	for _, e := range entries {
		byName[e.Name] = e
	}

	assert.True(t, byName["config"].Exists)
	assert.False(t, byName["state"].Exists)
	assert.Equal(t, daemonPIDPath(rc), byName["pid"].Path)
	assert.Equal(t, rc.Calendar.TokenFile, byName["token"].Path)
	assert.Contains(t, byName, "client secret")
	assert.NotContains(t, byName, "log")
}

func TestFilePaths_ICSHasNoToken(t *testing.T) {
	t.Parallel()

	rc := testResolvedConfig(t)
	rc.Calendar.Provider = config.ProviderICS
	rc.Logging.LogFile = "/tmp/leavesync.log"

	var names []string
	for _, e := range filePaths(rc) {
		names = append(names, e.Name)
	}

	assert.Equal(t, []string{"config", "state", "pid", "log"}, names)
}

func TestPrintPaths(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printPaths(&buf, []pathEntry{
		{Name: "config", Path: "/etc/leavesync.toml", Exists: true},
		{Name: "state", Path: "/var/lib/leavesync.db"},
		{Name: "client secret"},
	})

	out := buf.String()
	assert.Contains(t, out, "FILE")
	assert.Contains(t, out, "present")
	assert.Contains(t, out, "missing")
	assert.Contains(t, out, "(unset)")
}

func TestWriteJSON_Indented(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, pathEntry{Name: "pid", Path: "/run/x.pid"}))

	assert.Contains(t, buf.String(), "\n  \"name\": \"pid\"")

	var got pathEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "/run/x.pid", got.Path)
}

func TestNewConfigCmd_Subcommands(t *testing.T) {
	t.Parallel()

	sub, _, err := newConfigCmd().Find([]string{"paths"})
	require.NoError(t, err)
	assert.Equal(t, "paths", sub.Name())

	sub, _, err = newConfigCmd().Find([]string{"show"})
	require.NoError(t, err)
	assert.Equal(t, "show", sub.Name())
}
