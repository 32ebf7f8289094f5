package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePIDFile_RecordsPIDUnderLock(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state", pidFileName)

	cleanup, err := writePIDFile(path)
	require.NoError(t, err)

	defer cleanup()

	pid, err := readPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(pidFilePermissions), info.Mode().Perm())
}

func TestWritePIDFile_SecondDaemonRefused(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), pidFileName)

	cleanup, err := writePIDFile(path)
	require.NoError(t, err)

	defer cleanup()

	again, err := writePIDFile(path)
	require.Error(t, err)
	assert.Nil(t, again)
	assert.Contains(t, err.Error(), "already running as PID "+strconv.Itoa(os.Getpid()))

	// The refused attempt must not clobber the holder's record.
	pid, err := readPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestWritePIDFile_ReleaseAllowsReclaim(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), pidFileName)

	cleanup, err := writePIDFile(path)
	require.NoError(t, err)

	cleanup()
	cleanup() // idempotent

	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)

	cleanup, err = writePIDFile(path)
	require.NoError(t, err)
	cleanup()
}

func TestWritePIDFile_OverwritesLongerStaleRecord(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), pidFileName)
	require.NoError(t, os.WriteFile(path, []byte("123456789012\n"), 0o600))

	cleanup, err := writePIDFile(path)
	require.NoError(t, err)

	defer cleanup()

	pid, err := readPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestWritePIDFile_EmptyPath(t *testing.T) {
	t.Parallel()

	_, err := writePIDFile("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db_path")
}

func TestReadPIDFile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    int
		wantErr bool
	}{
		{"valid", "4242\n", 4242, false},
		{"surrounding space", "  77 \n", 77, false},
		{"garbage", "leavesync\n", 0, true},
		{"zero", "0\n", 0, true},
		{"negative", "-5\n", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), pidFileName)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			pid, err := readPIDFile(path)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, pid)
		})
	}
}

func TestSendSIGHUP_NoDaemon(t *testing.T) {
	t.Parallel()

	err := sendSIGHUP(filepath.Join(t.TempDir(), pidFileName))
	require.ErrorIs(t, err, errNoDaemon)
}

func TestSendSIGHUP_StaleRecordRemoved(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), pidFileName)
	require.NoError(t, os.WriteFile(path, []byte("999999999\n"), 0o600))

	err := sendSIGHUP(path)
	require.ErrorIs(t, err, errNoDaemon)

	_, statErr := os.Stat(path)
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestSendSIGHUP_ReachesDaemon(t *testing.T) {
	t.Parallel()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	defer signal.Stop(hup)

	path := filepath.Join(t.TempDir(), pidFileName)

	cleanup, err := writePIDFile(path)
	require.NoError(t, err)

	defer cleanup()

	require.NoError(t, sendSIGHUP(path))

	select {
	case sig := <-hup:
		assert.Equal(t, syscall.SIGHUP, sig)
	case <-time.After(2 * time.Second):
		t.Fatal("SIGHUP not delivered")
	}
}
