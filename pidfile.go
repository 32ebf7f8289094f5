package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const (
	pidFilePermissions = 0o600
	pidDirPermissions  = 0o700
)

var errNoDaemon = errors.New("no watch daemon running")

// pidFile is the watch daemon's PID record. The daemon holds an exclusive
// flock on it for its whole lifetime, so a second daemon fails fast and
// `leavesync reload` knows whom to signal.
type pidFile struct {
	path string
	f    *os.File
}

// writePIDFile claims path for this process. The returned cleanup removes
// the file and releases the lock.
func writePIDFile(path string) (cleanup func(), err error) {
	if path == "" {
		return nil, errors.New("PID file path is empty: state.db_path is not set")
	}

	p := &pidFile{path: path}
	if err := p.claim(os.Getpid()); err != nil {
		return nil, err
	}

	return p.release, nil
}

func (p *pidFile) claim(pid int) error {
	if err := os.MkdirAll(filepath.Dir(p.path), pidDirPermissions); err != nil {
		return fmt.Errorf("creating PID file directory: %w", err)
	}

	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_RDWR, pidFilePermissions)
	if err != nil {
		return fmt.Errorf("opening PID file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		if holder, readErr := readPIDFile(p.path); readErr == nil {
			return fmt.Errorf("watch daemon already running as PID %d (%s is locked)", holder, p.path)
		}

		return fmt.Errorf("watch daemon already running (%s is locked)", p.path)
	}

	// Truncate only once the lock is ours.
	if err := writeRecord(f, pid); err != nil {
		f.Close()
		return err
	}

	p.f = f

	return nil
}

func writeRecord(f *os.File, pid int) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncating PID file: %w", err)
	}

	if _, err := f.WriteAt([]byte(strconv.Itoa(pid)+"\n"), 0); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}

	return f.Sync()
}

// release removes the record before unlocking so no reader sees a stale PID
// from a file nobody holds.
func (p *pidFile) release() {
	if p.f == nil {
		return
	}

	os.Remove(p.path)
	p.f.Close()
	p.f = nil
}

// readPIDFile returns the PID recorded at path.
func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in %s: %q", path, strings.TrimSpace(string(data)))
	}

	return pid, nil
}

// sendSIGHUP asks the watch daemon recorded at pidPath to reload its
// config. A record left behind by a dead process is removed.
func sendSIGHUP(pidPath string) error {
	pid, err := readPIDFile(pidPath)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w (no PID file at %s)", errNoDaemon, pidPath)
	}

	if err != nil {
		return err
	}

	// FindProcess always succeeds on Unix; signal 0 probes liveness.
	proc, _ := os.FindProcess(pid)

	if err := proc.Signal(syscall.Signal(0)); err != nil {
		os.Remove(pidPath)
		return fmt.Errorf("%w: PID %d is gone, removed stale %s", errNoDaemon, pid, pidPath)
	}

	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return fmt.Errorf("signaling watch daemon (PID %d): %w", pid, err)
	}

	return nil
}
