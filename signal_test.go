package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWatchStopSignals_FirstCancelsSecondForcesExit(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	ch := make(chan os.Signal, 1)

	var exits atomic.Int32

	done := make(chan struct{})

	go func() {
		defer close(done)
		watchStopSignals(t.Context(), ch, cancel, func() { exits.Add(1) }, discardLogger())
	}()

	ch <- syscall.SIGINT

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("first signal did not cancel")
	}

	assert.Zero(t, exits.Load(), "first signal must not exit")

	ch <- syscall.SIGTERM

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second signal did not force exit")
	}

	assert.Equal(t, int32(1), exits.Load())
}

func TestWatchStopSignals_ParentDoneReturns(t *testing.T) {
	t.Parallel()

	parent, stopParent := context.WithCancel(t.Context())
	ctx, cancel := context.WithCancel(t.Context())

	done := make(chan struct{})

	go func() {
		defer close(done)
		watchStopSignals(parent, make(chan os.Signal), cancel, func() { t.Error("unexpected exit") }, discardLogger())
	}()

	stopParent()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not return after parent was done")
	}

	require.Error(t, ctx.Err(), "derived context is released on return")
}

func TestShutdownContext_FollowsParent(t *testing.T) {
	t.Parallel()

	parent, cancel := context.WithCancel(t.Context())
	ctx := shutdownContext(parent, discardLogger())

	cancel()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled after parent")
	}
}

func TestReloadSignals_DeliversSIGHUP(t *testing.T) {
	t.Parallel()

	ch, stop := reloadSignals()
	defer stop()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGHUP))

	select {
	case sig := <-ch:
		assert.Equal(t, syscall.SIGHUP, sig)
	case <-time.After(2 * time.Second):
		t.Fatal("SIGHUP not delivered")
	}
}
