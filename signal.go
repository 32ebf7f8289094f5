package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// exitInterrupted is the conventional status for a process killed by SIGINT.
const exitInterrupted = 130

// shutdownContext returns a context canceled by the first SIGINT or SIGTERM.
// The pass in flight stops at the next item and still commits what it did.
// A second signal exits immediately.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(ch)

		watchStopSignals(parent, ch, cancel, func() { os.Exit(exitInterrupted) }, logger)
	}()

	return ctx
}

// watchStopSignals cancels on the first signal and calls forceExit on the
// second. It returns when parent is done or after forceExit.
func watchStopSignals(
	parent context.Context, ch <-chan os.Signal, cancel context.CancelFunc, forceExit func(), logger *slog.Logger,
) {
	defer cancel()

	for received := 0; ; {
		select {
		case <-parent.Done():
			return
		case sig := <-ch:
			received++

			if received == 1 {
				logger.Info("stopping after the current item, signal again to force exit",
					slog.String("signal", sig.String()),
				)
				cancel()

				continue
			}

			logger.Warn("forcing exit", slog.String("signal", sig.String()))
			forceExit()

			return
		}
	}
}

// reloadSignals delivers SIGHUP until stop is called.
func reloadSignals() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)

	return ch, func() { signal.Stop(ch) }
}
