package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// shutdownContext returns a context that cancels on the first SIGINT/SIGTERM
// and force-exits on the second. The first signal lets the engine finish the
// item in flight and close the store; the second is for when that hangs.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return watchShutdown(parent, sigCh, func() { signal.Stop(sigCh) }, os.Exit, logger)
}

// watchShutdown implements the two-stage shutdown over an arbitrary signal
// channel. stop is called once the watcher goroutine exits.
func watchShutdown(
	parent context.Context, sigCh <-chan os.Signal, stop func(), exit func(int), logger *slog.Logger,
) context.Context {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		defer stop()

		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit",
				slog.String("signal", sig.String()),
			)
			exit(1)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}

// hangupChannel delivers SIGHUP to the watch daemon. `propsync kick` and
// `propsync enqueue` send it to request an immediate cycle.
func hangupChannel() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)

	return ch, func() { signal.Stop(ch) }
}
