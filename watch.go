package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/propscout/propsync/internal/config"
	"github.com/propscout/propsync/internal/notify"
	"github.com/propscout/propsync/internal/sync"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Sync continuously in the foreground",
		Long: `Run the sync engine as a daemon until interrupted.

A cycle runs at startup, every sync_interval, whenever connectivity is
restored, when the server announces changes over the notification socket
(websocket = true), and on SIGHUP (see 'propsync kick').

Edits to the config file are picked up without a restart for sync_interval
and log_level. Only one watch may run per database.`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger
	ctx := shutdownContext(cmd.Context(), logger)

	cleanup, err := writePIDFile(pidFilePath(cc.Cfg))
	if err != nil {
		return err
	}
	defer cleanup()

	sess, err := newSyncSession(ctx, cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	g, gctx := errgroup.WithContext(ctx)

	if err := sess.Engine.Init(gctx); err != nil {
		return fmt.Errorf("starting sync engine: %w", err)
	}

	g.Go(func() error {
		return sess.Prober.Run(gctx)
	})

	if cc.Cfg.Websocket {
		listener := &notify.Listener{
			URL:    cc.Cfg.NotifyURL(),
			Token:  sess.Token,
			Logger: logger,
			OnNotify: func() {
				sess.Engine.Trigger(sync.TriggerRemote)
			},
		}

		g.Go(func() error {
			return listener.Run(gctx)
		})
	}

	holder := config.NewHolder(cc.Cfg, cc.Cfg.ConfigPath)

	g.Go(func() error {
		return watchConfig(gctx, holder, cc.Flags, sess.Engine, logger)
	})

	g.Go(func() error {
		return relayHangups(gctx, sess.Engine, logger)
	})

	if st, err := sess.Store.QueueStats(ctx, cc.Cfg.MaxRetryAttempts); err == nil {
		logger.Info("mutation queue",
			slog.Int("pending", st.Pending),
			slog.Int("dead_lettered", st.DeadLettered),
		)
	}

	cc.Statusf("Watching %s (every %s). Press Ctrl-C to stop.\n",
		cc.Cfg.ServerURL, cc.Cfg.SyncInterval)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// intervalSetter is the part of the engine a config reload touches.
type intervalSetter interface {
	SetInterval(d time.Duration)
}

// watchConfig reloads the config file on change and applies the settings
// that can change at runtime. A missing config directory disables reload.
func watchConfig(
	ctx context.Context, holder *config.Holder, flags CLIFlags, engine intervalSetter, logger *slog.Logger,
) error {
	path := holder.Path()

	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		logger.Debug("config directory missing, reload disabled", slog.String("path", path))
		<-ctx.Done()

		return nil
	}

	return config.Watch(ctx, path, logger, func(cfg *config.Config) {
		applyReload(holder, cfg, flags, engine, logger)
	})
}

// applyReload resolves a freshly loaded file against the same env and CLI
// layers as startup and applies what a running daemon can change.
func applyReload(holder *config.Holder, cfg *config.Config, flags CLIFlags, engine intervalSetter, logger *slog.Logger) {
	next, err := config.ResolveConfig(cfg, holder.Path(), config.ReadEnvOverrides(), flags.cliOverrides())
	if err != nil {
		logger.Warn("reloaded config is invalid, keeping previous config", slog.String("error", err.Error()))
		return
	}

	prev := holder.Swap(next)

	if next.SyncInterval != prev.SyncInterval {
		engine.SetInterval(next.SyncInterval)
		logger.Info("sync interval changed", slog.Duration("interval", next.SyncInterval))
	}

	levelVar.Set(logLevel(next.LogLevel, flags))

	if restartRequired(prev, next) {
		logger.Warn("config change requires restart to take effect")
	}
}

// restartRequired reports changes a running daemon does not apply.
func restartRequired(prev, next *config.Resolved) bool {
	return prev.ServerURL != next.ServerURL ||
		prev.DBPath != next.DBPath ||
		prev.TokenFile != next.TokenFile ||
		prev.Websocket != next.Websocket ||
		prev.CheckURL != next.CheckURL ||
		prev.ProbeInterval != next.ProbeInterval ||
		prev.MaxRetryAttempts != next.MaxRetryAttempts ||
		prev.PullPageSize != next.PullPageSize ||
		prev.MaxPullPages != next.MaxPullPages ||
		prev.LogFile != next.LogFile ||
		prev.LogFormat != next.LogFormat
}

// relayHangups turns SIGHUP into a manual sync request.
func relayHangups(ctx context.Context, engine *sync.Engine, logger *slog.Logger) error {
	ch, stop := hangupChannel()
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ch:
			logger.Info("SIGHUP received, requesting sync")
			engine.Trigger(sync.TriggerManual)
		}
	}
}
