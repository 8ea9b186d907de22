package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/propscout/propsync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagServerURL  string
	flagDBPath     string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// logFilePermissions matches the PID file permissions (owner rw, group/other r).
const logFilePermissions = 0o644

// CLIFlags is a snapshot of the persistent flags for one invocation.
type CLIFlags struct {
	ConfigPath string
	ServerURL  string
	DBPath     string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext carries everything a subcommand needs after the root pre-run
// phase: flags, the effective config and a logger built from both.
type CLIContext struct {
	Flags  CLIFlags
	Cfg    *config.Resolved
	Logger *slog.Logger

	// logCloser releases the log file, if one was opened.
	logCloser io.Closer
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext stored by PersistentPreRunE. A missing
// context is a programming error in command registration.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cc == nil {
		panic("propsync: CLIContext missing from command context")
	}

	return cc
}

// Close releases resources held by the context.
func (cc *CLIContext) Close() {
	if cc.logCloser != nil {
		cc.logCloser.Close()
	}
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "propsync",
		Short: "Offline-first sync client for PropScout",
		Long: `Keeps the local PropScout database in sync with the server.

Local writes are queued and pushed when the server is reachable; server
changes are pulled incrementally and merged by last-writer-wins.`,
		Version: version,
		// Errors and usage are printed by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := loadCLIContext()
			if err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if cc, ok := cmd.Context().Value(cliContextKey{}).(*CLIContext); ok {
				cc.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagServerURL, "server", "", "server root URL (overrides server_url)")
	cmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "local database path (overrides db_path)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newQueueCmd())
	cmd.AddCommand(newCursorCmd())
	cmd.AddCommand(newEnqueueCmd())
	cmd.AddCommand(newKickCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

func currentFlags() CLIFlags {
	return CLIFlags{
		ConfigPath: flagConfigPath,
		ServerURL:  flagServerURL,
		DBPath:     flagDBPath,
		JSON:       flagJSON,
		Verbose:    flagVerbose,
		Quiet:      flagQuiet,
	}
}

// cliOverrides maps the flags onto the CLI layer of the config chain.
func (f CLIFlags) cliOverrides() config.CLIOverrides {
	return config.CLIOverrides{
		ConfigPath: f.ConfigPath,
		ServerURL:  f.ServerURL,
		DBPath:     f.DBPath,
	}
}

// loadCLIContext resolves the effective configuration from the four-layer
// override chain and builds the logger for the invocation.
func loadCLIContext() (*CLIContext, error) {
	flags := currentFlags()

	resolved, err := config.Resolve(config.ReadEnvOverrides(), flags.cliOverrides())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger, closer, err := buildLogger(resolved, flags)
	if err != nil {
		return nil, err
	}

	return &CLIContext{
		Flags:     flags,
		Cfg:       resolved,
		Logger:    logger,
		logCloser: closer,
	}, nil
}

// logLevel maps the configured level name and CLI flags onto an slog level.
// The config file provides the baseline; --verbose and --quiet override it
// because CLI flags always win.
func logLevel(cfgLevel string, flags CLIFlags) slog.Level {
	level := slog.LevelInfo

	switch cfgLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	return level
}

// buildLogger creates the invocation logger. Output goes to log_file when
// set, otherwise to stderr. log_format "auto" picks text on a terminal and
// JSON elsewhere. The level lives in levelVar so the daemon can adjust it
// after a config reload.
func buildLogger(cfg *config.Resolved, flags CLIFlags) (*slog.Logger, io.Closer, error) {
	levelVar.Set(logLevel(cfg.LogLevel, flags))

	var (
		out    io.Writer = os.Stderr
		closer io.Closer
		tty    = isatty.IsTerminal(os.Stderr.Fd())
	)

	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), pidDirPermissions); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}

		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermissions)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}

		out, closer, tty = f, f, false
	}

	opts := &slog.HandlerOptions{Level: levelVar}

	var handler slog.Handler

	switch cfg.LogFormat {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		if tty {
			handler = slog.NewTextHandler(out, opts)
		} else {
			handler = slog.NewJSONHandler(out, opts)
		}
	}

	return slog.New(handler), closer, nil
}

// levelVar is shared by every logger built in this process.
var levelVar = new(slog.LevelVar)

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
