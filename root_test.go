package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propscout/propsync/internal/config"
)

// Global flag reset pattern: newRootCmd() binds flags via StringVar/BoolVar,
// which reset the global flag variables to their zero values. Tests drive
// the CLI through cmd.SetArgs() + Execute so Cobra parses flags as it does
// for a real invocation.

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(testLogWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type testLogWriter struct {
	t *testing.T
}

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimRight(string(p), "\n"))

	return len(p), nil
}

// cliEnv isolates a test from the caller's environment and writes a config
// file. extra is appended to the file verbatim.
type cliEnv struct {
	Dir        string
	ConfigPath string
	DBPath     string
	TokenPath  string
}

func newCLIEnv(t *testing.T, extra string) *cliEnv {
	t.Helper()

	dir := t.TempDir()

	t.Setenv(config.EnvConfig, "")
	t.Setenv(config.EnvServerURL, "")
	t.Setenv(config.EnvDBPath, "")
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg-config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "xdg-data"))

	env := &cliEnv{
		Dir:        dir,
		ConfigPath: filepath.Join(dir, "config.toml"),
		DBPath:     filepath.Join(dir, "state.db"),
		TokenPath:  filepath.Join(dir, "token.json"),
	}

	content := `db_path = "` + env.DBPath + `"
token_file = "` + env.TokenPath + `"
log_level = "error"
log_format = "text"
` + extra

	require.NoError(t, os.WriteFile(env.ConfigPath, []byte(content), 0o600))

	return env
}

// run executes the CLI with --config pointing at the env's file and returns
// what the command wrote to stdout.
func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()

	var out bytes.Buffer

	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", e.ConfigPath, "--quiet"}, args...))

	err := cmd.ExecuteContext(context.Background())

	return out.String(), err
}

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	expected := []string{"sync", "watch", "queue", "cursor", "enqueue", "kick", "config"}
	for _, name := range expected {
		found := false

		for _, sub := range cmd.Commands() {
			if sub.Name() == name {
				found = true

				break
			}
		}

		assert.True(t, found, "expected subcommand %q not found", name)
	}
}

func TestNewRootCmd_PersistentFlags(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"config", "server", "db", "json", "verbose", "quiet"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "expected persistent flag %q not found", name)
	}
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		name  string
		cfg   string
		flags CLIFlags
		want  slog.Level
	}{
		{"default", "info", CLIFlags{}, slog.LevelInfo},
		{"config debug", "debug", CLIFlags{}, slog.LevelDebug},
		{"config warn", "warn", CLIFlags{}, slog.LevelWarn},
		{"config error", "error", CLIFlags{}, slog.LevelError},
		{"verbose overrides", "error", CLIFlags{Verbose: true}, slog.LevelDebug},
		{"quiet overrides", "debug", CLIFlags{Quiet: true}, slog.LevelError},
		{"quiet beats verbose", "info", CLIFlags{Verbose: true, Quiet: true}, slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, logLevel(tt.cfg, tt.flags))
		})
	}
}

func TestBuildLogger_LogFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "propsync.log")

	logger, closer, err := buildLogger(&config.Resolved{
		LogLevel:  "info",
		LogFile:   path,
		LogFormat: "json",
	}, CLIFlags{})
	require.NoError(t, err)
	require.NotNil(t, closer)

	logger.Info("hello", slog.String("k", "v"))
	logger.Debug("hidden")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "v", entry["k"])
}

func TestBuildLogger_LogFileAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "propsync.log")
	cfg := &config.Resolved{LogLevel: "info", LogFile: path, LogFormat: "text"}

	for _, msg := range []string{"first", "second"} {
		logger, closer, err := buildLogger(cfg, CLIFlags{})
		require.NoError(t, err)

		logger.Info(msg)
		require.NoError(t, closer.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "msg=first")
	assert.Contains(t, string(data), "msg=second")
}

func TestBuildLogger_Stderr(t *testing.T) {
	logger, closer, err := buildLogger(&config.Resolved{LogLevel: "warn", LogFormat: "auto"}, CLIFlags{})
	require.NoError(t, err)
	assert.Nil(t, closer)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
}

func TestMustCLIContext_PanicsWhenMissing(t *testing.T) {
	assert.Panics(t, func() { mustCLIContext(context.Background()) })
}

func TestRootCmd_BadConfigFails(t *testing.T) {
	env := newCLIEnv(t, `sync_interval = "soon"`)

	_, err := env.run(t, "config", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync_interval")
}

func TestConfigShow_FlagsOverrideFile(t *testing.T) {
	env := newCLIEnv(t, `server_url = "https://file.example.com"`)
	otherDB := filepath.Join(env.Dir, "other.db")

	out, err := env.run(t, "--json", "--server", "https://flag.example.com/", "--db", otherDB, "config", "show")
	require.NoError(t, err)

	var got configOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))

	assert.Equal(t, env.ConfigPath, got.ConfigPath)
	assert.Equal(t, "https://flag.example.com", got.ServerURL)
	assert.Equal(t, otherDB, got.DBPath)
	assert.Equal(t, "https://flag.example.com/health", got.CheckURL)
	assert.Equal(t, "30s", got.SyncInterval)
}

func TestConfigShow_Text(t *testing.T) {
	env := newCLIEnv(t, `server_url = "https://file.example.com"`)

	out, err := env.run(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "https://file.example.com")
}
