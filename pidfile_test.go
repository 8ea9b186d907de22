package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propscout/propsync/internal/config"
)

func dbConfig(t *testing.T, name string) *config.Resolved {
	t.Helper()

	return &config.Resolved{DBPath: filepath.Join(t.TempDir(), name, "state.db")}
}

func TestPIDFilePath(t *testing.T) {
	t.Parallel()

	assert.Empty(t, pidFilePath(nil))
	assert.Empty(t, pidFilePath(&config.Resolved{}))
	assert.Equal(t, filepath.Join("/var", "lib", "propsync", "propsync.pid"),
		pidFilePath(&config.Resolved{DBPath: "/var/lib/propsync/propsync.db"}))
}

func TestWritePIDFile_LockLifecycle(t *testing.T) {
	t.Parallel()

	// The database directory does not exist yet; the lock creates it.
	path := pidFilePath(dbConfig(t, "fresh"))

	release, err := writePIDFile(path)
	require.NoError(t, err)

	pid, err := readPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	again, err := writePIDFile(path)
	require.Error(t, err, "second watch on the same database")
	assert.Nil(t, again)
	assert.Contains(t, err.Error(), "already running")

	release()

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "release removes the PID file")

	// Once released the database can be watched again.
	release, err = writePIDFile(path)
	require.NoError(t, err)
	release()
}

func TestWritePIDFile_SeparateDatabasesDoNotContend(t *testing.T) {
	t.Parallel()

	releaseA, err := writePIDFile(pidFilePath(dbConfig(t, "a")))
	require.NoError(t, err)
	defer releaseA()

	releaseB, err := writePIDFile(pidFilePath(dbConfig(t, "b")))
	require.NoError(t, err)
	defer releaseB()
}

func TestWritePIDFile_NoDatabaseConfigured(t *testing.T) {
	t.Parallel()

	release, err := writePIDFile(pidFilePath(&config.Resolved{}))
	require.Error(t, err)
	assert.Nil(t, release)
	assert.Contains(t, err.Error(), "no database path")
}

func TestReadPIDFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		want    int
		wantErr string
	}{
		{name: "trailing newline", content: "4242\n", want: 4242},
		{name: "surrounding space", content: "  17 ", want: 17},
		{name: "garbage", content: "propsync\n", wantErr: "invalid PID"},
		{name: "empty", content: "", wantErr: "invalid PID"},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strconv.Itoa(i)+".pid")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), pidFilePermissions))

			got, err := readPIDFile(path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("missing", func(t *testing.T) {
		_, err := readPIDFile(filepath.Join(dir, "absent.pid"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestSendSIGHUP_WithoutDaemon(t *testing.T) {
	t.Parallel()

	t.Run("no PID file", func(t *testing.T) {
		err := sendSIGHUP(pidFilePath(dbConfig(t, "idle")))
		assert.ErrorIs(t, err, errNoDaemon)
	})

	t.Run("stale PID file is removed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), pidFileName)
		require.NoError(t, os.WriteFile(path, []byte("999999999\n"), pidFilePermissions))

		err := sendSIGHUP(path)
		require.ErrorIs(t, err, errNoDaemon)
		assert.Contains(t, err.Error(), "stale")

		_, statErr := os.Stat(path)
		assert.True(t, os.IsNotExist(statErr))
	})
}

func TestSendSIGHUP_ReachesLockHolder(t *testing.T) {
	t.Parallel()

	// This process plays the daemon; trap the signal so it survives.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	path := pidFilePath(dbConfig(t, "daemon"))

	release, err := writePIDFile(path)
	require.NoError(t, err)
	defer release()

	require.NoError(t, sendSIGHUP(path))
	assert.Equal(t, syscall.SIGHUP, <-sigCh)
}
