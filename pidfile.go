package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/propscout/propsync/internal/config"
)

const (
	pidFilePermissions = 0o644
	pidDirPermissions  = 0o755

	pidFileName = "propsync.pid"
)

// errNoDaemon reports that no watch daemon owns the PID file.
var errNoDaemon = errors.New("no running watch daemon")

// pidFilePath places the daemon PID file next to the database it guards, so
// two daemons on different databases do not contend.
func pidFilePath(cfg *config.Resolved) string {
	if cfg == nil || cfg.DBPath == "" {
		return ""
	}

	return filepath.Join(filepath.Dir(cfg.DBPath), pidFileName)
}

// writePIDFile writes the current process ID to path and takes an exclusive
// flock on it. The returned cleanup removes the file and releases the lock.
// A held lock means another daemon is running on the same database.
func writePIDFile(path string) (cleanup func(), err error) {
	if path == "" {
		return nil, fmt.Errorf("PID file path is empty (no database path configured)")
	}

	if err := os.MkdirAll(filepath.Dir(path), pidDirPermissions); err != nil {
		return nil, fmt.Errorf("creating PID file directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, pidFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening PID file: %w", err)
	}

	fail := func(err error) (func(), error) {
		f.Close()
		return nil, err
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		return fail(fmt.Errorf("another propsync watch is already running (could not lock %s)", path))
	}

	if err := f.Truncate(0); err != nil {
		return fail(fmt.Errorf("truncating PID file: %w", err))
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fail(fmt.Errorf("writing PID file: %w", err))
	}

	if err := f.Sync(); err != nil {
		return fail(fmt.Errorf("syncing PID file: %w", err))
	}

	return func() {
		os.Remove(path)
		f.Close()
	}, nil
}

// readPIDFile reads the PID stored at path.
func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}

	return pid, nil
}

// sendSIGHUP asks the daemon owning pidPath to run a cycle now. A PID file
// whose process is gone is removed. Both "no file" and "stale file" wrap
// errNoDaemon.
func sendSIGHUP(pidPath string) error {
	pid, err := readPIDFile(pidPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w (no PID file at %s)", errNoDaemon, pidPath)
		}

		return err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}

	// Signal 0 probes liveness without delivering anything.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		os.Remove(pidPath)

		return fmt.Errorf("%w (PID %d is not running, stale PID file removed)", errNoDaemon, pid)
	}

	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return fmt.Errorf("sending SIGHUP to daemon (PID %d): %w", pid, err)
	}

	return nil
}
