package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	platformLinux  = "linux"
	platformDarwin = "darwin"

	appName = "propsync"

	configFileName = "config.toml"
	dbFileName     = "propsync.db"
	tokenFileName  = "token.json"
)

// baseDir describes where one kind of per-user state lives: an XDG
// variable honoured on Linux and the fallback below $HOME elsewhere.
type baseDir struct {
	xdgVar   string
	fallback []string
}

var (
	configBase = baseDir{xdgVar: "XDG_CONFIG_HOME", fallback: []string{".config"}}
	dataBase   = baseDir{xdgVar: "XDG_DATA_HOME", fallback: []string{".local", "share"}}
)

// dir resolves b for the current platform. macOS keeps config and data
// together under Application Support. Returns "" when $HOME is unknown.
func (b baseDir) dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	if runtime.GOOS == platformDarwin {
		return filepath.Join(home, "Library", "Application Support", appName)
	}

	if runtime.GOOS == platformLinux {
		if xdg := os.Getenv(b.xdgVar); xdg != "" {
			return filepath.Join(xdg, appName)
		}
	}

	return filepath.Join(append(append([]string{home}, b.fallback...), appName)...)
}

// DefaultConfigDir holds config.toml (~/.config/propsync on Linux).
func DefaultConfigDir() string { return configBase.dir() }

// DefaultDataDir holds the local database and the token file
// (~/.local/share/propsync on Linux).
func DefaultDataDir() string { return dataBase.dir() }

// DefaultConfigPath returns the full path to the default config file.
func DefaultConfigPath() string {
	return joinIfDir(DefaultConfigDir(), configFileName)
}

// DefaultDBPath returns the default local database path.
func DefaultDBPath() string {
	return joinIfDir(DefaultDataDir(), dbFileName)
}

// DefaultTokenPath returns the default token file path.
func DefaultTokenPath() string {
	return joinIfDir(DefaultDataDir(), tokenFileName)
}

func joinIfDir(dir, name string) string {
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, name)
}
