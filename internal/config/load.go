package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ErrNoServer is returned by RequireServer when server_url is unset.
var ErrNoServer = errors.New("server_url is not configured (set it in the config file, " +
	EnvServerURL + " or --server)")

// Load reads and parses a TOML config file and validates it. Unknown keys
// are fatal errors with "did you mean?" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// Decoding into a fresh slice keeps a file-provided synced_tables from
	// appending to the default one.
	cfg.SyncedTables = nil

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if !md.IsDefined("synced_tables") {
		cfg.SyncedTables = defaultSyncedTables()
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// ConfigPath picks the config file path: CLI > env > platform default.
func ConfigPath(env EnvOverrides, cli CLIOverrides) string {
	if cli.ConfigPath != "" {
		return cli.ConfigPath
	}

	if env.ConfigPath != "" {
		return env.ConfigPath
	}

	return DefaultConfigPath()
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	cfgPath := ConfigPath(env, cli)

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	return ResolveConfig(cfg, cfgPath, env, cli)
}

// ResolveConfig applies env and CLI overrides to an already loaded Config.
// The daemon uses it to rebuild the effective config after a file reload.
func ResolveConfig(cfg *Config, cfgPath string, env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	r := &Resolved{
		ConfigPath:        cfgPath,
		ServerURL:         cfg.ServerURL,
		TokenFile:         cfg.TokenFile,
		DBPath:            cfg.DBPath,
		MaxRetryAttempts:  cfg.MaxRetryAttempts,
		PullPageSize:      cfg.PullPageSize,
		MaxPullPages:      cfg.MaxPullPages,
		SyncedTables:      slices.Clone(cfg.SyncedTables),
		Websocket:         cfg.Websocket,
		CheckURL:          cfg.ConnectivityCheckURL,
		LogLevel:          cfg.LogLevel,
		LogFile:           cfg.LogFile,
		LogFormat:         cfg.LogFormat,
		MaxRequestRetries: cfg.MaxRequestRetries,
		UserAgent:         cfg.UserAgent,
	}

	// Environment layer.
	if env.ServerURL != "" {
		r.ServerURL = env.ServerURL
	}

	if env.DBPath != "" {
		r.DBPath = env.DBPath
	}

	// CLI layer.
	if cli.ServerURL != "" {
		r.ServerURL = cli.ServerURL
	}

	if cli.DBPath != "" {
		r.DBPath = cli.DBPath
	}

	r.ServerURL = strings.TrimRight(r.ServerURL, "/")

	// Durations were validated by Load; values from DefaultConfig are known good.
	var errs []error

	parse := func(field, v string) time.Duration {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q: %w", field, v, err))
		}

		return d
	}

	r.SyncInterval = parse("sync_interval", cfg.SyncInterval)
	r.ProbeInterval = parse("connectivity_probe_interval", cfg.ConnectivityProbeInterval)
	r.ConnectTimeout = parse("connect_timeout", cfg.ConnectTimeout)
	r.RequestTimeout = parse("request_timeout", cfg.RequestTimeout)

	// Derived defaults.
	if r.DBPath == "" {
		r.DBPath = DefaultDBPath()
	}

	if r.TokenFile == "" {
		r.TokenFile = DefaultTokenPath()
	}

	r.DBPath = expandHome(r.DBPath)
	r.TokenFile = expandHome(r.TokenFile)
	r.LogFile = expandHome(r.LogFile)

	if r.CheckURL == "" && r.ServerURL != "" {
		r.CheckURL = r.ServerURL + defaultHealthPath
	}

	errs = append(errs, ValidateResolved(r))

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return r, nil
}

// RequireServer reports ErrNoServer when the resolved config cannot reach
// a remote service.
func (r *Resolved) RequireServer() error {
	if r.ServerURL == "" {
		return ErrNoServer
	}

	return nil
}

// NotifyURL returns the websocket endpoint for change notifications.
func (r *Resolved) NotifyURL() string {
	u, err := url.Parse(r.ServerURL)
	if err != nil {
		return ""
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	u.Path = strings.TrimRight(u.Path, "/") + "/sync/notify"

	return u.String()
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}

	return filepath.Join(home, p[2:])
}
