// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for propsync. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags) over
// a flat set of top-level keys.
package config

import "time"

// Config is the raw configuration parsed from a TOML file. The embedded
// sections only group fields in Go; in the file every key is top-level.
type Config struct {
	ServerConfig
	SyncConfig
	ConnectivityConfig
	LoggingConfig
	NetworkConfig
}

// ServerConfig locates the remote service and the local state.
type ServerConfig struct {
	ServerURL string `toml:"server_url"`
	TokenFile string `toml:"token_file"`
	DBPath    string `toml:"db_path"`
}

// SyncConfig controls scheduling, retry and paging of sync cycles.
type SyncConfig struct {
	SyncInterval     string   `toml:"sync_interval"`
	MaxRetryAttempts int      `toml:"max_retry_attempts"`
	PullPageSize     int      `toml:"pull_page_size"`
	MaxPullPages     int      `toml:"max_pull_pages"`
	SyncedTables     []string `toml:"synced_tables"`
	Websocket        bool     `toml:"websocket"`
}

// ConnectivityConfig controls the reachability prober.
type ConnectivityConfig struct {
	ConnectivityProbeInterval string `toml:"connectivity_probe_interval"`
	ConnectivityCheckURL      string `toml:"connectivity_check_url"`
}

// LoggingConfig controls log output: level, format, and destination.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	ConnectTimeout    string `toml:"connect_timeout"`
	RequestTimeout    string `toml:"request_timeout"`
	MaxRequestRetries int    `toml:"max_request_retries"`
	UserAgent         string `toml:"user_agent"`
}

// CLIOverrides holds values from CLI flags. Empty strings mean "not given".
type CLIOverrides struct {
	ConfigPath string // --config
	ServerURL  string // --server
	DBPath     string // --db
}

// Resolved is the effective configuration after all layers are applied,
// with durations parsed and derived defaults filled in.
type Resolved struct {
	ConfigPath string

	ServerURL string
	TokenFile string
	DBPath    string

	SyncInterval     time.Duration
	MaxRetryAttempts int
	PullPageSize     int
	MaxPullPages     int
	SyncedTables     []string
	Websocket        bool

	ProbeInterval time.Duration
	CheckURL      string

	LogLevel  string
	LogFile   string
	LogFormat string

	ConnectTimeout    time.Duration
	RequestTimeout    time.Duration
	MaxRequestRetries int
	UserAgent         string
}
