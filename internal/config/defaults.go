package config

import "github.com/propscout/propsync/internal/store"

// Default values for configuration options. These are "layer 0" of the
// override chain and work without any config file.
const (
	defaultSyncInterval      = "30s"
	defaultMaxRetryAttempts  = 5
	defaultPullPageSize      = 100
	defaultMaxPullPages      = 50
	defaultProbeInterval     = "15s"
	defaultLogLevel          = "info"
	defaultLogFormat         = "auto"
	defaultConnectTimeout    = "10s"
	defaultRequestTimeout    = "30s"
	defaultMaxRequestRetries = 2
	defaultUserAgent         = "propsync/dev"

	// defaultHealthPath is appended to server_url when no check URL is set.
	defaultHealthPath = "/health"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset keys keep their defaults.
// Paths are left empty and derived at resolve time.
func DefaultConfig() *Config {
	return &Config{
		SyncConfig: SyncConfig{
			SyncInterval:     defaultSyncInterval,
			MaxRetryAttempts: defaultMaxRetryAttempts,
			PullPageSize:     defaultPullPageSize,
			MaxPullPages:     defaultMaxPullPages,
			SyncedTables:     defaultSyncedTables(),
			Websocket:        true,
		},
		ConnectivityConfig: ConnectivityConfig{
			ConnectivityProbeInterval: defaultProbeInterval,
		},
		LoggingConfig: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		NetworkConfig: NetworkConfig{
			ConnectTimeout:    defaultConnectTimeout,
			RequestTimeout:    defaultRequestTimeout,
			MaxRequestRetries: defaultMaxRequestRetries,
			UserAgent:         defaultUserAgent,
		},
	}
}

func defaultSyncedTables() []string {
	tables := store.AllTables()
	out := make([]string, len(tables))

	for i, t := range tables {
		out[i] = string(t)
	}

	return out
}
