package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig    = "PROPSYNC_CONFIG"
	EnvServerURL = "PROPSYNC_SERVER_URL"
	EnvDBPath    = "PROPSYNC_DB_PATH"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // PROPSYNC_CONFIG: override config file path
	ServerURL  string // PROPSYNC_SERVER_URL: remote service root
	DBPath     string // PROPSYNC_DB_PATH: local database file
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		ServerURL:  os.Getenv(EnvServerURL),
		DBPath:     os.Getenv(EnvDBPath),
	}
}
