package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/propscout/propsync/internal/store"
)

// Validation range constants.
const (
	minSyncInterval      = 5 * time.Second
	minProbeInterval     = 1 * time.Second
	minConnectTimeout    = 1 * time.Second
	minRequestTimeout    = 1 * time.Second
	minRetryAttempts     = 1
	maxRetryAttempts     = 100
	minPullPageSize      = 1
	maxPullPageSize      = 1000
	minPullPages         = 1
	maxPullPages         = 10000
	maxRequestRetriesCap = 10
)

// Validate checks all configuration values and returns all errors found,
// so a user can fix every problem in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(&cfg.ServerConfig)...)
	errs = append(errs, validateSync(&cfg.SyncConfig)...)
	errs = append(errs, validateConnectivity(&cfg.ConnectivityConfig)...)
	errs = append(errs, validateLogging(&cfg.LoggingConfig)...)
	errs = append(errs, validateNetwork(&cfg.NetworkConfig)...)

	return errors.Join(errs...)
}

// ValidateResolved checks constraints that only make sense after the override
// chain has been applied.
func ValidateResolved(r *Resolved) error {
	var errs []error

	if r.ServerURL != "" {
		if err := validateHTTPURL("server_url", r.ServerURL); err != nil {
			errs = append(errs, err)
		}
	}

	if r.DBPath != "" && !filepath.IsAbs(r.DBPath) {
		errs = append(errs, fmt.Errorf("db_path: must be absolute, got %q", r.DBPath))
	}

	return errors.Join(errs...)
}

func validateServer(s *ServerConfig) []error {
	if s.ServerURL == "" {
		return nil
	}

	if err := validateHTTPURL("server_url", s.ServerURL); err != nil {
		return []error{err}
	}

	return nil
}

func validateHTTPURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s: must be an http(s) URL with a host, got %q", field, raw)
	}

	return nil
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("sync_interval", s.SyncInterval, minSyncInterval)...)
	errs = append(errs, validateIntRange("max_retry_attempts", s.MaxRetryAttempts, minRetryAttempts, maxRetryAttempts)...)
	errs = append(errs, validateIntRange("pull_page_size", s.PullPageSize, minPullPageSize, maxPullPageSize)...)
	errs = append(errs, validateIntRange("max_pull_pages", s.MaxPullPages, minPullPages, maxPullPages)...)

	if len(s.SyncedTables) == 0 {
		errs = append(errs, errors.New("synced_tables: must list at least one table"))
	}

	seen := make(map[string]bool, len(s.SyncedTables))

	for _, t := range s.SyncedTables {
		if _, err := store.ParseTable(t); err != nil {
			errs = append(errs, fmt.Errorf("synced_tables: %w", err))
			continue
		}

		if seen[t] {
			errs = append(errs, fmt.Errorf("synced_tables: %q listed twice", t))
		}

		seen[t] = true
	}

	return errs
}

func validateConnectivity(c *ConnectivityConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("connectivity_probe_interval", c.ConnectivityProbeInterval, minProbeInterval)...)

	if c.ConnectivityCheckURL != "" {
		if err := validateHTTPURL("connectivity_check_url", c.ConnectivityCheckURL); err != nil {
			errs = append(errs, err)
		}
	}

	return errs
}

func validateIntRange(field string, v, lo, hi int) []error {
	if v < lo || v > hi {
		return []error{fmt.Errorf("%s: must be between %d and %d, got %d", field, lo, hi, v)}
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("request_timeout", n.RequestTimeout, minRequestTimeout)...)
	errs = append(errs, validateIntRange("max_request_retries", n.MaxRequestRetries, 0, maxRequestRetriesCap)...)

	if n.UserAgent == "" {
		errs = append(errs, errors.New("user_agent: must not be empty"))
	}

	return errs
}
