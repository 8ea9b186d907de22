package config

import (
	"fmt"
	"io"
	"strings"
)

// RenderEffective writes the resolved configuration as an annotated summary.
// This powers "propsync config show", which reports the values in effect
// after all four override layers have been applied.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	if r.ConfigPath != "" {
		ew.printf("# Effective configuration (file: %s)\n\n", r.ConfigPath)
	} else {
		ew.printf("# Effective configuration (built-in defaults)\n\n")
	}

	ew.printf("[server]\n")
	ew.printf("  server_url = %q\n", r.ServerURL)
	ew.printf("  token_file = %q\n", r.TokenFile)
	ew.printf("  db_path    = %q\n", r.DBPath)
	ew.printf("\n")

	ew.printf("[sync]\n")
	ew.printf("  sync_interval      = %q\n", r.SyncInterval.String())
	ew.printf("  max_retry_attempts = %d\n", r.MaxRetryAttempts)
	ew.printf("  pull_page_size     = %d\n", r.PullPageSize)
	ew.printf("  max_pull_pages     = %d\n", r.MaxPullPages)
	ew.printf("  synced_tables      = [%s]\n", joinQuoted(r.SyncedTables))
	ew.printf("  websocket          = %t\n", r.Websocket)
	ew.printf("\n")

	ew.printf("[connectivity]\n")
	ew.printf("  connectivity_probe_interval = %q\n", r.ProbeInterval.String())

	if r.CheckURL != "" {
		ew.printf("  connectivity_check_url      = %q\n", r.CheckURL)
	}

	ew.printf("\n")

	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", r.LogLevel)
	ew.printf("  log_format = %q\n", r.LogFormat)

	if r.LogFile != "" {
		ew.printf("  log_file   = %q\n", r.LogFile)
	}

	ew.printf("\n")

	ew.printf("[network]\n")
	ew.printf("  connect_timeout     = %q\n", r.ConnectTimeout.String())
	ew.printf("  request_timeout     = %q\n", r.RequestTimeout.String())
	ew.printf("  max_request_retries = %d\n", r.MaxRequestRetries)
	ew.printf("  user_agent          = %q\n", r.UserAgent)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

// joinQuoted formats a string slice as comma-separated quoted values.
func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}
