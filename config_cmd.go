package main

import (

	"github.com/spf13/cobra"

	"github.com/propscout/propsync/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	})

	return cmd
}

// configOutput is the --json shape of the effective config. Durations are
// rendered as strings so the output round-trips into the config file.
type configOutput struct {
	ConfigPath string `json:"config_path"`

	ServerURL string `json:"server_url"`
	TokenFile string `json:"token_file"`
	DBPath    string `json:"db_path"`

	SyncInterval     string   `json:"sync_interval"`
	MaxRetryAttempts int      `json:"max_retry_attempts"`
	PullPageSize     int      `json:"pull_page_size"`
	MaxPullPages     int      `json:"max_pull_pages"`
	SyncedTables     []string `json:"synced_tables"`
	Websocket        bool     `json:"websocket"`

	ProbeInterval string `json:"connectivity_probe_interval"`
	CheckURL      string `json:"connectivity_check_url"`

	LogLevel  string `json:"log_level"`
	LogFile   string `json:"log_file"`
	LogFormat string `json:"log_format"`

	ConnectTimeout    string `json:"connect_timeout"`
	RequestTimeout    string `json:"request_timeout"`
	MaxRequestRetries int    `json:"max_request_retries"`
	UserAgent         string `json:"user_agent"`
}

func newConfigOutput(r *config.Resolved) configOutput {
	return configOutput{
		ConfigPath:        r.ConfigPath,
		ServerURL:         r.ServerURL,
		TokenFile:         r.TokenFile,
		DBPath:            r.DBPath,
		SyncInterval:      r.SyncInterval.String(),
		MaxRetryAttempts:  r.MaxRetryAttempts,
		PullPageSize:      r.PullPageSize,
		MaxPullPages:      r.MaxPullPages,
		SyncedTables:      r.SyncedTables,
		Websocket:         r.Websocket,
		ProbeInterval:     r.ProbeInterval.String(),
		CheckURL:          r.CheckURL,
		LogLevel:          r.LogLevel,
		LogFile:           r.LogFile,
		LogFormat:         r.LogFormat,
		ConnectTimeout:    r.ConnectTimeout.String(),
		RequestTimeout:    r.RequestTimeout.String(),
		MaxRequestRetries: r.MaxRequestRetries,
		UserAgent:         r.UserAgent,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), newConfigOutput(cc.Cfg))
	}

	return config.RenderEffective(cc.Cfg, cmd.OutOrStdout())
}
