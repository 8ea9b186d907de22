package main

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/propscout/propsync/internal/api"
	"github.com/propscout/propsync/internal/config"
	"github.com/propscout/propsync/internal/connectivity"
	"github.com/propscout/propsync/internal/store"
	"github.com/propscout/propsync/internal/sync"
	"github.com/propscout/propsync/internal/tokenfile"
)

// syncSession bundles what a sync or watch invocation needs: the open store,
// the API client, a connectivity monitor and the engine over them. Close
// must be called to release the store.
type syncSession struct {
	Store   *store.Store
	Client  *api.Client
	Token   *tokenfile.Source
	Monitor *connectivity.Monitor
	Prober  *connectivity.Prober
	Bus     *sync.Bus
	Engine  *sync.Engine
}

// newHTTPClient builds the transport for API and probe traffic from the
// network settings.
func newHTTPClient(cfg *config.Resolved) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext

	return &http.Client{Transport: transport, Timeout: cfg.RequestTimeout}
}

// openStore opens the local database named by the config.
func openStore(ctx context.Context, cc *CLIContext) (*store.Store, error) {
	st, err := store.Open(ctx, cc.Cfg.DBPath, cc.Logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	return st, nil
}

// syncedTables converts the configured table names.
func syncedTables(cfg *config.Resolved) ([]store.Table, error) {
	tables := make([]store.Table, 0, len(cfg.SyncedTables))

	for _, name := range cfg.SyncedTables {
		t, err := store.ParseTable(name)
		if err != nil {
			return nil, fmt.Errorf("synced_tables: %w", err)
		}

		tables = append(tables, t)
	}

	return tables, nil
}

// engineConfig maps the resolved config onto engine options.
func engineConfig(cfg *config.Resolved) (sync.EngineConfig, error) {
	tables, err := syncedTables(cfg)
	if err != nil {
		return sync.EngineConfig{}, err
	}

	return sync.EngineConfig{
		SyncInterval:     cfg.SyncInterval,
		MaxRetryAttempts: cfg.MaxRetryAttempts,
		Pull: sync.PullOptions{
			Tables:   tables,
			PageSize: cfg.PullPageSize,
			MaxPages: cfg.MaxPullPages,
		},
	}, nil
}

// newSyncSession opens the store and wires the engine. The monitor starts
// offline; callers probe or run the prober to bring it up.
func newSyncSession(ctx context.Context, cc *CLIContext) (*syncSession, error) {
	cfg := cc.Cfg

	if err := cfg.RequireServer(); err != nil {
		return nil, err
	}

	engCfg, err := engineConfig(cfg)
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cc)
	if err != nil {
		return nil, err
	}

	httpClient := newHTTPClient(cfg)
	token := tokenfile.NewSource(cfg.TokenFile)

	client := api.NewClient(cfg.ServerURL, httpClient, token, cc.Logger, cfg.UserAgent)
	client.SetMaxRetries(cfg.MaxRequestRetries)

	monitor := connectivity.NewMonitor(false, cc.Logger)
	bus := sync.NewBus(cc.Logger)

	engCfg.Store = st
	engCfg.Remote = client
	engCfg.Connectivity = monitor
	engCfg.Bus = bus
	engCfg.Logger = cc.Logger

	engine, err := sync.NewEngine(&engCfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &syncSession{
		Store:   st,
		Client:  client,
		Token:   token,
		Monitor: monitor,
		Prober: &connectivity.Prober{
			URL:      cfg.CheckURL,
			Client:   httpClient,
			Interval: cfg.ProbeInterval,
			Target:   monitor,
			Logger:   cc.Logger,
		},
		Bus:    bus,
		Engine: engine,
	}, nil
}

// Close stops the engine and closes the store.
func (s *syncSession) Close() error {
	s.Engine.Shutdown()

	return s.Store.Close()
}
