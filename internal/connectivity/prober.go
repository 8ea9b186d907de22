package connectivity

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultProbeInterval = 15 * time.Second
	defaultProbeTimeout  = 5 * time.Second
)

// Updater receives connectivity reports. *Monitor implements it.
type Updater interface {
	Update(State)
}

// Prober polls a health URL and reports the result to an Updater. A
// transport error means not connected; any HTTP response means connected,
// with the internet considered reachable below status 500.
type Prober struct {
	URL      string
	Client   *http.Client
	Interval time.Duration
	Timeout  time.Duration
	Target   Updater
	Logger   *slog.Logger
}

// Probe performs one check and returns the resulting state without
// reporting it.
func (p *Prober) Probe(ctx context.Context) State {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		p.logger().Warn("connectivity probe request invalid", slog.String("error", err.Error()))
		return State{}
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		p.logger().Debug("connectivity probe failed",
			slog.String("url", p.URL),
			slog.String("error", err.Error()),
		)

		return State{}
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	resp.Body.Close()

	return State{
		Connected:         true,
		InternetReachable: Reachable(resp.StatusCode < http.StatusInternalServerError),
	}
}

// Run probes immediately and then every Interval until ctx is canceled.
func (p *Prober) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = defaultProbeInterval
	}

	p.logger().Info("connectivity prober started",
		slog.String("url", p.URL),
		slog.Duration("interval", interval),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		st := p.Probe(ctx)
		if ctx.Err() != nil {
			return nil
		}

		p.Target.Update(st)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Prober) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}

	return p.Logger
}
