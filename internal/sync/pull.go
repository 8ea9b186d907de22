package sync

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/text/unicode/norm"

	"github.com/propscout/propsync/internal/api"
	"github.com/propscout/propsync/internal/store"
)

// Pull defaults.
const (
	DefaultPullPageSize = 100
	DefaultMaxPullPages = 50
)

// PullOptions configures a Puller. Zero values select the defaults and all
// known tables.
type PullOptions struct {
	Tables   []store.Table
	PageSize int
	MaxPages int
}

// Puller merges remote changes since the persisted cursor into the local
// store, one page per transaction.
type Puller struct {
	store    *store.Store
	fetcher  ChangesFetcher
	bus      *Bus
	tables   []store.Table
	pageSize int
	maxPages int
	logger   *slog.Logger
}

// NewPuller creates a Puller.
func NewPuller(st *store.Store, fetcher ChangesFetcher, bus *Bus, opts PullOptions, logger *slog.Logger) *Puller {
	if len(opts.Tables) == 0 {
		opts.Tables = store.AllTables()
	}

	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPullPageSize
	}

	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPullPages
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Puller{
		store:    st,
		fetcher:  fetcher,
		bus:      bus,
		tables:   opts.Tables,
		pageSize: opts.PageSize,
		maxPages: opts.MaxPages,
		logger:   logger,
	}
}

// Pull fetches and merges pages until the server reports no more. It
// returns the number of local rows changed. On error, pages merged before
// the failure stay merged and are counted; the failed page is re-delivered
// next time because its cursor was never saved.
func (p *Puller) Pull(ctx context.Context) (int, error) {
	cursor, ok, err := p.store.Cursor(ctx)
	if err != nil {
		return 0, fmt.Errorf("sync: loading pull cursor: %w", err)
	}

	var since *int64
	if ok {
		since = &cursor
	}

	tableNames := make([]string, len(p.tables))
	for i, t := range p.tables {
		tableNames[i] = t.String()
	}

	merged := 0

	for page := 0; page < p.maxPages; page++ {
		resp, err := p.fetcher.Changes(ctx, api.ChangesRequest{
			Since:  since,
			Tables: tableNames,
			Limit:  p.pageSize,
		})
		if err != nil {
			return merged, fmt.Errorf("sync: fetching changes page %d: %w", page+1, err)
		}

		changes, err := p.decodePage(resp)
		if err != nil {
			return merged, fmt.Errorf("sync: decoding changes page %d: %w", page+1, err)
		}

		next := resp.Cursor()

		res, err := p.store.ApplyPage(ctx, changes, next, pullPolicy)
		if err != nil {
			return merged, fmt.Errorf("sync: merging changes page %d: %w", page+1, err)
		}

		merged += res.Applied()

		p.logger.Debug("pulled page",
			slog.Int("page", page+1),
			slog.Int("records", len(changes)),
			slog.Int("inserted", res.Inserted),
			slog.Int("updated", res.Updated),
			slog.Int("deleted", res.Deleted),
			slog.Int("skipped", res.Skipped),
			slog.Int64("cursor", next),
			slog.Bool("has_more", resp.HasMore),
		)

		p.bus.Emit(Event{Type: EventProgress, Phase: PhasePull, Processed: merged, Total: -1})

		if !resp.HasMore {
			p.logger.Info("pull complete", slog.Int("pages", page+1), slog.Int("merged", merged))

			return merged, nil
		}

		if since != nil && next == *since {
			p.logger.Warn("server reported more changes without advancing the cursor, stopping",
				slog.Int64("cursor", next),
			)

			return merged, nil
		}

		since = &next
	}

	p.logger.Warn("pull stopped at page limit, remaining changes deferred to next cycle",
		slog.Int("max_pages", p.maxPages),
		slog.Int("merged", merged),
	)

	return merged, nil
}

// decodePage turns a response page into store changes, tables in the
// configured order.
func (p *Puller) decodePage(resp *api.ChangesPage) ([]store.Change, error) {
	requested := make(map[string]bool, len(p.tables))
	for _, t := range p.tables {
		requested[t.String()] = true
	}

	for _, name := range resp.Tables() {
		if !requested[name] {
			p.logger.Warn("ignoring changes for unrequested table",
				slog.String("table", name),
				slog.Int("records", len(resp.Records[name])),
			)
		}
	}

	changes := make([]store.Change, 0, resp.Len())

	for _, t := range p.tables {
		for _, r := range resp.Records[t.String()] {
			c, err := store.NewChange(t, r.ID, store.Action(r.Action), r.Data, r.CreatedAt, r.UpdatedAt)
			if err != nil {
				return nil, err
			}

			normalizeRecord(c.Record)
			changes = append(changes, c)
		}
	}

	return changes, nil
}

// normalizeRecord rewrites free-text fields to NFC so text authored on
// platforms that emit decomposed forms compares equal locally.
func normalizeRecord(rec store.Record) {
	switch r := rec.(type) {
	case *store.ScannedProperty:
		r.Address = norm.NFC.String(r.Address)
		r.ParcelID = norm.NFC.String(r.ParcelID)
		r.Notes = norm.NFC.String(r.Notes)
	case *store.PortfolioProperty:
		r.Address = norm.NFC.String(r.Address)
		r.Status = norm.NFC.String(r.Status)
	case *store.Preference:
		r.Value = norm.NFC.String(r.Value)
	case nil:
	}
}
