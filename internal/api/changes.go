package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
)

// changesPath is the pull endpoint.
const changesPath = "/sync/changes"

// Reserved keys of a changes response; every other key is a table.
const (
	keyServerTime = "server_time"
	keyHasMore    = "has_more"
	keyNextSince  = "next_since"
)

// ChangesRequest asks for changes strictly after Since. A nil Since requests
// the full data set.
type ChangesRequest struct {
	Since  *int64   `json:"since"`
	Tables []string `json:"tables"`
	Limit  int      `json:"limit"`
}

// SyncRecord is one change as reported by the server.
type SyncRecord struct {
	ID        string          `json:"id"`
	TableName string          `json:"table_name"`
	Action    string          `json:"action"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt int64           `json:"updated_at"`
	CreatedAt int64           `json:"created_at"`
}

// ChangesPage is one page of the change feed.
type ChangesPage struct {
	Records    map[string][]SyncRecord
	ServerTime int64
	HasMore    bool
	NextSince  *int64
}

// Cursor returns the value the pull cursor should advance to once this page
// has been merged: next_since when the server sent one, else server_time.
func (p *ChangesPage) Cursor() int64 {
	if p.NextSince != nil {
		return *p.NextSince
	}

	return p.ServerTime
}

// Tables returns the table keys present in the page, sorted.
func (p *ChangesPage) Tables() []string {
	out := make([]string, 0, len(p.Records))
	for t := range p.Records {
		out = append(out, t)
	}

	slices.Sort(out)

	return out
}

// Len is the number of records across all tables.
func (p *ChangesPage) Len() int {
	n := 0
	for _, recs := range p.Records {
		n += len(recs)
	}

	return n
}

// Changes fetches one page of the change feed.
func (c *Client) Changes(ctx context.Context, req ChangesRequest) (*ChangesPage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("api: encoding changes request: %w", err)
	}

	c.logger.Debug("fetching changes page",
		slog.Bool("initial_sync", req.Since == nil),
		slog.Int("limit", req.Limit),
		slog.Any("tables", req.Tables),
	)

	resp, err := c.Do(ctx, http.MethodPost, changesPath, body, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("api: decoding changes response: %w", err)
	}

	page, err := parseChangesPage(raw)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("fetched changes page",
		slog.Int("records", page.Len()),
		slog.Int64("server_time", page.ServerTime),
		slog.Bool("has_more", page.HasMore),
	)

	return page, nil
}

func parseChangesPage(raw map[string]json.RawMessage) (*ChangesPage, error) {
	page := &ChangesPage{Records: make(map[string][]SyncRecord)}

	for key, val := range raw {
		var err error

		switch key {
		case keyServerTime:
			err = json.Unmarshal(val, &page.ServerTime)
		case keyHasMore:
			err = json.Unmarshal(val, &page.HasMore)
		case keyNextSince:
			if string(val) != "null" {
				var ns int64
				err = json.Unmarshal(val, &ns)
				page.NextSince = &ns
			}
		default:
			var recs []SyncRecord
			err = json.Unmarshal(val, &recs)
			page.Records[key] = recs
		}

		if err != nil {
			return nil, fmt.Errorf("api: decoding changes field %q: %w", key, err)
		}
	}

	if _, ok := raw[keyServerTime]; !ok {
		return nil, fmt.Errorf("api: changes response missing %q", keyServerTime)
	}

	return page, nil
}
