package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
)

// Headers the service honours on a forced update.
const (
	HeaderForceOverwrite  = "X-Force-Overwrite"
	HeaderClientUpdatedAt = "X-Client-Updated-At"
)

// RemoteRecord is a record as read back from the service. Data keeps the
// full JSON object; ID and UpdatedAt are lifted out for conflict checks.
type RemoteRecord struct {
	ID        string
	UpdatedAt int64
	Data      json.RawMessage
}

// UpdateOptions controls a PUT.
type UpdateOptions struct {
	// Force asks the server to overwrite its copy even when it is newer.
	Force bool
	// LocalUpdatedAt is sent alongside Force so the server can record the
	// client's view of the write time.
	LocalUpdatedAt int64
}

// CreateRecord POSTs payload to the table collection. A create is not
// idempotent, so it is sent once; the mutation queue retries it on a later
// cycle.
func (c *Client) CreateRecord(ctx context.Context, table string, payload []byte) error {
	c.logger.Debug("creating remote record", slog.String("table", table))

	return c.discard(c.do(ctx, http.MethodPost, collectionPath(table), payload, nil, 0))
}

// GetRecord reads a single record. Returns an error wrapping ErrNotFound when
// the server has no such record.
func (c *Client) GetRecord(ctx context.Context, table, id string) (*RemoteRecord, error) {
	resp, err := c.Do(ctx, http.MethodGet, recordPath(table, id), nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("api: reading %s/%s: %w", table, id, err)
	}

	var head struct {
		ID        string `json:"id"`
		UpdatedAt int64  `json:"updated_at"`
	}

	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("api: decoding %s/%s: %w", table, id, err)
	}

	return &RemoteRecord{ID: head.ID, UpdatedAt: head.UpdatedAt, Data: data}, nil
}

// UpdateRecord PUTs payload over the record.
func (c *Client) UpdateRecord(ctx context.Context, table, id string, payload []byte, opts UpdateOptions) error {
	var header http.Header

	if opts.Force {
		header = http.Header{}
		header.Set(HeaderForceOverwrite, "true")
		header.Set(HeaderClientUpdatedAt, strconv.FormatInt(opts.LocalUpdatedAt, 10))
	}

	c.logger.Debug("updating remote record",
		slog.String("table", table),
		slog.String("id", id),
		slog.Bool("force", opts.Force),
	)

	return c.discard(c.Do(ctx, http.MethodPut, recordPath(table, id), payload, header))
}

// DeleteRecord deletes the record. A missing record surfaces as ErrNotFound;
// callers decide whether that counts as success.
func (c *Client) DeleteRecord(ctx context.Context, table, id string) error {
	c.logger.Debug("deleting remote record",
		slog.String("table", table),
		slog.String("id", id),
	)

	return c.discard(c.Do(ctx, http.MethodDelete, recordPath(table, id), nil, nil))
}

// discard drains and closes a successful response.
func (c *Client) discard(resp *http.Response, err error) error {
	if err != nil {
		return err
	}

	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.Body.Close()
}

func collectionPath(table string) string {
	return "/" + url.PathEscape(table)
}

func recordPath(table, id string) string {
	return "/" + url.PathEscape(table) + "/" + url.PathEscape(id)
}
