package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// cursorKey is the sync_settings row holding the pull cursor.
const cursorKey = "last_pull_timestamp"

const (
	sqlGetSetting = `SELECT value FROM sync_settings WHERE key = ?`

	sqlUpsertSetting = `INSERT INTO sync_settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
		 value = excluded.value,
		 updated_at = excluded.updated_at`

	sqlDeleteSetting = `DELETE FROM sync_settings WHERE key = ?`
)

// Cursor returns the persisted pull cursor. ok is false until the first
// page has been merged.
func (s *Store) Cursor(ctx context.Context) (ts int64, ok bool, err error) {
	var raw string

	err = s.db.QueryRowContext(ctx, sqlGetSetting, cursorKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, fmt.Errorf("store: reading pull cursor: %w", err)
	}

	ts, err = strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("store: parsing pull cursor %q: %w", raw, err)
	}

	return ts, true, nil
}

// ResetCursor forgets the pull cursor so the next pull starts from scratch.
func (s *Store) ResetCursor(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqlDeleteSetting, cursorKey); err != nil {
		return fmt.Errorf("store: resetting pull cursor: %w", err)
	}

	return nil
}

func (s *Store) saveCursor(ctx context.Context, q dbtx, ts int64) error {
	_, err := q.ExecContext(ctx, sqlUpsertSetting, cursorKey, strconv.FormatInt(ts, 10), s.nowMillis())
	if err != nil {
		return fmt.Errorf("store: saving pull cursor: %w", err)
	}

	return nil
}
