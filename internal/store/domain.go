package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// ErrRecordNotFound is returned by GetRecord when no local row exists.
var ErrRecordNotFound = errors.New("store: record not found")

// SQL statements for the domain tables. Table names are never taken from
// user input without ParseTable validation.
const (
	sqlUpsertScanned = `INSERT INTO scanned_properties
		(id, address, latitude, longitude, parcel_id, estimated_value, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		 address = excluded.address,
		 latitude = excluded.latitude,
		 longitude = excluded.longitude,
		 parcel_id = excluded.parcel_id,
		 estimated_value = excluded.estimated_value,
		 notes = excluded.notes,
		 created_at = excluded.created_at,
		 updated_at = excluded.updated_at`

	sqlUpsertPortfolio = `INSERT INTO portfolio_properties
		(id, address, purchase_price, monthly_rent, monthly_expenses, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		 address = excluded.address,
		 purchase_price = excluded.purchase_price,
		 monthly_rent = excluded.monthly_rent,
		 monthly_expenses = excluded.monthly_expenses,
		 status = excluded.status,
		 created_at = excluded.created_at,
		 updated_at = excluded.updated_at`

	sqlUpsertPreference = `INSERT INTO user_preferences (id, value, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		 value = excluded.value,
		 created_at = excluded.created_at,
		 updated_at = excluded.updated_at`

	sqlGetScanned = `SELECT id, address, latitude, longitude, parcel_id, estimated_value, notes,
		created_at, updated_at FROM scanned_properties WHERE id = ?`

	sqlGetPortfolio = `SELECT id, address, purchase_price, monthly_rent, monthly_expenses, status,
		created_at, updated_at FROM portfolio_properties WHERE id = ?`

	sqlGetPreference = `SELECT id, value, created_at, updated_at FROM user_preferences WHERE id = ?`
)

// Change is one decoded record of a pull page.
type Change struct {
	Table     Table
	RecordID  string
	Action    Action
	Record    Record // nil for deletes
	UpdatedAt int64
}

// NewChange decodes a pull record into a Change. data may be empty for deletes.
func NewChange(table Table, id string, action Action, data []byte, createdAt, updatedAt int64) (Change, error) {
	if _, err := ParseTable(string(table)); err != nil {
		return Change{}, err
	}

	if _, err := ParseAction(string(action)); err != nil {
		return Change{}, err
	}

	c := Change{Table: table, RecordID: id, Action: action, UpdatedAt: updatedAt}

	if action == ActionDelete {
		if id == "" {
			return Change{}, fmt.Errorf("store: %s delete without id", table)
		}

		return c, nil
	}

	if len(data) == 0 || string(data) == "null" {
		return Change{}, fmt.Errorf("store: %s %s for %q has no data", table, action, id)
	}

	rec, err := decodeStamped(table, data, id, createdAt, updatedAt)
	if err != nil {
		return Change{}, err
	}

	c.Record = rec
	c.RecordID = rec.RecordID()
	c.UpdatedAt = rec.LastUpdated()

	return c, nil
}

// MergePolicy decides whether a remote create/update replaces an existing
// local row with the given updated_at.
type MergePolicy func(c Change, localUpdatedAt int64) bool

// MergeResult counts what ApplyPage did.
type MergeResult struct {
	Inserted int
	Updated  int
	Deleted  int
	Skipped  int
}

// Applied is the number of changes that modified (or confirmed the absence of) a local row.
func (r MergeResult) Applied() int {
	return r.Inserted + r.Updated + r.Deleted
}

// ApplyPage merges a page of remote changes and advances the pull cursor to
// cursor in a single transaction. If any change fails the whole page rolls
// back and the cursor keeps its previous value.
func (s *Store) ApplyPage(ctx context.Context, changes []Change, cursor int64, policy MergePolicy) (MergeResult, error) {
	var res MergeResult

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for i := range changes {
			if err := s.applyChange(ctx, tx, &changes[i], policy, &res); err != nil {
				return fmt.Errorf("store: applying change %d of %d (%s/%s): %w",
					i+1, len(changes), changes[i].Table, changes[i].RecordID, err)
			}
		}

		return s.saveCursor(ctx, tx, cursor)
	})
	if err != nil {
		return MergeResult{}, err
	}

	s.logger.Debug("pull page committed",
		slog.Int("changes", len(changes)),
		slog.Int("inserted", res.Inserted),
		slog.Int("updated", res.Updated),
		slog.Int("deleted", res.Deleted),
		slog.Int("skipped", res.Skipped),
		slog.Int64("cursor", cursor),
	)

	return res, nil
}

func (s *Store) applyChange(ctx context.Context, tx *sql.Tx, c *Change, policy MergePolicy, res *MergeResult) error {
	switch c.Action {
	case ActionDelete:
		if err := deleteRecord(ctx, tx, c.Table, c.RecordID); err != nil {
			return err
		}

		res.Deleted++

		return nil
	case ActionCreate, ActionUpdate:
		if c.Record == nil {
			return fmt.Errorf("%s without record", c.Action)
		}

		localTS, exists, err := localUpdatedAt(ctx, tx, c.Table, c.RecordID)
		if err != nil {
			return err
		}

		if exists && (policy == nil || !policy(*c, localTS)) {
			res.Skipped++
			return nil
		}

		if err := upsertRecord(ctx, tx, c.Record); err != nil {
			return err
		}

		if exists {
			res.Updated++
		} else {
			res.Inserted++
		}

		return nil
	default:
		return fmt.Errorf("unknown action %q", c.Action)
	}
}

// LocalUpdatedAt returns the updated_at of the local row, if any.
func (s *Store) LocalUpdatedAt(ctx context.Context, table Table, id string) (int64, bool, error) {
	return localUpdatedAt(ctx, s.db, table, id)
}

func localUpdatedAt(ctx context.Context, q dbtx, table Table, id string) (int64, bool, error) {
	if _, err := ParseTable(string(table)); err != nil {
		return 0, false, err
	}

	var ts int64

	err := q.QueryRowContext(ctx,
		`SELECT updated_at FROM `+string(table)+` WHERE id = ?`, id).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, fmt.Errorf("store: reading %s/%s updated_at: %w", table, id, err)
	}

	return ts, true, nil
}

// GetRecord loads a local row.
func (s *Store) GetRecord(ctx context.Context, table Table, id string) (Record, error) {
	var (
		rec Record
		err error
	)

	switch table {
	case TableScannedProperties:
		r := &ScannedProperty{}
		err = s.db.QueryRowContext(ctx, sqlGetScanned, id).Scan(
			&r.ID, &r.Address, &r.Latitude, &r.Longitude, &r.ParcelID,
			&r.EstimatedValue, &r.Notes, &r.CreatedAt, &r.UpdatedAt)
		rec = r
	case TablePortfolioProperties:
		r := &PortfolioProperty{}
		err = s.db.QueryRowContext(ctx, sqlGetPortfolio, id).Scan(
			&r.ID, &r.Address, &r.PurchasePrice, &r.MonthlyRent, &r.MonthlyExpenses,
			&r.Status, &r.CreatedAt, &r.UpdatedAt)
		rec = r
	case TableUserPreferences:
		r := &Preference{}
		err = s.db.QueryRowContext(ctx, sqlGetPreference, id).Scan(
			&r.ID, &r.Value, &r.CreatedAt, &r.UpdatedAt)
		rec = r
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, string(table))
	}

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrRecordNotFound, table, id)
	}

	if err != nil {
		return nil, fmt.Errorf("store: reading %s/%s: %w", table, id, err)
	}

	return rec, nil
}

// CountRecords returns the number of rows in a domain table.
func (s *Store) CountRecords(ctx context.Context, table Table) (int, error) {
	if _, err := ParseTable(string(table)); err != nil {
		return 0, err
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+string(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: counting %s: %w", table, err)
	}

	return n, nil
}

func upsertRecord(ctx context.Context, q dbtx, rec Record) error {
	var err error

	switch r := rec.(type) {
	case *ScannedProperty:
		_, err = q.ExecContext(ctx, sqlUpsertScanned,
			r.ID, r.Address, r.Latitude, r.Longitude, r.ParcelID,
			r.EstimatedValue, r.Notes, r.CreatedAt, r.UpdatedAt)
	case *PortfolioProperty:
		_, err = q.ExecContext(ctx, sqlUpsertPortfolio,
			r.ID, r.Address, r.PurchasePrice, r.MonthlyRent, r.MonthlyExpenses,
			r.Status, r.CreatedAt, r.UpdatedAt)
	case *Preference:
		_, err = q.ExecContext(ctx, sqlUpsertPreference,
			r.ID, r.Value, r.CreatedAt, r.UpdatedAt)
	default:
		return fmt.Errorf("store: unsupported record type %T", rec)
	}

	if err != nil {
		return fmt.Errorf("store: upserting %s/%s: %w", rec.Table(), rec.RecordID(), err)
	}

	return nil
}

func deleteRecord(ctx context.Context, q dbtx, table Table, id string) error {
	if _, err := ParseTable(string(table)); err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM `+string(table)+` WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: deleting %s/%s: %w", table, id, err)
	}

	return nil
}
