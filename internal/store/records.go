package store

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Table names a synced domain table. The set is closed: every switch over
// Table in this package and in internal/sync is expected to be exhaustive.
type Table string

// Synced domain tables.
const (
	TableScannedProperties   Table = "scanned_properties"
	TablePortfolioProperties Table = "portfolio_properties"
	TableUserPreferences     Table = "user_preferences"
)

// ErrUnknownTable is returned when a table name is not one of the synced tables.
var ErrUnknownTable = errors.New("store: unknown table")

// AllTables returns every synced table in a stable order.
func AllTables() []Table {
	return []Table{TableScannedProperties, TablePortfolioProperties, TableUserPreferences}
}

// ParseTable validates a table name.
func ParseTable(s string) (Table, error) {
	switch t := Table(s); t {
	case TableScannedProperties, TablePortfolioProperties, TableUserPreferences:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTable, s)
	}
}

// RemoteReadable reports whether the remote service exposes a single-record
// read for the table. Preferences are write-only on the server.
func (t Table) RemoteReadable() bool {
	switch t {
	case TableScannedProperties, TablePortfolioProperties:
		return true
	default:
		return false
	}
}

func (t Table) String() string {
	return string(t)
}

// Action is the kind of mutation recorded in the queue or reported by a pull page.
type Action string

// Mutation actions.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return a, nil
	default:
		return "", fmt.Errorf("store: unknown action %q", s)
	}
}

// Record is a row of one of the synced tables. It is a closed union: the
// only implementations are *ScannedProperty, *PortfolioProperty and
// *Preference.
type Record interface {
	Table() Table
	RecordID() string
	LastUpdated() int64
	fillTimestamps(now int64)
}

// ScannedProperty is a property captured by the field scanner.
type ScannedProperty struct {
	ID             string  `json:"id"`
	Address        string  `json:"address"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	ParcelID       string  `json:"parcel_id,omitempty"`
	EstimatedValue float64 `json:"estimated_value,omitempty"`
	Notes          string  `json:"notes,omitempty"`
	CreatedAt      int64   `json:"created_at"`
	UpdatedAt      int64   `json:"updated_at"`
}

// PortfolioProperty is a property the user owns or tracks for analysis.
type PortfolioProperty struct {
	ID              string  `json:"id"`
	Address         string  `json:"address"`
	PurchasePrice   float64 `json:"purchase_price"`
	MonthlyRent     float64 `json:"monthly_rent"`
	MonthlyExpenses float64 `json:"monthly_expenses"`
	Status          string  `json:"status"`
	CreatedAt       int64   `json:"created_at"`
	UpdatedAt       int64   `json:"updated_at"`
}

// Preference is a single user setting keyed by ID.
type Preference struct {
	ID        string `json:"id"`
	Value     string `json:"value"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

func (*ScannedProperty) Table() Table               { return TableScannedProperties }
func (r *ScannedProperty) RecordID() string         { return r.ID }
func (r *ScannedProperty) LastUpdated() int64       { return r.UpdatedAt }
func (r *ScannedProperty) fillTimestamps(now int64) { stampUnset(&r.CreatedAt, &r.UpdatedAt, now) }

func (*PortfolioProperty) Table() Table               { return TablePortfolioProperties }
func (r *PortfolioProperty) RecordID() string         { return r.ID }
func (r *PortfolioProperty) LastUpdated() int64       { return r.UpdatedAt }
func (r *PortfolioProperty) fillTimestamps(now int64) { stampUnset(&r.CreatedAt, &r.UpdatedAt, now) }

func (*Preference) Table() Table               { return TableUserPreferences }
func (r *Preference) RecordID() string         { return r.ID }
func (r *Preference) LastUpdated() int64       { return r.UpdatedAt }
func (r *Preference) fillTimestamps(now int64) { stampUnset(&r.CreatedAt, &r.UpdatedAt, now) }

// stampUnset fills an unset created_at and updated_at with now. A record
// without updated_at would lose every timestamp comparison.
func stampUnset(createdAt, updatedAt *int64, now int64) {
	if *updatedAt == 0 {
		*updatedAt = now
	}

	if *createdAt == 0 {
		*createdAt = *updatedAt
	}
}

// DecodeRecord decodes a JSON object into the record type for table.
func DecodeRecord(table Table, data []byte) (Record, error) {
	return decodeStamped(table, data, "", 0, 0)
}

// decodeStamped decodes data and then fills id and timestamps from the pull
// envelope where the payload left them empty.
func decodeStamped(table Table, data []byte, id string, createdAt, updatedAt int64) (Record, error) {
	rec, err := newRecord(table)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("store: decoding %s record: %w", table, err)
	}

	stampRecord(rec, id, createdAt, updatedAt)

	if rec.RecordID() == "" {
		return nil, fmt.Errorf("store: decoding %s record: missing id", table)
	}

	return rec, nil
}

func newRecord(table Table) (Record, error) {
	switch table {
	case TableScannedProperties:
		return &ScannedProperty{}, nil
	case TablePortfolioProperties:
		return &PortfolioProperty{}, nil
	case TableUserPreferences:
		return &Preference{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, string(table))
	}
}

// stampRecord fills the identity and timestamps of rec when the payload left
// them empty. Pull pages carry these on the envelope as well as in data.
func stampRecord(rec Record, id string, createdAt, updatedAt int64) {
	switch r := rec.(type) {
	case *ScannedProperty:
		r.ID = firstNonEmpty(r.ID, id)
		r.CreatedAt = firstNonZero(r.CreatedAt, createdAt)
		r.UpdatedAt = firstNonZero(r.UpdatedAt, updatedAt)
	case *PortfolioProperty:
		r.ID = firstNonEmpty(r.ID, id)
		r.CreatedAt = firstNonZero(r.CreatedAt, createdAt)
		r.UpdatedAt = firstNonZero(r.UpdatedAt, updatedAt)
	case *Preference:
		r.ID = firstNonEmpty(r.ID, id)
		r.CreatedAt = firstNonZero(r.CreatedAt, createdAt)
		r.UpdatedAt = firstNonZero(r.UpdatedAt, updatedAt)
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}

	return b
}

func firstNonZero(a, b int64) int64 {
	if a != 0 {
		return a
	}

	return b
}
