package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// ErrMutationNotFound is returned when a queue item id does not exist.
var ErrMutationNotFound = errors.New("store: mutation not found")

const (
	sqlMutationColumns = `id, action, table_name, record_id, payload, created_at, attempts, last_error`

	sqlInsertMutation = `INSERT INTO mutation_queue
		(id, action, table_name, record_id, payload, created_at, attempts, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	// rowid breaks ties between items created in the same millisecond.
	sqlListMutations = `SELECT ` + sqlMutationColumns +
		` FROM mutation_queue ORDER BY created_at, rowid`

	sqlListDeadLetters = `SELECT ` + sqlMutationColumns +
		` FROM mutation_queue WHERE attempts >= ? ORDER BY created_at, rowid`

	sqlGetMutation = `SELECT ` + sqlMutationColumns + ` FROM mutation_queue WHERE id = ?`

	sqlDeleteMutation = `DELETE FROM mutation_queue WHERE id = ?`

	sqlRecordFailure = `UPDATE mutation_queue
		SET attempts = attempts + 1, last_error = ?
		WHERE id = ?
		RETURNING attempts`

	sqlResetAttempts = `UPDATE mutation_queue SET attempts = 0, last_error = NULL WHERE id = ?`

	sqlQueueStats = `SELECT
		COALESCE(SUM(CASE WHEN attempts < ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN attempts >= ? THEN 1 ELSE 0 END), 0)
		FROM mutation_queue`
)

// Mutation is one durable queue item: a local write the server has not yet
// acknowledged.
type Mutation struct {
	ID        string
	Action    Action
	Table     Table
	RecordID  string
	Payload   Record // nil for deletes
	CreatedAt int64  // Unix milliseconds
	Attempts  int
	LastError string

	// PayloadErr is set when the stored payload could not be decoded. The
	// item is still returned so push can count the failure against it.
	PayloadErr error
}

// QueueStats counts queue items relative to a retry cap.
type QueueStats struct {
	Pending      int
	DeadLettered int
}

// EnqueueWrite applies rec to its domain table and appends a create or
// update mutation for it, in one transaction. Unset created_at and
// updated_at on rec are stamped with the current time first.
func (s *Store) EnqueueWrite(ctx context.Context, action Action, rec Record) (*Mutation, error) {
	if action != ActionCreate && action != ActionUpdate {
		return nil, fmt.Errorf("store: EnqueueWrite does not accept action %q", action)
	}

	if rec == nil || rec.RecordID() == "" {
		return nil, errors.New("store: EnqueueWrite requires a record with an id")
	}

	rec.fillTimestamps(s.nowMillis())

	m := &Mutation{
		Action:   action,
		Table:    rec.Table(),
		RecordID: rec.RecordID(),
		Payload:  rec,
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := upsertRecord(ctx, tx, rec); err != nil {
			return err
		}

		return s.insertMutation(ctx, tx, m)
	})
	if err != nil {
		return nil, err
	}

	return m, nil
}

// EnqueueDelete removes the local row and appends a delete tombstone for it.
func (s *Store) EnqueueDelete(ctx context.Context, table Table, id string) (*Mutation, error) {
	if _, err := ParseTable(string(table)); err != nil {
		return nil, err
	}

	m := &Mutation{
		Action:   ActionDelete,
		Table:    table,
		RecordID: id,
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := deleteRecord(ctx, tx, table, id); err != nil {
			return err
		}

		return s.insertMutation(ctx, tx, m)
	})
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Enqueue appends m to the queue without touching domain tables. ID and
// CreatedAt are assigned when empty.
func (s *Store) Enqueue(ctx context.Context, m *Mutation) error {
	return s.insertMutation(ctx, s.db, m)
}

func (s *Store) insertMutation(ctx context.Context, q dbtx, m *Mutation) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	if m.CreatedAt == 0 {
		m.CreatedAt = s.nowMillis()
	}

	var payload sql.NullString

	if m.Payload != nil {
		b, err := json.Marshal(m.Payload)
		if err != nil {
			return fmt.Errorf("store: encoding payload for %s/%s: %w", m.Table, m.RecordID, err)
		}

		payload = sql.NullString{String: string(b), Valid: true}
	}

	_, err := q.ExecContext(ctx, sqlInsertMutation,
		m.ID, string(m.Action), string(m.Table), m.RecordID, payload,
		m.CreatedAt, m.Attempts, nullString(m.LastError),
	)
	if err != nil {
		return fmt.Errorf("store: inserting mutation %s: %w", m.ID, err)
	}

	s.logger.Debug("mutation enqueued",
		slog.String("id", m.ID),
		slog.String("action", string(m.Action)),
		slog.String("table", string(m.Table)),
		slog.String("record_id", m.RecordID),
	)

	return nil
}

// PendingMutations returns the whole queue in FIFO order, including items
// that have exhausted their retries. Callers apply the retry cap.
func (s *Store) PendingMutations(ctx context.Context) ([]*Mutation, error) {
	return s.queryMutations(ctx, sqlListMutations)
}

// DeadLetters returns the items whose attempts reached maxAttempts.
func (s *Store) DeadLetters(ctx context.Context, maxAttempts int) ([]*Mutation, error) {
	return s.queryMutations(ctx, sqlListDeadLetters, maxAttempts)
}

// GetMutation returns a single queue item.
func (s *Store) GetMutation(ctx context.Context, id string) (*Mutation, error) {
	rows, err := s.db.QueryContext(ctx, sqlGetMutation, id)
	if err != nil {
		return nil, fmt.Errorf("store: getting mutation %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("store: getting mutation %s: %w", id, err)
		}

		return nil, fmt.Errorf("%w: %s", ErrMutationNotFound, id)
	}

	return scanMutation(rows)
}

func (s *Store) queryMutations(ctx context.Context, query string, args ...any) ([]*Mutation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: listing mutations: %w", err)
	}
	defer rows.Close()

	var out []*Mutation

	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}

		if m.PayloadErr != nil {
			s.logger.Warn("queued payload is not decodable",
				slog.String("id", m.ID),
				slog.String("error", m.PayloadErr.Error()),
			)
		}

		out = append(out, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating mutations: %w", err)
	}

	return out, nil
}

func scanMutation(rows *sql.Rows) (*Mutation, error) {
	var (
		m         Mutation
		action    string
		table     string
		payload   sql.NullString
		lastError sql.NullString
	)

	if err := rows.Scan(&m.ID, &action, &table, &m.RecordID, &payload,
		&m.CreatedAt, &m.Attempts, &lastError); err != nil {
		return nil, fmt.Errorf("store: scanning mutation row: %w", err)
	}

	m.Action = Action(action)
	m.Table = Table(table)
	m.LastError = lastError.String

	if payload.Valid && m.Action != ActionDelete {
		rec, err := DecodeRecord(m.Table, []byte(payload.String))
		if err != nil {
			m.PayloadErr = err
		} else {
			m.Payload = rec
		}
	} else if m.Action != ActionDelete {
		m.PayloadErr = fmt.Errorf("store: %s mutation %s has no payload", m.Action, m.ID)
	}

	return &m, nil
}

// RemoveMutation deletes an acknowledged item from the queue.
func (s *Store) RemoveMutation(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, sqlDeleteMutation, id); err != nil {
		return fmt.Errorf("store: removing mutation %s: %w", id, err)
	}

	return nil
}

// DropMutation deletes an item on operator request, reporting a missing id.
func (s *Store) DropMutation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, sqlDeleteMutation, id)
	if err != nil {
		return fmt.Errorf("store: dropping mutation %s: %w", id, err)
	}

	return requireAffected(res, id)
}

// RecordAttemptFailure increments the attempt counter and stores the error.
// Returns the new attempt count.
func (s *Store) RecordAttemptFailure(ctx context.Context, id, errMsg string) (int, error) {
	var attempts int

	err := s.db.QueryRowContext(ctx, sqlRecordFailure, errMsg, id).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrMutationNotFound, id)
	}

	if err != nil {
		return 0, fmt.Errorf("store: recording failure for %s: %w", id, err)
	}

	return attempts, nil
}

// ResetAttempts returns a dead-lettered item to the live queue.
func (s *Store) ResetAttempts(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, sqlResetAttempts, id)
	if err != nil {
		return fmt.Errorf("store: resetting attempts for %s: %w", id, err)
	}

	return requireAffected(res, id)
}

// QueueStats counts live and dead-lettered items for the given retry cap.
func (s *Store) QueueStats(ctx context.Context, maxAttempts int) (QueueStats, error) {
	var st QueueStats

	err := s.db.QueryRowContext(ctx, sqlQueueStats, maxAttempts, maxAttempts).
		Scan(&st.Pending, &st.DeadLettered)
	if err != nil {
		return QueueStats{}, fmt.Errorf("store: counting queue: %w", err)
	}

	return st, nil
}

func requireAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected for %s: %w", id, err)
	}

	if n == 0 {
		return fmt.Errorf("%w: %s", ErrMutationNotFound, id)
	}

	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
