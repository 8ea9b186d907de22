package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newerWins is the strictly-newer policy used by the pull reconciler.
func newerWins(c Change, local int64) bool {
	return c.UpdatedAt > local
}

func mustChange(t *testing.T, table Table, id string, action Action, data string, updatedAt int64) Change {
	t.Helper()

	var raw []byte
	if data != "" {
		raw = []byte(data)
	}

	c, err := NewChange(table, id, action, raw, 1, updatedAt)
	require.NoError(t, err)

	return c
}

func TestNewChange(t *testing.T) {
	t.Parallel()

	t.Run("envelope fills missing fields", func(t *testing.T) {
		t.Parallel()

		c, err := NewChange(TableUserPreferences, "theme", ActionCreate, []byte(`{"value":"dark"}`), 10, 20)
		require.NoError(t, err)
		assert.Equal(t, "theme", c.RecordID)
		assert.Equal(t, int64(20), c.UpdatedAt)
		assert.Equal(t, &Preference{ID: "theme", Value: "dark", CreatedAt: 10, UpdatedAt: 20}, c.Record)
	})

	t.Run("data timestamp wins over envelope", func(t *testing.T) {
		t.Parallel()

		c, err := NewChange(TableUserPreferences, "theme", ActionUpdate,
			[]byte(`{"id":"theme","value":"x","updated_at":30}`), 10, 20)
		require.NoError(t, err)
		assert.Equal(t, int64(30), c.UpdatedAt)
	})

	t.Run("delete needs no data", func(t *testing.T) {
		t.Parallel()

		c, err := NewChange(TableScannedProperties, "sp-1", ActionDelete, nil, 0, 5)
		require.NoError(t, err)
		assert.Nil(t, c.Record)
	})

	t.Run("errors", func(t *testing.T) {
		t.Parallel()

		_, err := NewChange(Table("nope"), "a", ActionCreate, []byte(`{}`), 0, 0)
		assert.ErrorIs(t, err, ErrUnknownTable)

		_, err = NewChange(TableUserPreferences, "a", Action("upsert"), []byte(`{}`), 0, 0)
		assert.Error(t, err)

		_, err = NewChange(TableUserPreferences, "a", ActionCreate, nil, 0, 0)
		assert.Error(t, err)

		_, err = NewChange(TableUserPreferences, "", ActionDelete, nil, 0, 0)
		assert.Error(t, err)

		_, err = NewChange(TableUserPreferences, "", ActionCreate, []byte(`{"value":"v"}`), 0, 0)
		assert.Error(t, err, "no id anywhere")
	})
}

func TestApplyPage_Merge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.EnqueueWrite(ctx, ActionCreate, &PortfolioProperty{ID: "older", Address: "local", CreatedAt: 1, UpdatedAt: 100})
	require.NoError(t, err)
	_, err = s.EnqueueWrite(ctx, ActionCreate, &PortfolioProperty{ID: "newer", Address: "local", CreatedAt: 1, UpdatedAt: 300})
	require.NoError(t, err)
	_, err = s.EnqueueWrite(ctx, ActionCreate, &PortfolioProperty{ID: "gone", Address: "local", CreatedAt: 1, UpdatedAt: 999})
	require.NoError(t, err)

	page := []Change{
		mustChange(t, TablePortfolioProperties, "older", ActionUpdate, `{"id":"older","address":"remote","updated_at":200}`, 200),
		mustChange(t, TablePortfolioProperties, "newer", ActionUpdate, `{"id":"newer","address":"remote","updated_at":200}`, 200),
		mustChange(t, TablePortfolioProperties, "fresh", ActionCreate, `{"id":"fresh","address":"remote","updated_at":200}`, 200),
		mustChange(t, TablePortfolioProperties, "gone", ActionDelete, "", 50),
		mustChange(t, TablePortfolioProperties, "never-existed", ActionDelete, "", 50),
	}

	res, err := s.ApplyPage(ctx, page, 200, newerWins)
	require.NoError(t, err)
	assert.Equal(t, MergeResult{Inserted: 1, Updated: 1, Deleted: 2, Skipped: 1}, res)
	assert.Equal(t, 4, res.Applied())

	got, err := s.GetRecord(ctx, TablePortfolioProperties, "older")
	require.NoError(t, err)
	assert.Equal(t, "remote", got.(*PortfolioProperty).Address)

	got, err = s.GetRecord(ctx, TablePortfolioProperties, "newer")
	require.NoError(t, err)
	assert.Equal(t, "local", got.(*PortfolioProperty).Address, "local row is newer")

	// Deletes win regardless of timestamps.
	_, err = s.GetRecord(ctx, TablePortfolioProperties, "gone")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	n, err := s.CountRecords(ctx, TablePortfolioProperties)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestApplyPage_EqualTimestampSkipped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.EnqueueWrite(ctx, ActionCreate, &Preference{ID: "p", Value: "local", CreatedAt: 1, UpdatedAt: 500})
	require.NoError(t, err)

	res, err := s.ApplyPage(ctx, []Change{
		mustChange(t, TableUserPreferences, "p", ActionUpdate, `{"id":"p","value":"remote","updated_at":500}`, 500),
	}, 500, newerWins)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)

	got, err := s.GetRecord(ctx, TableUserPreferences, "p")
	require.NoError(t, err)
	assert.Equal(t, "local", got.(*Preference).Value)
}

func TestApplyPage_Idempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	page := []Change{
		mustChange(t, TableScannedProperties, "sp", ActionCreate, `{"id":"sp","address":"a","updated_at":10}`, 10),
	}

	_, err := s.ApplyPage(ctx, page, 10, newerWins)
	require.NoError(t, err)

	res, err := s.ApplyPage(ctx, page, 10, newerWins)
	require.NoError(t, err)
	assert.Equal(t, MergeResult{Skipped: 1}, res)

	n, err := s.CountRecords(ctx, TableScannedProperties)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestApplyPage_RollsBackOnBadChange(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.ApplyPage(ctx, nil, 100, newerWins)
	require.NoError(t, err)

	page := []Change{
		mustChange(t, TableScannedProperties, "ok", ActionCreate, `{"id":"ok","updated_at":150}`, 150),
		{Table: TableScannedProperties, RecordID: "broken", Action: ActionUpdate, UpdatedAt: 160},
	}

	_, err = s.ApplyPage(ctx, page, 160, newerWins)
	require.Error(t, err)

	// Neither the good row nor the cursor advance survive.
	_, err = s.GetRecord(ctx, TableScannedProperties, "ok")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	ts, ok, err := s.Cursor(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(100), ts)
}

func TestApplyPage_NilPolicyNeverOverwrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.EnqueueWrite(ctx, ActionCreate, &Preference{ID: "p", Value: "local", CreatedAt: 1, UpdatedAt: 1})
	require.NoError(t, err)

	res, err := s.ApplyPage(ctx, []Change{
		mustChange(t, TableUserPreferences, "p", ActionUpdate, `{"id":"p","value":"remote","updated_at":9}`, 9),
	}, 9, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
}

func TestLocalUpdatedAt(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	_, ok, err := s.LocalUpdatedAt(ctx, TableUserPreferences, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.EnqueueWrite(ctx, ActionCreate, &Preference{ID: "p", CreatedAt: 1, UpdatedAt: 77})
	require.NoError(t, err)

	ts, ok, err := s.LocalUpdatedAt(ctx, TableUserPreferences, "p")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(77), ts)

	_, _, err = s.LocalUpdatedAt(ctx, Table("x; DROP TABLE mutation_queue"), "p")
	assert.ErrorIs(t, err, ErrUnknownTable)
}
