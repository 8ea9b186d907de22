package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/propscout/propsync/internal/api"
	"github.com/propscout/propsync/internal/store"
)

// scenario is one end-to-end cycle description under testdata/scenarios.
type scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	MaxAttempts int `yaml:"max_attempts,omitempty"`
	Cycles      int `yaml:"cycles,omitempty"`

	Remote []scenarioRecord   `yaml:"remote,omitempty"`
	Local  []scenarioRecord   `yaml:"local,omitempty"`
	Queue  []scenarioMutation `yaml:"queue,omitempty"`
	Fail   []scenarioFailure  `yaml:"fail,omitempty"`
	Pages  []scenarioPage     `yaml:"pages,omitempty"`

	Expect scenarioExpect `yaml:"expect"`
}

type scenarioRecord struct {
	Table string         `yaml:"table"`
	Data  map[string]any `yaml:"data"`
}

type scenarioRef struct {
	Table string `yaml:"table"`
	ID    string `yaml:"id"`
}

type scenarioMutation struct {
	Action   string         `yaml:"action"`
	Table    string         `yaml:"table"`
	ID       string         `yaml:"id,omitempty"`
	Data     map[string]any `yaml:"data,omitempty"`
	Attempts int            `yaml:"attempts,omitempty"`
}

type scenarioFailure struct {
	Call   string `yaml:"call"`
	Status int    `yaml:"status"`
	Times  int    `yaml:"times,omitempty"`
}

type scenarioPage struct {
	ServerTime int64            `yaml:"server_time"`
	HasMore    bool             `yaml:"has_more,omitempty"`
	NextSince  *int64           `yaml:"next_since,omitempty"`
	Records    []scenarioChange `yaml:"records,omitempty"`
}

type scenarioChange struct {
	Table     string         `yaml:"table"`
	ID        string         `yaml:"id"`
	Action    string         `yaml:"action"`
	Data      map[string]any `yaml:"data,omitempty"`
	UpdatedAt int64          `yaml:"updated_at"`
}

type scenarioConflict struct {
	Record     string `yaml:"record"`
	Resolution string `yaml:"resolution"`
}

// scenarioExpect is checked against the last cycle. Record data is a subset
// match: only listed fields are compared.
type scenarioExpect struct {
	Push         *scenarioPush      `yaml:"push,omitempty"`
	Pulled       *int               `yaml:"pulled,omitempty"`
	Cursor       *int64             `yaml:"cursor,omitempty"`
	Conflicts    []scenarioConflict `yaml:"conflicts"`
	Calls        []string           `yaml:"calls,omitempty"`
	Remote       []scenarioRecord   `yaml:"remote,omitempty"`
	RemoteAbsent []scenarioRef      `yaml:"remote_absent,omitempty"`
	Local        []scenarioRecord   `yaml:"local,omitempty"`
	LocalAbsent  []scenarioRef      `yaml:"local_absent,omitempty"`
	QueueLen     *int               `yaml:"queue_len,omitempty"`
	Events       []EventType        `yaml:"events,omitempty"`
}

type scenarioPush struct {
	Processed    int `yaml:"processed"`
	Failed       int `yaml:"failed"`
	DeadLettered int `yaml:"dead_lettered"`
	Deferred     int `yaml:"deferred,omitempty"`
}

func loadScenario(t *testing.T, path string) *scenario {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var sc scenario

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	require.NoError(t, dec.Decode(&sc), "parsing %s", path)
	require.NotEmpty(t, sc.Name, "%s: name is required", path)

	return &sc
}

func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		sc := loadScenario(t, path)

		t.Run(sc.Name, func(t *testing.T) {
			runScenario(t, sc)
		})
	}
}

func runScenario(t *testing.T, sc *scenario) {
	ctx := context.Background()
	st := newTestStore(t)
	remote := newFakeRemote()

	for _, r := range sc.Remote {
		remote.put(r.Table, fmt.Sprint(r.Data["id"]), string(mustJSON(t, r.Data)))
	}

	for _, r := range sc.Local {
		rec := decodeScenarioRecord(t, r.Table, r.Data)
		m, err := st.EnqueueWrite(ctx, store.ActionCreate, rec)
		require.NoError(t, err)
		require.NoError(t, st.DropMutation(ctx, m.ID))
	}

	for _, q := range sc.Queue {
		seedMutation(t, st, q)
	}

	for _, f := range sc.Fail {
		times := max(f.Times, 1)
		for range times {
			remote.failNext(f.Call, statusError(t, f.Status))
		}
	}

	for _, p := range sc.Pages {
		remote.pages = append(remote.pages, scenarioChangesPage(t, p))
	}

	bus := NewBus(testLogger(t))
	rec := recordEvents(bus)

	e, err := NewEngine(&EngineConfig{
		Store:            st,
		Remote:           remote,
		Bus:              bus,
		MaxRetryAttempts: sc.MaxAttempts,
		Logger:           testLogger(t),
	})
	require.NoError(t, err)

	var report *CycleReport

	for range max(sc.Cycles, 1) {
		report, err = e.SyncNow(ctx)
		require.NoError(t, err)
	}

	checkScenario(t, sc.Expect, st, remote, rec, report)
}

func checkScenario(t *testing.T, want scenarioExpect, st *store.Store, remote *fakeRemote, rec *eventRecorder, report *CycleReport) {
	t.Helper()

	ctx := context.Background()

	if want.Push != nil {
		assert.Equal(t, PushResult{
			Processed:    want.Push.Processed,
			Failed:       want.Push.Failed,
			DeadLettered: want.Push.DeadLettered,
			Deferred:     want.Push.Deferred,
		}, report.Push, "push result")
	}

	if want.Pulled != nil {
		assert.Equal(t, *want.Pulled, report.Pulled, "pulled")
	}

	if want.Cursor != nil {
		ts, ok, err := st.Cursor(ctx)
		require.NoError(t, err)
		assert.True(t, ok, "cursor saved")
		assert.Equal(t, *want.Cursor, ts, "cursor")
	}

	// Conflicts are always checked; an absent list means none.
	var gotConflicts []scenarioConflict
	for _, ev := range rec.ofType(EventConflict) {
		gotConflicts = append(gotConflicts, scenarioConflict{
			Record:     ev.Conflict.RecordID,
			Resolution: string(ev.Conflict.Resolution),
		})
	}

	assert.Equal(t, want.Conflicts, gotConflicts, "conflict events")

	if want.Calls != nil {
		assert.Equal(t, want.Calls, remote.callLog(), "remote calls")
	}

	for _, r := range want.Remote {
		data, ok := remote.get(r.Table, fmt.Sprint(r.Data["id"]))
		if assert.True(t, ok, "remote %s/%v exists", r.Table, r.Data["id"]) {
			assertSubset(t, r.Data, data)
		}
	}

	for _, ref := range want.RemoteAbsent {
		_, ok := remote.get(ref.Table, ref.ID)
		assert.False(t, ok, "remote %s/%s should be absent", ref.Table, ref.ID)
	}

	for _, r := range want.Local {
		got, err := st.GetRecord(ctx, store.Table(r.Table), fmt.Sprint(r.Data["id"]))
		if assert.NoError(t, err) {
			assertSubset(t, r.Data, mustJSON(t, got))
		}
	}

	for _, ref := range want.LocalAbsent {
		_, err := st.GetRecord(ctx, store.Table(ref.Table), ref.ID)
		assert.ErrorIs(t, err, store.ErrRecordNotFound, "local %s/%s should be absent", ref.Table, ref.ID)
	}

	if want.QueueLen != nil {
		items, err := st.PendingMutations(ctx)
		require.NoError(t, err)
		assert.Len(t, items, *want.QueueLen, "queue length")
	}

	if want.Events != nil {
		assert.Equal(t, want.Events, rec.types(), "events")
	}
}

// assertSubset compares every field of want against the JSON object got.
func assertSubset(t *testing.T, want map[string]any, got []byte) {
	t.Helper()

	var wantNorm, gotNorm map[string]any

	require.NoError(t, json.Unmarshal(mustJSON(t, want), &wantNorm))
	require.NoError(t, json.Unmarshal(got, &gotNorm))

	for k, v := range wantNorm {
		assert.Equal(t, v, gotNorm[k], "field %q", k)
	}
}

func decodeScenarioRecord(t *testing.T, table string, data map[string]any) store.Record {
	t.Helper()

	tbl, err := store.ParseTable(table)
	require.NoError(t, err)

	rec, err := store.DecodeRecord(tbl, mustJSON(t, data))
	require.NoError(t, err)

	return rec
}

func seedMutation(t *testing.T, st *store.Store, q scenarioMutation) {
	t.Helper()

	ctx := context.Background()

	action, err := store.ParseAction(q.Action)
	require.NoError(t, err)

	tbl, err := store.ParseTable(q.Table)
	require.NoError(t, err)

	m := &store.Mutation{Action: action, Table: tbl, RecordID: q.ID, Attempts: q.Attempts}

	if action != store.ActionDelete {
		m.Payload = decodeScenarioRecord(t, q.Table, q.Data)
		m.RecordID = m.Payload.RecordID()
	}

	require.NoError(t, st.Enqueue(ctx, m))
}

func scenarioChangesPage(t *testing.T, p scenarioPage) *api.ChangesPage {
	t.Helper()

	out := &api.ChangesPage{
		Records:    map[string][]api.SyncRecord{},
		ServerTime: p.ServerTime,
		HasMore:    p.HasMore,
		NextSince:  p.NextSince,
	}

	for _, c := range p.Records {
		r := api.SyncRecord{
			ID:        c.ID,
			TableName: c.Table,
			Action:    c.Action,
			UpdatedAt: c.UpdatedAt,
		}

		if c.Data != nil {
			r.Data = mustJSON(t, c.Data)
		}

		out.Records[c.Table] = append(out.Records[c.Table], r)
	}

	return out
}

func statusError(t *testing.T, code int) error {
	t.Helper()

	switch code {
	case 404:
		return apiErr(code, api.ErrNotFound)
	case 409:
		return apiErr(code, api.ErrConflict)
	case 429:
		return apiErr(code, api.ErrThrottled)
	case 500, 502, 503, 504:
		return apiErr(code, api.ErrServerError)
	default:
		t.Fatalf("unsupported scripted status %d", code)
		return nil
	}
}
