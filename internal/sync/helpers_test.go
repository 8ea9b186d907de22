package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	stdsync "sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/propscout/propsync/internal/api"
	"github.com/propscout/propsync/internal/store"
)

// testLogger returns a debug-level logger that writes to t.Log.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "propsync.db"), testLogger(t))
	require.NoError(t, err)

	t.Cleanup(func() { st.Close() })

	return st
}

func apiErr(code int, sentinel error) error {
	return &api.APIError{StatusCode: code, Message: fmt.Sprintf("HTTP %d", code), Err: sentinel}
}

var (
	errNotFound = apiErr(404, api.ErrNotFound)
	errConflict = apiErr(409, api.ErrConflict)
	errServer   = apiErr(503, api.ErrServerError)
)

// fakeRemote is an in-memory service. Calls are logged as "METHOD table/id";
// failures scripted with failNext are returned before any other handling.
type fakeRemote struct {
	mu      stdsync.Mutex
	records map[string]json.RawMessage // "table/id" -> data
	calls   []string
	forced  []api.UpdateOptions
	fail    map[string][]error

	pages      []*api.ChangesPage
	pageErr    error
	changeReqs []api.ChangesRequest

	// onCall runs at the start of every record call, outside the lock.
	onCall func(call string)
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		records: make(map[string]json.RawMessage),
		fail:    make(map[string][]error),
	}
}

func (f *fakeRemote) put(table, id string, data string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.records[table+"/"+id] = json.RawMessage(data)
}

func (f *fakeRemote) get(table, id string) (json.RawMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.records[table+"/"+id]

	return d, ok
}

func (f *fakeRemote) failNext(call string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fail[call] = append(f.fail[call], errs...)
}

func (f *fakeRemote) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.calls...)
}

// begin logs call and pops a scripted failure.
func (f *fakeRemote) begin(call string) error {
	if f.onCall != nil {
		f.onCall(call)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, call)

	if errs := f.fail[call]; len(errs) > 0 {
		f.fail[call] = errs[1:]
		return errs[0]
	}

	return nil
}

func (f *fakeRemote) CreateRecord(_ context.Context, table string, payload []byte) error {
	var head struct {
		ID string `json:"id"`
	}

	if err := json.Unmarshal(payload, &head); err != nil {
		return err
	}

	if err := f.begin("POST " + table); err != nil {
		return err
	}

	f.put(table, head.ID, string(payload))

	return nil
}

func (f *fakeRemote) GetRecord(_ context.Context, table, id string) (*api.RemoteRecord, error) {
	if err := f.begin("GET " + table + "/" + id); err != nil {
		return nil, err
	}

	data, ok := f.get(table, id)
	if !ok {
		return nil, errNotFound
	}

	var head struct {
		UpdatedAt int64 `json:"updated_at"`
	}

	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	return &api.RemoteRecord{ID: id, UpdatedAt: head.UpdatedAt, Data: data}, nil
}

func (f *fakeRemote) UpdateRecord(_ context.Context, table, id string, payload []byte, opts api.UpdateOptions) error {
	if err := f.begin("PUT " + table + "/" + id); err != nil {
		return err
	}

	if _, ok := f.get(table, id); !ok {
		return errNotFound
	}

	f.mu.Lock()
	f.forced = append(f.forced, opts)
	f.mu.Unlock()

	f.put(table, id, string(payload))

	return nil
}

func (f *fakeRemote) DeleteRecord(_ context.Context, table, id string) error {
	if err := f.begin("DELETE " + table + "/" + id); err != nil {
		return err
	}

	if _, ok := f.get(table, id); !ok {
		return errNotFound
	}

	f.mu.Lock()
	delete(f.records, table+"/"+id)
	f.mu.Unlock()

	return nil
}

func (f *fakeRemote) Changes(_ context.Context, req api.ChangesRequest) (*api.ChangesPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if req.Since != nil {
		since := *req.Since
		req.Since = &since
	}

	f.changeReqs = append(f.changeReqs, req)

	if f.pageErr != nil {
		return nil, f.pageErr
	}

	if len(f.pages) == 0 {
		return &api.ChangesPage{Records: map[string][]api.SyncRecord{}}, nil
	}

	p := f.pages[0]
	f.pages = f.pages[1:]

	return p, nil
}

func (f *fakeRemote) requests() []api.ChangesRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]api.ChangesRequest(nil), f.changeReqs...)
}

// eventRecorder collects bus events.
type eventRecorder struct {
	mu     stdsync.Mutex
	events []Event
}

func recordEvents(bus *Bus) *eventRecorder {
	r := &eventRecorder{}
	bus.Subscribe(func(ev Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	})

	return r
}

func (r *eventRecorder) ofType(typ EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}

	return out
}

func (r *eventRecorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]EventType, 0, len(r.events))
	for _, ev := range r.events {
		if ev.Type != EventProgress {
			out = append(out, ev.Type)
		}
	}

	return out
}

func int64Ptr(v int64) *int64 { return &v }

func scanned(id string, updatedAt int64) *store.ScannedProperty {
	return &store.ScannedProperty{
		ID:        id,
		Address:   "1 Main St",
		CreatedAt: 1,
		UpdatedAt: updatedAt,
	}
}
