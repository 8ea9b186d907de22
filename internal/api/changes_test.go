package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChanges_RequestAndParse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sync/changes", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Nil(t, req["since"], "initial pull sends null since")
		assert.Equal(t, float64(100), req["limit"])
		assert.Equal(t, []any{"scanned_properties", "user_preferences"}, req["tables"])

		_, _ = w.Write([]byte(`{
			"scanned_properties": [
				{"id":"a","table_name":"scanned_properties","action":"update","data":{"id":"a","updated_at":5},"updated_at":5,"created_at":1}
			],
			"user_preferences": [
				{"id":"theme","table_name":"user_preferences","action":"delete","data":null,"updated_at":6,"created_at":1}
			],
			"server_time": 1000,
			"has_more": true
		}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	page, err := client.Changes(context.Background(), ChangesRequest{
		Tables: []string{"scanned_properties", "user_preferences"},
		Limit:  100,
	})
	require.NoError(t, err)

	assert.True(t, page.HasMore)
	assert.Equal(t, int64(1000), page.ServerTime)
	assert.Nil(t, page.NextSince)
	assert.Equal(t, int64(1000), page.Cursor())
	assert.Equal(t, 2, page.Len())
	assert.Equal(t, []string{"scanned_properties", "user_preferences"}, page.Tables())

	rec := page.Records["scanned_properties"][0]
	assert.Equal(t, "a", rec.ID)
	assert.Equal(t, "update", rec.Action)
	assert.JSONEq(t, `{"id":"a","updated_at":5}`, string(rec.Data))

	del := page.Records["user_preferences"][0]
	assert.Equal(t, "delete", del.Action)
	assert.Equal(t, "null", string(del.Data))
}

func TestChanges_SinceAndNextSince(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChangesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.Since)
		assert.Equal(t, int64(42), *req.Since)

		_, _ = w.Write([]byte(`{"server_time": 900, "has_more": false, "next_since": 850}`))
	}))
	defer srv.Close()

	since := int64(42)
	client := newTestClient(t, srv.URL)

	page, err := client.Changes(context.Background(), ChangesRequest{Since: &since, Limit: 10})
	require.NoError(t, err)
	require.NotNil(t, page.NextSince)
	assert.Equal(t, int64(850), page.Cursor())
	assert.Zero(t, page.Len())
}

func TestParseChangesPage_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing server_time", `{"has_more": false}`},
		{"bad has_more", `{"server_time": 1, "has_more": "yes"}`},
		{"table not an array", `{"server_time": 1, "scanned_properties": {}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw map[string]json.RawMessage
			require.NoError(t, json.Unmarshal([]byte(tt.body), &raw))

			_, err := parseChangesPage(raw)
			assert.Error(t, err)
		})
	}
}

func TestChanges_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Changes(context.Background(), ChangesRequest{Limit: 1})
	assert.ErrorIs(t, err, ErrServerError)
}
