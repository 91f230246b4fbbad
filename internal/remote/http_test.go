package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftkit/driftsync/internal/event"
)

func TestNewClientRejectsRelativeURL(t *testing.T) {
	for _, bad := range []string{"", "not-a-url", "/just/a/path", "example.com"} {
		_, err := NewClient(bad)
		assert.Error(t, err, "NewClient(%q)", bad)
	}
}

func TestNewClientTrimsTrailingSlash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthz", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL + "/")
	require.NoError(t, err)
	require.NoError(t, c.HealthCheck(context.Background()))
}

func TestClientPush(t *testing.T) {
	var gotPath, gotContentType string
	var gotBody pushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		resp := PushResult{
			Success:   false,
			SyncedIDs: []string{"ev-1"},
			Errors:    []PushError{{EventID: "ev-2", Message: "schema mismatch"}},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	events := []*event.Event{
		{ID: "ev-1", Kind: event.KindRecordCreated, Payload: event.RecordCreated{Collection: "notes", RecordID: "a"}, Timestamp: 100, Status: event.StatusPending},
		{ID: "ev-2", Kind: event.KindRecordDeleted, Payload: event.RecordDeleted{Collection: "notes", RecordID: "b"}, Timestamp: 200, Status: event.StatusPending},
	}
	res, err := c.Push(context.Background(), events)
	require.NoError(t, err)

	assert.Equal(t, "/v1/sync/push", gotPath)
	assert.Equal(t, "application/json", gotContentType)
	require.Len(t, gotBody.Events, 2)
	assert.Equal(t, "ev-1", gotBody.Events[0].ID)

	assert.False(t, res.Success)
	assert.Equal(t, []string{"ev-1"}, res.SyncedIDs)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "schema mismatch", res.Errors[0].Message)
}

func TestClientPushNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	_, err = c.Push(context.Background(), []*event.Event{{ID: "ev-1", Kind: event.KindRecordCreated, Payload: event.RecordCreated{}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestClientPushTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused from here on

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	_, err = c.Push(context.Background(), nil)
	require.Error(t, err)
}

func TestClientPull(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/sync/pull", r.URL.Path)
		assert.Equal(t, "1500", r.URL.Query().Get("since"))
		json.NewEncoder(w).Encode(pullResponse{Events: []*event.Event{
			{ID: "ev-9", Kind: event.KindRecordUpdated, Payload: event.RecordUpdated{Collection: "notes", RecordID: "z"}, Timestamp: 2000, Status: event.StatusSynced},
		}})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	evs, err := c.Pull(context.Background(), 1500)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "ev-9", evs[0].ID)
	assert.Equal(t, int64(2000), evs[0].Timestamp)
}

func TestClientHealthCheckFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	assert.Error(t, c.HealthCheck(context.Background()))
}
