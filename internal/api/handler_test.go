package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftkit/driftsync/internal/config"
	"github.com/driftkit/driftsync/internal/engine"
	"github.com/driftkit/driftsync/internal/event"
	"github.com/driftkit/driftsync/internal/eventlog"
	"github.com/driftkit/driftsync/internal/remote"
)

type testEnv struct {
	handler http.Handler
	log     *eventlog.Log
	replica *remote.Memory
	eng     *engine.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log, err := eventlog.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	replica := remote.NewMemory()
	cfg := config.DefaultSync()
	zero := 0
	cfg.SyncIntervalMs = &zero
	eng := engine.New(log, replica, cfg)

	return &testEnv{
		handler: New(log, eng, "dev-api"),
		log:     log,
		replica: replica,
		eng:     eng,
	}
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestCreateEvent(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/events", map[string]any{
		"type":      "record.created",
		"payload":   map[string]any{"collection": "notes", "record_id": "n1"},
		"timestamp": 1000,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	created := decode[event.Event](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, event.StatusPending, created.Status)
	assert.Equal(t, "dev-api", created.DeviceID, "handler device id fills the blank")

	rec = env.do(t, http.MethodGet, "/v1/events/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[event.Event](t, rec)
	assert.Equal(t, created.ID, got.ID)
}

func TestCreateEventRejectsUnknownType(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/events", map[string]any{
		"type": "record.renamed",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateEventRejectsMissingType(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/events", map[string]any{
		"payload": map[string]any{"collection": "notes"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateBatch(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/events/batch", []map[string]any{
		{"type": "record.created", "payload": map[string]any{"collection": "notes", "record_id": "a"}},
		{"type": "record.deleted", "payload": map[string]any{"collection": "notes", "record_id": "b"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decode[map[string][]event.Event](t, rec)
	assert.Len(t, resp["events"], 2)
}

func TestCreateBatchRejectsEmptyAndOversized(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/events/batch", []map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	huge := make([]map[string]any, maxBatchSize+1)
	for i := range huge {
		huge[i] = map[string]any{"type": "record.created", "payload": map[string]any{}}
	}
	rec = env.do(t, http.MethodPost, "/v1/events/batch", huge)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetEventNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/v1/events/absent", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSyncNowEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/v1/events", map[string]any{
		"type": "record.created", "payload": map[string]any{"collection": "notes", "record_id": "a"},
	})

	rec := env.do(t, http.MethodPost, "/v1/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[engine.Result](t, rec)
	assert.True(t, res.Success)
	assert.Len(t, res.SyncedIDs, 1)
	assert.Equal(t, 1, env.replica.Len())
}

func TestSyncNowTransportFailure(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/v1/events", map[string]any{
		"type": "record.created", "payload": map[string]any{"collection": "notes", "record_id": "a"},
	})
	env.replica.PushErr = assert.AnError

	rec := env.do(t, http.MethodPost, "/v1/sync", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	res := decode[engine.Result](t, rec)
	assert.False(t, res.Success)
	assert.Len(t, res.FailedEvents, 1)
}

func TestPauseResume(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/sync/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "paused", decode[map[string]string](t, rec)["state"])

	rec = env.do(t, http.MethodPost, "/v1/sync/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", decode[map[string]string](t, rec)["state"])
}

func TestSyncStatus(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/v1/sync/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "idle", body["state"])
	assert.Contains(t, body, "stats")
}

func TestRetryEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/v1/events", map[string]any{
		"type": "record.created", "payload": map[string]any{"collection": "notes", "record_id": "a"},
	})
	env.replica.PushErr = assert.AnError
	env.do(t, http.MethodPost, "/v1/sync", nil)

	env.replica.PushErr = nil
	rec := env.do(t, http.MethodPost, "/v1/sync/retry", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[engine.Result](t, rec)
	assert.True(t, res.Success)
	assert.Len(t, res.SyncedIDs, 1)
}

func TestConflictEndpoints(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.eng.Config()
	cfg.ConflictStrategy = "manual"
	env.eng.UpdateConfig(cfg)

	rec := env.do(t, http.MethodPost, "/v1/events", map[string]any{
		"type": "record.updated", "payload": map[string]any{"collection": "notes", "record_id": "n1"},
		"timestamp": 1000,
	})
	created := decode[event.Event](t, rec)

	remoteVersion := created.Clone()
	remoteVersion.Timestamp = 2000
	env.replica.Divergent[created.ID] = remoteVersion
	env.do(t, http.MethodPost, "/v1/sync", nil)

	rec = env.do(t, http.MethodGet, "/v1/conflicts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[map[string][]engine.Conflict](t, rec)
	require.Len(t, list["conflicts"], 1)
	assert.Equal(t, created.ID, list["conflicts"][0].EventID)

	// Merged resolution needs a payload.
	rec = env.do(t, http.MethodPost, "/v1/conflicts/"+created.ID+"/resolve", map[string]any{
		"resolution": "merged",
		"type":       "record.updated",
		"payload":    map[string]any{"collection": "notes", "record_id": "n1", "fields": map[string]any{"title": "merged"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/conflicts", nil)
	list = decode[map[string][]engine.Conflict](t, rec)
	assert.Empty(t, list["conflicts"])

	rec = env.do(t, http.MethodGet, "/v1/events/"+created.ID, nil)
	got := decode[event.Event](t, rec)
	assert.Equal(t, event.StatusPending, got.Status)
	assert.Equal(t, int64(2000), got.Timestamp, "merged result takes the later timestamp")
}

func TestResolveUnknownConflict(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/conflicts/absent/resolve", map[string]any{
		"resolution": "local",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestConnectivityEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/connectivity", map[string]any{
		"online": false, "metered": false,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "paused", decode[map[string]string](t, rec)["state"])
	assert.Equal(t, engine.StatePaused, env.eng.State())

	rec = env.do(t, http.MethodPost, "/v1/connectivity", map[string]any{
		"online": true, "metered": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, engine.StateIdle, env.eng.State())
}

func TestPurgeEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/events", map[string]any{
		"type": "record.created", "payload": map[string]any{"collection": "notes", "record_id": "old"},
		"timestamp": 1000,
	})
	created := decode[event.Event](t, rec)
	env.do(t, http.MethodPost, "/v1/sync", nil)

	rec = env.do(t, http.MethodPost, "/v1/events/purge", map[string]any{
		"status": "synced", "before": 2000,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[map[string]int64](t, rec)
	assert.Equal(t, int64(1), resp["purged"])

	rec = env.do(t, http.MethodGet, "/v1/events/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPurgeValidation(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/events/purge", map[string]any{
		"status": "bogus", "before": 2000,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/events/purge", map[string]any{
		"status": "synced",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", nil).Code)

	rec := env.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ready", body["status"])
}
