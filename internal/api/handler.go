package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/driftkit/driftsync/internal/engine"
	"github.com/driftkit/driftsync/internal/event"
	"github.com/driftkit/driftsync/internal/eventlog"
	"github.com/driftkit/driftsync/internal/metrics"
	"github.com/driftkit/driftsync/internal/resolver"
)

const maxBatchSize = 500

// Handler holds all HTTP handler dependencies.
type Handler struct {
	log      *eventlog.Log
	eng      *engine.Engine
	deviceID string
	mux      *http.ServeMux
}

// New creates an HTTP handler and registers all routes.
func New(log *eventlog.Log, eng *engine.Engine, deviceID string) http.Handler {
	h := &Handler{log: log, eng: eng, deviceID: deviceID, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /v1/events", h.createEvent)
	h.mux.HandleFunc("POST /v1/events/batch", h.createBatch)
	h.mux.HandleFunc("GET /v1/events/{id}", h.getEvent)
	h.mux.HandleFunc("POST /v1/events/purge", h.purgeEvents)
	h.mux.HandleFunc("POST /v1/sync", h.syncNow)
	h.mux.HandleFunc("POST /v1/sync/pause", h.pause)
	h.mux.HandleFunc("POST /v1/sync/resume", h.resume)
	h.mux.HandleFunc("POST /v1/sync/retry", h.retryFailed)
	h.mux.HandleFunc("GET /v1/sync/status", h.syncStatus)
	h.mux.HandleFunc("GET /v1/conflicts", h.listConflicts)
	h.mux.HandleFunc("POST /v1/conflicts/{id}/resolve", h.resolveConflict)
	h.mux.HandleFunc("POST /v1/connectivity", h.connectivity)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(h.mux)
}

// eventRequest is the wire shape for creating events. The payload is
// decoded against the closed kind set; unknown kinds are rejected.
type eventRequest struct {
	Type      event.Kind      `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
	DeviceID  string          `json:"device_id"`
}

func (h *Handler) toInput(req eventRequest) (eventlog.CreateInput, error) {
	if req.Type == "" {
		return eventlog.CreateInput{}, fmt.Errorf("event type is required")
	}
	payload, err := event.DecodePayload(req.Type, req.Payload)
	if err != nil {
		return eventlog.CreateInput{}, err
	}
	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = h.deviceID
	}
	return eventlog.CreateInput{
		Payload:   payload,
		Timestamp: req.Timestamp,
		DeviceID:  deviceID,
	}, nil
}

// POST /v1/events — append one event to the local log.
func (h *Handler) createEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	in, err := h.toInput(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ev, err := h.log.Create(r.Context(), in)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	metrics.EventsCreated.Inc()
	writeJSON(w, http.StatusCreated, ev)
}

// POST /v1/events/batch — append a batch atomically.
func (h *Handler) createBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []eventRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if len(reqs) == 0 {
		writeError(w, http.StatusBadRequest, "batch must contain at least one event")
		return
	}
	if len(reqs) > maxBatchSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch size %d exceeds max %d", len(reqs), maxBatchSize))
		return
	}
	ins := make([]eventlog.CreateInput, 0, len(reqs))
	for i, req := range reqs {
		in, err := h.toInput(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("events[%d]: %s", i, err))
			return
		}
		ins = append(ins, in)
	}
	evs, err := h.log.CreateBatch(r.Context(), ins)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	metrics.EventsCreated.Add(float64(len(evs)))
	writeJSON(w, http.StatusCreated, map[string]any{"events": evs})
}

// GET /v1/events/{id}
func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.log.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, eventlog.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// POST /v1/events/purge — bulk-delete events of one status older than a
// cutoff. Sync never purges; this is the explicit maintenance path.
func (h *Handler) purgeEvents(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status event.Status `json:"status"`
		Before int64        `json:"before"` // ms since epoch
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", req.Status))
		return
	}
	if req.Before <= 0 {
		writeError(w, http.StatusBadRequest, "before (ms since epoch) is required")
		return
	}
	n, err := h.log.Purge(r.Context(), req.Status, time.UnixMilli(req.Before))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purged": n})
}

// POST /v1/sync — trigger one cycle; no-op if one is already running.
func (h *Handler) syncNow(w http.ResponseWriter, r *http.Request) {
	res, err := h.eng.SyncNow(r.Context())
	if err != nil {
		// The cycle ran but failed; the result still describes it.
		writeJSON(w, http.StatusBadGateway, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /v1/sync/pause
func (h *Handler) pause(w http.ResponseWriter, r *http.Request) {
	h.eng.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"state": string(h.eng.State())})
}

// POST /v1/sync/resume
func (h *Handler) resume(w http.ResponseWriter, r *http.Request) {
	h.eng.Resume()
	writeJSON(w, http.StatusOK, map[string]string{"state": string(h.eng.State())})
}

// POST /v1/sync/retry — reset failed events and re-submit them.
func (h *Handler) retryFailed(w http.ResponseWriter, r *http.Request) {
	res, err := h.eng.RetryFailedEvents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /v1/sync/status
func (h *Handler) syncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"state": h.eng.State(),
		"stats": h.eng.Stats(),
	})
}

// GET /v1/conflicts — conflicts awaiting manual resolution.
func (h *Handler) listConflicts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"conflicts": h.eng.PendingConflicts(),
	})
}

// POST /v1/conflicts/{id}/resolve
func (h *Handler) resolveConflict(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Resolution resolver.Resolution `json:"resolution"`
		Type       event.Kind          `json:"type"`
		Payload    json.RawMessage     `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	var merged event.Payload
	if req.Resolution == resolver.ResolutionMerged {
		p, err := event.DecodePayload(req.Type, req.Payload)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		merged = p
	}
	if err := h.eng.ResolveConflict(r.Context(), r.PathValue("id"), req.Resolution, merged); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resolved": true})
}

// POST /v1/connectivity — notification from the lifecycle observer. The
// change is recorded as a system event and drives pause/resume.
func (h *Handler) connectivity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online  bool `json:"online"`
		Metered bool `json:"metered"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	_, err := h.log.Create(r.Context(), eventlog.CreateInput{
		Payload:  event.Connectivity{Online: req.Online, Metered: req.Metered},
		DeviceID: h.deviceID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	metrics.EventsCreated.Inc()
	h.eng.HandleConnectivity(req.Online, req.Metered)
	writeJSON(w, http.StatusOK, map[string]string{"state": string(h.eng.State())})
}

// GET /healthz — always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz — 503 if the local log is unreadable.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	counts, err := h.log.CountByStatus(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "storage unavailable",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ready",
		"pending": counts[event.StatusPending],
		"failed":  counts[event.StatusFailed],
	})
}
