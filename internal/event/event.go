package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the sync disposition of an event.
type Status string

const (
	// StatusPending means the event was created locally and is not yet
	// confirmed by the remote replica.
	StatusPending Status = "pending"
	// StatusSynced means the remote replica confirmed the event durable.
	StatusSynced Status = "synced"
	// StatusFailed means the last sync attempt was rejected or errored.
	// A failed event may still be retried.
	StatusFailed Status = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSynced, StatusFailed:
		return true
	}
	return false
}

// Event is the unit of the local log. The payload, kind, timestamp and
// identity fields are immutable after creation; corrections are new
// events. Only the sync-status envelope (Status, SyncedAt, Error,
// RetryCount, FailedAt) changes over an event's life, and only the sync
// engine or explicit retry/resolution actions write it.
type Event struct {
	ID      string  `json:"id"`
	Kind    Kind    `json:"type"`
	Payload Payload `json:"-"`
	// Timestamp is the logical occurrence time in ms since epoch. It
	// orders events and decides last-write-wins conflicts.
	Timestamp  int64      `json:"timestamp"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	SyncedAt   *time.Time `json:"synced_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	RetryCount int        `json:"retry_count"`
	// FailedAt records the last transition into failed; retry backoff
	// eligibility is computed from it.
	FailedAt *time.Time `json:"failed_at,omitempty"`
	// DeviceID identifies the originating device. It is the
	// deterministic tie-breaker for equal-timestamp conflicts.
	DeviceID string `json:"device_id,omitempty"`
}

// Clone returns a copy of the event. Payload values are treated as
// immutable so sharing them is safe.
func (e *Event) Clone() *Event {
	cp := *e
	if e.SyncedAt != nil {
		t := *e.SyncedAt
		cp.SyncedAt = &t
	}
	if e.FailedAt != nil {
		t := *e.FailedAt
		cp.FailedAt = &t
	}
	return &cp
}

// wireEvent is the JSON shape of an Event. The payload travels as raw
// variant data; Kind selects the variant on decode.
type wireEvent struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  int64           `json:"timestamp"`
	Status     Status          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	SyncedAt   *time.Time      `json:"synced_at,omitempty"`
	Error      string          `json:"error,omitempty"`
	RetryCount int             `json:"retry_count"`
	FailedAt   *time.Time      `json:"failed_at,omitempty"`
	DeviceID   string          `json:"device_id,omitempty"`
}

// MarshalJSON encodes the event with its payload inlined under "payload".
func (e *Event) MarshalJSON() ([]byte, error) {
	data, err := EncodePayload(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", e.ID, err)
	}
	return json.Marshal(wireEvent{
		ID:         e.ID,
		Kind:       e.Kind,
		Payload:    data,
		Timestamp:  e.Timestamp,
		Status:     e.Status,
		CreatedAt:  e.CreatedAt,
		SyncedAt:   e.SyncedAt,
		Error:      e.Error,
		RetryCount: e.RetryCount,
		FailedAt:   e.FailedAt,
		DeviceID:   e.DeviceID,
	})
}

// UnmarshalJSON decodes the event, selecting the payload variant by kind.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p, err := DecodePayload(w.Kind, w.Payload)
	if err != nil {
		return fmt.Errorf("unmarshal event %s: %w", w.ID, err)
	}
	*e = Event{
		ID:         w.ID,
		Kind:       w.Kind,
		Payload:    p,
		Timestamp:  w.Timestamp,
		Status:     w.Status,
		CreatedAt:  w.CreatedAt,
		SyncedAt:   w.SyncedAt,
		Error:      w.Error,
		RetryCount: w.RetryCount,
		FailedAt:   w.FailedAt,
		DeviceID:   w.DeviceID,
	}
	return nil
}
