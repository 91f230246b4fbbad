// Package remote defines the contract with the authoritative remote
// store and ships two implementations: an HTTP JSON client and an
// in-memory replica for tests and local development.
package remote

import (
	"context"

	"github.com/driftkit/driftsync/internal/event"
)

// PushError is one event the remote rejected.
type PushError struct {
	EventID string `json:"event_id"`
	Message string `json:"error"`
}

// Conflict is one event for which the remote holds a divergent version.
type Conflict struct {
	EventID string       `json:"event_id"`
	Remote  *event.Event `json:"remote_event"`
}

// PushResult is the remote's per-event disposition for one batch.
type PushResult struct {
	Success   bool        `json:"success"`
	SyncedIDs []string    `json:"synced_ids"`
	Conflicts []Conflict  `json:"conflicts,omitempty"`
	Errors    []PushError `json:"errors,omitempty"`
}

// Replica is the authoritative remote store. Push must be idempotent
// under the event id: pushing the same id twice converges to one remote
// record (upsert-by-id), never a duplicate.
type Replica interface {
	// Push upserts a batch and reports per-event success, failure and
	// conflict. An error return means the whole batch did not reach the
	// remote (transport failure).
	Push(ctx context.Context, events []*event.Event) (*PushResult, error)

	// Pull returns events with timestamp > since in any stable order;
	// reserved for future bidirectional sync.
	Pull(ctx context.Context, since int64) ([]*event.Event, error)

	// HealthCheck is a best-effort reachability probe. Failure is
	// advisory and never gates syncing.
	HealthCheck(ctx context.Context) error
}
