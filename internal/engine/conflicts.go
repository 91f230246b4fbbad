package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/driftkit/driftsync/internal/config"
	"github.com/driftkit/driftsync/internal/event"
	"github.com/driftkit/driftsync/internal/metrics"
	"github.com/driftkit/driftsync/internal/resolver"
)

// Conflict pairs the local and remote versions of a diverged event.
// Resolution is empty while the conflict awaits manual resolution.
type Conflict struct {
	EventID    string              `json:"event_id"`
	Local      *event.Event        `json:"local"`
	Remote     *event.Event        `json:"remote"`
	Resolution resolver.Resolution `json:"resolution,omitempty"`
	DetectedAt time.Time           `json:"detected_at"`
}

// handleConflict applies the configured strategy to one reported
// conflict. Manual parks the event until ResolveConflict; any other
// strategy resolves immediately and writes the winner back to the log.
func (e *Engine) handleConflict(ctx context.Context, local, remoteEv *event.Event, cfg config.SyncConf, res *Result) error {
	c := &Conflict{
		EventID:    local.ID,
		Local:      local,
		Remote:     remoteEv,
		DetectedAt: e.now(),
	}

	if cfg.ConflictStrategy == resolver.StrategyManual {
		e.mu.Lock()
		e.conflicts[c.EventID] = c
		e.mu.Unlock()
		res.Conflicts = append(res.Conflicts, c)
		metrics.ConflictsDetected.WithLabelValues("pending").Inc()
		return nil
	}

	r, err := e.registry.Get(cfg.ConflictStrategy)
	if err != nil {
		return fmt.Errorf("conflict on %s: %w", local.ID, err)
	}
	outcome := r.Resolve(local, remoteEv)
	c.Resolution = outcome.Resolution
	if err := e.applyOutcome(ctx, local, outcome); err != nil {
		return err
	}
	res.Conflicts = append(res.Conflicts, c)
	metrics.ConflictsDetected.WithLabelValues(string(outcome.Resolution)).Inc()
	return nil
}

// applyOutcome writes a resolver decision back to the log. A remote win
// means the authoritative record already exists remotely, so the local
// copy adopts it and is marked synced; a local or merged win re-queues
// the winner as pending for the next push.
func (e *Engine) applyOutcome(ctx context.Context, local *event.Event, outcome resolver.Outcome) error {
	resolved := outcome.Event.Clone()
	resolved.ID = local.ID

	if outcome.Resolution == resolver.ResolutionRemote {
		at := e.now()
		resolved.Status = event.StatusSynced
		resolved.SyncedAt = &at
	} else {
		resolved.Status = event.StatusPending
		resolved.SyncedAt = nil
	}
	return e.log.Supersede(ctx, resolved)
}

// PendingConflicts returns the conflicts awaiting manual resolution,
// oldest first.
func (e *Engine) PendingConflicts() []*Conflict {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Conflict, 0, len(e.conflicts))
	for _, c := range e.conflicts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.Before(out[j].DetectedAt)
		}
		return out[i].EventID < out[j].EventID
	})
	return out
}

// ResolveConflict applies an explicit resolution to a parked conflict
// and re-queues the event as pending for re-sync. For a merged
// resolution the caller supplies the merged payload; the result takes
// the later of the two timestamps so it supersedes both versions under
// last-write-wins.
func (e *Engine) ResolveConflict(ctx context.Context, id string, resolution resolver.Resolution, merged event.Payload) error {
	e.mu.Lock()
	c, ok := e.conflicts[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending conflict for event %s", id)
	}

	var resolved *event.Event
	switch resolution {
	case resolver.ResolutionLocal:
		resolved = c.Local.Clone()
	case resolver.ResolutionRemote:
		resolved = c.Remote.Clone()
	case resolver.ResolutionMerged:
		if merged == nil {
			return fmt.Errorf("resolve conflict %s: merged resolution needs a payload", id)
		}
		resolved = c.Local.Clone()
		resolved.Payload = merged
		resolved.Kind = merged.Kind()
		if c.Remote.Timestamp > resolved.Timestamp {
			resolved.Timestamp = c.Remote.Timestamp
		}
	default:
		return fmt.Errorf("resolve conflict %s: unknown resolution %q", id, resolution)
	}

	resolved.ID = c.EventID
	resolved.Status = event.StatusPending
	resolved.SyncedAt = nil
	if err := e.log.Supersede(ctx, resolved); err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.conflicts, id)
	e.mu.Unlock()
	metrics.ConflictsDetected.WithLabelValues(string(resolution)).Inc()
	e.requestSync()
	return nil
}

// isParked reports whether the event sits behind an unresolved manual
// conflict and must stay out of the pending rotation.
func (e *Engine) isParked(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.conflicts[id]
	return ok
}
