package remote

import (
	"context"
	"sort"
	"sync"

	"github.com/driftkit/driftsync/internal/event"
)

// Memory is an in-process Replica. It upserts by event id, so repeated
// pushes of the same id converge to one record. Used in tests and as
// the local-development replica when no remote URL is configured.
//
// The zero value is not usable; call NewMemory.
type Memory struct {
	mu     sync.Mutex
	events map[string]*event.Event

	// Reject maps event ids to an error message; pushes of those ids
	// come back in the result's error set.
	Reject map[string]string
	// Divergent maps event ids to the remote's version; pushes of those
	// ids come back as conflicts instead of being stored.
	Divergent map[string]*event.Event
	// PushErr, when set, fails whole Push calls (transport failure).
	PushErr error
	// HealthErr, when set, fails HealthCheck.
	HealthErr error

	pushCalls int
}

// NewMemory creates an empty in-memory replica.
func NewMemory() *Memory {
	return &Memory{
		events:    make(map[string]*event.Event),
		Reject:    make(map[string]string),
		Divergent: make(map[string]*event.Event),
	}
}

// Push upserts each event by id unless it is rejected or divergent.
func (m *Memory) Push(ctx context.Context, events []*event.Event) (*PushResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushCalls++
	if m.PushErr != nil {
		return nil, m.PushErr
	}

	result := &PushResult{}
	for _, ev := range events {
		if msg, ok := m.Reject[ev.ID]; ok {
			result.Errors = append(result.Errors, PushError{EventID: ev.ID, Message: msg})
			continue
		}
		if remote, ok := m.Divergent[ev.ID]; ok {
			result.Conflicts = append(result.Conflicts, Conflict{EventID: ev.ID, Remote: remote.Clone()})
			continue
		}
		m.events[ev.ID] = ev.Clone()
		result.SyncedIDs = append(result.SyncedIDs, ev.ID)
	}
	result.Success = len(result.Errors) == 0
	return result, nil
}

// Pull returns stored events with timestamp > since, ordered by
// timestamp ascending.
func (m *Memory) Pull(ctx context.Context, since int64) ([]*event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*event.Event
	for _, ev := range m.events {
		if ev.Timestamp > since {
			out = append(out, ev.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// HealthCheck reports the configured health error, if any.
func (m *Memory) HealthCheck(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.HealthErr
}

// Get returns the stored copy of an event, or nil.
func (m *Memory) Get(id string) *event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev, ok := m.events[id]; ok {
		return ev.Clone()
	}
	return nil
}

// Len returns the number of stored events.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// PushCalls returns how many Push calls the replica has seen.
func (m *Memory) PushCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pushCalls
}
