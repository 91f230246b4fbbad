package eventlog

import (
	"sync"

	"github.com/driftkit/driftsync/internal/event"
)

// Op distinguishes the two mutation shapes the log commits.
type Op string

const (
	OpCreated       Op = "created"
	OpStatusChanged Op = "status_changed"
)

// Change describes one committed mutation. Created changes carry the
// full events; status changes carry the affected ids and the new status.
type Change struct {
	Op     Op
	Status event.Status
	Events []*event.Event
	IDs    []string
}

// Filter restricts which changes a subscriber sees. A nil filter or an
// empty status list matches everything.
type Filter struct {
	Statuses []event.Status
}

func (f *Filter) matches(c Change) bool {
	if f == nil || len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if s == c.Status {
			return true
		}
	}
	return false
}

// Subscribe registers fn to run after every committed mutation matching
// filter, in commit order. Delivery is best-effort at-most-once: a
// process crash between commit and callback loses the notification.
// The returned disposer removes the subscription.
func (l *Log) Subscribe(fn func(Change), filter *Filter) (unsubscribe func()) {
	return l.subs.subscribe(fn, filter)
}

type subscription struct {
	fn     func(Change)
	filter *Filter
}

// notifier delivers committed changes to subscribers. A single mutex
// serializes delivery so subscribers observe changes in commit order.
type notifier struct {
	mu   sync.Mutex
	next int
	subs map[int]subscription
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[int]subscription)}
}

func (n *notifier) subscribe(fn func(Change), filter *Filter) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.next
	n.next++
	n.subs[id] = subscription{fn: fn, filter: filter}
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

func (n *notifier) notify(c Change) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, s := range n.subs {
		if s.filter.matches(c) {
			s.fn(c)
		}
	}
}
