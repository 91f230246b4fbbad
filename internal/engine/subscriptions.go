package engine

import "sync"

// subscribers is a typed callback set. Each subscription returns a
// disposer; publish snapshots the set so a callback may unsubscribe
// itself without deadlocking.
type subscribers[T any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(T)
}

func newSubscribers[T any]() *subscribers[T] {
	return &subscribers[T]{fns: make(map[int]func(T))}
}

func (s *subscribers[T]) subscribe(fn func(T)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.fns, id)
	}
}

func (s *subscribers[T]) publish(v T) {
	s.mu.Lock()
	snapshot := make([]func(T), 0, len(s.fns))
	for _, fn := range s.fns {
		snapshot = append(snapshot, fn)
	}
	s.mu.Unlock()
	for _, fn := range snapshot {
		fn(v)
	}
}
