package wrangler

import "sync"

// EventKind classifies general state-change notifications.
type EventKind string

const (
	EventRecordsLoaded     EventKind = "records_loaded"
	EventAnnotationChanged EventKind = "annotation_changed"
	EventLedgerRebuilt     EventKind = "ledger_rebuilt"
	EventConflictResolved  EventKind = "conflict_resolved"
	EventSyncStateChanged  EventKind = "sync_state_changed"
)

// Event is a general state-change notification. High-frequency sync
// progress goes through the separate sync channel so UI listeners are not
// over-notified.
type Event struct {
	Kind     EventKind `json:"kind"`
	RecordID string    `json:"recordId,omitempty"`
}

// registry is a typed listener registry. Subscribing returns an
// unsubscribe function; notification order is unspecified.
type registry[T any] struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]func(T)
}

func newRegistry[T any]() *registry[T] {
	return &registry[T]{listeners: make(map[int]func(T))}
}

func (r *registry[T]) subscribe(fn func(T)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.listeners, id)
	}
}

func (r *registry[T]) notify(v T) {
	r.mu.Lock()
	fns := make([]func(T), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}
