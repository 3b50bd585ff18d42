package wschain

import (
	"sync"
)

type EventType byte

const (
	EventOpen EventType = iota + 1
	EventError
	EventClosing
	EventClose
)

func (e EventType) String() string {
	switch e {
	case EventOpen:
		return "open"
	case EventError:
		return "error"
	case EventClosing:
		return "closing"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

type callback[T any] func(T)

type listener[V any] struct {
	id int
	fn callback[V]
}

// EventEmitterCallback maps events (of type K) to callbacks receiving V.
// Callbacks run synchronously on the emitting goroutine.
type EventEmitterCallback[K comparable, V any] struct {
	listeners map[K][]listener[V]
	nextID    int
	lock      sync.RWMutex
}

// NewEventEmitter creates a new EventEmitterCallback and returns a pointer to it.
func NewEventEmitter[K comparable, V any]() *EventEmitterCallback[K, V] {
	return &EventEmitterCallback[K, V]{
		listeners: make(map[K][]listener[V]),
	}
}

// On registers a callback for event and returns a func that removes it.
func (e *EventEmitterCallback[K, V]) On(event K, fn callback[V]) (off func()) {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.nextID++
	id := e.nextID
	e.listeners[event] = append(e.listeners[event], listener[V]{id: id, fn: fn})

	return func() { e.remove(event, id) }
}

func (e *EventEmitterCallback[K, V]) remove(event K, id int) {
	e.lock.Lock()
	defer e.lock.Unlock()

	ls := e.listeners[event]
	for i, l := range ls {
		if l.id == id {
			e.listeners[event] = append(ls[:i:i], ls[i+1:]...)
			return
		}
	}
}

// Emit calls every callback registered for event, in registration order.
// The set of callbacks is snapshotted first, so a callback may unsubscribe.
func (e *EventEmitterCallback[K, V]) Emit(event K, data V) {
	e.lock.RLock()
	ls := make([]listener[V], len(e.listeners[event]))
	copy(ls, e.listeners[event])
	e.lock.RUnlock()

	for _, l := range ls {
		l.fn(data)
	}
}

// Close removes all listeners.
func (e *EventEmitterCallback[K, V]) Close() {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.listeners = make(map[K][]listener[V])
}
