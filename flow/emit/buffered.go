package emit

import "sync"

// BufferedEmitter collects events in memory.
//
// Primary uses:
//   - Tests: capture the event stream and assert on it
//   - Batching: drain periodically and forward to a slow backend
//
// Thread-safe; Events returns a copy so callers can inspect while emission
// continues.
type BufferedEmitter struct {
	mu     sync.Mutex
	events []Event
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{}
}

// Emit implements Emitter by appending to the buffer.
func (b *BufferedEmitter) Emit(event Event) {
	event = event.stamped()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

// Events returns a snapshot of all buffered events in emission order.
func (b *BufferedEmitter) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Named returns buffered events matching a stable event name.
func (b *BufferedEmitter) Named(name string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Event
	for _, e := range b.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Reset discards all buffered events.
func (b *BufferedEmitter) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}
