package emit

// Emitter receives observability events from the interpreter, the scheduler
// and the webhook dispatcher.
//
// Implementations should be:
//   - Non-blocking: never slow down workflow execution
//   - Thread-safe: many executions emit concurrently
//   - Resilient: a failing backend must not crash a workflow
//
// Common patterns are buffering, filtering, sampling and fan-out; compose
// them by wrapping emitters.
type Emitter interface {
	// Emit delivers one event. Emit must not panic; backend errors are
	// handled internally.
	Emit(event Event)
}

// Multi fans an event out to several emitters in order.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(event Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(event)
		}
	}
}
