package flow

import (
	"sync/atomic"

	"github.com/arcflow/arcflow/flow/emit"
	"github.com/arcflow/arcflow/flow/store"
)

// ExecContext is the per-run container: the shared mutable state map, the
// append-only log sink, the cooperative cancellation flag, identity of the
// run, and the injected collaborator services.
//
// The interpreter is the single producer: it owns the log sink and mutates
// state between invocations. Nodes touch state only from inside their own
// Execute, and there is no cross-node parallelism within one run.
type ExecContext struct {
	// State is the live execution state, seeded from the definition's
	// initialState merged with any per-run override.
	State State

	// TenantID identifies the owning tenant, empty for untenanted runs.
	TenantID string

	// WorkflowID and ExecutionID correlate logs, events and persistence.
	WorkflowID  string
	ExecutionID string

	// Services are the injected external collaborators handed to nodes.
	Services Services

	emitter emit.Emitter
	logs    []store.NodeLogEntry
	cancel  atomic.Bool
}

// NewExecContext builds a run container. A nil emitter is replaced with the
// null emitter so callers never have to guard Emit.
func NewExecContext(state State, emitter emit.Emitter) *ExecContext {
	if state == nil {
		state = State{}
	}
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	return &ExecContext{State: state, emitter: emitter}
}

// Cancel sets the cooperative cancellation flag. The interpreter observes it
// between node invocations; in-flight node I/O is not interrupted.
func (ec *ExecContext) Cancel() {
	ec.cancel.Store(true)
}

// Cancelled reports whether cancellation was requested.
func (ec *ExecContext) Cancelled() bool {
	return ec.cancel.Load()
}

// Emit forwards an event to the run's emitter.
func (ec *ExecContext) Emit(e emit.Event) {
	e.WorkflowID = ec.WorkflowID
	e.ExecutionID = ec.ExecutionID
	ec.emitter.Emit(e)
}

// appendLog records a node log entry. Single writer: only the interpreter
// goroutine driving this run appends.
func (ec *ExecContext) appendLog(entry store.NodeLogEntry) {
	ec.logs = append(ec.logs, entry)
}

// Logs returns the ordered node log entries recorded so far.
func (ec *ExecContext) Logs() []store.NodeLogEntry {
	out := make([]store.NodeLogEntry, len(ec.logs))
	copy(out, ec.logs)
	return out
}
