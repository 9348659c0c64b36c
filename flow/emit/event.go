// Package emit provides the observability event stream for workflow
// execution. Events are serializable and carry stable names so external
// brokers (the WebSocket fan-out, log pipelines) can consume them without
// coupling to the engine.
package emit

import "time"

// Stable event names. These strings are part of the external contract.
const (
	WorkflowStarted   = "workflow:started"
	WorkflowCompleted = "workflow:completed"
	WorkflowFailed    = "workflow:failed"

	NodeStarted   = "node:started"
	NodeCompleted = "node:completed"
	NodeFailed    = "node:failed"

	StateChanged = "state:changed"

	NodeLog = "node:log"

	CronTick    = "cron:tick"
	CronSkipped = "cron:skipped"

	WebhookReceived = "webhook:received"
)

// Event is one observability event emitted during execution or scheduling.
//
// Workflow-level events carry WorkflowID and ExecutionID only; node events
// add NodeID, NodeType, timing, and either Result or Error.
type Event struct {
	// Name is one of the stable event name constants.
	Name string `json:"name"`

	WorkflowID  string `json:"workflowId,omitempty"`
	ExecutionID string `json:"executionId,omitempty"`

	// NodeID is the invocation index path; NodeType the registry id.
	NodeID   string `json:"nodeId,omitempty"`
	NodeType string `json:"nodeType,omitempty"`

	// Timestamp is when the event occurred. The emitter fills it when zero.
	Timestamp time.Time `json:"timestamp"`

	// DurationMs is set on completion/failure events.
	DurationMs int64 `json:"durationMs,omitempty"`

	// Result carries the taken edge payload for node:completed events.
	Result map[string]any `json:"result,omitempty"`

	// Error carries the failure message for *:failed events.
	Error string `json:"error,omitempty"`

	// Meta holds event-specific extras (automation id, trigger source,
	// skipped-tick reason).
	Meta map[string]any `json:"meta,omitempty"`
}

// stamped returns the event with a Timestamp applied if the caller left it
// zero. Emitters call this so consumers always see wall-clock times.
func (e Event) stamped() Event {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return e
}
