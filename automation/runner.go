package automation

import (
	"context"
	"encoding/json"

	"github.com/arcflow/arcflow/flow/store"
)

// RunRequest is everything a trigger knows when it starts an execution.
type RunRequest struct {
	Automation    *store.Automation
	ExecutionID   string
	TriggeredBy   store.TriggeredBy
	TriggerSource string
	TriggerData   map[string]any

	// InitialState overrides the definition's initial state (webhook body,
	// cron tick payload). May be nil.
	InitialState map[string]any
}

// Runner executes an automation's workflow end to end: it creates the
// execution record, runs the interpreter, completes the record and updates
// the automation's run counters. The runtime package provides the standard
// implementation; triggers never touch persistence themselves.
type Runner interface {
	RunAutomation(ctx context.Context, req RunRequest) (executionID string, err error)
}

// WorkflowResolver answers whether a workflow id currently resolves to a
// stored definition. store.WorkflowStore satisfies it.
type WorkflowResolver interface {
	GetWorkflow(ctx context.Context, id string) (json.RawMessage, error)
}
