package automation

import (
	"context"
	"errors"

	"github.com/arcflow/arcflow/flow"
	"github.com/arcflow/arcflow/flow/emit"
	"github.com/arcflow/arcflow/flow/store"
)

// ErrUnknownWebhook means no automation claims the requested path. The HTTP
// layer maps it to 404.
var ErrUnknownWebhook = errors.New("no automation for webhook path")

// ErrAutomationDisabled means the automation exists but is disabled. The
// HTTP layer maps it to 409; no execution record is created.
var ErrAutomationDisabled = errors.New("automation is disabled")

// DispatchResult is the webhook surface's response body.
type DispatchResult struct {
	Message      string `json:"message"`
	ExecutionID  string `json:"executionId"`
	AutomationID string `json:"automationId"`
}

// Dispatcher maps inbound webhook paths to automations and starts their
// workflows synchronously. The surface is public by design; rate limiting
// and authentication are upstream concerns.
type Dispatcher struct {
	store     store.AutomationStore
	workflows WorkflowResolver
	runner    Runner
	emitter   emit.Emitter
}

// NewDispatcher creates a webhook dispatcher. A nil emitter is replaced
// with the null emitter.
func NewDispatcher(st store.AutomationStore, workflows WorkflowResolver, runner Runner, emitter emit.Emitter) *Dispatcher {
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	return &Dispatcher{store: st, workflows: workflows, runner: runner, emitter: emitter}
}

// Dispatch handles one inbound webhook call.
//
// The path segment resolves to the automation whose triggerConfig.webhookUrl
// matches; the request body becomes the execution's initial state verbatim.
// The workflow runs in the same call, so the caller gets the execution id of
// a run that has already been recorded.
func (d *Dispatcher) Dispatch(ctx context.Context, path string, body map[string]any) (*DispatchResult, error) {
	a, err := d.store.FindAutomationByWebhookPath(ctx, path)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownWebhook
	}
	if err != nil {
		return nil, err
	}
	if !a.Enabled {
		return nil, ErrAutomationDisabled
	}

	if _, err := d.workflows.GetWorkflow(ctx, a.WorkflowID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, flow.Errf(flow.CodeWorkflowNotFound, "workflow not found: %s", a.WorkflowID)
		}
		return nil, err
	}

	d.emitter.Emit(emit.Event{
		Name:       emit.WebhookReceived,
		WorkflowID: a.WorkflowID,
		Meta:       map[string]any{"automationId": a.ID, "path": path},
	})

	executionID, err := d.runner.RunAutomation(ctx, RunRequest{
		Automation:    a,
		TriggeredBy:   store.TriggeredByWebhook,
		TriggerSource: "http:" + path,
		TriggerData:   body,
		InitialState:  body,
	})
	if err != nil {
		return nil, err
	}

	return &DispatchResult{
		Message:      "Workflow was started",
		ExecutionID:  executionID,
		AutomationID: a.ID,
	}, nil
}
