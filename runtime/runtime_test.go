package runtime

import (
	"context"
	"strings"
	"testing"

	"github.com/arcflow/arcflow/automation"
	"github.com/arcflow/arcflow/flow"
	"github.com/arcflow/arcflow/flow/emit"
	"github.com/arcflow/arcflow/flow/store"
)

const sumWorkflow = `{
	"id": "wf-sum",
	"workflow": [
		{"math": {
			"operation": "add",
			"values": "$.values",
			"success?": [
				{"log": {"message": "sum is {{ $.mathResult }}", "success?": null}}
			],
			"error?": null
		}}
	]
}`

const failWorkflow = `{
	"id": "wf-broken",
	"workflow": [
		{"fail": {"message": "always broken"}}
	]
}`

func newTestRuntime(t *testing.T) (*Runtime, *store.MemStore, *emit.BufferedEmitter) {
	t.Helper()
	st := store.NewMemStore()
	buf := emit.NewBufferedEmitter()
	rt, err := New(Config{Store: st, Emitter: buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return rt, st, buf
}

func TestRunWorkflowPersistsExecution(t *testing.T) {
	ctx := context.Background()
	rt, st, buf := newTestRuntime(t)

	if err := st.PutWorkflow(ctx, "wf-sum", []byte(sumWorkflow)); err != nil {
		t.Fatalf("PutWorkflow: %v", err)
	}

	rec, err := rt.RunWorkflow(ctx, "wf-sum", map[string]any{"values": []any{float64(2), float64(3)}}, RunOptions{})
	if err != nil {
		t.Fatalf("RunWorkflow: %v", err)
	}

	if rec.Status != store.StatusCompleted {
		t.Fatalf("status = %q, want completed (error: %s)", rec.Status, rec.Error)
	}
	if rec.TriggeredBy != store.TriggeredByManual {
		t.Errorf("triggeredBy = %q, want manual", rec.TriggeredBy)
	}
	if rec.ID == "" {
		t.Error("execution id not assigned")
	}
	if got := rec.FinalState["mathResult"]; got != float64(5) {
		t.Errorf("finalState.mathResult = %v, want 5", got)
	}
	if len(rec.NodeLogs) != 2 {
		t.Fatalf("got %d node logs, want 2", len(rec.NodeLogs))
	}
	if rec.NodeLogs[0].NodeType != "math" || rec.NodeLogs[1].NodeType != "log" {
		t.Errorf("node log order = %s, %s", rec.NodeLogs[0].NodeType, rec.NodeLogs[1].NodeType)
	}
	if rec.CompletedAt == nil {
		t.Error("completedAt not set")
	}

	// The record read back from the store matches what was returned.
	stored, err := st.GetExecution(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if stored.Status != store.StatusCompleted || len(stored.NodeLogs) != 2 {
		t.Errorf("stored record diverges: status=%q logs=%d", stored.Status, len(stored.NodeLogs))
	}

	if len(buf.Named(emit.WorkflowCompleted)) != 1 {
		t.Error("workflow:completed not emitted")
	}
}

func TestRunWorkflowFailure(t *testing.T) {
	ctx := context.Background()
	rt, st, _ := newTestRuntime(t)

	if err := st.PutWorkflow(ctx, "wf-broken", []byte(failWorkflow)); err != nil {
		t.Fatalf("PutWorkflow: %v", err)
	}

	rec, err := rt.RunWorkflow(ctx, "wf-broken", nil, RunOptions{})
	if err != nil {
		t.Fatalf("RunWorkflow returned transport error: %v", err)
	}

	if rec.Status != store.StatusFailed {
		t.Fatalf("status = %q, want failed", rec.Status)
	}
	if rec.FailedNodeID != "0" {
		t.Errorf("failedNodeId = %q, want %q", rec.FailedNodeID, "0")
	}
	if !strings.Contains(rec.Error, "always broken") {
		t.Errorf("error = %q", rec.Error)
	}
	if rec.Result != nil {
		t.Errorf("failed run carries a result: %v", rec.Result)
	}
}

func TestRunWorkflowUnknownID(t *testing.T) {
	ctx := context.Background()
	rt, _, _ := newTestRuntime(t)

	_, err := rt.RunWorkflow(ctx, "wf-ghost", nil, RunOptions{})
	if flow.CodeOf(err) != flow.CodeWorkflowNotFound {
		t.Fatalf("error code = %q, want WORKFLOW_NOT_FOUND (err: %v)", flow.CodeOf(err), err)
	}
}

func TestRunWorkflowInvalidDefinition(t *testing.T) {
	ctx := context.Background()
	rt, st, _ := newTestRuntime(t)

	if err := st.PutWorkflow(ctx, "wf-bad", []byte(`{"workflow": [{"math": {}, "log": {}}]}`)); err != nil {
		t.Fatalf("PutWorkflow: %v", err)
	}

	_, err := rt.RunWorkflow(ctx, "wf-bad", nil, RunOptions{})
	if flow.CodeOf(err) != flow.CodeInvalidDefinition {
		t.Fatalf("error code = %q, want INVALID_DEFINITION (err: %v)", flow.CodeOf(err), err)
	}
}

func TestRunAutomationUpdatesCounters(t *testing.T) {
	ctx := context.Background()
	rt, st, _ := newTestRuntime(t)

	if err := st.PutWorkflow(ctx, "wf-sum", []byte(sumWorkflow)); err != nil {
		t.Fatalf("PutWorkflow: %v", err)
	}
	a := &store.Automation{
		ID:          "auto-1",
		PluginID:    "demo",
		WorkflowID:  "wf-sum",
		Enabled:     true,
		TriggerType: store.TriggerWebhook,
		TriggerConfig: map[string]any{
			"webhookUrl": "sum/run",
		},
	}
	if err := st.PutAutomation(ctx, a); err != nil {
		t.Fatalf("PutAutomation: %v", err)
	}

	execID, err := rt.RunAutomation(ctx, automation.RunRequest{
		Automation:    a,
		TriggeredBy:   store.TriggeredByWebhook,
		TriggerSource: "http:sum/run",
		TriggerData:   map[string]any{"values": []any{float64(1), float64(2)}},
		InitialState:  map[string]any{"values": []any{float64(1), float64(2)}},
	})
	if err != nil {
		t.Fatalf("RunAutomation: %v", err)
	}

	rec, err := st.GetExecution(ctx, execID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if rec.Status != store.StatusCompleted {
		t.Fatalf("status = %q, want completed (error: %s)", rec.Status, rec.Error)
	}
	if rec.AutomationID != "auto-1" {
		t.Errorf("automationId = %q", rec.AutomationID)
	}
	if rec.TriggerSource != "http:sum/run" {
		t.Errorf("triggerSource = %q", rec.TriggerSource)
	}

	updated, err := st.GetAutomation(ctx, "auto-1")
	if err != nil {
		t.Fatalf("GetAutomation: %v", err)
	}
	if updated.RunCount != 1 || updated.SuccessCount != 1 || updated.FailureCount != 0 {
		t.Errorf("counters = run %d, success %d, failure %d", updated.RunCount, updated.SuccessCount, updated.FailureCount)
	}
	if updated.LastRunAt == nil {
		t.Error("lastRunAt not set")
	}
}

func TestRunAutomationRecordsFailure(t *testing.T) {
	ctx := context.Background()
	rt, st, _ := newTestRuntime(t)

	if err := st.PutWorkflow(ctx, "wf-broken", []byte(failWorkflow)); err != nil {
		t.Fatalf("PutWorkflow: %v", err)
	}
	a := &store.Automation{
		ID:          "auto-1",
		PluginID:    "demo",
		WorkflowID:  "wf-broken",
		Enabled:     true,
		TriggerType: store.TriggerCron,
		TriggerConfig: map[string]any{
			"cronExpression": "*/5 * * * *",
		},
	}
	if err := st.PutAutomation(ctx, a); err != nil {
		t.Fatalf("PutAutomation: %v", err)
	}

	execID, err := rt.RunAutomation(ctx, automation.RunRequest{
		Automation:  a,
		TriggeredBy: store.TriggeredByAutomation,
	})
	if err != nil {
		t.Fatalf("RunAutomation: %v", err)
	}

	rec, err := st.GetExecution(ctx, execID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if rec.Status != store.StatusFailed {
		t.Fatalf("status = %q, want failed", rec.Status)
	}

	updated, err := st.GetAutomation(ctx, "auto-1")
	if err != nil {
		t.Fatalf("GetAutomation: %v", err)
	}
	if updated.RunCount != 1 || updated.FailureCount != 1 {
		t.Errorf("counters = run %d, failure %d", updated.RunCount, updated.FailureCount)
	}
	if !strings.Contains(updated.LastError, "always broken") {
		t.Errorf("lastError = %q", updated.LastError)
	}
}

func TestRegisterPluginWiresScheduler(t *testing.T) {
	ctx := context.Background()
	rt, st, _ := newTestRuntime(t)

	if err := st.PutWorkflow(ctx, "wf-sum", []byte(sumWorkflow)); err != nil {
		t.Fatalf("PutWorkflow: %v", err)
	}
	a := &store.Automation{
		ID:          "auto-cron",
		PluginID:    "demo",
		WorkflowID:  "wf-sum",
		Enabled:     true,
		TriggerType: store.TriggerCron,
		TriggerConfig: map[string]any{
			"cronExpression": "0 0 * * *",
			"timezone":       "UTC",
		},
	}
	if err := st.PutAutomation(ctx, a); err != nil {
		t.Fatalf("PutAutomation: %v", err)
	}

	rt.RegisterPlugin("demo")
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Stop()

	if got := rt.Scheduler().JobStateOf("auto-cron"); got != automation.JobArmed {
		t.Errorf("job state = %q, want %q", got, automation.JobArmed)
	}
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected an error for a missing store")
	}
}
