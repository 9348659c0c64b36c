package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/arcflow/arcflow/flow/emit"
	"github.com/arcflow/arcflow/flow/store"
)

// testRegistry builds a registry of small deterministic nodes used across
// interpreter tests.
func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()

	register := func(id string, edges []string, fn NodeFunc) {
		t.Helper()
		err := r.Register(SourceUniversal, Descriptor{ID: id, Edges: edges}, fn)
		if err != nil {
			t.Fatalf("registering %s: %v", id, err)
		}
	}

	register("sum", []string{"success?", "error?"}, func(_ context.Context, nc *NodeContext) (*EdgeMap, error) {
		values, ok := nc.ConfigSlice("values")
		if !ok {
			return Edges().Skip("success?").Payload("error?", Payload{"error": "values missing"}), nil
		}
		total := 0.0
		for _, v := range values {
			f, _ := v.(float64)
			total += f
		}
		return Edges().Payload("success?", Payload{"mathResult": total}).Skip("error?"), nil
	})

	register("note", []string{"success?"}, func(_ context.Context, nc *NodeContext) (*EdgeMap, error) {
		msg, _ := nc.ConfigString("message")
		return Edges().Payload("success?", Payload{"noteMessage": msg}), nil
	})

	register("noop", []string{"success?"}, func(_ context.Context, _ *NodeContext) (*EdgeMap, error) {
		return Edges().Payload("success?", nil), nil
	})

	// bump increments state key "index" until it reaches the limit config.
	register("bump", []string{"continue?", "done?"}, func(_ context.Context, nc *NodeContext) (*EdgeMap, error) {
		limit, _ := nc.ConfigNumber("limit")
		index, _ := nc.State["index"].(float64)
		next := index + 1
		if next < limit {
			return Edges().Payload("continue?", Payload{"index": next}).Skip("done?"), nil
		}
		return Edges().Skip("continue?").Payload("done?", Payload{"index": next}), nil
	})

	register("boom", []string{"success?"}, func(_ context.Context, _ *NodeContext) (*EdgeMap, error) {
		return nil, errors.New("kaput")
	})

	register("silent", []string{"success?"}, func(_ context.Context, _ *NodeContext) (*EdgeMap, error) {
		return Edges().Skip("success?"), nil
	})

	register("chooser", []string{"a?", "b?", "c?"}, func(_ context.Context, _ *NodeContext) (*EdgeMap, error) {
		return Edges().
			Skip("a?").
			Payload("b?", Payload{"picked": "b"}).
			Payload("c?", Payload{"picked": "c"}), nil
	})

	register("failedge", []string{"success?", "error?"}, func(_ context.Context, _ *NodeContext) (*EdgeMap, error) {
		return Edges().Skip("success?").Payload("error?", Payload{"error": "denied"}), nil
	})

	register("panicky", []string{"success?"}, func(_ context.Context, _ *NodeContext) (*EdgeMap, error) {
		panic("unexpected nil")
	})

	return r
}

func mustParse(t *testing.T, src string) *Definition {
	t.Helper()
	def, err := ParseDefinition([]byte(src))
	if err != nil {
		t.Fatalf("parsing definition: %v", err)
	}
	return def
}

func TestRunSumThenNote(t *testing.T) {
	it := NewInterpreter(testRegistry(t), nil, Options{})
	def := mustParse(t, `{
		"id": "wf-sum", "name": "sum demo",
		"initialState": {"values": [10, 20]},
		"workflow": [
			{"sum": {
				"values": "$.values",
				"success?": [
					{"note": {"message": "sum is {{$.mathResult}}", "success?": null}}
				],
				"error?": null
			}}
		]
	}`)

	res := it.Run(context.Background(), def, nil)

	if res.Status != store.StatusCompleted {
		t.Fatalf("status = %s, want completed (err: %v)", res.Status, res.Err)
	}
	if got := res.FinalState["mathResult"]; got != 30.0 {
		t.Errorf("mathResult = %v, want 30", got)
	}
	if got := res.FinalState["noteMessage"]; got != "sum is 30" {
		t.Errorf("noteMessage = %v, want %q", got, "sum is 30")
	}
	if len(res.NodeLogs) != 2 {
		t.Fatalf("node logs = %d, want 2", len(res.NodeLogs))
	}
	if res.NodeLogs[0].NodeID != "0" || res.NodeLogs[1].NodeID != "0.success?.0" {
		t.Errorf("node paths = %q, %q", res.NodeLogs[0].NodeID, res.NodeLogs[1].NodeID)
	}
	if res.NodeLogs[0].Edge != "success?" {
		t.Errorf("taken edge = %q, want success?", res.NodeLogs[0].Edge)
	}
}

func TestRunCounterLoop(t *testing.T) {
	it := NewInterpreter(testRegistry(t), nil, Options{})
	def := mustParse(t, `{
		"id": "wf-loop", "name": "counter",
		"workflow": [
			{"bump...": {
				"limit": 3,
				"continue?": [{"noop": {"success?": null}}],
				"done?": null
			}}
		]
	}`)

	res := it.Run(context.Background(), def, nil)

	if res.Status != store.StatusCompleted {
		t.Fatalf("status = %s, want completed (err: %v)", res.Status, res.Err)
	}
	if got := res.FinalState["index"]; got != 3.0 {
		t.Errorf("index = %v, want 3", got)
	}
	// Two continue iterations with a body each, then the done iteration.
	if len(res.NodeLogs) != 5 {
		t.Fatalf("node logs = %d, want 5", len(res.NodeLogs))
	}
	if res.NodeLogs[4].Edge != "done?" {
		t.Errorf("final edge = %q, want done?", res.NodeLogs[4].Edge)
	}
}

func TestRunNodeFailureStopsExecution(t *testing.T) {
	it := NewInterpreter(testRegistry(t), nil, Options{})
	def := mustParse(t, `{
		"id": "wf-fail", "name": "fails midway",
		"workflow": [
			{"note": {"message": "before", "success?": null}},
			{"boom": {"success?": null}},
			{"note": {"message": "after", "success?": null}}
		]
	}`)

	res := it.Run(context.Background(), def, nil)

	if res.Status != store.StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if CodeOf(res.Err) != CodeNodeFailed {
		t.Errorf("error code = %s, want NODE_FAILED", CodeOf(res.Err))
	}
	if res.FailedNodeID != "1" {
		t.Errorf("failed node = %q, want 1", res.FailedNodeID)
	}
	if len(res.NodeLogs) != 2 {
		t.Fatalf("node logs = %d, want 2", len(res.NodeLogs))
	}
	if res.NodeLogs[1].Status != store.StatusFailed {
		t.Errorf("boom log status = %s, want failed", res.NodeLogs[1].Status)
	}
	// State changes from before the failure survive in the final state.
	if got := res.FinalState["noteMessage"]; got != "before" {
		t.Errorf("noteMessage = %v, want %q", got, "before")
	}
}

func TestRunCancellationBetweenNodes(t *testing.T) {
	reg := testRegistry(t)
	ec := NewExecContext(nil, nil)
	err := reg.Register(SourceServer, Descriptor{ID: "cancelhook", Edges: []string{"success?"}},
		NodeFunc(func(_ context.Context, _ *NodeContext) (*EdgeMap, error) {
			ec.Cancel()
			return Edges().Payload("success?", nil), nil
		}))
	if err != nil {
		t.Fatal(err)
	}

	it := NewInterpreter(reg, nil, Options{})
	def := mustParse(t, `{
		"id": "wf-cancel", "name": "cancelled",
		"workflow": [
			{"cancelhook": {"success?": null}},
			{"note": {"message": "never runs", "success?": null}}
		]
	}`)

	res := it.Run(context.Background(), def, nil, WithExecContext(ec))

	if res.Status != store.StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if CodeOf(res.Err) != CodeCancelled {
		t.Errorf("error code = %s, want CANCELLED", CodeOf(res.Err))
	}
	if len(res.NodeLogs) != 1 {
		t.Errorf("node logs = %d, want 1", len(res.NodeLogs))
	}
	if res.FailedNodeID != "1" {
		t.Errorf("failed node = %q, want 1", res.FailedNodeID)
	}
}

func TestRunContextCancellation(t *testing.T) {
	it := NewInterpreter(testRegistry(t), nil, Options{})
	def := mustParse(t, `{
		"id": "wf-ctx", "name": "ctx cancelled",
		"workflow": [{"note": {"message": "x", "success?": null}}]
	}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := it.Run(ctx, def, nil)

	if CodeOf(res.Err) != CodeCancelled {
		t.Errorf("error code = %s, want CANCELLED", CodeOf(res.Err))
	}
	if len(res.NodeLogs) != 0 {
		t.Errorf("node logs = %d, want 0", len(res.NodeLogs))
	}
}

func TestRunUnknownNode(t *testing.T) {
	it := NewInterpreter(testRegistry(t), nil, Options{})
	def := mustParse(t, `{
		"id": "wf-unknown", "name": "unknown",
		"workflow": [{"nosuchnode": {"success?": null}}]
	}`)

	res := it.Run(context.Background(), def, nil)

	if CodeOf(res.Err) != CodeUnknownNode {
		t.Errorf("error code = %s, want UNKNOWN_NODE", CodeOf(res.Err))
	}
	if res.FailedNodeID != "0" {
		t.Errorf("failed node = %q, want 0", res.FailedNodeID)
	}
}

func TestRunNodeWithNoTakenEdge(t *testing.T) {
	it := NewInterpreter(testRegistry(t), nil, Options{})
	def := mustParse(t, `{
		"id": "wf-silent", "name": "silent",
		"workflow": [{"silent": {"success?": null}}]
	}`)

	res := it.Run(context.Background(), def, nil)

	if CodeOf(res.Err) != CodeNodeNoEdge {
		t.Errorf("error code = %s, want NODE_NO_EDGE", CodeOf(res.Err))
	}
}

func TestRunFirstTakenEdgeWins(t *testing.T) {
	it := NewInterpreter(testRegistry(t), nil, Options{})
	def := mustParse(t, `{
		"id": "wf-order", "name": "edge order",
		"workflow": [
			{"chooser": {
				"a?": null,
				"b?": [{"note": {"message": "via b", "success?": null}}],
				"c?": null
			}}
		]
	}`)

	res := it.Run(context.Background(), def, nil)

	if res.Status != store.StatusCompleted {
		t.Fatalf("status = %s, want completed (err: %v)", res.Status, res.Err)
	}
	if res.NodeLogs[0].Edge != "b?" {
		t.Errorf("taken edge = %q, want b?", res.NodeLogs[0].Edge)
	}
	if got := res.FinalState["picked"]; got != "b" {
		t.Errorf("picked = %v, want b", got)
	}
	if got := res.FinalState["noteMessage"]; got != "via b" {
		t.Errorf("continuation did not run, noteMessage = %v", got)
	}
}

func TestRunErrorEdgeIsNotFatal(t *testing.T) {
	it := NewInterpreter(testRegistry(t), nil, Options{})
	def := mustParse(t, `{
		"id": "wf-erredge", "name": "handled error",
		"workflow": [
			{"failedge": {
				"success?": null,
				"error?": [{"note": {"message": "handled {{$.error}}", "success?": null}}]
			}}
		]
	}`)

	res := it.Run(context.Background(), def, nil)

	if res.Status != store.StatusCompleted {
		t.Fatalf("status = %s, want completed (err: %v)", res.Status, res.Err)
	}
	if got := res.FinalState["noteMessage"]; got != "handled denied" {
		t.Errorf("noteMessage = %v, want %q", got, "handled denied")
	}
}

func TestRunPanicBecomesNodeFailure(t *testing.T) {
	it := NewInterpreter(testRegistry(t), nil, Options{})
	def := mustParse(t, `{
		"id": "wf-panic", "name": "panics",
		"workflow": [{"panicky": {"success?": null}}]
	}`)

	res := it.Run(context.Background(), def, nil)

	if res.Status != store.StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if CodeOf(res.Err) != CodeNodeFailed {
		t.Errorf("error code = %s, want NODE_FAILED", CodeOf(res.Err))
	}
}

func TestRunAuthTokenInjection(t *testing.T) {
	it := NewInterpreter(testRegistry(t), nil, Options{})
	def := mustParse(t, `{
		"id": "wf-auth", "name": "auth",
		"workflow": [{"note": {"message": "{{$.JWT_token}}", "success?": null}}]
	}`)

	res := it.Run(context.Background(), def, nil, WithAuthToken("tok-123"))

	if got := res.FinalState["noteMessage"]; got != "tok-123" {
		t.Errorf("noteMessage = %v, want tok-123", got)
	}
}

func TestRunOverrideWinsOverInitialState(t *testing.T) {
	it := NewInterpreter(testRegistry(t), nil, Options{})
	def := mustParse(t, `{
		"id": "wf-override", "name": "override",
		"initialState": {"a": 1, "b": 1},
		"workflow": [{"note": {"message": "{{$.a}}-{{$.b}}", "success?": null}}]
	}`)

	res := it.Run(context.Background(), def, map[string]any{"b": 2})

	if got := res.FinalState["noteMessage"]; got != "1-2" {
		t.Errorf("noteMessage = %v, want 1-2", got)
	}
	// The definition's own initial state is never mutated.
	if def.InitialState["b"] != float64(1) {
		t.Errorf("definition initial state mutated: b = %v", def.InitialState["b"])
	}
}

func TestRunAssignBlockAppliesAfterPayload(t *testing.T) {
	it := NewInterpreter(testRegistry(t), nil, Options{})
	def := mustParse(t, `{
		"id": "wf-assign", "name": "assign",
		"initialState": {"values": [1, 2]},
		"workflow": [
			{"sum": {
				"values": "$.values",
				"assign": {"firstValue": "$.values.0"},
				"success?": null,
				"error?": null
			}}
		]
	}`)

	res := it.Run(context.Background(), def, nil)

	if res.Status != store.StatusCompleted {
		t.Fatalf("status = %s, want completed (err: %v)", res.Status, res.Err)
	}
	if got := res.FinalState["firstValue"]; got != 1.0 {
		t.Errorf("firstValue = %v, want 1", got)
	}
	if got := res.FinalState["mathResult"]; got != 3.0 {
		t.Errorf("mathResult = %v, want 3", got)
	}
}

func TestRunMaxStepsGuard(t *testing.T) {
	it := NewInterpreter(testRegistry(t), nil, Options{MaxSteps: 10})
	def := mustParse(t, `{
		"id": "wf-runaway", "name": "runaway loop",
		"workflow": [
			{"bump...": {
				"limit": 1000000,
				"continue?": [{"noop": {"success?": null}}],
				"done?": null
			}}
		]
	}`)

	res := it.Run(context.Background(), def, nil)

	if CodeOf(res.Err) != CodeMaxStepsExceeded {
		t.Errorf("error code = %s, want MAX_STEPS_EXCEEDED", CodeOf(res.Err))
	}
}

func TestRunEmitsLifecycleEvents(t *testing.T) {
	buf := emit.NewBufferedEmitter()
	it := NewInterpreter(testRegistry(t), buf, Options{})
	def := mustParse(t, `{
		"id": "wf-events", "name": "events",
		"workflow": [{"note": {"message": "x", "success?": null}}]
	}`)

	res := it.Run(context.Background(), def, nil, WithExecutionID("exec-1"))
	if res.Status != store.StatusCompleted {
		t.Fatalf("status = %s, want completed", res.Status)
	}

	wantOrder := []string{emit.WorkflowStarted, emit.NodeStarted, emit.NodeCompleted, emit.WorkflowCompleted}
	events := buf.Events()
	if len(events) != len(wantOrder) {
		t.Fatalf("events = %d, want %d", len(events), len(wantOrder))
	}
	for i, name := range wantOrder {
		if events[i].Name != name {
			t.Errorf("event[%d] = %s, want %s", i, events[i].Name, name)
		}
		if events[i].ExecutionID != "exec-1" {
			t.Errorf("event[%d] executionId = %q, want exec-1", i, events[i].ExecutionID)
		}
		if events[i].WorkflowID != "wf-events" {
			t.Errorf("event[%d] workflowId = %q, want wf-events", i, events[i].WorkflowID)
		}
	}
}

func TestRunDeterministicLogs(t *testing.T) {
	it := NewInterpreter(testRegistry(t), nil, Options{})
	def := mustParse(t, `{
		"id": "wf-det", "name": "deterministic",
		"initialState": {"values": [1, 2, 3]},
		"workflow": [
			{"sum": {"values": "$.values", "success?": null, "error?": null}},
			{"note": {"message": "total {{$.mathResult}}", "success?": null}}
		]
	}`)

	a := it.Run(context.Background(), def, nil)
	b := it.Run(context.Background(), def, nil)

	if len(a.NodeLogs) != len(b.NodeLogs) {
		t.Fatalf("log lengths differ: %d vs %d", len(a.NodeLogs), len(b.NodeLogs))
	}
	for i := range a.NodeLogs {
		if a.NodeLogs[i].NodeID != b.NodeLogs[i].NodeID || a.NodeLogs[i].Edge != b.NodeLogs[i].Edge {
			t.Errorf("log[%d] differs: %+v vs %+v", i, a.NodeLogs[i], b.NodeLogs[i])
		}
	}
	if a.FinalState["noteMessage"] != b.FinalState["noteMessage"] {
		t.Errorf("final states differ")
	}
}
