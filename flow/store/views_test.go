package store

import (
	"reflect"
	"testing"
	"time"
)

func sampleRecord() *ExecutionRecord {
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	completed := started.Add(2 * time.Second)
	return &ExecutionRecord{
		ID: "exec-1", WorkflowID: "wf-1", Status: StatusCompleted,
		StartedAt: started, CompletedAt: &completed, DurationMs: 2000,
		NodeLogs: []NodeLogEntry{
			{
				NodeID: "0", NodeType: "math", Status: StatusCompleted,
				Edge: "success?", DurationMs: 1,
				StateBefore: map[string]any{"values": []any{1.0, 2.0}},
				StateAfter:  map[string]any{"values": []any{1.0, 2.0}, "mathResult": 3.0},
			},
			{
				NodeID: "0.success?.0", NodeType: "log", Status: StatusCompleted,
				Edge: "success?", DurationMs: 0,
				StateBefore: map[string]any{"values": []any{1.0, 2.0}, "mathResult": 3.0},
				StateAfter:  map[string]any{"values": []any{1.0, 2.0}, "mathResult": 3.0, "logMessage": "sum 3"},
			},
		},
	}
}

func TestTimeline(t *testing.T) {
	events := Timeline(sampleRecord())

	var names []string
	for _, e := range events {
		names = append(names, e.Event)
	}
	want := []string{
		"workflow:started",
		"node:started", "node:completed", "state:changed",
		"node:started", "node:completed", "state:changed",
		"workflow:completed",
	}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("timeline = %v\nwant %v", names, want)
	}

	// state:changed lists only touched top-level keys.
	if got := events[3].Changes; !reflect.DeepEqual(got, []string{"mathResult"}) {
		t.Errorf("first change set = %v", got)
	}
	if got := events[6].Changes; !reflect.DeepEqual(got, []string{"logMessage"}) {
		t.Errorf("second change set = %v", got)
	}
}

func TestTimelineFailedExecution(t *testing.T) {
	rec := sampleRecord()
	rec.Status = StatusFailed
	rec.Error = "NODE_FAILED: node 1 exploded"
	rec.NodeLogs[1].Status = StatusFailed
	rec.NodeLogs[1].Error = "exploded"

	events := Timeline(rec)
	last := events[len(events)-1]
	if last.Event != "workflow:failed" || last.Error == "" {
		t.Errorf("final event = %+v", last)
	}

	var sawNodeFailed bool
	for _, e := range events {
		if e.Event == "node:failed" && e.NodeID == "0.success?.0" {
			sawNodeFailed = true
		}
	}
	if !sawNodeFailed {
		t.Error("no node:failed event for the failing entry")
	}
}

func TestStateDiff(t *testing.T) {
	entry := &NodeLogEntry{
		StateBefore: map[string]any{
			"keep":    "same",
			"gone":    1.0,
			"change":  "old",
			"nested":  map[string]any{"a": 1.0, "b": 2.0},
			"arr":     []any{1.0, 2.0},
		},
		StateAfter: map[string]any{
			"keep":   "same",
			"change": "new",
			"nested": map[string]any{"a": 1.0, "b": 3.0},
			"arr":    []any{1.0, 9.0},
			"added":  true,
		},
	}

	ops := StateDiff(entry)

	byPath := map[string]DiffOp{}
	for _, op := range ops {
		byPath[op.Path] = op
	}
	if len(ops) != 5 {
		t.Fatalf("ops = %v", ops)
	}
	if op := byPath["added"]; op.Op != "add" || op.Value != true {
		t.Errorf("added = %+v", op)
	}
	if op := byPath["gone"]; op.Op != "remove" || op.Old != 1.0 {
		t.Errorf("gone = %+v", op)
	}
	if op := byPath["change"]; op.Op != "replace" || op.Value != "new" || op.Old != "old" {
		t.Errorf("change = %+v", op)
	}
	// Objects diff by descending; arrays replace wholesale.
	if op := byPath["nested.b"]; op.Op != "replace" || op.Value != 3.0 {
		t.Errorf("nested.b = %+v", op)
	}
	if op, ok := byPath["arr"]; !ok || op.Op != "replace" {
		t.Errorf("arr = %+v (ok=%v)", op, ok)
	}
}

func TestComputeStats(t *testing.T) {
	recs := []*ExecutionRecord{
		{Status: StatusCompleted, DurationMs: 100},
		{Status: StatusCompleted, DurationMs: 300},
		{Status: StatusFailed, DurationMs: 50},
		{Status: StatusRunning},
	}

	stats := ComputeStats(recs)
	if stats.Total != 4 {
		t.Errorf("total = %d", stats.Total)
	}
	if stats.ByStatus[StatusCompleted] != 2 || stats.ByStatus[StatusFailed] != 1 {
		t.Errorf("byStatus = %v", stats.ByStatus)
	}
	if stats.SuccessRate != 0.5 {
		t.Errorf("success rate = %v", stats.SuccessRate)
	}
	// Averages over completed runs only.
	if stats.AverageDurationMs != 200 {
		t.Errorf("avg duration = %v", stats.AverageDurationMs)
	}

	empty := ComputeStats(nil)
	if empty.SuccessRate != 0 || empty.AverageDurationMs != 0 {
		t.Errorf("empty stats = %+v", empty)
	}
}
