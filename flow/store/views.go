package store

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"
)

// Derived views over execution rows. Everything here is reproducible from
// the raw record alone; no extra persistence is involved.

// TimelineEvent is one entry of the reconstructed execution timeline.
type TimelineEvent struct {
	// Event is a stable name: workflow:started, node:started,
	// node:completed, node:failed, state:changed, workflow:completed,
	// workflow:failed.
	Event string `json:"event"`

	// NodeID/NodeType are set for node-scoped events.
	NodeID   string `json:"nodeId,omitempty"`
	NodeType string `json:"nodeType,omitempty"`

	DurationMs int64  `json:"durationMs,omitempty"`
	Error      string `json:"error,omitempty"`

	// Changes lists top-level state keys touched, for state:changed events.
	Changes []string `json:"changes,omitempty"`

	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Timeline reconstructs the ordered event view of one execution.
func Timeline(rec *ExecutionRecord) []TimelineEvent {
	events := []TimelineEvent{{Event: "workflow:started", Timestamp: &rec.StartedAt}}

	for i := range rec.NodeLogs {
		entry := &rec.NodeLogs[i]
		events = append(events, TimelineEvent{
			Event:    "node:started",
			NodeID:   entry.NodeID,
			NodeType: entry.NodeType,
		})

		if entry.Status == StatusFailed {
			events = append(events, TimelineEvent{
				Event:      "node:failed",
				NodeID:     entry.NodeID,
				NodeType:   entry.NodeType,
				DurationMs: entry.DurationMs,
				Error:      entry.Error,
			})
			continue
		}

		events = append(events, TimelineEvent{
			Event:      "node:completed",
			NodeID:     entry.NodeID,
			NodeType:   entry.NodeType,
			DurationMs: entry.DurationMs,
		})

		if changed := changedKeys(entry.StateBefore, entry.StateAfter); len(changed) > 0 {
			events = append(events, TimelineEvent{
				Event:   "state:changed",
				NodeID:  entry.NodeID,
				Changes: changed,
			})
		}
	}

	final := TimelineEvent{Event: "workflow:completed", Timestamp: rec.CompletedAt}
	if rec.Status == StatusFailed {
		final.Event = "workflow:failed"
		final.Error = rec.Error
	}
	events = append(events, final)
	return events
}

// changedKeys returns the top-level keys whose value differs between two
// state snapshots, sorted.
func changedKeys(before, after map[string]any) []string {
	keys := map[string]bool{}
	for k := range before {
		keys[k] = true
	}
	for k := range after {
		keys[k] = true
	}

	var changed []string
	for k := range keys {
		if !jsonEqual(before[k], after[k]) {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}

// DiffOp is a JSON-patch style operation describing one state change.
type DiffOp struct {
	// Op is add, replace or remove.
	Op string `json:"op"`

	// Path is the dot-separated state path.
	Path string `json:"path"`

	// Value is the new value (absent for remove).
	Value any `json:"value,omitempty"`

	// Old is the previous value (absent for add).
	Old any `json:"old,omitempty"`
}

// StateDiff computes the per-log-entry difference between stateBefore and
// stateAfter. Paths descend into nested objects; arrays are treated as
// atomic values (a changed element replaces the whole array), which keeps
// diffs stable when elements shift position.
func StateDiff(entry *NodeLogEntry) []DiffOp {
	var ops []DiffOp
	diffObjects("", entry.StateBefore, entry.StateAfter, &ops)
	sort.Slice(ops, func(i, j int) bool { return ops[i].Path < ops[j].Path })
	return ops
}

func diffObjects(prefix string, before, after map[string]any, ops *[]DiffOp) {
	keys := map[string]bool{}
	for k := range before {
		keys[k] = true
	}
	for k := range after {
		keys[k] = true
	}

	for k := range keys {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		oldV, hadOld := before[k]
		newV, hasNew := after[k]

		switch {
		case !hadOld:
			*ops = append(*ops, DiffOp{Op: "add", Path: path, Value: newV})
		case !hasNew:
			*ops = append(*ops, DiffOp{Op: "remove", Path: path, Old: oldV})
		case jsonEqual(oldV, newV):
			// unchanged
		default:
			oldObj, oldIsObj := oldV.(map[string]any)
			newObj, newIsObj := newV.(map[string]any)
			if oldIsObj && newIsObj {
				diffObjects(path, oldObj, newObj, ops)
				continue
			}
			*ops = append(*ops, DiffOp{Op: "replace", Path: path, Value: newV, Old: oldV})
		}
	}
}

// jsonEqual compares two JSON values structurally. Values round-trip
// through encoding/json in this package, so reflect.DeepEqual on the
// decoded forms is exact.
func jsonEqual(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aj) == string(bj)
}

// Stats aggregates a filtered set of executions.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"byStatus"`

	// SuccessRate is completed / total, 0 when the set is empty.
	SuccessRate float64 `json:"successRate"`

	// AverageDurationMs averages DurationMs over completed runs only.
	AverageDurationMs float64 `json:"averageDurationMs"`
}

// ComputeStats derives aggregate statistics from a set of executions.
func ComputeStats(recs []*ExecutionRecord) Stats {
	stats := Stats{ByStatus: map[Status]int{}}
	stats.Total = len(recs)

	var completedDurations int64
	completed := 0
	for _, rec := range recs {
		stats.ByStatus[rec.Status]++
		if rec.Status == StatusCompleted {
			completed++
			completedDurations += rec.DurationMs
		}
	}

	if stats.Total > 0 {
		stats.SuccessRate = float64(completed) / float64(stats.Total)
	}
	if completed > 0 {
		stats.AverageDurationMs = float64(completedDurations) / float64(completed)
	}
	return stats
}

// String implements fmt.Stringer for quick operator output.
func (s Stats) String() string {
	return fmt.Sprintf("total=%d successRate=%.2f avgDurationMs=%.1f", s.Total, s.SuccessRate, s.AverageDurationMs)
}
