package flow

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// State is the mutable key-value map shared by all nodes in one execution.
//
// Values are restricted to the JSON value tree produced by encoding/json:
// nil, bool, float64, string, []any and map[string]any. Nodes read and write
// the map freely during their own Execute; the interpreter owns it between
// invocations.
type State = map[string]any

// Lookup resolves a dot-separated path against a value tree.
//
// Path segments index map keys; numeric-only segments index arrays. The
// second return is false when any segment is missing or mismatched, e.g.
// an array index applied to a map.
//
// Example:
//
//	state := State{"user": map[string]any{"tags": []any{"a", "b"}}}
//	v, ok := Lookup(state, "user.tags.1") // "b", true
func Lookup(state map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var cur any = state
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Put writes a value at a dot-separated path, creating intermediate maps as
// needed. Keys are creatable at any depth.
//
// Numeric segments address arrays: an in-range index overwrites, an index
// equal to the current length appends, and anything beyond that is an error.
// A numeric segment applied to a missing key creates an array.
func Put(state map[string]any, path string, value any) error {
	if path == "" {
		return Errf(CodeInvalidDefinition, "empty state path")
	}

	segs := strings.Split(path, ".")
	var parent any = state

	for i, seg := range segs {
		last := i == len(segs)-1

		switch node := parent.(type) {
		case map[string]any:
			if last {
				node[seg] = value
				return nil
			}
			child, ok := node[seg]
			if !ok || child == nil {
				child = containerFor(segs[i+1])
				node[seg] = child
			}
			parent = child

		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil {
				return Errf(CodeInvalidDefinition, "path %q: %q is not an array index", path, seg)
			}
			if idx < 0 || idx > len(node) {
				return Errf(CodeInvalidDefinition, "path %q: index %d out of range", path, idx)
			}
			if last {
				if idx == len(node) {
					// Appending requires rewriting the parent slot; walk again
					// with the extended slice in place.
					return putExtend(state, segs[:i], append(node, value))
				}
				node[idx] = value
				return nil
			}
			if idx == len(node) {
				child := containerFor(segs[i+1])
				if err := putExtend(state, segs[:i], append(node, child)); err != nil {
					return err
				}
				parent = child
				continue
			}
			parent = node[idx]

		default:
			return Errf(CodeInvalidDefinition, "path %q: segment %q addresses a scalar", path, seg)
		}
	}
	return nil
}

// putExtend replaces the slice stored at segs with the extended copy.
// append may reallocate, so the parent slot has to be rewritten.
func putExtend(state map[string]any, segs []string, extended []any) error {
	if len(segs) == 0 {
		return Errf(CodeInvalidDefinition, "state root must be an object")
	}
	var parent any = state
	for _, seg := range segs[:len(segs)-1] {
		switch node := parent.(type) {
		case map[string]any:
			parent = node[seg]
		case []any:
			idx, _ := strconv.Atoi(seg)
			parent = node[idx]
		}
	}
	last := segs[len(segs)-1]
	switch node := parent.(type) {
	case map[string]any:
		node[last] = extended
	case []any:
		idx, _ := strconv.Atoi(last)
		node[idx] = extended
	}
	return nil
}

// containerFor picks the container type implied by the next path segment.
func containerFor(nextSeg string) any {
	if _, err := strconv.Atoi(nextSeg); err == nil {
		return []any{}
	}
	return map[string]any{}
}

// CloneState deep-copies a state map using JSON round-trip serialization.
//
// This works for the full JSON value tree the engine allows in state. It is
// the same approach the interpreter uses for per-node stateBefore/stateAfter
// snapshots, which keeps snapshots comparable byte-for-byte.
func CloneState(state map[string]any) (map[string]any, error) {
	if state == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	copied := make(map[string]any, len(state))
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return copied, nil
}

// cloneValue deep-copies an arbitrary JSON value.
func cloneValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	var copied any
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return copied, nil
}
