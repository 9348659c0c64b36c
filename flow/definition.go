package flow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// loopMarker on an invocation key marks a loop node: the interpreter
// re-enters the node until its taken edge resolves to a terminal target.
const loopMarker = "..."

// Definition is an immutable, versioned workflow value object.
//
// The wire shape is fixed JSON:
//
//	{
//	  "id": "wf-1", "name": "demo", "version": "1.0.0",
//	  "initialState": {"a": 10},
//	  "workflow": [ { "math": { "operation": "add", "values": ["$.a", 1],
//	                            "success?": null } } ]
//	}
//
// Marshalling is canonical (object keys sorted), so a definition survives a
// serialize/deserialize round trip bit-identically.
type Definition struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Version      string         `json:"version"`
	InitialState map[string]any `json:"initialState"`
	Workflow     []*Invocation  `json:"workflow"`
}

// Invocation is the single-entry object form of one node call:
//
//	{ "<nodeTypeOrAlias>[...]": { ...config..., "<edge>?": <target> } }
//
// Keys ending in "?" inside the config object are edges; everything else is
// configuration handed to the node after resolution. The interpreter must
// never confuse the two, so they are split at parse time.
type Invocation struct {
	// Name is the key as written, loop marker stripped. It may be an alias
	// with a numeric disambiguation suffix ("http2").
	Name string

	// Loop is true when the key carried the trailing "..." marker.
	Loop bool

	// Config holds the non-edge entries of the invocation object.
	Config map[string]any

	// Edges maps edge names (with their "?" suffix) to continuation targets.
	Edges map[string]*Target
}

// TargetKind discriminates the three edge target shapes.
type TargetKind int

const (
	// TargetTerminal is a null target: the branch stops here.
	TargetTerminal TargetKind = iota

	// TargetNode is a deep-nested single continuation invocation.
	TargetNode

	// TargetSequence is an ordered sub-flow of invocations.
	TargetSequence
)

// Target is the value of an edge: null, a nested invocation, or a sub-flow.
type Target struct {
	Kind       TargetKind
	Invocation *Invocation
	Sequence   []*Invocation
}

// ParseDefinition decodes a workflow definition from JSON.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, Wrap(CodeInvalidDefinition, err, "invalid workflow definition")
	}
	return &def, nil
}

// UnmarshalJSON implements json.Unmarshaler for Invocation.
func (inv *Invocation) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Wrap(CodeInvalidDefinition, err, "invocation must be an object")
	}
	if len(raw) != 1 {
		return Errf(CodeInvalidDefinition, "invocation must have exactly one key, got %d", len(raw))
	}

	for key, body := range raw {
		name := key
		inv.Loop = strings.HasSuffix(name, loopMarker)
		if inv.Loop {
			name = strings.TrimSuffix(name, loopMarker)
		}
		if name == "" {
			return Errf(CodeInvalidDefinition, "invocation key is empty")
		}
		inv.Name = name

		var entries map[string]json.RawMessage
		if err := json.Unmarshal(body, &entries); err != nil {
			return Wrap(CodeInvalidDefinition, err, "node %q: config must be an object", name)
		}

		inv.Config = make(map[string]any)
		inv.Edges = make(map[string]*Target)
		for k, v := range entries {
			if strings.HasSuffix(k, "?") {
				var target Target
				if err := json.Unmarshal(v, &target); err != nil {
					return err
				}
				inv.Edges[k] = &target
				continue
			}
			var value any
			if err := json.Unmarshal(v, &value); err != nil {
				return Wrap(CodeInvalidDefinition, err, "node %q: bad config value %q", name, k)
			}
			inv.Config[k] = value
		}
	}
	return nil
}

// MarshalJSON implements json.Marshaler for Invocation, reconstructing the
// single-entry object form. encoding/json sorts object keys, which gives the
// canonical serialization the round-trip property relies on.
func (inv *Invocation) MarshalJSON() ([]byte, error) {
	body := make(map[string]any, len(inv.Config)+len(inv.Edges))
	for k, v := range inv.Config {
		body[k] = v
	}
	for k, t := range inv.Edges {
		body[k] = t
	}

	key := inv.Name
	if inv.Loop {
		key += loopMarker
	}
	return json.Marshal(map[string]any{key: body})
}

// UnmarshalJSON implements json.Unmarshaler for Target.
func (t *Target) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		t.Kind = TargetTerminal
		return nil
	case len(trimmed) > 0 && trimmed[0] == '[':
		var seq []*Invocation
		if err := json.Unmarshal(trimmed, &seq); err != nil {
			return err
		}
		t.Kind = TargetSequence
		t.Sequence = seq
		return nil
	case len(trimmed) > 0 && trimmed[0] == '{':
		var nested Invocation
		if err := json.Unmarshal(trimmed, &nested); err != nil {
			return err
		}
		t.Kind = TargetNode
		t.Invocation = &nested
		return nil
	default:
		return Errf(CodeInvalidDefinition, "edge target must be null, an invocation, or a sequence")
	}
}

// MarshalJSON implements json.Marshaler for Target.
func (t *Target) MarshalJSON() ([]byte, error) {
	switch t.Kind {
	case TargetTerminal:
		return []byte("null"), nil
	case TargetNode:
		return json.Marshal(t.Invocation)
	case TargetSequence:
		return json.Marshal(t.Sequence)
	default:
		return nil, fmt.Errorf("unknown target kind %d", t.Kind)
	}
}

// Canonical serializes the definition in canonical JSON form.
func (d *Definition) Canonical() ([]byte, error) {
	return json.Marshal(d)
}
