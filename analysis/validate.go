package analysis

import (
	"fmt"
	"strings"

	"github.com/arcflow/arcflow/flow"
)

// Issue is one finding from deep validation. Findings are reported, never
// thrown: an invalid workflow is still parseable and explainable.
type Issue struct {
	Code    string `json:"code"`
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Validate performs semantic checks a JSON-shape validation cannot:
// unknown node types, references to state paths nothing provides, edges the
// node type never declares, empty sub-flows, and loop nodes that can never
// terminate. An empty result means the definition passed.
func Validate(def *flow.Definition, registry *flow.Registry) []Issue {
	var issues []Issue
	report := func(path, format string, args ...any) {
		issues = append(issues, Issue{
			Code:    flow.CodeValidationError,
			Path:    path,
			Message: fmt.Sprintf(format, args...),
		})
	}

	if len(def.Workflow) == 0 {
		report("", "workflow has no invocations")
		return issues
	}

	// Keys that state can plausibly contain by the time a node runs:
	// everything in initialState plus anything an earlier node writes. The
	// walk visits nodes in interpreter order, so this is a forward scan.
	known := map[string]bool{"JWT_token": true}
	for k := range def.InitialState {
		known[k] = true
	}

	walk(def, func(path string, inv *flow.Invocation, depth int) {
		var desc flow.Descriptor
		var resolved bool
		if registry != nil {
			if _, d, err := registry.Resolve(inv.Name); err == nil {
				desc, resolved = d, true
			} else {
				report(path, "unknown node type %q", inv.Name)
			}
		}

		for _, ref := range flow.ReferencedPaths(inv.Config) {
			root := strings.SplitN(ref, ".", 2)[0]
			if !known[root] {
				report(path, "reference $.%s resolves to nothing provided upstream", ref)
			}
		}

		declared := map[string]bool{}
		if resolved {
			for _, edge := range desc.Edges {
				declared[edge] = true
			}
		}

		hasTerminal := len(inv.Edges) == 0
		for edge, target := range inv.Edges {
			if resolved && len(desc.Edges) > 0 && !declared[edge] {
				report(path, "edge %q is never produced by node type %q", edge, desc.ID)
			}
			if target == nil || target.Kind == flow.TargetTerminal {
				hasTerminal = true
				continue
			}
			if target.Kind == flow.TargetSequence && len(target.Sequence) == 0 {
				report(path, "edge %q has an empty sub-flow", edge)
			}
		}
		if inv.Loop && !hasTerminal {
			report(path, "loop node has no terminal edge and can never exit")
		}

		markWrites(known, inv)
	})

	return issues
}

// markWrites records the state keys an invocation is known to produce.
func markWrites(known map[string]bool, inv *flow.Invocation) {
	switch inv.Name {
	case "math":
		known["mathResult"] = true
	case "logic":
		known["logicResult"] = true
	case "log":
		known["logMessage"] = true
	case "httpRequest":
		known["statusCode"] = true
		known["responseHeaders"] = true
		known["responseBody"] = true
		known["responseJson"] = true
	case "ai":
		known["aiResponse"] = true
		known["aiModel"] = true
		known["tokenUsage"] = true
	case "flexRecord":
		known["record"] = true
		known["recordId"] = true
		known["records"] = true
	case "resource":
		known["resourceContent"] = true
	case "delay":
		known["delayedMs"] = true
	case "editFields":
		if fields, ok := inv.Config["fieldsToSet"].([]any); ok {
			for _, raw := range fields {
				if field, ok := raw.(map[string]any); ok {
					if name, ok := field["name"].(string); ok {
						known[strings.SplitN(name, ".", 2)[0]] = true
					}
				}
			}
		}
	case "setState":
		for k := range inv.Config {
			known[k] = true
		}
	}
	// Every node may surface an error message on its error? edge.
	known["error"] = true
	known["errorCode"] = true
}
