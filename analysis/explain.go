package analysis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/arcflow/arcflow/flow"
)

// Step summarizes one invocation in an explanation.
type Step struct {
	Path     string   `json:"path"`
	NodeType string   `json:"nodeType"`
	Loop     bool     `json:"loop,omitempty"`
	Depth    int      `json:"depth"`
	Reads    []string `json:"reads,omitempty"`
	Edges    []string `json:"edges,omitempty"`
	Summary  string   `json:"summary"`
}

// Explanation is a structured, non-executing description of a workflow.
type Explanation struct {
	WorkflowID string   `json:"workflowId"`
	Name       string   `json:"name"`
	StepCount  int      `json:"stepCount"`
	Steps      []Step   `json:"steps"`
	StateReads []string `json:"stateReads,omitempty"`
	Patterns   []Match  `json:"patterns,omitempty"`
}

// Explain walks a definition without running it and reports its steps,
// state flow and detected patterns.
func Explain(def *flow.Definition, registry *flow.Registry) *Explanation {
	ex := &Explanation{WorkflowID: def.ID, Name: def.Name}
	readSet := map[string]bool{}

	walk(def, func(path string, inv *flow.Invocation, depth int) {
		reads := flow.ReferencedPaths(inv.Config)
		for _, r := range reads {
			readSet[r] = true
		}

		edges := make([]string, 0, len(inv.Edges))
		for edge := range inv.Edges {
			edges = append(edges, edge)
		}
		sort.Strings(edges)

		ex.Steps = append(ex.Steps, Step{
			Path:     path,
			NodeType: inv.Name,
			Loop:     inv.Loop,
			Depth:    depth,
			Reads:    reads,
			Edges:    edges,
			Summary:  summarize(inv, registry),
		})
	})

	ex.StepCount = len(ex.Steps)
	for r := range readSet {
		ex.StateReads = append(ex.StateReads, r)
	}
	sort.Strings(ex.StateReads)
	ex.Patterns = Detect(def)
	return ex
}

func summarize(inv *flow.Invocation, registry *flow.Registry) string {
	description := inv.Name
	if registry != nil {
		if _, desc, err := registry.Resolve(inv.Name); err == nil && desc.Description != "" {
			description = desc.Description
		}
	}

	var parts []string
	parts = append(parts, description)
	if inv.Loop {
		parts = append(parts, "repeats until its taken edge is terminal")
	}
	if op, ok := inv.Config["operation"].(string); ok {
		parts = append(parts, fmt.Sprintf("operation %q", op))
	}
	return strings.Join(parts, "; ")
}
