package analysis

import (
	"fmt"
	"sort"

	"github.com/arcflow/arcflow/flow"
)

// visit is called for every invocation in a definition with its index path
// (e.g. "0.success?.1") and nesting depth.
type visit func(path string, inv *flow.Invocation, depth int)

// walk traverses a definition depth-first in declaration order, the same
// order the interpreter would reach the invocations in.
func walk(def *flow.Definition, fn visit) {
	walkSequence("", def.Workflow, 0, fn)
}

func walkSequence(prefix string, seq []*flow.Invocation, depth int, fn visit) {
	for i, inv := range seq {
		path := fmt.Sprintf("%d", i)
		if prefix != "" {
			path = prefix + "." + path
		}
		walkInvocation(path, inv, depth, fn)
	}
}

func walkInvocation(path string, inv *flow.Invocation, depth int, fn visit) {
	fn(path, inv, depth)
	edges := make([]string, 0, len(inv.Edges))
	for edge := range inv.Edges {
		edges = append(edges, edge)
	}
	sort.Strings(edges)
	for _, edge := range edges {
		target := inv.Edges[edge]
		if target == nil {
			continue
		}
		switch target.Kind {
		case flow.TargetNode:
			walkInvocation(path+"."+edge+".0", target.Invocation, depth+1, fn)
		case flow.TargetSequence:
			walkSequence(path+"."+edge, target.Sequence, depth+1, fn)
		}
	}
}
