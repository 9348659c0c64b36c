package analysis

import (
	"sort"
	"strings"

	"github.com/arcflow/arcflow/flow"
)

// Suggestion is one composability recommendation: a node that could follow
// the current one, with a confidence score in [0, 1].
type Suggestion struct {
	NodeID     string  `json:"nodeId"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// ComposabilityGraph scores which nodes plausibly follow which, from the
// declared predecessor/successor hints plus what the current state can feed
// into a candidate's input schema.
type ComposabilityGraph struct {
	registry *flow.Registry
}

// NewComposabilityGraph wraps a registry.
func NewComposabilityGraph(r *flow.Registry) *ComposabilityGraph {
	return &ComposabilityGraph{registry: r}
}

// Suggest ranks candidate successors for the node currently ending at the
// given edge. partialState carries the state keys known to exist at that
// point; it sharpens schema-based scoring and may be nil.
func (g *ComposabilityGraph) Suggest(currentNodeID, edge string, partialState map[string]any) []Suggestion {
	_, current, err := g.registry.ByID(currentNodeID)
	if err != nil {
		return nil
	}

	declared := map[string]bool{}
	for _, id := range current.Successors {
		declared[id] = true
	}

	var out []Suggestion
	for _, candidate := range g.registry.List(flow.ListFilter{}) {
		if candidate.ID == currentNodeID {
			continue
		}
		score, reasons := g.score(current, candidate, edge, partialState, declared[candidate.ID])
		if score <= 0 {
			continue
		}
		out = append(out, Suggestion{
			NodeID:     candidate.ID,
			Confidence: score,
			Reason:     strings.Join(reasons, "; "),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].NodeID < out[j].NodeID
	})
	return out
}

func (g *ComposabilityGraph) score(current, candidate flow.Descriptor, edge string, partialState map[string]any, declaredSuccessor bool) (float64, []string) {
	var score float64
	var reasons []string

	if declaredSuccessor {
		score += 0.5
		reasons = append(reasons, "declared successor of "+current.ID)
	}
	for _, pred := range candidate.Predecessors {
		if pred == current.ID {
			score += 0.3
			reasons = append(reasons, "declares "+current.ID+" as predecessor")
			break
		}
	}

	// Error edges favor logging and control nodes.
	if edge == "error?" && (candidate.Category == "io" || candidate.Category == "control") {
		score += 0.1
		reasons = append(reasons, "suited to error branches")
	}

	// Schema fit: required inputs satisfiable from known state keys.
	if required := requiredFields(candidate.InputSchema); len(required) > 0 && len(partialState) > 0 {
		satisfied := 0
		for _, field := range required {
			if _, ok := partialState[field]; ok {
				satisfied++
			}
		}
		if satisfied > 0 {
			score += 0.2 * float64(satisfied) / float64(len(required))
			reasons = append(reasons, "state provides required inputs")
		}
	}

	if score > 1 {
		score = 1
	}
	return score, reasons
}

func requiredFields(schema map[string]any) []string {
	if schema == nil {
		return nil
	}
	raw, ok := schema["required"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
