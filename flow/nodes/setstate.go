package nodes

import (
	"context"

	"github.com/arcflow/arcflow/flow"
)

func setStateDescriptor() flow.Descriptor {
	return flow.Descriptor{
		ID:          "setState",
		Category:    "data",
		Description: "Merges its entire config object into state",
		InputSchema: map[string]any{"type": "object"},
		Edges:       []string{"success?"},
		Hints:       []string{"Prefer editFields when you need type coercion or arithmetic."},
	}
}

// setStateExecute forwards the resolved config as the success payload, so
// the interpreter's normal shallow merge applies it to state.
func setStateExecute(ctx context.Context, nc *flow.NodeContext) (*flow.EdgeMap, error) {
	payload := flow.Payload{}
	for k, v := range nc.Config {
		payload[k] = v
	}
	return flow.Edges().Payload("success?", payload), nil
}
