package nodes

import (
	"context"

	"github.com/arcflow/arcflow/flow"
	"github.com/arcflow/arcflow/flow/emit"
)

func logDescriptor() flow.Descriptor {
	return flow.Descriptor{
		ID:          "log",
		Category:    "io",
		Description: "Records an interpolated message in the execution log",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{"type": "string"},
			},
			"required": []any{"message"},
		},
		Edges:        []string{"success?"},
		Predecessors: []string{"math", "logic", "httpRequest"},
		Hints:        []string{"Use {{$.path}} templates in message to include state values."},
	}
}

// logExecute records the already-interpolated message. The message reaches
// both the state (as logMessage) and the event stream, so the replay views
// and live subscribers see the same text.
func logExecute(ctx context.Context, nc *flow.NodeContext) (*flow.EdgeMap, error) {
	message, _ := nc.ConfigString("message")

	if nc.Emitter != nil {
		nc.Emitter.Emit(emit.Event{
			Name:   emit.NodeLog,
			NodeID: nc.NodeID,
			Meta:   map[string]any{"message": message},
		})
	}

	return flow.Edges().Payload("success?", flow.Payload{"logMessage": message}), nil
}
