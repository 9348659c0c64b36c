package nodes

import (
	"context"
	"errors"

	"github.com/arcflow/arcflow/flow"
)

func failDescriptor() flow.Descriptor {
	return flow.Descriptor{
		ID:          "fail",
		Category:    "control",
		Description: "Always returns an unhandled error",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{"type": "string"},
			},
		},
		Edges: []string{},
		Hints: []string{"Exercises failure paths when building or testing workflows."},
	}
}

// failExecute is deliberately fatal, for exercising NODE_FAILED handling.
func failExecute(ctx context.Context, nc *flow.NodeContext) (*flow.EdgeMap, error) {
	message, _ := nc.ConfigString("message")
	if message == "" {
		message = "fail node executed"
	}
	return nil, errors.New(message)
}
