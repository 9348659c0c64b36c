package nodes

import (
	"context"
	"time"

	"github.com/arcflow/arcflow/flow"
)

func delayDescriptor() flow.Descriptor {
	return flow.Descriptor{
		ID:          "delay",
		Category:    "control",
		Description: "Pauses the execution for a configured number of milliseconds",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"durationMs": map[string]any{"type": "number", "minimum": 0},
			},
			"required": []any{"durationMs"},
		},
		Edges: []string{"success?"},
	}
}

// delayExecute sleeps cooperatively: a cancelled context ends the wait
// immediately and fails the node.
func delayExecute(ctx context.Context, nc *flow.NodeContext) (*flow.EdgeMap, error) {
	ms, ok := nc.ConfigNumber("durationMs")
	if !ok || ms < 0 {
		ms = 0
	}

	if ms > 0 {
		timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return flow.Edges().Payload("success?", flow.Payload{"delayedMs": ms}), nil
}
