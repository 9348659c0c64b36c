package nodes

import (
	"context"
	"fmt"

	"github.com/arcflow/arcflow/flow"
)

func resourceDescriptor() flow.Descriptor {
	return flow.Descriptor{
		ID:          "resource",
		Category:    "io",
		Description: "Loads a tenant resource, optionally rendered against state",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":   map[string]any{"type": "string"},
				"render": map[string]any{"type": "boolean"},
			},
			"required": []any{"name"},
		},
		Edges: []string{"success?", "error?"},
	}
}

// resourceExecute fetches a resource from the sandboxed collaborator. With
// render set, {{$.path}} templates inside the resource are interpolated
// against the current state.
func resourceExecute(ctx context.Context, nc *flow.NodeContext) (*flow.EdgeMap, error) {
	if nc.Services.Resources == nil {
		return nil, fmt.Errorf("resource: no resource store configured")
	}

	name, ok := nc.ConfigString("name")
	if !ok || name == "" {
		return errorEdge("resource: name is required"), nil
	}

	render, _ := nc.ConfigBool("render")
	if render {
		content, err := nc.Services.Resources.Render(ctx, nc.TenantID, name, nc.State)
		if err != nil {
			return errorEdge(fmt.Sprintf("resource: %v", err)), nil
		}
		return flow.Edges().Payload("success?", flow.Payload{"resourceContent": content}).Skip("error?"), nil
	}

	raw, err := nc.Services.Resources.Get(ctx, nc.TenantID, name)
	if err != nil {
		return errorEdge(fmt.Sprintf("resource: %v", err)), nil
	}
	return flow.Edges().Payload("success?", flow.Payload{"resourceContent": string(raw)}).Skip("error?"), nil
}
