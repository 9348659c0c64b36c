package nodes

import (
	"context"
	"fmt"

	"github.com/arcflow/arcflow/flow"
)

func mathDescriptor() flow.Descriptor {
	return flow.Descriptor{
		ID:          "math",
		Category:    "data",
		Description: "Arithmetic over a list of numeric values",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"operation": map[string]any{
					"type": "string",
					"enum": []any{"add", "subtract", "multiply", "divide"},
				},
				"values": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "number"},
				},
			},
			"required": []any{"operation", "values"},
		},
		Edges:      []string{"success?", "error?"},
		Successors: []string{"log", "editFields", "logic"},
		Hints:      []string{"Use $.path references in values to read state fields."},
	}
}

// mathExecute folds the configured operation over values. Results land in
// state as mathResult. Non-numeric inputs and division by zero take the
// error? edge instead of failing the execution.
func mathExecute(ctx context.Context, nc *flow.NodeContext) (*flow.EdgeMap, error) {
	op, _ := nc.ConfigString("operation")
	switch op {
	case "add", "subtract", "multiply", "divide":
	default:
		return errorEdge("math: unknown operation " + op), nil
	}
	values, ok := nc.ConfigSlice("values")
	if !ok || len(values) == 0 {
		return errorEdge("math: values must be a non-empty array"), nil
	}

	nums := make([]float64, len(values))
	for i, v := range values {
		n, ok := toNumber(v)
		if !ok {
			return errorEdge(fmt.Sprintf("math: value at index %d is not a number", i)), nil
		}
		nums[i] = n
	}

	result := nums[0]
	for _, n := range nums[1:] {
		switch op {
		case "add":
			result += n
		case "subtract":
			result -= n
		case "multiply":
			result *= n
		case "divide":
			if n == 0 {
				return errorEdge("math: division by zero"), nil
			}
			result /= n
		}
	}

	return flow.Edges().Payload("success?", flow.Payload{"mathResult": result}).Skip("error?"), nil
}
