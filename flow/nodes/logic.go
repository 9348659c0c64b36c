package nodes

import (
	"context"
	"reflect"

	"github.com/arcflow/arcflow/flow"
)

func logicDescriptor() flow.Descriptor {
	return flow.Descriptor{
		ID:          "logic",
		Category:    "control",
		Description: "Comparison and boolean logic, branching on true?/false?",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"operation": map[string]any{
					"type": "string",
					"enum": []any{"less", "lessOrEqual", "greater", "greaterOrEqual", "equals", "notEquals", "and", "or", "not"},
				},
				"values": map[string]any{"type": "array"},
			},
			"required": []any{"operation", "values"},
		},
		Edges: []string{"true?", "false?", "error?"},
		Hints: []string{"Attach the loop marker to build while-style counters."},
	}
}

// logicExecute evaluates the configured predicate and takes exactly one of
// true?/false?. The untaken branch is declared but skipped, so edge order
// stays stable for introspection.
func logicExecute(ctx context.Context, nc *flow.NodeContext) (*flow.EdgeMap, error) {
	op, _ := nc.ConfigString("operation")
	values, ok := nc.ConfigSlice("values")
	if !ok {
		return errorEdge("logic: values must be an array"), nil
	}

	result, errMsg := evalLogic(op, values)
	if errMsg != "" {
		return errorEdge(errMsg), nil
	}

	payload := flow.Payload{"logicResult": result}
	if result {
		return flow.Edges().Payload("true?", payload).Skip("false?"), nil
	}
	return flow.Edges().Skip("true?").Payload("false?", payload), nil
}

func evalLogic(op string, values []any) (bool, string) {
	switch op {
	case "less", "lessOrEqual", "greater", "greaterOrEqual":
		if len(values) != 2 {
			return false, "logic: " + op + " requires exactly two values"
		}
		a, okA := toNumber(values[0])
		b, okB := toNumber(values[1])
		if !okA || !okB {
			return false, "logic: " + op + " requires numeric values"
		}
		switch op {
		case "less":
			return a < b, ""
		case "lessOrEqual":
			return a <= b, ""
		case "greater":
			return a > b, ""
		default:
			return a >= b, ""
		}

	case "equals", "notEquals":
		if len(values) != 2 {
			return false, "logic: " + op + " requires exactly two values"
		}
		var eq bool
		if a, okA := toNumber(values[0]); okA {
			if b, okB := toNumber(values[1]); okB {
				eq = a == b
			}
		} else {
			eq = reflect.DeepEqual(values[0], values[1])
		}
		if op == "notEquals" {
			eq = !eq
		}
		return eq, ""

	case "and":
		for _, v := range values {
			if !truthy(v) {
				return false, ""
			}
		}
		return true, ""

	case "or":
		for _, v := range values {
			if truthy(v) {
				return true, ""
			}
		}
		return false, ""

	case "not":
		if len(values) != 1 {
			return false, "logic: not requires exactly one value"
		}
		return !truthy(values[0]), ""

	default:
		return false, "logic: unknown operation " + op
	}
}
