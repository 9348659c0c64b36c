package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/arcflow/arcflow/flow"
)

func editFieldsDescriptor() flow.Descriptor {
	return flow.Descriptor{
		ID:          "editFields",
		Category:    "data",
		Description: "Sets state fields with optional arithmetic and type coercion",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"fieldsToSet": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"name":  map[string]any{"type": "string"},
							"value": map[string]any{},
							"type": map[string]any{
								"type": "string",
								"enum": []any{"number", "string", "boolean", "json"},
							},
						},
						"required": []any{"name", "value"},
					},
				},
			},
			"required": []any{"fieldsToSet"},
		},
		Edges: []string{"success?", "error?"},
		Hints: []string{`Values like "$.index + 1" evaluate against state before assignment.`},
	}
}

// arithPattern matches the small expression grammar editFields supports:
// one state reference, one operator, one numeric literal.
var arithPattern = regexp.MustCompile(`^\$\.([A-Za-z0-9_.\-]+)\s*([+\-*/])\s*(-?\d+(?:\.\d+)?)$`)

// editFieldsExecute applies each fieldsToSet entry in order. Top-level names
// flow through the edge payload; dotted names are written into nested state
// directly, since payload merge is shallow.
func editFieldsExecute(ctx context.Context, nc *flow.NodeContext) (*flow.EdgeMap, error) {
	fields, ok := nc.ConfigSlice("fieldsToSet")
	if !ok {
		return errorEdge("editFields: fieldsToSet must be an array"), nil
	}

	payload := flow.Payload{}
	for i, raw := range fields {
		field, ok := raw.(map[string]any)
		if !ok {
			return errorEdge(fmt.Sprintf("editFields: entry %d is not an object", i)), nil
		}
		name, _ := field["name"].(string)
		if name == "" {
			return errorEdge(fmt.Sprintf("editFields: entry %d has no name", i)), nil
		}

		value := evalFieldValue(field["value"], nc.State)
		if typeName, ok := field["type"].(string); ok {
			coerced, err := coerce(value, typeName)
			if err != nil {
				return errorEdge(fmt.Sprintf("editFields: %s: %v", name, err)), nil
			}
			value = coerced
		}

		if strings.Contains(name, ".") {
			if err := flow.Put(nc.State, name, value); err != nil {
				return errorEdge(fmt.Sprintf("editFields: %s: %v", name, err)), nil
			}
			continue
		}
		payload[name] = value
	}

	return flow.Edges().Payload("success?", payload).Skip("error?"), nil
}

// evalFieldValue handles the value forms the resolver leaves untouched:
// arithmetic expressions and bare references that failed to resolve keep
// their string shape until here.
func evalFieldValue(v any, state flow.State) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	expr := strings.TrimSpace(s)

	if m := arithPattern.FindStringSubmatch(expr); m != nil {
		base, found := flow.Lookup(state, m[1])
		baseNum, numeric := toNumber(base)
		if !found || !numeric {
			return s
		}
		operand, _ := strconv.ParseFloat(m[3], 64)
		switch m[2] {
		case "+":
			return baseNum + operand
		case "-":
			return baseNum - operand
		case "*":
			return baseNum * operand
		case "/":
			if operand == 0 {
				return s
			}
			return baseNum / operand
		}
	}

	return flow.ResolveValue(s, state)
}

func coerce(v any, typeName string) (any, error) {
	switch typeName {
	case "number":
		n, ok := toNumber(v)
		if !ok {
			return nil, fmt.Errorf("cannot coerce %v to number", v)
		}
		return n, nil
	case "string":
		if s, ok := v.(string); ok {
			return s, nil
		}
		return flow.Stringify(v), nil
	case "boolean":
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return truthy(v), nil
	case "json":
		if s, ok := v.(string); ok {
			var out any
			if err := json.Unmarshal([]byte(s), &out); err != nil {
				return nil, fmt.Errorf("invalid JSON: %w", err)
			}
			return out, nil
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown type %q", typeName)
	}
}
