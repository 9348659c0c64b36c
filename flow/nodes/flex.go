package nodes

import (
	"context"
	"fmt"

	"github.com/arcflow/arcflow/flow"
)

func flexRecordDescriptor() flow.Descriptor {
	return flow.Descriptor{
		ID:          "flexRecord",
		Category:    "data",
		Description: "Reads, saves or queries dynamic per-tenant records",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action":   map[string]any{"type": "string", "enum": []any{"get", "save", "query"}},
				"table":    map[string]any{"type": "string"},
				"recordId": map[string]any{"type": "string"},
				"record":   map[string]any{"type": "object"},
				"filter":   map[string]any{"type": "object"},
			},
			"required": []any{"action", "table"},
		},
		Edges: []string{"success?", "error?"},
		Hints: []string{"Reference failures take error? with a REFERENCE_ERROR code, never a fatal failure."},
	}
}

// flexRecordExecute talks to the flex collaborator. Lookup failures are
// business outcomes: they carry the REFERENCE_ERROR code on the error? edge.
func flexRecordExecute(ctx context.Context, nc *flow.NodeContext) (*flow.EdgeMap, error) {
	if nc.Services.Flex == nil {
		return nil, fmt.Errorf("flexRecord: no flex store configured")
	}

	table, ok := nc.ConfigString("table")
	if !ok || table == "" {
		return errorEdge("flexRecord: table is required"), nil
	}
	action, _ := nc.ConfigString("action")

	switch action {
	case "get":
		id, _ := nc.ConfigString("recordId")
		if id == "" {
			return errorEdge("flexRecord: recordId is required for get"), nil
		}
		record, err := nc.Services.Flex.GetRecord(ctx, nc.TenantID, table, id)
		if err != nil {
			return referenceErrorEdge(err), nil
		}
		return flow.Edges().Payload("success?", flow.Payload{"record": record}).Skip("error?"), nil

	case "save":
		record, ok := nc.ConfigMap("record")
		if !ok {
			return errorEdge("flexRecord: record is required for save"), nil
		}
		id, err := nc.Services.Flex.SaveRecord(ctx, nc.TenantID, table, record)
		if err != nil {
			return referenceErrorEdge(err), nil
		}
		return flow.Edges().Payload("success?", flow.Payload{"recordId": id}).Skip("error?"), nil

	case "query":
		filter, _ := nc.ConfigMap("filter")
		records, err := nc.Services.Flex.QueryRecords(ctx, nc.TenantID, table, filter)
		if err != nil {
			return referenceErrorEdge(err), nil
		}
		rows := make([]any, len(records))
		for i, r := range records {
			rows[i] = r
		}
		return flow.Edges().Payload("success?", flow.Payload{"records": rows}).Skip("error?"), nil

	default:
		return errorEdge("flexRecord: unknown action " + action), nil
	}
}

func referenceErrorEdge(err error) *flow.EdgeMap {
	return flow.Edges().Skip("success?").Payload("error?", flow.Payload{
		"error":     err.Error(),
		"errorCode": flow.CodeReferenceError,
	})
}
