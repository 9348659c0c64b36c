// Package nodes bundles the universal node set: the shared computational
// units every deployment starts with. Each node implements flow.Node and
// declares its outcomes as edges; none of them is privileged by the
// interpreter.
package nodes

import (
	"encoding/json"
	"fmt"

	"github.com/arcflow/arcflow/flow"
)

// RegisterUniversal registers the bundled node set under the universal
// source. Call once at startup, before any server-local registrations.
func RegisterUniversal(r *flow.Registry) error {
	regs := []struct {
		desc flow.Descriptor
		node flow.Node
	}{
		{mathDescriptor(), flow.NodeFunc(mathExecute)},
		{logicDescriptor(), flow.NodeFunc(logicExecute)},
		{logDescriptor(), flow.NodeFunc(logExecute)},
		{editFieldsDescriptor(), flow.NodeFunc(editFieldsExecute)},
		{setStateDescriptor(), flow.NodeFunc(setStateExecute)},
		{delayDescriptor(), flow.NodeFunc(delayExecute)},
		{httpRequestDescriptor(), flow.NodeFunc(httpRequestExecute)},
		{aiDescriptor(), flow.NodeFunc(aiExecute)},
		{flexRecordDescriptor(), flow.NodeFunc(flexRecordExecute)},
		{resourceDescriptor(), flow.NodeFunc(resourceExecute)},
		{failDescriptor(), flow.NodeFunc(failExecute)},
	}
	for _, reg := range regs {
		if err := r.Register(flow.SourceUniversal, reg.desc, reg.node); err != nil {
			return err
		}
	}
	return nil
}

// toNumber coerces the values a resolved config can carry into a float64.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

// truthy follows JSON-ish truthiness: false, 0, "", null and empty
// containers are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

// errorEdge is the conventional business-failure outcome.
func errorEdge(msg string) *flow.EdgeMap {
	return flow.Edges().Payload("error?", flow.Payload{"error": msg})
}
