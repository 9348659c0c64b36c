package nodes

import (
	"testing"

	"github.com/arcflow/arcflow/flow"
)

func TestEditFieldsSetsTopLevelFields(t *testing.T) {
	res := runNode(t, flow.Services{}, `{
		"id": "wf", "name": "t",
		"workflow": [{"editFields": {
			"fieldsToSet": [
				{"name": "greeting", "value": "hello"},
				{"name": "count", "value": 3}
			],
			"success?": null, "error?": null
		}}]
	}`, nil)

	wantCompleted(t, res)
	if res.FinalState["greeting"] != "hello" || res.FinalState["count"] != 3.0 {
		t.Errorf("state = %v", res.FinalState)
	}
}

func TestEditFieldsArithmetic(t *testing.T) {
	res := runNode(t, flow.Services{}, `{
		"id": "wf", "name": "t",
		"initialState": {"index": 2},
		"workflow": [{"editFields": {
			"fieldsToSet": [
				{"name": "next", "value": "$.index + 1"},
				{"name": "halved", "value": "$.index / 2"},
				{"name": "scaled", "value": "$.index * 10"}
			],
			"success?": null, "error?": null
		}}]
	}`, nil)

	wantCompleted(t, res)
	if res.FinalState["next"] != 3.0 {
		t.Errorf("next = %v, want 3", res.FinalState["next"])
	}
	if res.FinalState["halved"] != 1.0 {
		t.Errorf("halved = %v, want 1", res.FinalState["halved"])
	}
	if res.FinalState["scaled"] != 20.0 {
		t.Errorf("scaled = %v, want 20", res.FinalState["scaled"])
	}
}

func TestEditFieldsTypeCoercion(t *testing.T) {
	res := runNode(t, flow.Services{}, `{
		"id": "wf", "name": "t",
		"workflow": [{"editFields": {
			"fieldsToSet": [
				{"name": "n", "value": "42", "type": "number"},
				{"name": "s", "value": 7, "type": "string"},
				{"name": "b", "value": "yes", "type": "boolean"},
				{"name": "j", "value": "{\"k\": 1}", "type": "json"}
			],
			"success?": null, "error?": null
		}}]
	}`, nil)

	wantCompleted(t, res)
	if res.FinalState["n"] != 42.0 {
		t.Errorf("n = %v", res.FinalState["n"])
	}
	if res.FinalState["s"] != "7" {
		t.Errorf("s = %v", res.FinalState["s"])
	}
	if res.FinalState["b"] != true {
		t.Errorf("b = %v", res.FinalState["b"])
	}
	j, ok := res.FinalState["j"].(map[string]any)
	if !ok || j["k"] != 1.0 {
		t.Errorf("j = %v", res.FinalState["j"])
	}
}

func TestEditFieldsDottedNamesWriteNestedState(t *testing.T) {
	res := runNode(t, flow.Services{}, `{
		"id": "wf", "name": "t",
		"initialState": {"user": {"name": "ada"}},
		"workflow": [{"editFields": {
			"fieldsToSet": [{"name": "user.role", "value": "admin"}],
			"success?": null, "error?": null
		}}]
	}`, nil)

	wantCompleted(t, res)
	user, _ := res.FinalState["user"].(map[string]any)
	if user["role"] != "admin" || user["name"] != "ada" {
		t.Errorf("user = %v", user)
	}
}

func TestEditFieldsErrorEdge(t *testing.T) {
	tests := []struct {
		name string
		def  string
	}{
		{"missing fieldsToSet", `{
			"id": "wf", "name": "t",
			"workflow": [{"editFields": {"success?": null, "error?": null}}]
		}`},
		{"entry without name", `{
			"id": "wf", "name": "t",
			"workflow": [{"editFields": {"fieldsToSet": [{"value": 1}], "success?": null, "error?": null}}]
		}`},
		{"bad number coercion", `{
			"id": "wf", "name": "t",
			"workflow": [{"editFields": {"fieldsToSet": [{"name": "x", "value": "abc", "type": "number"}], "success?": null, "error?": null}}]
		}`},
		{"invalid json coercion", `{
			"id": "wf", "name": "t",
			"workflow": [{"editFields": {"fieldsToSet": [{"name": "x", "value": "{bad", "type": "json"}], "success?": null, "error?": null}}]
		}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runNode(t, flow.Services{}, tt.def, nil)
			wantCompleted(t, res)
			if takenEdge(t, res) != "error?" {
				t.Errorf("edge = %s, want error?", takenEdge(t, res))
			}
		})
	}
}

func TestEvalFieldValueKeepsUnresolvableExpressions(t *testing.T) {
	state := flow.State{}
	if got := evalFieldValue("$.missing + 1", state); got != "$.missing + 1" {
		t.Errorf("unresolvable expression rewritten: %v", got)
	}

	state["n"] = "not numeric"
	if got := evalFieldValue("$.n + 1", state); got != "$.n + 1" {
		t.Errorf("non-numeric base rewritten: %v", got)
	}
}
