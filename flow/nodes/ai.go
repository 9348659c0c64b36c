package nodes

import (
	"context"
	"fmt"

	"github.com/arcflow/arcflow/flow"
	"github.com/arcflow/arcflow/flow/model"
)

func aiDescriptor() flow.Descriptor {
	return flow.Descriptor{
		ID:          "ai",
		Category:    "ai",
		Description: "Sends a prompt to the configured chat model",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"prompt": map[string]any{"type": "string"},
				"system": map[string]any{"type": "string"},
			},
			"required": []any{"prompt"},
		},
		Edges:      []string{"success?", "error?"},
		Successors: []string{"log", "editFields"},
		Hints:      []string{"Interpolate state into the prompt with {{$.path}} templates."},
	}
}

// aiExecute runs one chat completion through the injected model. Provider
// errors take the error? edge; a missing model is a wiring mistake and
// fails the execution.
func aiExecute(ctx context.Context, nc *flow.NodeContext) (*flow.EdgeMap, error) {
	if nc.Services.Chat == nil {
		return nil, fmt.Errorf("ai: no chat model configured")
	}

	prompt, ok := nc.ConfigString("prompt")
	if !ok || prompt == "" {
		return errorEdge("ai: prompt is required"), nil
	}

	var messages []model.Message
	if system, ok := nc.ConfigString("system"); ok && system != "" {
		messages = append(messages, model.Message{Role: model.RoleSystem, Content: system})
	}
	messages = append(messages, model.Message{Role: model.RoleUser, Content: prompt})

	out, err := nc.Services.Chat.Chat(ctx, messages)
	if err != nil {
		return errorEdge(fmt.Sprintf("ai: %v", err)), nil
	}

	return flow.Edges().Payload("success?", flow.Payload{
		"aiResponse": out.Text,
		"aiModel":    out.Model,
		"tokenUsage": map[string]any{
			"inputTokens":  float64(out.Usage.InputTokens),
			"outputTokens": float64(out.Usage.OutputTokens),
			"totalTokens":  float64(out.Usage.TotalTokens),
		},
	}).Skip("error?"), nil
}
