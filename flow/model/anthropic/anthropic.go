// Package anthropic adapts Anthropic's Claude API to model.ChatModel.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	anth "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/arcflow/arcflow/flow/model"
)

const defaultMaxTokens = 4096

// ChatModel implements model.ChatModel for Claude.
//
// Anthropic takes the system prompt as a separate request parameter, so
// leading system messages are extracted from the conversation before
// conversion.
//
// Example:
//
//	m := anthropic.New(os.Getenv("ANTHROPIC_API_KEY"), "claude-sonnet-4-20250514")
//	out, err := m.Chat(ctx, []model.Message{
//	    {Role: model.RoleSystem, Content: "You extract order totals."},
//	    {Role: model.RoleUser, Content: orderText},
//	})
type ChatModel struct {
	modelName string
	client    messageClient
}

// messageClient narrows the SDK surface so tests can substitute it.
type messageClient interface {
	create(ctx context.Context, system string, messages []model.Message) (model.ChatOut, error)
}

// New creates a Claude-backed ChatModel. Empty modelName selects
// claude-3-5-haiku-latest.
func New(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = "claude-3-5-haiku-latest"
	}
	return &ChatModel{
		modelName: modelName,
		client:    &sdkClient{apiKey: apiKey, modelName: modelName},
	}
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}
	system, rest := splitSystem(messages)
	return m.client.create(ctx, system, rest)
}

// splitSystem pulls leading system messages out of the conversation.
func splitSystem(messages []model.Message) (string, []model.Message) {
	var system string
	rest := make([]model.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == model.RoleSystem && len(rest) == 0 {
			if system != "" {
				system += "\n"
			}
			system += msg.Content
			continue
		}
		rest = append(rest, msg)
	}
	return system, rest
}

// sdkClient wraps the official anthropic-sdk-go SDK.
type sdkClient struct {
	apiKey    string
	modelName string
}

func (c *sdkClient) create(ctx context.Context, system string, messages []model.Message) (model.ChatOut, error) {
	if c.apiKey == "" {
		return model.ChatOut{}, errors.New("Anthropic API key is required")
	}

	client := anth.NewClient(option.WithAPIKey(c.apiKey))

	params := anth.MessageNewParams{
		Model:     anth.Model(c.modelName),
		MaxTokens: defaultMaxTokens,
		Messages:  make([]anth.MessageParam, 0, len(messages)),
	}
	if system != "" {
		params.System = []anth.TextBlockParam{{Text: system}}
	}
	for _, msg := range messages {
		block := anth.NewTextBlock(msg.Content)
		if msg.Role == model.RoleAssistant {
			params.Messages = append(params.Messages, anth.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anth.NewUserMessage(block))
		}
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("Anthropic API error: %w", err)
	}

	out := model.ChatOut{
		Model: string(resp.Model),
		Usage: model.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
	for _, block := range resp.Content {
		if block.Type == "text" {
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += block.Text
		}
	}
	return out, nil
}
