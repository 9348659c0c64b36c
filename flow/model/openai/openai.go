// Package openai adapts OpenAI chat completions to model.ChatModel.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	oa "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/arcflow/arcflow/flow/model"
)

// ChatModel implements model.ChatModel for OpenAI's API.
//
// Transient errors (network failures, 5xx, rate limits) are retried with
// backoff; rate limits back off progressively.
//
// Example:
//
//	m := openai.New(os.Getenv("OPENAI_API_KEY"), "gpt-4o-mini")
//	out, err := m.Chat(ctx, []model.Message{
//	    {Role: model.RoleUser, Content: "Classify this ticket."},
//	})
type ChatModel struct {
	modelName  string
	client     completionClient
	maxRetries int
	retryDelay time.Duration
}

// completionClient narrows the SDK surface so tests can substitute it.
type completionClient interface {
	create(ctx context.Context, messages []model.Message) (model.ChatOut, error)
}

// New creates an OpenAI-backed ChatModel. Empty modelName selects
// gpt-4o-mini.
func New(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}
	return &ChatModel{
		modelName:  modelName,
		client:     &sdkClient{apiKey: apiKey, modelName: modelName},
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		out, err := m.client.create(ctx, messages)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !isTransient(err) {
			return model.ChatOut{}, err
		}
		if attempt >= m.maxRetries {
			break
		}

		delay := m.retryDelay
		if strings.Contains(strings.ToLower(err.Error()), "rate limit") {
			delay = m.retryDelay * time.Duration(attempt+1)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return model.ChatOut{}, ctx.Err()
		}
	}
	return model.ChatOut{}, fmt.Errorf("OpenAI API failed after %d retries: %w", m.maxRetries, lastErr)
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "network", "connection", "temporary", "rate limit", "429", "500", "502", "503"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// sdkClient wraps the official openai-go SDK.
type sdkClient struct {
	apiKey    string
	modelName string
}

func (c *sdkClient) create(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if c.apiKey == "" {
		return model.ChatOut{}, errors.New("OpenAI API key is required")
	}

	client := oa.NewClient(option.WithAPIKey(c.apiKey))

	params := oa.ChatCompletionNewParams{
		Model:    oa.ChatModel(c.modelName),
		Messages: make([]oa.ChatCompletionMessageParamUnion, 0, len(messages)),
	}
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			params.Messages = append(params.Messages, oa.SystemMessage(msg.Content))
		case model.RoleAssistant:
			params.Messages = append(params.Messages, oa.AssistantMessage(msg.Content))
		default:
			params.Messages = append(params.Messages, oa.UserMessage(msg.Content))
		}
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("OpenAI API error: %w", err)
	}

	out := model.ChatOut{
		Model: resp.Model,
		Usage: model.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	if len(resp.Choices) > 0 {
		out.Text = resp.Choices[0].Message.Content
	}
	return out, nil
}
