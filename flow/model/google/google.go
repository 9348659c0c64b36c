// Package google adapts Google's Gemini API to model.ChatModel.
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/arcflow/arcflow/flow/model"
)

// ChatModel implements model.ChatModel for Gemini.
//
// Gemini can refuse content via safety filters; those refusals surface as
// *SafetyFilterError so callers can distinguish them from transport errors:
//
//	out, err := m.Chat(ctx, msgs)
//	var safetyErr *google.SafetyFilterError
//	if errors.As(err, &safetyErr) {
//	    log.Printf("blocked: %s", safetyErr.Category())
//	}
type ChatModel struct {
	modelName string
	client    contentClient
}

// contentClient narrows the SDK surface so tests can substitute it.
type contentClient interface {
	generate(ctx context.Context, system string, messages []model.Message) (model.ChatOut, error)
}

// New creates a Gemini-backed ChatModel. Empty modelName selects
// gemini-2.5-flash.
func New(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = "gemini-2.5-flash"
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
	return m.client.generate(ctx, system, rest)
}

// sdkClient wraps the official generative-ai-go SDK.
type sdkClient struct {
	apiKey    string
	modelName string
}

func (c *sdkClient) generate(ctx context.Context, system string, messages []model.Message) (model.ChatOut, error) {
	if c.apiKey == "" {
		return model.ChatOut{}, errors.New("google API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("failed to create Google client: %w", err)
	}
	defer func() { _ = client.Close() }()

	genModel := client.GenerativeModel(c.modelName)
	if system != "" {
		genModel.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	parts := make([]genai.Part, 0, len(messages))
	for _, msg := range messages {
		if msg.Content != "" {
			parts = append(parts, genai.Text(msg.Content))
		}
	}

	resp, err := genModel.GenerateContent(ctx, parts...)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("google API error: %w", err)
	}
	return convertResponse(c.modelName, resp)
}

func convertResponse(modelName string, resp *genai.GenerateContentResponse) (model.ChatOut, error) {
	out := model.ChatOut{Model: modelName}
	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int64(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if len(resp.Candidates) == 0 {
		return out, nil
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		category := ""
		for _, rating := range candidate.SafetyRatings {
			if rating.Blocked {
				category = rating.Category.String()
				break
			}
		}
		return model.ChatOut{}, &SafetyFilterError{
			reason:   candidate.FinishReason.String(),
			category: category,
		}
	}
	if candidate.Content == nil {
		return out, nil
	}

	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += string(text)
		}
	}
	return out, nil
}

// SafetyFilterError reports a Gemini safety filter block. Check for it with
// errors.As.
type SafetyFilterError struct {
	reason   string
	category string
}

func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.category
}

// Category returns the safety category that triggered the block.
func (e *SafetyFilterError) Category() string { return e.category }

// Reason returns why the content was blocked.
func (e *SafetyFilterError) Reason() string { return e.reason }
