// Package model provides LLM chat adapters for the ai node.
package model

import "context"

// ChatModel is the provider-neutral chat interface.
//
// Implementations handle provider authentication, convert Message values to
// the provider's wire format, and map the response back to ChatOut. They
// must respect context cancellation.
//
// Example:
//
//	m := openai.New(apiKey, "gpt-4o-mini")
//	out, err := m.Chat(ctx, []model.Message{
//	    {Role: model.RoleUser, Content: "Summarize this order."},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(out.Text)
type ChatModel interface {
	Chat(ctx context.Context, messages []Message) (ChatOut, error)
}

// Message is one turn in a conversation. The role constants follow the
// convention shared by the major providers.
type Message struct {
	Role    string
	Content string
}

const (
	// RoleSystem sets context or instructions; appears first when present.
	RoleSystem = "system"

	// RoleUser carries user input.
	RoleUser = "user"

	// RoleAssistant carries a model response.
	RoleAssistant = "assistant"
)

// Usage is the provider-reported token accounting for one completion.
// Providers that do not report usage leave it zero.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
}

// ChatOut is the result of one completion.
type ChatOut struct {
	// Text is the generated response.
	Text string

	// Model is the concrete model that produced the response, as reported
	// by the provider.
	Model string

	// Usage is token accounting when the provider reports it.
	Usage Usage
}
