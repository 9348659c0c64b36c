package model

import (
	"context"
	"sync"
)

// MockChatModel is a test implementation of ChatModel.
//
// Use it to exercise workflows without real API calls. It supports scripted
// responses, call history and error injection, and is safe for concurrent
// use.
//
// Example:
//
//	mock := &MockChatModel{
//	    Responses: []ChatOut{{Text: "First"}, {Text: "Second"}},
//	}
//	out, _ := mock.Chat(ctx, msgs) // "First", then "Second", then "Second"...
type MockChatModel struct {
	// Responses is the scripted sequence. When exhausted, the last entry
	// repeats.
	Responses []ChatOut

	// Err, when set, is returned instead of a response.
	Err error

	// Calls records every invocation, including failed ones.
	Calls [][]Message

	mu        sync.Mutex
	callIndex int
}

// Chat implements ChatModel.
func (m *MockChatModel) Chat(ctx context.Context, messages []Message) (ChatOut, error) {
	if ctx.Err() != nil {
		return ChatOut{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, messages)

	if m.Err != nil {
		return ChatOut{}, m.Err
	}
	if len(m.Responses) == 0 {
		return ChatOut{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// Reset clears the call history and restarts the response sequence.
func (m *MockChatModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns how many times Chat has been called.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
