package modeladapter

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Mock is a deterministic ModelAdapter for tests: it returns a queued
// response per call (cycling the last one once exhausted) and records
// every prompt it was given, mirroring the teacher's mock AI provider
// (_examples/itsneelabh-gomind/ai/providers/mock/provider.go) adapted to
// this module's narrower ModelAdapter contract.
type Mock struct {
	mu        sync.Mutex
	Responses []string
	CallCount int
	Prompts   []string
	Err       error
}

// NewMock builds a Mock returning responses in order, repeating the last
// one once exhausted.
func NewMock(responses ...string) *Mock {
	if len(responses) == 0 {
		responses = []string{"mock response"}
	}
	return &Mock{Responses: responses}
}

// Generate implements ModelAdapter. Token counts are derived
// deterministically from whitespace-splitting so tests can assert on them
// without a real tokenizer.
func (m *Mock) Generate(ctx context.Context, prompt string, params Params) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return Result{}, m.Err
	}

	idx := m.CallCount
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	text := m.Responses[idx]
	m.CallCount++
	m.Prompts = append(m.Prompts, prompt)

	return Result{
		Text:             text,
		PromptTokens:     wordCount(prompt),
		CompletionTokens: wordCount(text),
	}, nil
}

func wordCount(s string) int {
	fields := strings.Fields(s)
	return len(fields)
}

var _ ModelAdapter = (*Mock)(nil)

// String aids debug output in failing test assertions.
func (m *Mock) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("Mock{calls=%d}", m.CallCount)
}
