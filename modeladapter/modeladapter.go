// Package modeladapter defines the ModelAdapter capability (spec §6): the
// narrow interface through which the orchestration kernel talks to an LLM,
// without depending on any particular provider's transport.
package modeladapter

import (
	"context"
	"time"
)

// Params enumerates the generation parameters spec §6 names.
type Params struct {
	Model         string
	MaxTokens     int
	Temperature   float32
	StopSequences []string
	Deadline      time.Time
}

// Result is what ModelAdapter.Generate returns: generated text plus the
// token counts the TokenBudgeter and Metrics need.
type Result struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// ModelAdapter is the suspendable capability spec §5 names as a blocking
// point ("ModelAdapter.generate — network-bound; may suspend"). The
// Orchestrator treats each call as an atomic unit between merge points
// (spec §9).
type ModelAdapter interface {
	Generate(ctx context.Context, prompt string, params Params) (Result, error)
}
