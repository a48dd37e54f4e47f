package modeladapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMockGenerateCyclesResponses(t *testing.T) {
	m := NewMock("first answer", "second answer")
	ctx := context.Background()

	r1, err := m.Generate(ctx, "what is x", Params{})
	require.NoError(t, err)
	require.Equal(t, "first answer", r1.Text)
	require.Equal(t, 3, r1.PromptTokens)

	r2, err := m.Generate(ctx, "what is y", Params{})
	require.NoError(t, err)
	require.Equal(t, "second answer", r2.Text)

	r3, err := m.Generate(ctx, "what is z", Params{})
	require.NoError(t, err)
	require.Equal(t, "second answer", r3.Text, "repeats last response once exhausted")
}

func TestMockGenerateRespectsCancellation(t *testing.T) {
	m := NewMock("ignored")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Generate(ctx, "prompt", Params{})
	require.ErrorIs(t, err, context.Canceled)
}
