package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/jeeves-cluster-organization/answerflow/coreengine/llm"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/transcript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// MOCK LLM TESTS
// =============================================================================

func TestMockLLMProviderQueue(t *testing.T) {
	m := NewMockLLMProvider().
		WithToolCall("c1", "calculator", `{"expression":"1+1"}`).
		WithText(`{"result":"2"}`)
	ctx := context.Background()

	first, err := m.Chat(ctx, llm.Request{Model: "a"})
	require.NoError(t, err)
	require.Len(t, first.ToolCalls, 1)
	assert.Equal(t, "calculator", first.ToolCalls[0].Name)

	second, err := m.Chat(ctx, llm.Request{Model: "b"})
	require.NoError(t, err)
	assert.Equal(t, `{"result":"2"}`, second.Content)

	third, err := m.Chat(ctx, llm.Request{Model: "c"})
	require.NoError(t, err)
	assert.Equal(t, m.DefaultResponse, third.Content)

	assert.Equal(t, 3, m.GetCallCount())
	last, ok := m.LastRequest()
	require.True(t, ok)
	assert.Equal(t, "c", last.Model)
}

func TestMockLLMProviderCopiesTurns(t *testing.T) {
	m := NewMockLLMProvider()
	turns := []transcript.Turn{transcript.User("a")}

	_, err := m.Chat(context.Background(), llm.Request{Turns: turns})
	require.NoError(t, err)
	turns[0].Content = "mutated"

	last, _ := m.LastRequest()
	assert.Equal(t, "a", last.Turns[0].Content)
}

func TestMockLLMProviderError(t *testing.T) {
	boom := errors.New("offline")
	m := NewMockLLMProvider().WithText("unused").WithError(boom)

	_, err := m.Chat(context.Background(), llm.Request{})

	assert.ErrorIs(t, err, boom)
	assert.Len(t, m.Queue, 1)
}

func TestMockLLMProviderChatFunc(t *testing.T) {
	m := NewMockLLMProvider()
	m.ChatFunc = func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: req.Model}, nil
	}

	resp, err := m.Chat(context.Background(), llm.Request{Model: "echo"})

	require.NoError(t, err)
	assert.Equal(t, "echo", resp.Content)
}

func TestMockLLMProviderReset(t *testing.T) {
	m := NewMockLLMProvider().WithText("x")
	_, _ = m.Chat(context.Background(), llm.Request{})

	m.Reset()

	assert.Zero(t, m.GetCallCount())
	_, ok := m.LastRequest()
	assert.False(t, ok)
}

// =============================================================================
// MOCK TOOL EXECUTOR TESTS
// =============================================================================

func TestMockToolExecutor(t *testing.T) {
	boom := errors.New("broken")
	m := NewMockToolExecutor().
		WithResult("calculator", map[string]any{"result": "4"}).
		WithError("read_text_file", boom)
	ctx := context.Background()

	res, err := m.Execute(ctx, "calculator", nil)
	require.NoError(t, err)
	assert.Equal(t, "4", res["result"])

	_, err = m.Execute(ctx, "read_text_file", nil)
	assert.ErrorIs(t, err, boom)

	res, err = m.Execute(ctx, "other", nil)
	require.NoError(t, err)
	assert.Equal(t, "other", res["tool"])

	assert.Equal(t, 3, m.GetCallCount())
	assert.Len(t, m.Specs([]string{"a", "b"}), 2)
}

// =============================================================================
// MOCK LOGGER TESTS
// =============================================================================

func TestMockLogger(t *testing.T) {
	m := NewMockLogger()
	bound := m.Bind("unit", "planner")

	bound.Info("started", "run_id", "r1")
	m.Warn("slow")

	assert.True(t, m.HasLog("info", "started"))
	assert.False(t, m.HasLog("error", "started"))
	assert.Equal(t, []string{"started", "slow"}, m.Messages())
	assert.Equal(t, "r1", m.GetLogs()[0].Fields["run_id"])
}
