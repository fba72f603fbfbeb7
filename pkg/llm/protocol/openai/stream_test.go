package openai

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/core"
)

func deltaChunk(delta map[string]any) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-s",
		"choices": []any{map[string]any{"index": float64(0), "delta": delta}},
	}
}

func TestFormatter_ParseStreamChunk(t *testing.T) {
	f := New()

	t.Run("文本增量", func(t *testing.T) {
		resp, err := f.ParseStreamChunk(deltaChunk(map[string]any{"content": "Hello"}), time.Time{})
		require.NoError(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, "Hello", resp.Text())
		assert.Equal(t, "chatcmpl-s", resp.ID)
	})

	t.Run("推理增量", func(t *testing.T) {
		resp, err := f.ParseStreamChunk(deltaChunk(map[string]any{"reasoning_content": "Let me think"}), time.Time{})
		require.NoError(t, err)
		require.Len(t, resp.Content, 1)
		assert.Equal(t, "Let me think", resp.Content[0].(*llm.ThinkingBlock).Thinking)
	})

	t.Run("空 delta 返回 nil", func(t *testing.T) {
		resp, err := f.ParseStreamChunk(deltaChunk(map[string]any{"role": "assistant"}), time.Time{})
		require.NoError(t, err)
		assert.Nil(t, resp)
	})

	t.Run("结束原因", func(t *testing.T) {
		raw := map[string]any{"choices": []any{map[string]any{"delta": map[string]any{}, "finish_reason": "stop"}}}
		resp, err := f.ParseStreamChunk(raw, time.Time{})
		require.NoError(t, err)
		assert.Equal(t, "stop", resp.FinishReason)
		assert.Empty(t, resp.Content)
	})

	t.Run("只有使用量的最后一块", func(t *testing.T) {
		raw := map[string]any{"choices": []any{}, "usage": map[string]any{"prompt_tokens": float64(3), "completion_tokens": float64(5)}}
		resp, err := f.ParseStreamChunk(raw, time.Now())
		require.NoError(t, err)
		require.NotNil(t, resp.Usage)
		assert.Equal(t, int64(8), resp.Usage.TotalTokens())
	})

	t.Run("错误块", func(t *testing.T) {
		_, err := f.ParseStreamChunk(map[string]any{"error": map[string]any{"message": "overloaded", "code": "server_error"}}, time.Time{})
		assert.True(t, llm.IsFormatterError(err))
	})
}

func TestFormatter_StreamToolFragments(t *testing.T) {
	f := New()

	chunks := []map[string]any{
		deltaChunk(map[string]any{"tool_calls": []any{map[string]any{
			"index": float64(0), "id": "call_1", "type": "function",
			"function": map[string]any{"name": "get_weather", "arguments": ""},
		}}}),
		deltaChunk(map[string]any{"tool_calls": []any{map[string]any{
			"index": float64(0), "function": map[string]any{"arguments": `{"city":`},
		}}}),
		deltaChunk(map[string]any{"tool_calls": []any{map[string]any{
			"index": float64(0), "function": map[string]any{"arguments": `"Paris"}`},
		}}}),
	}

	acc := core.NewAccumulator()
	for i, c := range chunks {
		resp, err := f.ParseStreamChunk(c, time.Time{})
		require.NoError(t, err)
		call := resp.ToolUses()[0]
		if i == 0 {
			assert.Equal(t, "call_1", call.ID)
			assert.False(t, call.IsFragment())
		} else {
			assert.True(t, call.IsFragment())
			assert.Equal(t, llm.FragmentPlaceholder, call.Name)
			assert.Contains(t, call.ID, "fragment_")
		}
		acc.Add(resp)
	}

	result := acc.Result()
	require.Len(t, result.ToolUses(), 1)
	call := result.ToolUses()[0]
	assert.Equal(t, "call_1", call.ID)
	assert.Equal(t, "get_weather", call.Name)
	assert.Equal(t, map[string]any{"city": "Paris"}, call.Input)
}

func TestFormatter_StreamParallelToolCalls(t *testing.T) {
	f := New()

	chunks := []map[string]any{
		deltaChunk(map[string]any{"tool_calls": []any{
			map[string]any{"index": float64(0), "id": "a", "function": map[string]any{"name": "f", "arguments": `{"x":`}},
			map[string]any{"index": float64(1), "id": "b", "function": map[string]any{"name": "g", "arguments": `{"y":`}},
		}}),
		deltaChunk(map[string]any{"tool_calls": []any{
			map[string]any{"index": float64(0), "function": map[string]any{"arguments": `1}`}},
			map[string]any{"index": float64(1), "function": map[string]any{"arguments": `2}`}},
		}}),
	}

	acc := core.NewAccumulator()
	for _, c := range chunks {
		resp, err := f.ParseStreamChunk(c, time.Time{})
		require.NoError(t, err)
		for _, call := range resp.ToolUses() {
			require.NotNil(t, call.Index)
		}
		acc.Add(resp)
	}

	calls := acc.Result().ToolUses()
	require.Len(t, calls, 2)
	assert.Equal(t, "a", calls[0].ID)
	assert.Equal(t, map[string]any{"x": float64(1)}, calls[0].Input)
	assert.Equal(t, "b", calls[1].ID)
	assert.Equal(t, map[string]any{"y": float64(2)}, calls[1].Input)
}
