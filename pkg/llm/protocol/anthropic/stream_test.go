package anthropic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/core"
)

func TestFormatter_ParseStreamChunk(t *testing.T) {
	f := New()

	events := []map[string]any{
		{"type": "message_start", "message": map[string]any{
			"id": "msg_s", "usage": map[string]any{"input_tokens": float64(25), "output_tokens": float64(1)},
		}},
		{"type": "content_block_start", "index": float64(0), "content_block": map[string]any{"type": "thinking", "thinking": ""}},
		{"type": "content_block_delta", "index": float64(0), "delta": map[string]any{"type": "thinking_delta", "thinking": "plan"}},
		{"type": "content_block_delta", "index": float64(0), "delta": map[string]any{"type": "signature_delta", "signature": "sig-1"}},
		{"type": "content_block_stop", "index": float64(0)},
		{"type": "content_block_start", "index": float64(1), "content_block": map[string]any{"type": "text", "text": ""}},
		{"type": "content_block_delta", "index": float64(1), "delta": map[string]any{"type": "text_delta", "text": "Hel"}},
		{"type": "content_block_delta", "index": float64(1), "delta": map[string]any{"type": "text_delta", "text": "lo"}},
		{"type": "ping"},
		{"type": "content_block_start", "index": float64(2), "content_block": map[string]any{
			"type": "tool_use", "id": "toolu_9", "name": "weather", "input": map[string]any{},
		}},
		{"type": "content_block_delta", "index": float64(2), "delta": map[string]any{"type": "input_json_delta", "partial_json": ""}},
		{"type": "content_block_delta", "index": float64(2), "delta": map[string]any{"type": "input_json_delta", "partial_json": `{"city":`}},
		{"type": "content_block_delta", "index": float64(2), "delta": map[string]any{"type": "input_json_delta", "partial_json": `"Paris"}`}},
		{"type": "message_delta", "delta": map[string]any{"stop_reason": "tool_use"}, "usage": map[string]any{"output_tokens": float64(40)}},
		{"type": "message_stop"},
	}

	acc := core.NewAccumulator()
	var nils int
	for _, e := range events {
		resp, err := f.ParseStreamChunk(e, time.Time{})
		require.NoError(t, err)
		if resp == nil {
			nils++
		}
		acc.Add(resp)
	}
	// thinking/text 空起始块、content_block_stop、ping、空 partial_json、message_stop
	assert.Equal(t, 6, nils)
	assert.Zero(t, acc.Orphans())

	result := acc.Result()
	assert.Equal(t, "msg_s", result.ID)
	assert.Equal(t, "tool_calls", result.FinishReason)
	require.Len(t, result.Content, 3)

	thinking := result.Content[0].(*llm.ThinkingBlock)
	assert.Equal(t, "plan", thinking.Thinking)
	assert.Equal(t, "sig-1", thinking.Signature)
	assert.Equal(t, "Hello", result.Text())

	call := result.ToolUses()[0]
	assert.Equal(t, "toolu_9", call.ID)
	assert.Equal(t, map[string]any{"city": "Paris"}, call.Input)
	assert.Equal(t, int64(25), result.Usage.InputTokens)
	assert.Equal(t, int64(40), result.Usage.OutputTokens)
}

func TestFormatter_ParseStreamChunk_Fragment(t *testing.T) {
	resp, err := New().ParseStreamChunk(map[string]any{
		"type": "content_block_delta", "delta": map[string]any{"type": "input_json_delta", "partial_json": `{"a"`},
	}, time.Time{})
	require.NoError(t, err)

	call := resp.Content[0].(*llm.ToolUseBlock)
	assert.True(t, call.IsFragment())
	assert.Equal(t, `{"a"`, call.Content)
}

func TestFormatter_ParseStreamChunk_Error(t *testing.T) {
	_, err := New().ParseStreamChunk(map[string]any{
		"type": "error", "error": map[string]any{"type": "overloaded_error", "message": "Overloaded"},
	}, time.Time{})
	fe, ok := llm.GetFormatterError(err)
	require.True(t, ok)
	assert.Equal(t, "overloaded_error", fe.Code)
}

func TestFormatter_ParseStreamChunk_ParallelToolUse(t *testing.T) {
	f := New()
	start := func(index float64, id, name string) map[string]any {
		return map[string]any{"type": "content_block_start", "index": index, "content_block": map[string]any{
			"type": "tool_use", "id": id, "name": name, "input": map[string]any{},
		}}
	}
	partial := func(index float64, s string) map[string]any {
		return map[string]any{"type": "content_block_delta", "index": index, "delta": map[string]any{
			"type": "input_json_delta", "partial_json": s,
		}}
	}

	acc := core.NewAccumulator()
	for _, e := range []map[string]any{
		start(0, "toolu_a", "weather"),
		start(1, "toolu_b", "time"),
		partial(1, `{"tz":`),
		partial(0, `{"city":`),
		partial(0, `"Paris"}`),
		partial(1, `"UTC"}`),
	} {
		resp, err := f.ParseStreamChunk(e, time.Time{})
		require.NoError(t, err)
		acc.Add(resp)
	}

	calls := acc.Result().ToolUses()
	require.Len(t, calls, 2)
	assert.Equal(t, map[string]any{"city": "Paris"}, calls[0].Input)
	assert.Equal(t, map[string]any{"tz": "UTC"}, calls[1].Input)
}
