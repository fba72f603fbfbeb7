package anthropic

import (
	"time"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/core"
)

// ParseStreamChunk 按 data.type 解析一个流式事件
//
//	message_start        → id + 输入 token
//	content_block_start  → tool_use 首个分片（id + name）
//	content_block_delta  → text_delta / thinking_delta / signature_delta / input_json_delta
//	message_delta        → stop_reason + 输出 token
//	error                → *llm.FormatterError
//
// input_json_delta 转换为带内容块 index 的 llm.FragmentPlaceholder 分片，
// 由 core.Accumulator 追加到同一 index 的 tool_use 上。ping、content_block_stop、message_stop 返回 nil。
func (f *Formatter) ParseStreamChunk(raw map[string]any, start time.Time) (*llm.ChatResponse, error) {
	if err := f.errorFrom(raw); err != nil {
		return nil, err
	}

	switch core.GetString(raw["type"]) {
	case "message_start":
		msg := core.GetMap(raw["message"])
		return core.NewResponse(core.GetString(msg["id"]), nil, usageOf(msg["usage"], start), ""), nil

	case "content_block_start":
		block := core.GetMap(raw["content_block"])
		switch core.GetString(block["type"]) {
		case "tool_use":
			return chunk(core.IndexedToolUse(int(core.GetInt64(raw["index"])), core.GetString(block["id"]), core.GetString(block["name"]), "")), nil
		case "text":
			if text := core.GetString(block["text"]); text != "" {
				return chunk(llm.Text(text)), nil
			}
		case "thinking":
			if thinking := core.GetString(block["thinking"]); thinking != "" {
				return chunk(&llm.ThinkingBlock{Thinking: thinking}), nil
			}
		}

	case "content_block_delta":
		if b := deltaBlock(int(core.GetInt64(raw["index"])), core.GetMap(raw["delta"])); b != nil {
			return chunk(b), nil
		}

	case "message_delta":
		reason := mapStopReason(core.GetString(core.GetPath(raw, "delta", "stop_reason")))
		usage := usageOf(raw["usage"], start)
		if reason != "" || usage != nil {
			return core.NewResponse("", nil, usage, reason), nil
		}
	}
	return nil, nil
}

func deltaBlock(index int, delta map[string]any) llm.ContentBlock {
	switch core.GetString(delta["type"]) {
	case "text_delta":
		if text := core.GetString(delta["text"]); text != "" {
			return llm.Text(text)
		}
	case "thinking_delta":
		if thinking := core.GetString(delta["thinking"]); thinking != "" {
			return &llm.ThinkingBlock{Thinking: thinking}
		}
	case "signature_delta":
		if sig := core.GetString(delta["signature"]); sig != "" {
			return &llm.ThinkingBlock{Signature: sig}
		}
	case "input_json_delta":
		if partial := core.GetString(delta["partial_json"]); partial != "" {
			return core.IndexedToolUse(index, "", "", partial)
		}
	}
	return nil
}

func chunk(b llm.ContentBlock) *llm.ChatResponse {
	return core.NewResponse("", []llm.ContentBlock{b}, nil, "")
}
