package openai

import (
	"time"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/core"
)

// ═══════════════════════════════════════════════════════════════════════════
// 流式块解析
// ═══════════════════════════════════════════════════════════════════════════

// ParseStreamChunk 解析一个 SSE data 块
//
// OpenAI 流式格式：
//
//	{
//	  "id": "chatcmpl-xxx",
//	  "choices": [{
//	    "delta": {
//	      "content": "...",                    // 文本增量
//	      "reasoning_content": "...",          // 推理内容 (DeepSeek R1)
//	      "tool_calls": [{"index": 0, ...}]   // 工具调用增量
//	    },
//	    "finish_reason": "stop"
//	  }],
//	  "usage": {...}                           // 仅最后一个块（include_usage）
//	}
//
// 工具调用的第一个分片带 id 与 name，后续分片只有 index 与 arguments，
// 转换为带 Index 的 llm.FragmentPlaceholder 块由 core.Accumulator 按序号合并。
func (f *Formatter) ParseStreamChunk(raw map[string]any, start time.Time) (*llm.ChatResponse, error) {
	if err := f.errorFrom(raw); err != nil {
		return nil, err
	}
	return DeltaResponse(raw, start), nil
}

// DeltaResponse 解析 OpenAI 形状的增量块（DashScope 兼容模式共用）
//
// 不含任何内容、结束原因与使用量的块返回 nil。
func DeltaResponse(raw map[string]any, start time.Time) *llm.ChatResponse {
	usage := Usage(raw["usage"], start)

	choice := core.FirstMap(raw["choices"])
	if choice == nil {
		if usage == nil {
			return nil
		}
		return core.NewResponse(core.GetString(raw["id"]), nil, usage, "")
	}

	blocks := DeltaBlocks(core.GetMap(choice["delta"]))
	finish := core.GetString(choice["finish_reason"])
	if len(blocks) == 0 && finish == "" && usage == nil {
		return nil
	}
	return core.NewResponse(core.GetString(raw["id"]), blocks, usage, finish)
}

// DeltaBlocks 将 delta 对象转换为增量内容块
func DeltaBlocks(delta map[string]any) []llm.ContentBlock {
	if delta == nil {
		return nil
	}
	var blocks []llm.ContentBlock
	if reasoning := core.GetString(delta["reasoning_content"]); reasoning != "" {
		blocks = append(blocks, &llm.ThinkingBlock{Thinking: reasoning})
	}
	if content := core.GetString(delta["content"]); content != "" {
		blocks = append(blocks, llm.Text(content))
	}
	for _, tc := range core.GetSlice(delta["tool_calls"]) {
		call := core.GetMap(tc)
		fn := core.GetMap(call["function"])
		id, name, args := core.GetString(call["id"]), core.GetString(fn["name"]), core.GetString(fn["arguments"])
		if idx, ok := call["index"]; ok {
			blocks = append(blocks, core.IndexedToolUse(int(core.GetInt64(idx)), id, name, args))
		} else {
			blocks = append(blocks, core.ToolUseFromChunk(id, name, args))
		}
	}
	return blocks
}
