package core

import (
	"slices"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
)

// OrderBlocks 按 Thinking → Text → 其他 → ToolUse 稳定排序
//
// 同类块保持原有相对顺序。返回新切片，不修改输入。
// 调用方据此判断本轮是否结束：末尾没有工具调用即结束。
func OrderBlocks(blocks []llm.ContentBlock) []llm.ContentBlock {
	out := slices.Clone(blocks)
	slices.SortStableFunc(out, func(a, b llm.ContentBlock) int {
		return blockRank(a) - blockRank(b)
	})
	return out
}

func blockRank(b llm.ContentBlock) int {
	switch b.(type) {
	case *llm.ThinkingBlock:
		return 0
	case *llm.TextBlock:
		return 1
	case *llm.ToolUseBlock:
		return 3
	default:
		return 2
	}
}

// NewResponse 组装排序后的响应
func NewResponse(id string, blocks []llm.ContentBlock, usage *llm.ChatUsage, finishReason string) *llm.ChatResponse {
	content := OrderBlocks(blocks)
	if content == nil {
		content = []llm.ContentBlock{}
	}
	return &llm.ChatResponse{
		ID:           id,
		Content:      content,
		Usage:        usage,
		FinishReason: finishReason,
	}
}
