package core

import (
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
)

func TestOrderBlocks(t *testing.T) {
	t.Run("Thinking → Text → ToolUse", func(t *testing.T) {
		in := []llm.ContentBlock{
			llm.ToolUse("1", "f", nil),
			llm.Text("b"),
			&llm.ThinkingBlock{Thinking: "r"},
			llm.Text("c"),
		}
		out := OrderBlocks(in)

		require.Len(t, out, 4)
		assert.Equal(t, llm.BlockThinking, out[0].BlockType())
		assert.Equal(t, "b", out[1].(*llm.TextBlock).Text)
		assert.Equal(t, "c", out[2].(*llm.TextBlock).Text)
		assert.Equal(t, llm.BlockToolUse, out[3].BlockType())

		// 输入不被修改
		assert.Equal(t, llm.BlockToolUse, in[0].BlockType())
	})

	t.Run("媒体块位于文本与工具调用之间", func(t *testing.T) {
		out := OrderBlocks([]llm.ContentBlock{
			llm.ToolUse("1", "f", nil),
			llm.Audio(llm.PCM(nil, 24000)),
			llm.Text("a"),
		})
		assert.Equal(t, []llm.BlockType{llm.BlockText, llm.BlockAudio, llm.BlockToolUse},
			[]llm.BlockType{out[0].BlockType(), out[1].BlockType(), out[2].BlockType()})
	})

	t.Run("NewResponse 内容非 nil", func(t *testing.T) {
		resp := NewResponse("id", nil, nil, "")
		assert.NotNil(t, resp.Content)
		assert.Empty(t, resp.Content)
	})
}

// TestProperty_OrderBlocks 任意输入顺序下输出按类别有序，且同类块保持相对顺序
func TestProperty_OrderBlocks(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	build := func(kinds []int) []llm.ContentBlock {
		blocks := make([]llm.ContentBlock, 0, len(kinds))
		for i, k := range kinds {
			tag := strconv.Itoa(i)
			switch k {
			case 0:
				blocks = append(blocks, &llm.ThinkingBlock{Thinking: tag})
			case 1:
				blocks = append(blocks, llm.Text(tag))
			default:
				blocks = append(blocks, llm.ToolUse(tag, "f", nil))
			}
		}
		return blocks
	}

	tagOf := func(b llm.ContentBlock) int {
		var s string
		switch v := b.(type) {
		case *llm.ThinkingBlock:
			s = v.Thinking
		case *llm.TextBlock:
			s = v.Text
		case *llm.ToolUseBlock:
			s = v.ID
		}
		n, _ := strconv.Atoi(s)
		return n
	}

	properties.Property("输出按 Thinking → Text → ToolUse 有序且稳定", prop.ForAll(
		func(kinds []int) bool {
			out := OrderBlocks(build(kinds))
			if len(out) != len(kinds) {
				return false
			}
			for i := 1; i < len(out); i++ {
				prev, cur := blockRank(out[i-1]), blockRank(out[i])
				if prev > cur {
					return false
				}
				if prev == cur && tagOf(out[i-1]) > tagOf(out[i]) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 2)),
	))

	properties.TestingRun(t)
}
