package core

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
)

// ═══════════════════════════════════════════════════════════════════════════
// 测试辅助
// ═══════════════════════════════════════════════════════════════════════════

func toolCallMsg(id string) llm.Msg {
	return llm.NewMsg(llm.RoleAssistant, "bot", llm.ToolUse(id, "search", map[string]any{"q": "go"}))
}

func toolResultMsg(id string) llm.Msg {
	return llm.NewMsg(llm.RoleTool, "search", llm.ToolResult(id, "search", llm.Text("result")))
}

// textEmitter 以纯文本形状实现 MultiAgentEmitter
type textEmitter struct{}

func (textEmitter) FormatSystem(sys llm.Msg) ([]map[string]any, error) {
	return []map[string]any{{"role": "system", "content": sys.TextContent()}}, nil
}

func (textEmitter) FormatAgentGroup(f Folded) (map[string]any, error) {
	return map[string]any{"role": "user", "content": f.Text, "media": len(f.Media)}, nil
}

func (textEmitter) FormatToolSequence(msgs []llm.Msg) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(msgs))
	for i := range msgs {
		out = append(out, map[string]any{"role": string(msgs[i].Role)})
	}
	return out, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// GroupMessages 测试
// ═══════════════════════════════════════════════════════════════════════════

func TestGroupMessages(t *testing.T) {
	t.Run("[agent, tool, tool, agent] 分为 3 组", func(t *testing.T) {
		msgs := []llm.Msg{
			llm.UserMsg("alice", "hi"),
			toolCallMsg("1"),
			toolResultMsg("1"),
			llm.AssistantMsg("bob", "done"),
		}
		system, groups := GroupMessages(msgs)

		assert.Nil(t, system)
		require.Len(t, groups, 3)
		assert.Equal(t, GroupAgentMessage, groups[0].Kind)
		assert.Equal(t, GroupToolSequence, groups[1].Kind)
		assert.Len(t, groups[1].Msgs, 2)
		assert.Equal(t, GroupAgentMessage, groups[2].Kind)
	})

	t.Run("开头的系统消息单独提取", func(t *testing.T) {
		msgs := []llm.Msg{
			llm.SystemMsg("你是助手"),
			llm.UserMsg("alice", "a"),
			llm.AssistantMsg("bob", "b"),
		}
		system, groups := GroupMessages(msgs)

		require.NotNil(t, system)
		assert.Equal(t, "你是助手", system.TextContent())
		require.Len(t, groups, 1)
		assert.Len(t, groups[0].Msgs, 2)
	})

	t.Run("空输入", func(t *testing.T) {
		system, groups := GroupMessages(nil)
		assert.Nil(t, system)
		assert.Empty(t, groups)
	})
}

// TestProperty_GroupMessages 分组相邻类型不同，且展开后与输入一致
func TestProperty_GroupMessages(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("最长分组且保持顺序", prop.ForAll(
		func(isTool []bool) bool {
			msgs := make([]llm.Msg, 0, len(isTool))
			for i, tool := range isTool {
				if tool {
					msgs = append(msgs, toolCallMsg(string(rune('a'+i%26))))
				} else {
					msgs = append(msgs, llm.UserMsg("u", "x"))
				}
			}

			_, groups := GroupMessages(msgs)
			var flat []llm.Msg
			for i, g := range groups {
				if i > 0 && groups[i-1].Kind == g.Kind {
					return false
				}
				for _, m := range g.Msgs {
					if m.HasToolBlocks() != (g.Kind == GroupToolSequence) {
						return false
					}
				}
				flat = append(flat, g.Msgs...)
			}
			if len(flat) != len(msgs) {
				return false
			}
			for i := range flat {
				if flat[i].ID != msgs[i].ID {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}

// ═══════════════════════════════════════════════════════════════════════════
// HistoryFolder 测试
// ═══════════════════════════════════════════════════════════════════════════

func TestHistoryFolder_Fold(t *testing.T) {
	t.Run("说话人与占位符", func(t *testing.T) {
		msgs := []llm.Msg{
			llm.NewMsg(llm.RoleUser, "alice", llm.Text("看这张图"), llm.Image(llm.FromURL("https://x.com/a.png"))),
			llm.NewMsg(llm.RoleAssistant, "", llm.Text("好的"), llm.Video(llm.FromURL("https://x.com/v.mp4"))),
			llm.NewMsg(llm.RoleUser, "carol", llm.Audio(llm.PCM([]byte{1, 2}, 16000)), llm.Video(llm.FromBase64("AAAA", "video/mp4"))),
		}
		folded := HistoryFolder{}.Fold(msgs, false)

		want := "<history>\n" +
			"alice: 看这张图\n" +
			"[Image]\n" +
			"assistant: 好的\n" +
			"[Video: https://x.com/v.mp4]\n" +
			"[Audio]\n" +
			"[Video]\n" +
			"</history>"
		assert.Equal(t, want, folded.Text)
		assert.Len(t, folded.Media, 4)
	})

	t.Run("前言与自定义前言", func(t *testing.T) {
		msgs := []llm.Msg{llm.UserMsg("a", "x")}

		folded := HistoryFolder{}.Fold(msgs, true)
		assert.True(t, strings.HasPrefix(folded.Text, llm.DefaultHistoryPrompt+HistoryOpen))

		custom := HistoryFolder{Preamble: "历史：\n"}.Fold(msgs, true)
		assert.True(t, strings.HasPrefix(custom.Text, "历史：\n<history>"))
	})

	t.Run("工具结果跳过并告警，思考块丢弃", func(t *testing.T) {
		obs, logs := observer.New(zap.DebugLevel)
		folder := HistoryFolder{Logger: zap.New(obs)}

		msgs := []llm.Msg{
			llm.NewMsg(llm.RoleAssistant, "bob",
				&llm.ThinkingBlock{Thinking: "secret"},
				llm.Text("answer"),
				llm.ToolResult("x", "t", llm.Text("stray")),
			),
		}
		folded := folder.Fold(msgs, false)

		assert.NotContains(t, folded.Text, "secret")
		assert.NotContains(t, folded.Text, "stray")
		assert.Contains(t, folded.Text, "bob: answer")
		assert.Equal(t, 1, logs.FilterMessage(LogToolResultSkipped).Len())
		assert.Equal(t, 1, logs.FilterMessage(LogThinkingDropped).Len())
	})
}

func TestPlaceholder(t *testing.T) {
	assert.Equal(t, "[Image]", Placeholder(llm.Image(llm.FromURL("https://a/b.png"))))
	assert.Equal(t, "[Audio]", Placeholder(llm.Audio(llm.FromURL("https://a/b.wav"))))
	assert.Equal(t, "[Video: https://a/b.mp4]", Placeholder(llm.Video(llm.FromURL("https://a/b.mp4"))))
	assert.Equal(t, "[Video]", Placeholder(llm.Video(llm.FromURL("data:video/mp4;base64,AAAA"))))
	assert.Empty(t, Placeholder(llm.Text("x")))
}

// ═══════════════════════════════════════════════════════════════════════════
// FormatMultiAgent 测试
// ═══════════════════════════════════════════════════════════════════════════

func TestFormatMultiAgent(t *testing.T) {
	t.Run("前言只出现一次，每组一对 history 标签", func(t *testing.T) {
		msgs := []llm.Msg{
			llm.SystemMsg("sys"),
			llm.UserMsg("alice", "hi"),
			llm.AssistantMsg("bob", "hello"),
			toolCallMsg("1"),
			toolResultMsg("1"),
			llm.UserMsg("alice", "thanks"),
		}
		out, err := FormatMultiAgent(msgs, HistoryFolder{}, textEmitter{})
		require.NoError(t, err)

		require.Len(t, out, 5)
		assert.Equal(t, "system", out[0]["role"])
		assert.Equal(t, "sys", out[0]["content"])
		assert.Equal(t, "assistant", out[2]["role"])
		assert.Equal(t, "tool", out[3]["role"])

		first := out[1]["content"].(string)
		second := out[4]["content"].(string)
		assert.True(t, strings.HasPrefix(first, llm.DefaultHistoryPrompt))

		// 前言本身提到了标签，计数时去掉
		body := strings.TrimPrefix(first, llm.DefaultHistoryPrompt)
		assert.Equal(t, 1, strings.Count(body, HistoryOpen))
		assert.Equal(t, 1, strings.Count(body, HistoryClose))
		assert.Equal(t, 1, strings.Count(second, HistoryOpen))
		assert.Equal(t, 1, strings.Count(second, HistoryClose))

		all := first + second
		assert.Equal(t, 1, strings.Count(all, llm.DefaultHistoryPrompt))
		assert.NotContains(t, all, "sys")
	})

	t.Run("媒体块交给 Provider", func(t *testing.T) {
		msgs := []llm.Msg{
			llm.NewMsg(llm.RoleUser, "a", llm.Image(llm.FromURL("https://x/a.png")), llm.Image(llm.FromURL("https://x/b.png"))),
		}
		out, err := FormatMultiAgent(msgs, HistoryFolder{}, textEmitter{})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, 2, out[0]["media"])
	})

	t.Run("空输入返回空切片", func(t *testing.T) {
		out, err := FormatMultiAgent(nil, HistoryFolder{}, textEmitter{})
		require.NoError(t, err)
		assert.NotNil(t, out)
		assert.Empty(t, out)
	})
}

// ═══════════════════════════════════════════════════════════════════════════
// 系统消息辅助
// ═══════════════════════════════════════════════════════════════════════════

func TestSplitSystem(t *testing.T) {
	msgs := []llm.Msg{llm.SystemMsg("s"), llm.UserMsg("", "u")}
	sys, rest := SplitSystem(msgs)
	require.NotNil(t, sys)
	assert.Equal(t, "s", sys.TextContent())
	assert.Len(t, rest, 1)

	sys, rest = SplitSystem(msgs[1:])
	assert.Nil(t, sys)
	assert.Len(t, rest, 1)
}

func TestSystemText(t *testing.T) {
	t.Run("多个文本块换行拼接", func(t *testing.T) {
		msgs := []llm.Msg{llm.NewMsg(llm.RoleSystem, "", llm.Text("a"), llm.Text("b"))}
		text, ok := SystemText(msgs)
		assert.True(t, ok)
		assert.Equal(t, "a\nb", text)
	})

	t.Run("没有系统消息", func(t *testing.T) {
		_, ok := SystemText([]llm.Msg{llm.UserMsg("", "x")})
		assert.False(t, ok)
	})
}

func TestLeadingSystemText(t *testing.T) {
	msgs := []llm.Msg{
		llm.SystemMsg("rules"),
		llm.UserMsg("alice", "hi"),
		llm.SystemMsg("late notice"),
	}

	text, ok := LeadingSystemText(msgs)
	assert.True(t, ok)
	assert.Equal(t, "rules", text)

	_, ok = LeadingSystemText(msgs[1:])
	assert.False(t, ok, "中途的系统消息不算")

	_, ok = LeadingSystemText([]llm.Msg{llm.NewMsg(llm.RoleSystem, "")})
	assert.False(t, ok, "空系统消息")
}
