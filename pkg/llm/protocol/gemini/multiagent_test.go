package gemini

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/core"
)

func TestMultiAgentFormatter_Format(t *testing.T) {
	f := NewMultiAgent()
	assert.True(t, f.Capabilities().SupportMultiAgent)

	msgs := []llm.Msg{
		llm.SystemMsg("referee"),
		llm.UserMsg("alice", "move e4"),
		llm.NewMsg(llm.RoleAssistant, "bob", llm.Text("board"), llm.Image(llm.FromURL("https://x/board.png"))),
		llm.NewMsg(llm.RoleAssistant, "bob", llm.ToolUse("c1", "validate", map[string]any{"move": "e5"})),
		llm.NewMsg(llm.RoleTool, "validate", llm.ToolResult("c1", "validate", llm.Text("legal"))),
		llm.UserMsg("carol", "gg"),
	}

	out, err := f.Format(msgs)
	require.NoError(t, err)
	require.Len(t, out, 4)

	parts := out[0]["parts"].([]map[string]any)
	require.Len(t, parts, 2)
	text := parts[0]["text"].(string)
	assert.True(t, strings.HasPrefix(text, llm.DefaultHistoryPrompt))
	assert.Contains(t, text, "alice: move e4\nbob: board\n[Image]\n")
	assert.Equal(t, "https://x/board.png", parts[1]["file_data"].(map[string]any)["file_uri"])

	assert.Equal(t, "model", out[1]["role"])
	assert.Contains(t, out[2]["parts"].([]map[string]any)[0], "functionResponse")
	assert.Equal(t, []map[string]any{{"text": core.HistoryOpen + "\ncarol: gg\n" + core.HistoryClose}}, out[3]["parts"])

	// 系统提示走独立字段
	sys, ok := f.SystemInstruction(msgs)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"parts": []map[string]any{{"text": "referee"}}}, sys)
}

func TestMultiAgentFormatter_SystemInstruction(t *testing.T) {
	f := NewMultiAgent()
	msgs := []llm.Msg{
		llm.SystemMsg("referee"),
		llm.UserMsg("alice", "move e4"),
		llm.SystemMsg("time control: 5 minutes"),
		llm.UserMsg("bob", "e5"),
	}

	param, err := core.BuildRequest(f, core.Request{Model: "gemini-2.5-flash", Messages: msgs}, nil)
	require.NoError(t, err)

	// 中途的系统消息已折叠进历史，系统字段只保留开头那条
	assert.Equal(t, map[string]any{"parts": []map[string]any{{"text": "referee"}}}, param["systemInstruction"])

	t.Run("没有开头系统消息", func(t *testing.T) {
		_, ok := f.SystemInstruction(msgs[1:])
		assert.False(t, ok)

		_, ok = f.Formatter.SystemInstruction(msgs[1:])
		assert.True(t, ok, "单智能体格式化器仍合并所有系统消息")
	})
}
