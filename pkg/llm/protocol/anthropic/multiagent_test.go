package anthropic

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
		llm.SystemMsg("moderator"),
		llm.UserMsg("alice", "look"),
		llm.NewMsg(llm.RoleAssistant, "bob", llm.Image(llm.FromURL("https://x/p.png")), llm.Audio(llm.FromURL("https://x/a.mp3"))),
		llm.NewMsg(llm.RoleAssistant, "bob", llm.ToolUse("toolu_1", "zoom", map[string]any{"level": float64(2)})),
		llm.NewMsg(llm.RoleTool, "zoom", llm.ToolResult("toolu_1", "zoom", llm.Text("done"))),
		llm.UserMsg("alice", "ok"),
	}
	out, err := f.Format(msgs)
	require.NoError(t, err)
	require.Len(t, out, 4)

	first := out[0]["content"].([]map[string]any)
	require.Len(t, first, 2)
	text := first[0]["text"].(string)
	assert.True(t, strings.HasPrefix(text, llm.DefaultHistoryPrompt))
	assert.Contains(t, text, "alice: look\n[Image]\n[Audio]\n")
	assert.Equal(t, "url", first[1]["source"].(map[string]any)["type"])

	assert.Equal(t, "assistant", out[1]["role"])
	assert.Equal(t, "tool_result", out[2]["content"].([]map[string]any)[0]["type"])
	assert.Equal(t, []map[string]any{{"type": "text", "text": core.HistoryOpen + "\nalice: ok\n" + core.HistoryClose}}, out[3]["content"])

	sys, ok := f.SystemInstruction(msgs)
	require.True(t, ok)
	assert.Equal(t, "moderator", sys)
}

func TestMultiAgentFormatter_SystemInstruction(t *testing.T) {
	f := NewMultiAgent()
	msgs := []llm.Msg{
		llm.SystemMsg("moderator"),
		llm.UserMsg("alice", "hi"),
		llm.SystemMsg("be brief"),
		llm.UserMsg("bob", "hello"),
	}

	param, err := core.BuildRequest(f, core.Request{Model: "claude-3-5-haiku-latest", Messages: msgs}, nil)
	require.NoError(t, err)
	assert.Equal(t, "moderator", param["system"])

	sys, ok := f.Formatter.SystemInstruction(msgs)
	require.True(t, ok)
	assert.Equal(t, "moderator\nbe brief", sys)
}
