package dashscope

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

	out, err := f.Format([]llm.Msg{
		llm.SystemMsg("host"),
		llm.UserMsg("alice", "hi"),
		llm.NewMsg(llm.RoleAssistant, "bob", llm.Text("listen"), llm.Audio(llm.FromURL("https://x/a.mp3"))),
		llm.NewMsg(llm.RoleAssistant, "bob", llm.ToolUse("c1", "play", nil)),
		llm.NewMsg(llm.RoleTool, "play", llm.ToolResult("c1", "play", llm.Text("ok"))),
		llm.UserMsg("alice", "nice"),
	})
	require.NoError(t, err)
	require.Len(t, out, 5)

	assert.Equal(t, []map[string]any{{"text": "host"}}, out[0]["content"])

	parts := out[1]["content"].([]map[string]any)
	require.Len(t, parts, 2)
	text := parts[0]["text"].(string)
	assert.True(t, strings.HasPrefix(text, llm.DefaultHistoryPrompt))
	assert.Contains(t, text, "alice: hi\nbob: listen\n[Audio]\n")
	assert.Equal(t, map[string]any{"audio": "https://x/a.mp3"}, parts[1])

	calls := out[2]["tool_calls"].([]map[string]any)
	assert.Equal(t, "{}", calls[0]["function"].(map[string]any)["arguments"])
	assert.Equal(t, "tool", out[3]["role"])

	// 后续分组不带前言，仍为列表内容
	assert.Equal(t, []map[string]any{{"text": core.HistoryOpen + "\nalice: nice\n" + core.HistoryClose}}, out[4]["content"])
}

func TestMultiAgentFormatter_Empty(t *testing.T) {
	out, err := NewMultiAgent().Format(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
