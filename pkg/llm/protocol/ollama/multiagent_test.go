package ollama

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
		llm.NewMsg(llm.RoleAssistant, "bob",
			llm.Image(llm.FromBase64("AAAA", "image/png")),
			llm.Image(llm.FromURL("https://x/b.png")),
		),
		llm.NewMsg(llm.RoleAssistant, "bob", llm.ToolUse("c1", "roll", nil)),
		llm.NewMsg(llm.RoleTool, "roll", llm.ToolResult("c1", "roll", llm.Text("6"))),
		llm.UserMsg("alice", "lucky"),
	})
	require.NoError(t, err)
	require.Len(t, out, 5)

	assert.Equal(t, map[string]any{"role": "system", "content": "host"}, out[0])

	content := out[1]["content"].(string)
	assert.True(t, strings.HasPrefix(content, llm.DefaultHistoryPrompt))
	assert.Contains(t, content, "alice: hi\n[Image]\n[Image]\n"+core.HistoryClose+"\n[Image: https://x/b.png]")
	assert.Equal(t, []string{"AAAA"}, out[1]["images"])

	assert.Equal(t, "", out[2]["content"])
	assert.Equal(t, "roll", out[3]["tool_name"])
	assert.Equal(t, map[string]any{"role": "user", "content": core.HistoryOpen + "\nalice: lucky\n" + core.HistoryClose}, out[4])
}
