package gemini

import (
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/core"
)

// MultiAgentFormatter Gemini 多智能体格式化器
//
// 系统提示仍通过 SystemInstruction 提供，不出现在 contents 中。
type MultiAgentFormatter struct {
	*Formatter
}

var (
	_ core.ChatFormatter     = (*MultiAgentFormatter)(nil)
	_ core.SystemInstructor  = (*MultiAgentFormatter)(nil)
	_ core.MultiAgentEmitter = (*MultiAgentFormatter)(nil)
)

// NewMultiAgent 创建 Gemini 多智能体格式化器
func NewMultiAgent(opts ...core.Option) *MultiAgentFormatter {
	return &MultiAgentFormatter{Formatter: New(opts...)}
}

// Capabilities 能力声明
func (f *MultiAgentFormatter) Capabilities() llm.FormatterCapabilities {
	c := f.Formatter.Capabilities()
	c.SupportMultiAgent = true
	return c
}

// Format 多智能体格式化
func (f *MultiAgentFormatter) Format(msgs []llm.Msg) ([]map[string]any, error) {
	msgs, err := f.opts.Prepare(msgs)
	if err != nil {
		return nil, err
	}
	return core.FormatMultiAgent(msgs, f.opts.Folder(), f)
}

// SystemInstruction 只取开头的系统消息
func (f *MultiAgentFormatter) SystemInstruction(msgs []llm.Msg) (any, bool) {
	return systemContent(core.LeadingSystemText(msgs))
}

// FormatSystem 系统提示使用独立字段
func (f *MultiAgentFormatter) FormatSystem(llm.Msg) ([]map[string]any, error) {
	return nil, nil
}

// FormatAgentGroup {role: user, parts: [{text: 历史}, 媒体...]}
func (f *MultiAgentFormatter) FormatAgentGroup(folded core.Folded) (map[string]any, error) {
	parts := make([]map[string]any, 0, 1+len(folded.Media))
	parts = append(parts, map[string]any{"text": folded.Text})
	for _, b := range folded.Media {
		parts = append(parts, f.mediaPart(b))
	}
	return map[string]any{"role": "user", "parts": parts}, nil
}

// FormatToolSequence 工具分组按对话规则转换
func (f *MultiAgentFormatter) FormatToolSequence(msgs []llm.Msg) ([]map[string]any, error) {
	var out []map[string]any
	for i := range msgs {
		out = f.appendMsg(out, msgs[i])
	}
	return out, nil
}
