package openai

import (
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/core"
)

// MultiAgentFormatter OpenAI 多智能体格式化器
//
// 普通发言折叠为带 <history> 标签的 user 消息，工具分组按单智能体规则转换。
type MultiAgentFormatter struct {
	*Formatter
}

var (
	_ core.ChatFormatter     = (*MultiAgentFormatter)(nil)
	_ core.MultiAgentEmitter = (*MultiAgentFormatter)(nil)
)

// NewMultiAgent 创建 OpenAI 多智能体格式化器
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

// FormatSystem 系统消息内联
func (f *MultiAgentFormatter) FormatSystem(sys llm.Msg) ([]map[string]any, error) {
	return f.formatMsg(sys), nil
}

// FormatAgentGroup 历史文本在前，媒体块依次跟随
func (f *MultiAgentFormatter) FormatAgentGroup(folded core.Folded) (map[string]any, error) {
	if len(folded.Media) == 0 {
		return map[string]any{"role": "user", "content": folded.Text}, nil
	}
	msg := llm.NewMsg(llm.RoleUser, "", append([]llm.ContentBlock{llm.Text(folded.Text)}, folded.Media...)...)
	out := f.formatMsg(msg)
	return out[0], nil
}

// FormatToolSequence 工具分组逐条转换
func (f *MultiAgentFormatter) FormatToolSequence(msgs []llm.Msg) ([]map[string]any, error) {
	var out []map[string]any
	for i := range msgs {
		out = append(out, f.formatMsg(msgs[i])...)
	}
	return out, nil
}
