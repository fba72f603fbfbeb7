package dashscope

import (
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/core"
)

// MultiAgentFormatter DashScope 多智能体格式化器
type MultiAgentFormatter struct {
	*Formatter
}

var (
	_ core.ChatFormatter     = (*MultiAgentFormatter)(nil)
	_ core.MultiAgentEmitter = (*MultiAgentFormatter)(nil)
)

// NewMultiAgent 创建 DashScope 多智能体格式化器
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

// FormatAgentGroup [{text: 历史}, {image: ...}, ...]
func (f *MultiAgentFormatter) FormatAgentGroup(folded core.Folded) (map[string]any, error) {
	parts := make([]map[string]any, 0, 1+len(folded.Media))
	parts = append(parts, map[string]any{"text": folded.Text})
	for _, b := range folded.Media {
		parts = append(parts, f.mediaPart(b))
	}
	return map[string]any{"role": "user", "content": parts}, nil
}

// FormatToolSequence 工具分组逐条转换
func (f *MultiAgentFormatter) FormatToolSequence(msgs []llm.Msg) ([]map[string]any, error) {
	var out []map[string]any
	for i := range msgs {
		out = append(out, f.formatMsg(msgs[i])...)
	}
	return out, nil
}
