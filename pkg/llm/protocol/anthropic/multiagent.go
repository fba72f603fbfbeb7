package anthropic

import (
	"go.uber.org/zap"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/core"
)

// MultiAgentFormatter Anthropic 多智能体格式化器
//
// 系统提示仍通过 system 字段提供。
type MultiAgentFormatter struct {
	*Formatter
}

var (
	_ core.ChatFormatter     = (*MultiAgentFormatter)(nil)
	_ core.SystemInstructor  = (*MultiAgentFormatter)(nil)
	_ core.MultiAgentEmitter = (*MultiAgentFormatter)(nil)
)

// NewMultiAgent 创建 Anthropic 多智能体格式化器
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
	text, ok := core.LeadingSystemText(msgs)
	if !ok {
		return nil, false
	}
	return text, true
}

// FormatSystem 系统提示使用独立字段
func (f *MultiAgentFormatter) FormatSystem(llm.Msg) ([]map[string]any, error) {
	return nil, nil
}

// FormatAgentGroup 历史文本块在前，图像块随后
//
// 音频与视频只保留历史文本中的占位符。
func (f *MultiAgentFormatter) FormatAgentGroup(folded core.Folded) (map[string]any, error) {
	content := make([]map[string]any, 0, 1+len(folded.Media))
	content = append(content, textBlock(folded.Text))
	for _, b := range folded.Media {
		if img, ok := b.(*llm.ImageBlock); ok {
			content = append(content, f.imageBlock(img))
			continue
		}
		f.opts.Logger.Warn(core.LogMediaUnsupported,
			zap.String("provider", f.opts.ProviderName),
			zap.String("kind", string(b.BlockType())))
	}
	return map[string]any{"role": "user", "content": content}, nil
}

// FormatToolSequence 工具分组按对话规则转换
func (f *MultiAgentFormatter) FormatToolSequence(msgs []llm.Msg) ([]map[string]any, error) {
	var out []map[string]any
	for i := range msgs {
		out = f.appendMsg(out, msgs[i])
	}
	return out, nil
}
