package ollama

import (
	"strings"

	"go.uber.org/zap"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/core"
)

// MultiAgentFormatter Ollama 多智能体格式化器
type MultiAgentFormatter struct {
	*Formatter
}

var (
	_ core.ChatFormatter     = (*MultiAgentFormatter)(nil)
	_ core.MultiAgentEmitter = (*MultiAgentFormatter)(nil)
)

// NewMultiAgent 创建 Ollama 多智能体格式化器
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

// FormatAgentGroup {role: user, content: 历史, images: [...]}
//
// 无法内联的图像以文本引用追加在历史之后，音频与视频只保留占位符。
func (f *MultiAgentFormatter) FormatAgentGroup(folded core.Folded) (map[string]any, error) {
	texts := []string{folded.Text}
	var images []string
	for _, b := range folded.Media {
		img, ok := b.(*llm.ImageBlock)
		if !ok {
			f.opts.Logger.Warn(core.LogMediaUnsupported,
				zap.String("provider", f.opts.ProviderName),
				zap.String("kind", string(b.BlockType())))
			continue
		}
		if data, ref := f.image(img); ref != "" {
			texts = append(texts, ref)
		} else {
			images = append(images, data)
		}
	}
	m := map[string]any{"role": "user", "content": strings.Join(texts, "\n")}
	if len(images) > 0 {
		m["images"] = images
	}
	return m, nil
}

// FormatToolSequence 工具分组逐条转换
func (f *MultiAgentFormatter) FormatToolSequence(msgs []llm.Msg) ([]map[string]any, error) {
	var out []map[string]any
	for i := range msgs {
		out = append(out, f.formatMsg(msgs[i])...)
	}
	return out, nil
}
