package core

import (
	"go.uber.org/zap"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/media"
)

// ═══════════════════════════════════════════════════════════════════════════
// 格式化器选项
// ═══════════════════════════════════════════════════════════════════════════

// Options 各 Provider 格式化器共享的构造选项
type Options struct {
	Logger        *zap.Logger
	ProviderName  string
	LocalMedia    llm.LocalMediaMode
	MaxImageBytes int64
	HistoryPrompt string
	Counter       TokenCounter
	MaxTokens     int
}

// Option 函数式选项
type Option func(*Options)

// NewOptions 以 Provider 默认值为基础应用选项
func NewOptions(defaults Options, opts ...Option) Options {
	o := defaults
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	o.Logger = Logger(o.Logger)
	return o
}

// WithLogger 设置日志记录器
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithProviderName 覆盖 Provider 名称（OpenAI 兼容 Provider 复用 OpenAI 格式化器时使用）
func WithProviderName(name string) Option {
	return func(o *Options) {
		if name != "" {
			o.ProviderName = name
		}
	}
}

// WithLocalMedia 设置本地媒体文件的引用方式
func WithLocalMedia(mode llm.LocalMediaMode) Option {
	return func(o *Options) {
		if mode != "" {
			o.LocalMedia = mode
		}
	}
}

// WithMaxImageBytes 设置图像大小上限（0 保持默认，<0 不限制）
func WithMaxImageBytes(n int64) Option {
	return func(o *Options) {
		if n != 0 {
			o.MaxImageBytes = n
		}
	}
}

// WithHistoryPrompt 设置多智能体历史前言
func WithHistoryPrompt(prompt string) Option {
	return func(o *Options) {
		if prompt != "" {
			o.HistoryPrompt = prompt
		}
	}
}

// WithTruncation 格式化前按 token 预算截断历史
func WithTruncation(counter TokenCounter, maxTokens int) Option {
	return func(o *Options) {
		o.Counter = counter
		o.MaxTokens = maxTokens
	}
}

// FromConfig 将 FormatterConfig 转换为选项
//
// Encoding 非空时使用 tiktoken 计数，创建失败回退到字符估算。
func FromConfig(cfg llm.FormatterConfig) []Option {
	opts := []Option{
		WithLocalMedia(cfg.LocalMedia),
		WithMaxImageBytes(cfg.MaxImageBytes),
		WithHistoryPrompt(cfg.HistoryPrompt),
	}
	if cfg.MaxTokens > 0 {
		var counter TokenCounter = CharCounter{}
		if cfg.Encoding != "" {
			if tc, err := NewTiktokenCounter(cfg.Encoding); err == nil {
				counter = tc
			}
		}
		opts = append(opts, WithTruncation(counter, cfg.MaxTokens))
	}
	return opts
}

// MediaCodec 按选项构造媒体编码器
func (o Options) MediaCodec() media.Codec {
	return media.Codec{LocalMode: o.LocalMedia, MaxImageBytes: o.MaxImageBytes}
}

// Folder 按选项构造历史折叠器
func (o Options) Folder() HistoryFolder {
	return HistoryFolder{Preamble: o.HistoryPrompt, Logger: o.Logger}
}

// Prepare 格式化前的预处理（历史截断）
func (o Options) Prepare(msgs []llm.Msg) ([]llm.Msg, error) {
	if o.Counter == nil || o.MaxTokens <= 0 {
		return msgs, nil
	}
	return Truncate(msgs, o.Counter, o.MaxTokens)
}
