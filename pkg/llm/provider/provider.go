// Package provider 按 Provider 类型创建格式化器与客户端
//
// 使用方式：
//
//	cfg := llm.DefaultConfig(llm.ProviderTypeDashScope)
//	cfg.APIKey = "sk-xxx"
//	cfg.Formatter.MultiAgent = true
//
//	f, err := provider.NewChatFormatter(&cfg)
//	client, err := provider.New(&cfg)
//
//	// 实时会话
//	lf, err := provider.NewLiveFormatter(llm.ProviderTypeGemini)
package provider

import (
	"fmt"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/core"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/protocol/anthropic"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/protocol/dashscope"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/protocol/doubao"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/protocol/gemini"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/protocol/ollama"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/protocol/openai"
)

// ═══════════════════════════════════════════════════════════════════════════
// 工厂函数
// ═══════════════════════════════════════════════════════════════════════════

type chatConstructors struct {
	chat       func(...core.Option) core.ChatFormatter
	multiAgent func(...core.Option) core.ChatFormatter
}

var chatRegistry = map[llm.ProviderType]chatConstructors{
	llm.ProviderTypeOpenAI: {
		chat:       func(o ...core.Option) core.ChatFormatter { return openai.New(o...) },
		multiAgent: func(o ...core.Option) core.ChatFormatter { return openai.NewMultiAgent(o...) },
	},
	llm.ProviderTypeDashScope: {
		chat:       func(o ...core.Option) core.ChatFormatter { return dashscope.New(o...) },
		multiAgent: func(o ...core.Option) core.ChatFormatter { return dashscope.NewMultiAgent(o...) },
	},
	llm.ProviderTypeGemini: {
		chat:       func(o ...core.Option) core.ChatFormatter { return gemini.New(o...) },
		multiAgent: func(o ...core.Option) core.ChatFormatter { return gemini.NewMultiAgent(o...) },
	},
	llm.ProviderTypeAnthropic: {
		chat:       func(o ...core.Option) core.ChatFormatter { return anthropic.New(o...) },
		multiAgent: func(o ...core.Option) core.ChatFormatter { return anthropic.NewMultiAgent(o...) },
	},
	llm.ProviderTypeOllama: {
		chat:       func(o ...core.Option) core.ChatFormatter { return ollama.New(o...) },
		multiAgent: func(o ...core.Option) core.ChatFormatter { return ollama.NewMultiAgent(o...) },
	},
}

var liveRegistry = map[llm.ProviderType]func(...core.Option) core.LiveFormatter{
	llm.ProviderTypeOpenAI:    func(o ...core.Option) core.LiveFormatter { return openai.NewLive(o...) },
	llm.ProviderTypeDashScope: func(o ...core.Option) core.LiveFormatter { return dashscope.NewLive(o...) },
	llm.ProviderTypeGemini:    func(o ...core.Option) core.LiveFormatter { return gemini.NewLive(o...) },
	llm.ProviderTypeDoubao:    func(o ...core.Option) core.LiveFormatter { return doubao.NewLive(o...) },
}

// NewChatFormatter 按配置创建对话格式化器
//
// OpenAI 兼容类型（DeepSeek、OpenRouter、GLM、Moonshot、豆包）复用 OpenAI 格式化器，
// Provider 名称保留为原类型。cfg.Formatter.MultiAgent 为 true 时返回多智能体格式化器。
// 额外的 opts 在配置派生的选项之后应用。
func NewChatFormatter(cfg *llm.Config, opts ...core.Option) (core.ChatFormatter, error) {
	if cfg == nil {
		return nil, llm.NewConfigError("config is required", nil)
	}

	t := cfg.Type
	if t == "" {
		t = llm.ProviderTypeOpenAI
	}
	all := core.FromConfig(cfg.Formatter)
	if t.IsOpenAICompatible() && t != llm.ProviderTypeOpenAI {
		all = append(all, core.WithProviderName(t.String()))
		t = llm.ProviderTypeOpenAI
	}
	all = append(all, opts...)

	ctor, ok := chatRegistry[t]
	if !ok {
		return nil, unsupported(cfg.Type)
	}
	if cfg.Formatter.MultiAgent {
		return ctor.multiAgent(all...), nil
	}
	return ctor.chat(all...), nil
}

// NewLiveFormatter 创建实时会话格式化器
func NewLiveFormatter(t llm.ProviderType, opts ...core.Option) (core.LiveFormatter, error) {
	ctor, ok := liveRegistry[t]
	if !ok {
		return nil, unsupported(t)
	}
	return ctor(opts...), nil
}

// Capabilities 返回 Provider 对话格式化器的能力声明
func Capabilities(t llm.ProviderType) (llm.FormatterCapabilities, error) {
	f, err := NewChatFormatter(&llm.Config{Type: t, Formatter: llm.FormatterConfig{MultiAgent: true}})
	if err != nil {
		return llm.FormatterCapabilities{}, err
	}
	return f.Capabilities(), nil
}

// New 创建对话客户端
//
// 格式化器由 NewChatFormatter 按配置选择。
func New(cfg *llm.Config, opts ...core.ClientOption) (*core.Client, error) {
	f, err := NewChatFormatter(cfg)
	if err != nil {
		return nil, err
	}
	return core.NewClient(cfg, f, opts...)
}

func unsupported(t llm.ProviderType) error {
	return llm.NewConfigError(fmt.Sprintf("unsupported provider type: %s", t), nil)
}

// ═══════════════════════════════════════════════════════════════════════════
// 便捷函数
// ═══════════════════════════════════════════════════════════════════════════

// Must 创建客户端，失败时 panic
func Must(cfg *llm.Config, opts ...core.ClientOption) *core.Client {
	c, err := New(cfg, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Default 使用 Provider 默认配置创建客户端
// 不指定类型时默认使用 OpenAI
func Default(apiKey string, types ...llm.ProviderType) (*core.Client, error) {
	cfg := llm.DefaultConfig(types...)
	cfg.APIKey = apiKey
	return New(&cfg)
}
