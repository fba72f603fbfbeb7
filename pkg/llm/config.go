package llm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/codec"
)

// ═══════════════════════════════════════════════════════════════════════════
// 格式化器配置
// ═══════════════════════════════════════════════════════════════════════════

// LocalMediaMode 本地媒体文件的引用方式
type LocalMediaMode string

const (
	// LocalMediaFileURL 转换为 file:// 绝对路径（DashScope SDK 约定）
	LocalMediaFileURL LocalMediaMode = "file_url"

	// LocalMediaDataURL 读取并编码为 data:{mime};base64,... （OpenAI 约定）
	LocalMediaDataURL LocalMediaMode = "data_url"
)

// DefaultHistoryPrompt 多智能体历史前言
const DefaultHistoryPrompt = "# Conversation History\n" +
	"The content between <history></history> tags contains your conversation history\n"

// FormatterConfig 格式化器配置
//
// 零值字段使用各 Provider 的默认约定。
type FormatterConfig struct {
	// MultiAgent 使用多智能体历史折叠
	MultiAgent bool `yaml:"multi_agent" json:"multi_agent"`

	// HistoryPrompt 多智能体历史前言（为空使用 DefaultHistoryPrompt）
	HistoryPrompt string `yaml:"history_prompt,omitempty" json:"history_prompt,omitempty"`

	// LocalMedia 本地媒体引用方式（为空使用 Provider 约定）
	LocalMedia LocalMediaMode `yaml:"local_media,omitempty" json:"local_media,omitempty"`

	// MaxImageBytes 图像解码后大小上限（0 使用 Provider 约定，<0 不限制）
	MaxImageBytes int64 `yaml:"max_image_bytes,omitempty" json:"max_image_bytes,omitempty"`

	// MaxTokens 历史截断的 token 预算（0 不截断）
	MaxTokens int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`

	// Encoding 截断计数使用的 tiktoken 编码（为空使用字符估算）
	Encoding string `yaml:"encoding,omitempty" json:"encoding,omitempty"`
}

// HistoryPreamble 返回生效的历史前言
func (c FormatterConfig) HistoryPreamble() string {
	if c.HistoryPrompt != "" {
		return c.HistoryPrompt
	}
	return DefaultHistoryPrompt
}

// ═══════════════════════════════════════════════════════════════════════════
// 完整配置
// ═══════════════════════════════════════════════════════════════════════════

// Config Provider 配置
//
// 基本用法：
//
//	cfg := llm.DefaultConfig(llm.ProviderTypeDashScope)
//	cfg.APIKey = "sk-xxx"
//	cfg.Formatter.MultiAgent = true
//
// 从文件加载：
//
//	cfg, err := llm.LoadConfigFile("llm.yaml")
type Config struct {
	// Provider 类型
	Type ProviderType `yaml:"type" json:"type"`

	// APIKey（Ollama 除外，其他 Provider 必需）
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// 可选字段（有默认值）
	Model   string `yaml:"model,omitempty" json:"model,omitempty"`
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// 网络配置（如 "30s", "2m"）
	Timeout    string `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	MaxRetries int    `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`

	// 格式化器配置
	Formatter FormatterConfig `yaml:"formatter" json:"formatter"`

	// 默认生成参数
	Defaults *GenerateOptions `yaml:"defaults,omitempty" json:"defaults,omitempty"`

	// 实时会话配置
	Live *LiveConfig `yaml:"live,omitempty" json:"live,omitempty"`

	// 扩展配置
	Extra map[string]any `yaml:"extra,omitempty" json:"extra,omitempty"`
}

// DefaultConfig 返回默认配置
// 不指定类型时默认使用 OpenAI
func DefaultConfig(types ...ProviderType) Config {
	t := ProviderTypeOpenAI
	if len(types) > 0 {
		t = types[0]
	}
	return Config{
		Type:       t,
		BaseURL:    t.DefaultBaseURL(),
		Model:      t.DefaultModel(),
		Timeout:    "120s",
		MaxRetries: 3,
	}
}

// TimeoutDuration 解析超时时间，无效或未设置时返回 120 秒
func (c *Config) TimeoutDuration() time.Duration {
	if c.Timeout != "" {
		if d, err := time.ParseDuration(c.Timeout); err == nil && d > 0 {
			return d
		}
	}
	return 120 * time.Second
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Type == "" {
		return NewConfigError("type is required", nil)
	}
	if c.Timeout != "" {
		if _, err := time.ParseDuration(c.Timeout); err != nil {
			return NewConfigError("invalid timeout", err)
		}
	}
	switch c.Formatter.LocalMedia {
	case "", LocalMediaFileURL, LocalMediaDataURL:
	default:
		return NewConfigError(fmt.Sprintf("unsupported local_media: %s", c.Formatter.LocalMedia), nil)
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// 配置加载
// ═══════════════════════════════════════════════════════════════════════════

// LoadConfigFile 从文件加载配置
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewConfigError("read config file", err)
	}
	return LoadConfigFromBytes(data, filepath.Ext(path))
}

// LoadConfigFromBytes 从字节数据加载配置
func LoadConfigFromBytes(data []byte, format string) (*Config, error) {
	cfg := &Config{}
	if err := decode(data, format, cfg); err != nil {
		return nil, err
	}
	if cfg.Type == "" {
		cfg.Type = ProviderTypeOpenAI
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = cfg.Type.DefaultBaseURL()
	}
	if cfg.Model == "" {
		cfg.Model = cfg.Type.DefaultModel()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode 按格式解码（支持 ".yaml" 或 "yaml"）
func decode(data []byte, format string, out any) error {
	format = strings.TrimPrefix(strings.ToLower(format), ".")

	switch format {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, out); err != nil {
			return NewConfigError("parse YAML", err)
		}
	case "json":
		if err := codec.Unmarshal(data, out); err != nil {
			return NewConfigError("parse JSON", err)
		}
	default:
		return NewConfigError(fmt.Sprintf("unsupported format: %s (expected yaml, yml, or json)", format), nil)
	}
	return nil
}
