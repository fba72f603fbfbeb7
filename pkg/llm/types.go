package llm

import "time"

// ═══════════════════════════════════════════════════════════════════════════
// 工具定义
// ═══════════════════════════════════════════════════════════════════════════

// ToolSchema 工具 Schema
//
// Parameters 是 JSON Schema 形状的 map，原样透传给 Provider，不做校验。
type ToolSchema struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Parameters  map[string]any `json:"parameters" yaml:"parameters"`
}

// ToolChoiceMode 工具选择模式
type ToolChoiceMode string

const (
	ToolChoiceModeAuto     ToolChoiceMode = "auto"
	ToolChoiceModeNone     ToolChoiceMode = "none"
	ToolChoiceModeRequired ToolChoiceMode = "required"
	ToolChoiceModeSpecific ToolChoiceMode = "specific"
)

// ToolChoice 工具选择策略
//
// 四种变体：Auto、None、Required、Specific{ToolName}。
// 零值等价于 Auto。
type ToolChoice struct {
	Mode     ToolChoiceMode `json:"mode,omitempty" yaml:"mode,omitempty"`
	ToolName string         `json:"tool_name,omitempty" yaml:"tool_name,omitempty"`
}

var (
	ToolChoiceAuto     = ToolChoice{Mode: ToolChoiceModeAuto}
	ToolChoiceNone     = ToolChoice{Mode: ToolChoiceModeNone}
	ToolChoiceRequired = ToolChoice{Mode: ToolChoiceModeRequired}
)

// ToolChoiceSpecific 强制调用指定工具
func ToolChoiceSpecific(name string) ToolChoice {
	return ToolChoice{Mode: ToolChoiceModeSpecific, ToolName: name}
}

// Normalize 返回规范化后的模式（空值视为 auto）
func (c ToolChoice) Normalize() ToolChoiceMode {
	if c.Mode == "" {
		return ToolChoiceModeAuto
	}
	return c.Mode
}

// ═══════════════════════════════════════════════════════════════════════════
// 生成参数
// ═══════════════════════════════════════════════════════════════════════════

// GenerateOptions 生成参数
//
// 数值字段使用指针：nil 表示未设置，与显式的 0 区分。
type GenerateOptions struct {
	Temperature      *float64       `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TopP             *float64       `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	MaxTokens        *int           `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Seed             *int           `json:"seed,omitempty" yaml:"seed,omitempty"`
	FrequencyPenalty *float64       `json:"frequency_penalty,omitempty" yaml:"frequency_penalty,omitempty"`
	PresencePenalty  *float64       `json:"presence_penalty,omitempty" yaml:"presence_penalty,omitempty"`
	Stop             []string       `json:"stop,omitempty" yaml:"stop,omitempty"`
	EnableThinking   *bool          `json:"enable_thinking,omitempty" yaml:"enable_thinking,omitempty"`
	ThinkingBudget   *int           `json:"thinking_budget,omitempty" yaml:"thinking_budget,omitempty"`
	ToolChoice       *ToolChoice    `json:"tool_choice,omitempty" yaml:"tool_choice,omitempty"`
	Stream           bool           `json:"stream,omitempty" yaml:"stream,omitempty"`
	Extra            map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// MergeOptions 合并参数：opts 中设置的字段优先，其余取 defaults
func MergeOptions(opts, defaults *GenerateOptions) GenerateOptions {
	var out GenerateOptions
	if defaults != nil {
		out = *defaults
		out.Extra = cloneMap(defaults.Extra)
	}
	if opts == nil {
		return out
	}

	out.Temperature = pick(opts.Temperature, out.Temperature)
	out.TopP = pick(opts.TopP, out.TopP)
	out.MaxTokens = pick(opts.MaxTokens, out.MaxTokens)
	out.Seed = pick(opts.Seed, out.Seed)
	out.FrequencyPenalty = pick(opts.FrequencyPenalty, out.FrequencyPenalty)
	out.PresencePenalty = pick(opts.PresencePenalty, out.PresencePenalty)
	out.EnableThinking = pick(opts.EnableThinking, out.EnableThinking)
	out.ThinkingBudget = pick(opts.ThinkingBudget, out.ThinkingBudget)
	out.ToolChoice = pick(opts.ToolChoice, out.ToolChoice)
	if len(opts.Stop) > 0 {
		out.Stop = opts.Stop
	}
	if opts.Stream {
		out.Stream = true
	}
	for k, v := range opts.Extra {
		if out.Extra == nil {
			out.Extra = make(map[string]any, len(opts.Extra))
		}
		out.Extra[k] = v
	}
	return out
}

func pick[T any](v, fallback *T) *T {
	if v != nil {
		return v
	}
	return fallback
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Ptr 返回值的指针，便于构造可选参数
func Ptr[T any](v T) *T { return &v }

// ═══════════════════════════════════════════════════════════════════════════
// 响应
// ═══════════════════════════════════════════════════════════════════════════

// ChatResponse 解析后的对话响应
//
// Content 固定按 Thinking → Text → ToolUse 排序，
// 调用方据此判断本轮是否结束（末尾没有工具调用即结束）。
type ChatResponse struct {
	ID           string         `json:"id,omitempty"`
	Content      []ContentBlock `json:"content"`
	Usage        *ChatUsage     `json:"usage,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Text 拼接响应中的文本块
func (r *ChatResponse) Text() string {
	msg := Msg{Content: r.Content}
	return msg.TextContent()
}

// ToolUses 响应中的工具调用
func (r *ChatResponse) ToolUses() []*ToolUseBlock {
	return Blocks[*ToolUseBlock](r.Content)
}

// ToMsg 将响应转换为助手消息
func (r *ChatResponse) ToMsg(name string) Msg {
	msg := NewMsg(RoleAssistant, name, r.Content...)
	if r.ID != "" {
		msg.ID = r.ID
	}
	return msg
}

// ChatUsage Token 使用量
//
// Time 为从请求开始到解析完成经过的秒数。
type ChatUsage struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Time         float64 `json:"time"`
}

// TotalTokens 总 token 数
func (u *ChatUsage) TotalTokens() int64 {
	if u == nil {
		return 0
	}
	return u.InputTokens + u.OutputTokens
}

// NewUsage 创建使用量，并按 start 计算耗时
func NewUsage(input, output int64, start time.Time) *ChatUsage {
	u := &ChatUsage{InputTokens: input, OutputTokens: output}
	if !start.IsZero() {
		u.Time = time.Since(start).Seconds()
	}
	return u
}

// ═══════════════════════════════════════════════════════════════════════════
// 格式化器能力声明
// ═══════════════════════════════════════════════════════════════════════════

// FormatterCapabilities 格式化器的静态能力声明
//
// 供调用方挑选兼容的格式化器；格式化器内部不据此分支。
type FormatterCapabilities struct {
	ProviderName      string                 `json:"provider_name"`
	SupportToolsAPI   bool                   `json:"support_tools_api"`
	SupportMultiAgent bool                   `json:"support_multi_agent"`
	SupportVision     bool                   `json:"support_vision"`
	SupportedBlocks   map[BlockType]struct{} `json:"supported_blocks"`
}

// NewCapabilities 创建能力声明
func NewCapabilities(provider string, tools, multiAgent, vision bool, blocks ...BlockType) FormatterCapabilities {
	set := make(map[BlockType]struct{}, len(blocks))
	for _, b := range blocks {
		set[b] = struct{}{}
	}
	return FormatterCapabilities{
		ProviderName:      provider,
		SupportToolsAPI:   tools,
		SupportMultiAgent: multiAgent,
		SupportVision:     vision,
		SupportedBlocks:   set,
	}
}

// Supports 是否支持指定内容块
func (c FormatterCapabilities) Supports(t BlockType) bool {
	_, ok := c.SupportedBlocks[t]
	return ok
}
