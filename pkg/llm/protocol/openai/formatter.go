package openai

import (
	"time"

	"go.uber.org/zap"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/codec"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/core"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/media"
)

// ProviderName 默认 Provider 名称
const ProviderName = "openai"

// ═══════════════════════════════════════════════════════════════════════════
// OpenAI Chat Completions 格式化器
// ═══════════════════════════════════════════════════════════════════════════

// Formatter OpenAI Chat Completions 格式化器
//
// 也用于豆包对话、DeepSeek、Moonshot 等 OpenAI 兼容 Provider（WithProviderName 区分）。
//
// 关键协议差异：
//  1. 工具参数：序列化为紧凑 JSON 字符串
//  2. 工具结果：展开为独立的 tool 角色消息
//  3. 系统消息：内联在消息数组中
//  4. 本地图像：读取为 data URL
//  5. 视频：不支持，替换为文本占位符
type Formatter struct {
	opts  core.Options
	media media.Codec
}

var (
	_ core.ChatFormatter     = (*Formatter)(nil)
	_ core.StreamChunkParser = (*Formatter)(nil)
	_ core.ErrorExtractor    = (*Formatter)(nil)
)

// New 创建 OpenAI 格式化器
func New(opts ...core.Option) *Formatter {
	o := core.NewOptions(core.Options{
		ProviderName: ProviderName,
		LocalMedia:   llm.LocalMediaDataURL,
	}, opts...)
	return &Formatter{opts: o, media: o.MediaCodec()}
}

// Capabilities 能力声明
func (f *Formatter) Capabilities() llm.FormatterCapabilities {
	return llm.NewCapabilities(f.opts.ProviderName, true, false, true,
		llm.BlockText, llm.BlockImage, llm.BlockAudio,
		llm.BlockToolUse, llm.BlockToolResult, llm.BlockThinking)
}

// ═══════════════════════════════════════════════════════════════════════════
// Format - 消息转换
// ═══════════════════════════════════════════════════════════════════════════

// Format 将统一消息转换为 OpenAI messages 数组
func (f *Formatter) Format(msgs []llm.Msg) ([]map[string]any, error) {
	msgs, err := f.opts.Prepare(msgs)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(msgs))
	for i := range msgs {
		out = append(out, f.formatMsg(msgs[i])...)
	}
	return out, nil
}

// formatMsg 转换单条消息
//
// 工具结果展开为独立的 tool 消息，排在该消息其余内容之后。
func (f *Formatter) formatMsg(msg llm.Msg) []map[string]any {
	if msg.Role == llm.RoleSystem {
		return []map[string]any{{"role": "system", "content": msg.TextContent()}}
	}

	var (
		parts     []map[string]any
		toolCalls []map[string]any
		results   []map[string]any
		hasMedia  bool
	)
	for _, block := range msg.Content {
		switch b := block.(type) {
		case *llm.TextBlock:
			parts = append(parts, textPart(b.Text))
		case *llm.ImageBlock:
			hasMedia = true
			parts = append(parts, f.imagePart(b))
		case *llm.AudioBlock:
			hasMedia = true
			parts = append(parts, f.audioPart(b))
		case *llm.VideoBlock:
			hasMedia = true
			f.opts.Logger.Warn(core.LogMediaUnsupported,
				zap.String("provider", f.opts.ProviderName),
				zap.String("kind", string(media.KindVideo)))
			parts = append(parts, textPart(core.Placeholder(b)))
		case *llm.ThinkingBlock:
			f.opts.Logger.Debug(core.LogThinkingDropped, zap.String("provider", f.opts.ProviderName))
		case *llm.ToolUseBlock:
			toolCalls = append(toolCalls, ToolCall(b))
		case *llm.ToolResultBlock:
			results = append(results, map[string]any{
				"role":         "tool",
				"tool_call_id": b.ID,
				"content":      core.ToolResultString(b),
			})
		case *llm.ControlBlock:
			// 控制信号只用于实时会话
		}
	}

	var out []map[string]any
	if len(parts) > 0 || len(toolCalls) > 0 {
		m := map[string]any{"role": roleOf(msg.Role)}
		switch {
		case hasMedia:
			m["content"] = parts
		case len(parts) > 0:
			m["content"] = msg.TextContent()
		default:
			// 只有工具调用时 content 必须为 null，空字符串会被部分 Provider 拒绝
			m["content"] = nil
		}
		if len(toolCalls) > 0 {
			m["tool_calls"] = toolCalls
		}
		out = append(out, m)
	}
	return append(out, results...)
}

func roleOf(r llm.Role) string {
	if r == llm.RoleAssistant {
		return "assistant"
	}
	return "user"
}

func textPart(text string) map[string]any {
	return map[string]any{"type": "text", "text": text}
}

func (f *Formatter) imagePart(b *llm.ImageBlock) map[string]any {
	url, err := f.media.ImageURL(b.Source)
	if err != nil {
		return textPart(core.MediaUnavailable(f.opts.Logger, f.opts.ProviderName, media.KindImage, err))
	}
	return map[string]any{"type": "image_url", "image_url": map[string]any{"url": url}}
}

func (f *Formatter) audioPart(b *llm.AudioBlock) map[string]any {
	data, err := media.Base64Audio(b.Source)
	if err != nil {
		return textPart(core.MediaUnavailable(f.opts.Logger, f.opts.ProviderName, media.KindAudio, err))
	}
	return map[string]any{
		"type": "input_audio",
		"input_audio": map[string]any{
			"data":   data,
			"format": audioFormat(b.Source),
		},
	}
}

// audioFormat input_audio 只接受 wav 与 mp3
func audioFormat(src llm.Source) string {
	if media.AudioFormatOf(src, 0).Encoding == "mp3" {
		return "mp3"
	}
	return "wav"
}

// ToolCall 工具调用块转换为 tool_calls 元素
//
// 参数使用紧凑 JSON（无空格、键排序），与基准夹具逐字节一致。
func ToolCall(b *llm.ToolUseBlock) map[string]any {
	args := "{}"
	if len(b.Input) > 0 {
		args = codec.MustString(b.Input)
	}
	return map[string]any{
		"id":   b.ID,
		"type": "function",
		"function": map[string]any{
			"name":      b.Name,
			"arguments": args,
		},
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// 参数与工具
// ═══════════════════════════════════════════════════════════════════════════

// ApplyOptions 写入生成参数
//
// Reasoning 模型（o 系列、DeepSeek R1）温度固定为 1 且不支持 top_p。
func (f *Formatter) ApplyOptions(param map[string]any, opts, defaults *llm.GenerateOptions) {
	merged := llm.MergeOptions(opts, defaults)
	model := core.GetString(param["model"])

	if merged.Temperature != nil {
		param["temperature"] = AdaptTemperatureForModel(model, *merged.Temperature)
	}
	if !IsReasoningModel(model) {
		core.SetIf(param, "top_p", merged.TopP)
	}
	core.SetIf(param, "max_tokens", merged.MaxTokens)
	core.SetIf(param, "seed", merged.Seed)
	core.SetIf(param, "frequency_penalty", merged.FrequencyPenalty)
	core.SetIf(param, "presence_penalty", merged.PresencePenalty)
	if len(merged.Stop) > 0 {
		param["stop"] = merged.Stop
	}
	if effort := EffortFor(merged.EnableThinking, merged.ThinkingBudget); effort != "" {
		param["reasoning_effort"] = string(effort)
	}
	for k, v := range merged.Extra {
		param[k] = v
	}
	if merged.Stream {
		param["stream"] = true
		param["stream_options"] = map[string]any{"include_usage": true}
	}
}

// ApplyTools 写入工具定义
func (f *Formatter) ApplyTools(param map[string]any, tools []llm.ToolSchema) {
	if len(tools) == 0 {
		return
	}
	param["tools"] = ToolDefinitions(tools)
}

// ToolDefinitions OpenAI 风格的工具定义（DashScope 共用）
func ToolDefinitions(tools []llm.ToolSchema) []map[string]any {
	defs := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return defs
}

// ApplyToolChoice 写入工具选择策略
//
//	auto/none/required → 字符串
//	specific           → {"type": "function", "function": {"name": ...}}
func (f *Formatter) ApplyToolChoice(param map[string]any, choice llm.ToolChoice) {
	switch choice.Normalize() {
	case llm.ToolChoiceModeNone:
		param["tool_choice"] = "none"
	case llm.ToolChoiceModeRequired:
		param["tool_choice"] = "required"
	case llm.ToolChoiceModeSpecific:
		param["tool_choice"] = SpecificChoice(choice.ToolName)
	default:
		param["tool_choice"] = "auto"
	}
}

// SpecificChoice 强制调用指定函数
func SpecificChoice(name string) map[string]any {
	return map[string]any{"type": "function", "function": map[string]any{"name": name}}
}

// ═══════════════════════════════════════════════════════════════════════════
// ParseResponse - 响应解析
// ═══════════════════════════════════════════════════════════════════════════

// ParseResponse 解析 Chat Completions 响应
//
//	{
//	  "id": "chatcmpl-xxx",
//	  "choices": [{
//	    "message": {"content": "...", "reasoning_content": "...", "tool_calls": [...]},
//	    "finish_reason": "stop"
//	  }],
//	  "usage": {"prompt_tokens": 10, "completion_tokens": 20}
//	}
//
// 缺少 choices 键返回 *llm.FormatterError；choices 为空数组返回空内容。
func (f *Formatter) ParseResponse(raw map[string]any, start time.Time) (*llm.ChatResponse, error) {
	if err := f.errorFrom(raw); err != nil {
		return nil, err
	}
	choicesVal, ok := raw["choices"]
	if !ok {
		return nil, llm.NewFormatterError(f.opts.ProviderName, "missing choices", nil).
			WithCode("missing_choices").
			WithPayload(codec.MustString(raw))
	}

	usage := Usage(raw["usage"], start)
	choice := core.FirstMap(choicesVal)
	if choice == nil {
		return core.NewResponse(core.GetString(raw["id"]), nil, usage, ""), nil
	}

	blocks := MessageBlocks(core.GetMap(choice["message"]))
	return core.NewResponse(core.GetString(raw["id"]), blocks, usage, core.GetString(choice["finish_reason"])), nil
}

// MessageBlocks 解析 OpenAI 形状的 message 对象（DashScope 共用）
//
// content 可以是字符串或 [{text}] / [{type:text,text}] 数组。
func MessageBlocks(message map[string]any) []llm.ContentBlock {
	if message == nil {
		return nil
	}
	var blocks []llm.ContentBlock
	if reasoning := core.GetString(message["reasoning_content"]); reasoning != "" {
		blocks = append(blocks, &llm.ThinkingBlock{Thinking: reasoning})
	}
	switch content := message["content"].(type) {
	case string:
		if content != "" {
			blocks = append(blocks, llm.Text(content))
		}
	case []any:
		for _, item := range content {
			if text := core.GetString(core.GetMap(item)["text"]); text != "" {
				blocks = append(blocks, llm.Text(text))
			}
		}
	}
	for _, tc := range core.GetSlice(message["tool_calls"]) {
		call := core.GetMap(tc)
		fn := core.GetMap(call["function"])
		input, rawArgs := core.ParseToolArgs(fn["arguments"])
		id := core.GetString(call["id"])
		if id == "" {
			id = core.NewCallID()
		}
		blocks = append(blocks, &llm.ToolUseBlock{
			ID:      id,
			Name:    core.GetString(fn["name"]),
			Input:   input,
			Content: rawArgs,
		})
	}
	return blocks
}

// Usage 解析 prompt_tokens / completion_tokens
func Usage(val any, start time.Time) *llm.ChatUsage {
	u := core.GetMap(val)
	if u == nil {
		return nil
	}
	return llm.NewUsage(core.GetInt64(u["prompt_tokens"]), core.GetInt64(u["completion_tokens"]), start)
}

// ExtractError 提取 {"error": {"code", "message"}}
func (f *Formatter) ExtractError(raw map[string]any) (string, string) {
	e := core.GetMap(raw["error"])
	if e == nil {
		return "", ""
	}
	code := core.GetString(e["code"])
	if code == "" {
		code = core.GetString(e["type"])
	}
	return code, core.GetString(e["message"])
}

func (f *Formatter) errorFrom(raw map[string]any) error {
	if raw["error"] == nil {
		return nil
	}
	code, message := f.ExtractError(raw)
	if message == "" {
		message = "provider returned an error"
	}
	return llm.NewFormatterError(f.opts.ProviderName, message, nil).
		WithCode(code).
		WithPayload(codec.MustString(raw))
}
