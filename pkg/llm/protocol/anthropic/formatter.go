package anthropic

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/codec"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/core"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/media"
)

// ProviderName 默认 Provider 名称
const ProviderName = "anthropic"

// 默认参数
const (
	// DefaultMaxTokens max_tokens 是必填字段
	DefaultMaxTokens = 4096

	// MinThinkingBudget extended thinking 的最小预算
	MinThinkingBudget = 1024
)

// Formatter Anthropic Messages API 格式化器
type Formatter struct {
	opts  core.Options
	media media.Codec
}

var (
	_ core.ChatFormatter     = (*Formatter)(nil)
	_ core.SystemInstructor  = (*Formatter)(nil)
	_ core.StreamChunkParser = (*Formatter)(nil)
	_ core.EndpointBuilder   = (*Formatter)(nil)
	_ core.ErrorExtractor    = (*Formatter)(nil)
)

// New 创建 Anthropic 格式化器
func New(opts ...core.Option) *Formatter {
	o := core.NewOptions(core.Options{ProviderName: ProviderName, LocalMedia: llm.LocalMediaDataURL}, opts...)
	return &Formatter{opts: o, media: o.MediaCodec()}
}

// Capabilities 能力声明
func (f *Formatter) Capabilities() llm.FormatterCapabilities {
	return llm.NewCapabilities(f.opts.ProviderName, true, false, true,
		llm.BlockText, llm.BlockImage, llm.BlockThinking,
		llm.BlockToolUse, llm.BlockToolResult)
}

// SystemField 系统提示字段
func (f *Formatter) SystemField() string { return "system" }

// SystemInstruction 系统提示为纯字符串
func (f *Formatter) SystemInstruction(msgs []llm.Msg) (any, bool) {
	text, ok := core.SystemText(msgs)
	if !ok {
		return nil, false
	}
	return text, true
}

// Endpoint 流式与非流式共用 /messages，由 stream 参数区分
func (f *Formatter) Endpoint(string, bool) string { return "/messages" }

// ═══════════════════════════════════════════════════════════════════════════
// Format - 消息转换
// ═══════════════════════════════════════════════════════════════════════════

// Format 将统一消息转换为 Anthropic messages
//
// 系统消息不出现在结果中；content 数组必须非空，没有可发送内容的消息被跳过。
func (f *Formatter) Format(msgs []llm.Msg) ([]map[string]any, error) {
	msgs, err := f.opts.Prepare(msgs)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(msgs))
	for i := range msgs {
		out = f.appendMsg(out, msgs[i])
	}
	return out, nil
}

// appendMsg 转换单条消息
//
// 工具结果写入 user 消息；紧邻的上一条消息也只含 tool_result 时直接追加，
// 并行调用的结果因此位于同一条消息中。结果总是先于同一条消息的文本与图像输出。
func (f *Formatter) appendMsg(out []map[string]any, msg llm.Msg) []map[string]any {
	if msg.Role == llm.RoleSystem {
		return out
	}

	var blocks, results []map[string]any
	textOnly := true
	for _, block := range msg.Content {
		switch b := block.(type) {
		case *llm.TextBlock:
			blocks = append(blocks, textBlock(b.Text))
		case *llm.ImageBlock:
			textOnly = false
			blocks = append(blocks, f.imageBlock(b))
		case *llm.AudioBlock, *llm.VideoBlock:
			f.opts.Logger.Warn(core.LogMediaUnsupported,
				zap.String("provider", f.opts.ProviderName),
				zap.String("kind", string(b.BlockType())))
			blocks = append(blocks, textBlock(core.Placeholder(b)))
		case *llm.ThinkingBlock:
			f.opts.Logger.Debug(core.LogThinkingDropped, zap.String("provider", f.opts.ProviderName))
		case *llm.ToolUseBlock:
			textOnly = false
			blocks = append(blocks, ToolUse(b))
		case *llm.ToolResultBlock:
			results = append(results, ToolResult(b))
		case *llm.ControlBlock:
		}
	}

	if len(results) > 0 {
		if n := len(out); n > 0 && isResultMessage(out[n-1]) {
			out[n-1]["content"] = append(out[n-1]["content"].([]map[string]any), results...)
		} else {
			out = append(out, map[string]any{"role": "user", "content": results})
		}
		if len(blocks) > 0 && roleOf(msg.Role) == "user" {
			// tool_result 必须紧跟 tool_use，同一条消息的其余内容排在结果之后
			last := out[len(out)-1]
			last["content"] = append(last["content"].([]map[string]any), blocks...)
			return out
		}
	}
	if len(blocks) > 0 {
		m := map[string]any{"role": roleOf(msg.Role)}
		if textOnly {
			m["content"] = joinText(blocks)
		} else {
			m["content"] = blocks
		}
		out = append(out, m)
	}
	return out
}

// joinText 纯文本消息使用字符串 content
func joinText(blocks []map[string]any) string {
	texts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		texts = append(texts, core.GetString(b["text"]))
	}
	return strings.Join(texts, "\n")
}

func isResultMessage(m map[string]any) bool {
	blocks, ok := m["content"].([]map[string]any)
	if !ok || len(blocks) == 0 || m["role"] != "user" {
		return false
	}
	for _, b := range blocks {
		if b["type"] != "tool_result" {
			return false
		}
	}
	return true
}

func roleOf(r llm.Role) string {
	if r == llm.RoleAssistant {
		return "assistant"
	}
	return "user"
}

func textBlock(text string) map[string]any {
	return map[string]any{"type": "text", "text": text}
}

// imageBlock 远程 URL 使用 url source，其余读取为 base64 source
func (f *Formatter) imageBlock(b *llm.ImageBlock) map[string]any {
	if url, ok := media.RemoteURL(b.Source); ok {
		return map[string]any{"type": "image", "source": map[string]any{"type": "url", "url": url}}
	}
	data, mimeType, err := f.media.Blob(media.KindImage, b.Source)
	if err != nil {
		return textBlock(core.MediaUnavailable(f.opts.Logger, f.opts.ProviderName, media.KindImage, err))
	}
	return map[string]any{
		"type": "image",
		"source": map[string]any{
			"type":       "base64",
			"media_type": mimeType,
			"data":       data,
		},
	}
}

// ToolUse tool_use 块，参数直接是对象
func ToolUse(b *llm.ToolUseBlock) map[string]any {
	input := b.Input
	if input == nil {
		input = map[string]any{}
	}
	return map[string]any{"type": "tool_use", "id": b.ID, "name": b.Name, "input": input}
}

// ToolResult tool_result 块，仅在失败时写入 is_error
func ToolResult(b *llm.ToolResultBlock) map[string]any {
	m := map[string]any{
		"type":        "tool_result",
		"tool_use_id": b.ID,
		"content":     core.ToolResultString(b),
	}
	if b.IsError {
		m["is_error"] = true
	}
	return m
}

// ═══════════════════════════════════════════════════════════════════════════
// 参数与工具
// ═══════════════════════════════════════════════════════════════════════════

// ApplyOptions 写入生成参数
//
//	max_tokens 总是写入，未设置时为 DefaultMaxTokens
//	EnableThinking=true 或设置了 ThinkingBudget → thinking{type: enabled, budget_tokens}
//
// budget_tokens 必须小于 max_tokens，不满足时抬高 max_tokens。
// seed 与 penalty 参数不受支持，忽略。
func (f *Formatter) ApplyOptions(param map[string]any, opts, defaults *llm.GenerateOptions) {
	merged := llm.MergeOptions(opts, defaults)

	maxTokens := DefaultMaxTokens
	if merged.MaxTokens != nil {
		maxTokens = *merged.MaxTokens
	}
	core.SetIf(param, "temperature", merged.Temperature)
	core.SetIf(param, "top_p", merged.TopP)
	if len(merged.Stop) > 0 {
		param["stop_sequences"] = merged.Stop
	}

	enabled := merged.EnableThinking != nil && *merged.EnableThinking
	disabled := merged.EnableThinking != nil && !*merged.EnableThinking
	if !disabled && (enabled || merged.ThinkingBudget != nil) {
		budget := MinThinkingBudget
		if merged.ThinkingBudget != nil && *merged.ThinkingBudget > budget {
			budget = *merged.ThinkingBudget
		}
		if budget >= maxTokens {
			maxTokens = budget + DefaultMaxTokens
		}
		param["thinking"] = map[string]any{"type": "enabled", "budget_tokens": budget}
	}
	param["max_tokens"] = maxTokens

	for k, v := range merged.Extra {
		param[k] = v
	}
	if merged.Stream {
		param["stream"] = true
	}
}

// ApplyTools 写入 {name, description, input_schema}
//
// input_schema 为必填字段，未提供参数定义时使用空对象 schema。
func (f *Formatter) ApplyTools(param map[string]any, tools []llm.ToolSchema) {
	if len(tools) == 0 {
		return
	}
	defs := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		schema := t.Parameters
		if len(schema) == 0 {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		def := map[string]any{"name": t.Name, "input_schema": schema}
		if t.Description != "" {
			def["description"] = t.Description
		}
		defs = append(defs, def)
	}
	param["tools"] = defs
}

// ApplyToolChoice 写入 tool_choice
//
//	auto → {type: auto}, none → {type: none}, required → {type: any}, specific → {type: tool, name}
func (f *Formatter) ApplyToolChoice(param map[string]any, choice llm.ToolChoice) {
	switch choice.Normalize() {
	case llm.ToolChoiceModeNone:
		param["tool_choice"] = map[string]any{"type": "none"}
	case llm.ToolChoiceModeRequired:
		param["tool_choice"] = map[string]any{"type": "any"}
	case llm.ToolChoiceModeSpecific:
		param["tool_choice"] = map[string]any{"type": "tool", "name": choice.ToolName}
	default:
		param["tool_choice"] = map[string]any{"type": "auto"}
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// 响应解析
// ═══════════════════════════════════════════════════════════════════════════

// ParseResponse 解析 Messages 响应
//
//	{
//	  "id": "msg_xxx",
//	  "content": [
//	    {"type": "thinking", "thinking": "...", "signature": "..."},
//	    {"type": "text", "text": "..."},
//	    {"type": "tool_use", "id": "toolu_xxx", "name": "...", "input": {...}}
//	  ],
//	  "stop_reason": "end_turn",
//	  "usage": {"input_tokens": 10, "output_tokens": 20}
//	}
func (f *Formatter) ParseResponse(raw map[string]any, start time.Time) (*llm.ChatResponse, error) {
	if err := f.errorFrom(raw); err != nil {
		return nil, err
	}
	content, ok := raw["content"]
	if !ok {
		return nil, llm.NewFormatterError(f.opts.ProviderName, "missing content", nil).
			WithCode("missing_content").
			WithPayload(codec.MustString(raw))
	}

	var blocks []llm.ContentBlock
	for _, item := range core.GetSlice(content) {
		if b := contentBlock(core.GetMap(item)); b != nil {
			blocks = append(blocks, b)
		}
	}
	return core.NewResponse(
		core.GetString(raw["id"]),
		blocks,
		usageOf(raw["usage"], start),
		mapStopReason(core.GetString(raw["stop_reason"])),
	), nil
}

// contentBlock 转换一个响应内容块，redacted_thinking 等无法呈现的块返回 nil
func contentBlock(block map[string]any) llm.ContentBlock {
	switch core.GetString(block["type"]) {
	case "text":
		if text := core.GetString(block["text"]); text != "" {
			return llm.Text(text)
		}
	case "thinking":
		return &llm.ThinkingBlock{
			Thinking:  core.GetString(block["thinking"]),
			Signature: core.GetString(block["signature"]),
		}
	case "tool_use":
		input, rawArgs := core.ParseToolArgs(block["input"])
		id := core.GetString(block["id"])
		if id == "" {
			id = core.NewCallID()
		}
		return &llm.ToolUseBlock{ID: id, Name: core.GetString(block["name"]), Input: input, Content: rawArgs}
	}
	return nil
}

// mapStopReason 转换 stop_reason 为标准 finish_reason
//
//	end_turn / stop_sequence → stop
//	max_tokens               → length
//	tool_use                 → tool_calls
//	refusal                  → content_filter
func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	case "refusal":
		return "content_filter"
	default:
		return reason
	}
}

// usageOf 解析 input_tokens / output_tokens
//
// 缓存读取与写入的 token 计入输入。
func usageOf(val any, start time.Time) *llm.ChatUsage {
	u := core.GetMap(val)
	if u == nil {
		return nil
	}
	input := core.GetInt64(u["input_tokens"]) +
		core.GetInt64(u["cache_read_input_tokens"]) +
		core.GetInt64(u["cache_creation_input_tokens"])
	return llm.NewUsage(input, core.GetInt64(u["output_tokens"]), start)
}

// ExtractError 提取 {"type": "error", "error": {"type": "...", "message": "..."}}
func (f *Formatter) ExtractError(raw map[string]any) (string, string) {
	e := core.GetMap(raw["error"])
	if e == nil {
		return "", ""
	}
	return core.GetString(e["type"]), core.GetString(e["message"])
}

func (f *Formatter) errorFrom(raw map[string]any) error {
	if raw["error"] == nil && core.GetString(raw["type"]) != "error" {
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
