// Package dashscope 实现阿里云 DashScope（通义千问）的消息格式化
//
// 对话使用原生 generation 接口：
//
//	POST /services/aigc/multimodal-generation/generation
//	{"model": "...", "input": {"messages": [...]}, "parameters": {...}}
//
// 实时会话使用 qwen-omni realtime 协议（与 OpenAI Realtime 同形）。
package dashscope

import (
	"time"

	"go.uber.org/zap"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/codec"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/core"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/media"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/protocol/openai"
)

// ProviderName 默认 Provider 名称
const ProviderName = "dashscope"

// 生成接口路径
const (
	MultimodalPath = "/services/aigc/multimodal-generation/generation"
	TextPath       = "/services/aigc/text-generation/generation"
)

// Formatter DashScope 对话格式化器
//
// 与 OpenAI 的差异：
//  1. content 总是 [{text}, {image}, {audio}, {video}] 列表
//  2. 本地文件转换为 file:// 绝对路径，由 SDK 上传
//  3. base64 图像解码后不能超过 500 KiB
//  4. 生成参数写入 parameters 子对象
type Formatter struct {
	opts  core.Options
	media media.Codec
}

var (
	_ core.ChatFormatter     = (*Formatter)(nil)
	_ core.StreamChunkParser = (*Formatter)(nil)
	_ core.ErrorExtractor    = (*Formatter)(nil)
	_ core.MessagePlacer     = (*Formatter)(nil)
	_ core.EndpointBuilder   = (*Formatter)(nil)
)

// New 创建 DashScope 格式化器
func New(opts ...core.Option) *Formatter {
	o := core.NewOptions(core.Options{
		ProviderName:  ProviderName,
		LocalMedia:    llm.LocalMediaFileURL,
		MaxImageBytes: media.DefaultMaxImageBytes,
	}, opts...)
	return &Formatter{opts: o, media: o.MediaCodec()}
}

// Capabilities 能力声明
func (f *Formatter) Capabilities() llm.FormatterCapabilities {
	return llm.NewCapabilities(f.opts.ProviderName, true, false, true,
		llm.BlockText, llm.BlockImage, llm.BlockAudio, llm.BlockVideo,
		llm.BlockToolUse, llm.BlockToolResult, llm.BlockThinking)
}

// PlaceMessages 消息写入 input.messages
func (f *Formatter) PlaceMessages(param map[string]any, msgs []map[string]any) {
	core.Sub(param, "input")["messages"] = msgs
}

// Endpoint 统一使用多模态生成接口（兼容纯文本模型）
func (f *Formatter) Endpoint(string, bool) string {
	return MultimodalPath
}

// ═══════════════════════════════════════════════════════════════════════════
// Format
// ═══════════════════════════════════════════════════════════════════════════

// Format 将统一消息转换为 DashScope messages
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

func (f *Formatter) formatMsg(msg llm.Msg) []map[string]any {
	if msg.Role == llm.RoleSystem {
		return []map[string]any{{"role": "system", "content": []map[string]any{{"text": msg.TextContent()}}}}
	}

	var (
		parts     []map[string]any
		toolCalls []map[string]any
		results   []map[string]any
	)
	for _, block := range msg.Content {
		switch b := block.(type) {
		case *llm.TextBlock:
			parts = append(parts, map[string]any{"text": b.Text})
		case *llm.ImageBlock, *llm.AudioBlock, *llm.VideoBlock:
			parts = append(parts, f.mediaPart(b))
		case *llm.ThinkingBlock:
			f.opts.Logger.Debug(core.LogThinkingDropped, zap.String("provider", f.opts.ProviderName))
		case *llm.ToolUseBlock:
			toolCalls = append(toolCalls, openai.ToolCall(b))
		case *llm.ToolResultBlock:
			results = append(results, map[string]any{
				"role":         "tool",
				"tool_call_id": b.ID,
				"name":         b.Name,
				"content":      core.ToolResultString(b),
			})
		case *llm.ControlBlock:
		}
	}

	var out []map[string]any
	if len(parts) > 0 || len(toolCalls) > 0 {
		m := map[string]any{"role": roleOf(msg.Role)}
		if len(parts) > 0 {
			m["content"] = parts
		} else {
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

// mediaPart 媒体块转换为 {"image": url} / {"audio": url} / {"video": url}
//
// 转换失败时替换为 {"text": "[Image unavailable: ...]"}。
func (f *Formatter) mediaPart(block llm.ContentBlock) map[string]any {
	var (
		kind media.Kind
		src  llm.Source
	)
	switch b := block.(type) {
	case *llm.ImageBlock:
		kind, src = media.KindImage, b.Source
	case *llm.AudioBlock:
		kind, src = media.KindAudio, b.Source
	case *llm.VideoBlock:
		kind, src = media.KindVideo, b.Source
	}
	url, err := f.media.URL(kind, src)
	if err != nil {
		return map[string]any{"text": core.MediaUnavailable(f.opts.Logger, f.opts.ProviderName, kind, err)}
	}
	return map[string]any{string(kind): url}
}

// ═══════════════════════════════════════════════════════════════════════════
// 参数与工具
// ═══════════════════════════════════════════════════════════════════════════

// ApplyOptions 写入 parameters
//
//	{"parameters": {"result_format": "message", "temperature": 0.7, ...}}
func (f *Formatter) ApplyOptions(param map[string]any, opts, defaults *llm.GenerateOptions) {
	merged := llm.MergeOptions(opts, defaults)
	p := core.Sub(param, "parameters")

	p["result_format"] = "message"
	core.SetIf(p, "temperature", merged.Temperature)
	core.SetIf(p, "top_p", merged.TopP)
	core.SetIf(p, "max_tokens", merged.MaxTokens)
	core.SetIf(p, "seed", merged.Seed)
	core.SetIf(p, "presence_penalty", merged.PresencePenalty)
	core.SetIf(p, "enable_thinking", merged.EnableThinking)
	core.SetIf(p, "thinking_budget", merged.ThinkingBudget)
	if len(merged.Stop) > 0 {
		p["stop"] = merged.Stop
	}
	for k, v := range merged.Extra {
		p[k] = v
	}
	if merged.Stream {
		p["incremental_output"] = true
	}
}

// ApplyTools 写入 parameters.tools（OpenAI 同形）
func (f *Formatter) ApplyTools(param map[string]any, tools []llm.ToolSchema) {
	if len(tools) == 0 {
		return
	}
	core.Sub(param, "parameters")["tools"] = openai.ToolDefinitions(tools)
}

// ApplyToolChoice 写入 parameters.tool_choice
//
// 不支持 required，降级为 auto。
func (f *Formatter) ApplyToolChoice(param map[string]any, choice llm.ToolChoice) {
	p := core.Sub(param, "parameters")
	switch choice.Normalize() {
	case llm.ToolChoiceModeNone:
		p["tool_choice"] = "none"
	case llm.ToolChoiceModeSpecific:
		p["tool_choice"] = openai.SpecificChoice(choice.ToolName)
	case llm.ToolChoiceModeRequired:
		f.opts.Logger.Warn(core.LogToolChoiceDegraded,
			zap.String("provider", f.opts.ProviderName),
			zap.String("requested", string(llm.ToolChoiceModeRequired)),
			zap.String("used", string(llm.ToolChoiceModeAuto)))
		p["tool_choice"] = "auto"
	default:
		p["tool_choice"] = "auto"
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// 响应解析
// ═══════════════════════════════════════════════════════════════════════════

// ParseResponse 解析 generation 响应
//
//	{
//	  "request_id": "...",
//	  "output": {"choices": [{"message": {...}, "finish_reason": "stop"}]},
//	  "usage": {"input_tokens": 10, "output_tokens": 20}
//	}
//
// 缺少 output 返回 *llm.FormatterError；choices 为空返回空内容。
func (f *Formatter) ParseResponse(raw map[string]any, start time.Time) (*llm.ChatResponse, error) {
	if err := f.errorFrom(raw); err != nil {
		return nil, err
	}
	output := core.GetMap(raw["output"])
	if output == nil {
		return nil, llm.NewFormatterError(f.opts.ProviderName, "missing output", nil).
			WithCode("missing_output").
			WithPayload(codec.MustString(raw))
	}
	return f.parseOutput(raw, output, start), nil
}

// ParseStreamChunk 解析增量输出（incremental_output=true）
//
// 每个块与非流式响应同形，只包含本次新增的内容；
// 工具调用参数按分片约定转换。
func (f *Formatter) ParseStreamChunk(raw map[string]any, start time.Time) (*llm.ChatResponse, error) {
	if err := f.errorFrom(raw); err != nil {
		return nil, err
	}
	output := core.GetMap(raw["output"])
	if output == nil {
		return nil, nil
	}

	id := core.GetString(raw["request_id"])
	usage := usageOf(raw["usage"], start)
	choice := core.FirstMap(output["choices"])
	finish := finishReason(choice, output)

	var blocks []llm.ContentBlock
	if choice != nil {
		message := core.GetMap(choice["message"])
		delta := map[string]any{
			"reasoning_content": message["reasoning_content"],
			"tool_calls":        message["tool_calls"],
		}
		blocks = openai.DeltaBlocks(delta)
		blocks = append(blocks, contentBlocks(message["content"])...)
	} else if text := core.GetString(output["text"]); text != "" {
		blocks = append(blocks, llm.Text(text))
	}
	if len(blocks) == 0 && finish == "" && usage == nil {
		return nil, nil
	}
	return core.NewResponse(id, blocks, usage, finish), nil
}

func (f *Formatter) parseOutput(raw, output map[string]any, start time.Time) *llm.ChatResponse {
	id := core.GetString(raw["request_id"])
	usage := usageOf(raw["usage"], start)
	choice := core.FirstMap(output["choices"])

	if choice == nil {
		// result_format=text 的旧格式
		var blocks []llm.ContentBlock
		if text := core.GetString(output["text"]); text != "" {
			blocks = append(blocks, llm.Text(text))
		}
		return core.NewResponse(id, blocks, usage, finishReason(nil, output))
	}
	blocks := openai.MessageBlocks(core.GetMap(choice["message"]))
	return core.NewResponse(id, blocks, usage, finishReason(choice, output))
}

func contentBlocks(content any) []llm.ContentBlock {
	switch c := content.(type) {
	case string:
		if c != "" {
			return []llm.ContentBlock{llm.Text(c)}
		}
	case []any:
		var blocks []llm.ContentBlock
		for _, item := range c {
			if text := core.GetString(core.GetMap(item)["text"]); text != "" {
				blocks = append(blocks, llm.Text(text))
			}
		}
		return blocks
	}
	return nil
}

// finishReason DashScope 在中间块里写入字符串 "null"
func finishReason(choice, output map[string]any) string {
	reason := core.GetString(choice["finish_reason"])
	if reason == "" {
		reason = core.GetString(output["finish_reason"])
	}
	if reason == "null" {
		return ""
	}
	return reason
}

func usageOf(val any, start time.Time) *llm.ChatUsage {
	u := core.GetMap(val)
	if u == nil {
		return nil
	}
	return llm.NewUsage(core.GetInt64(u["input_tokens"]), core.GetInt64(u["output_tokens"]), start)
}

// ExtractError 提取顶层 {"code", "message"}
func (f *Formatter) ExtractError(raw map[string]any) (string, string) {
	return core.GetString(raw["code"]), core.GetString(raw["message"])
}

func (f *Formatter) errorFrom(raw map[string]any) error {
	code, message := f.ExtractError(raw)
	if code == "" {
		return nil
	}
	if message == "" {
		message = "provider returned an error"
	}
	return llm.NewFormatterError(f.opts.ProviderName, message, nil).
		WithCode(code).
		WithPayload(codec.MustString(raw))
}
