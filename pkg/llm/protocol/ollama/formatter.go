// Package ollama 实现 Ollama 原生 /api/chat 的消息格式化
//
//	{
//	  "model": "llama3.2",
//	  "messages": [
//	    {"role": "user", "content": "...", "images": ["<base64>"]},
//	    {"role": "assistant", "content": "", "tool_calls": [{"function": {"name": "...", "arguments": {...}}}]},
//	    {"role": "tool", "content": "...", "tool_name": "..."}
//	  ],
//	  "options": {"temperature": 0.7, "num_predict": 256},
//	  "think": true,
//	  "stream": false
//	}
//
// 流式响应是 NDJSON，每行与非流式响应同形，最后一行 done=true 携带计数。
package ollama

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/codec"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/core"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/media"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/protocol/openai"
)

// ProviderName 默认 Provider 名称
const ProviderName = "ollama"

// Formatter Ollama 对话格式化器
//
// 与 OpenAI 的差异：
//  1. content 总是字符串，图像放在独立的 images 数组（base64，无 data URL 前缀）
//  2. 工具参数是对象，工具结果用 tool_name 关联
//  3. 远程图像不下载，替换为文本引用
//  4. 生成参数写入 options 子对象；没有 tool_choice
type Formatter struct {
	opts  core.Options
	media media.Codec
}

var (
	_ core.ChatFormatter     = (*Formatter)(nil)
	_ core.StreamChunkParser = (*Formatter)(nil)
	_ core.EndpointBuilder   = (*Formatter)(nil)
	_ core.ErrorExtractor    = (*Formatter)(nil)
)

// New 创建 Ollama 格式化器
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

// Endpoint 原生对话接口
func (f *Formatter) Endpoint(string, bool) string { return "/api/chat" }

// ═══════════════════════════════════════════════════════════════════════════
// Format - 消息转换
// ═══════════════════════════════════════════════════════════════════════════

// Format 将统一消息转换为 Ollama messages
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

// formatMsg 转换单条消息，工具结果展开为独立的 tool 消息
func (f *Formatter) formatMsg(msg llm.Msg) []map[string]any {
	if msg.Role == llm.RoleSystem {
		return []map[string]any{{"role": "system", "content": msg.TextContent()}}
	}

	var (
		texts     []string
		images    []string
		toolCalls []map[string]any
		results   []map[string]any
	)
	for _, block := range msg.Content {
		switch b := block.(type) {
		case *llm.TextBlock:
			texts = append(texts, b.Text)
		case *llm.ImageBlock:
			if data, ref := f.image(b); ref != "" {
				texts = append(texts, ref)
			} else {
				images = append(images, data)
			}
		case *llm.AudioBlock, *llm.VideoBlock:
			f.opts.Logger.Warn(core.LogMediaUnsupported,
				zap.String("provider", f.opts.ProviderName),
				zap.String("kind", string(b.BlockType())))
			texts = append(texts, core.Placeholder(b))
		case *llm.ThinkingBlock:
			f.opts.Logger.Debug(core.LogThinkingDropped, zap.String("provider", f.opts.ProviderName))
		case *llm.ToolUseBlock:
			toolCalls = append(toolCalls, ToolCall(b))
		case *llm.ToolResultBlock:
			results = append(results, map[string]any{
				"role":      "tool",
				"content":   core.ToolResultString(b),
				"tool_name": b.Name,
			})
		case *llm.ControlBlock:
		}
	}

	var out []map[string]any
	if len(texts) > 0 || len(images) > 0 || len(toolCalls) > 0 {
		// content 必须是字符串，只有工具调用时为 ""
		m := map[string]any{"role": roleOf(msg.Role), "content": strings.Join(texts, "\n")}
		if len(images) > 0 {
			m["images"] = images
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

// image 返回 base64 数据；无法内联时返回替代文本
func (f *Formatter) image(b *llm.ImageBlock) (data, ref string) {
	if url, ok := media.RemoteURL(b.Source); ok {
		f.opts.Logger.Warn(core.LogRemoteMediaSkipped,
			zap.String("provider", f.opts.ProviderName), zap.String("url", url))
		return "", "[Image: " + url + "]"
	}
	data, _, err := f.media.Blob(media.KindImage, b.Source)
	if err != nil {
		return "", core.MediaUnavailable(f.opts.Logger, f.opts.ProviderName, media.KindImage, err)
	}
	return data, ""
}

// ToolCall {"function": {"name": "...", "arguments": {...}}}
func ToolCall(b *llm.ToolUseBlock) map[string]any {
	args := b.Input
	if args == nil {
		args = map[string]any{}
	}
	return map[string]any{"function": map[string]any{"name": b.Name, "arguments": args}}
}

// ═══════════════════════════════════════════════════════════════════════════
// 参数与工具
// ═══════════════════════════════════════════════════════════════════════════

// ApplyOptions 写入 options 与顶层 think / stream
//
//	MaxTokens → options.num_predict
//	EnableThinking → think
//	Extra → options（num_ctx、repeat_penalty 等）
//
// stream 总是写入：Ollama 默认以流式响应。
func (f *Formatter) ApplyOptions(param map[string]any, opts, defaults *llm.GenerateOptions) {
	merged := llm.MergeOptions(opts, defaults)

	o := map[string]any{}
	core.SetIf(o, "temperature", merged.Temperature)
	core.SetIf(o, "top_p", merged.TopP)
	core.SetIf(o, "num_predict", merged.MaxTokens)
	core.SetIf(o, "seed", merged.Seed)
	core.SetIf(o, "frequency_penalty", merged.FrequencyPenalty)
	core.SetIf(o, "presence_penalty", merged.PresencePenalty)
	if len(merged.Stop) > 0 {
		o["stop"] = merged.Stop
	}
	for k, v := range merged.Extra {
		o[k] = v
	}
	if len(o) > 0 {
		param["options"] = o
	}

	core.SetIf(param, "think", merged.EnableThinking)
	param["stream"] = merged.Stream
}

// ApplyTools 工具定义与 OpenAI 同形
func (f *Formatter) ApplyTools(param map[string]any, tools []llm.ToolSchema) {
	if len(tools) == 0 {
		return
	}
	param["tools"] = openai.ToolDefinitions(tools)
}

// ApplyToolChoice Ollama 不支持 tool_choice
//
//	none              → 移除 tools
//	required/specific → 降级为 auto
func (f *Formatter) ApplyToolChoice(param map[string]any, choice llm.ToolChoice) {
	mode := choice.Normalize()
	switch mode {
	case llm.ToolChoiceModeAuto:
		return
	case llm.ToolChoiceModeNone:
		delete(param, "tools")
	}
	f.opts.Logger.Warn(core.LogToolChoiceDegraded,
		zap.String("provider", f.opts.ProviderName),
		zap.String("mode", string(mode)))
}

// ═══════════════════════════════════════════════════════════════════════════
// 响应解析
// ═══════════════════════════════════════════════════════════════════════════

// ParseResponse 解析 /api/chat 响应
//
//	{
//	  "model": "llama3.2",
//	  "message": {"role": "assistant", "content": "...", "thinking": "...", "tool_calls": [...]},
//	  "done": true,
//	  "done_reason": "stop",
//	  "prompt_eval_count": 10,
//	  "eval_count": 20
//	}
func (f *Formatter) ParseResponse(raw map[string]any, start time.Time) (*llm.ChatResponse, error) {
	if err := f.errorFrom(raw); err != nil {
		return nil, err
	}
	message, ok := raw["message"].(map[string]any)
	if !ok {
		return nil, llm.NewFormatterError(f.opts.ProviderName, "missing message", nil).
			WithCode("missing_message").
			WithPayload(codec.MustString(raw))
	}
	return core.NewResponse("", messageBlocks(message), usageOf(raw, start), core.GetString(raw["done_reason"])), nil
}

// ParseStreamChunk 解析一行 NDJSON
//
// 工具调用总是完整出现在单行中，不产生参数分片。
// 只有 done=true 的行携带计数与结束原因。
func (f *Formatter) ParseStreamChunk(raw map[string]any, start time.Time) (*llm.ChatResponse, error) {
	if err := f.errorFrom(raw); err != nil {
		return nil, err
	}
	blocks := messageBlocks(core.GetMap(raw["message"]))
	var (
		usage  *llm.ChatUsage
		reason string
	)
	if core.GetBool(raw["done"]) {
		usage = usageOf(raw, start)
		reason = core.GetString(raw["done_reason"])
	}
	if len(blocks) == 0 && usage == nil && reason == "" {
		return nil, nil
	}
	return core.NewResponse("", blocks, usage, reason), nil
}

func messageBlocks(message map[string]any) []llm.ContentBlock {
	if message == nil {
		return nil
	}
	var blocks []llm.ContentBlock
	if thinking := core.GetString(message["thinking"]); thinking != "" {
		blocks = append(blocks, &llm.ThinkingBlock{Thinking: thinking})
	}
	if content := core.GetString(message["content"]); content != "" {
		blocks = append(blocks, llm.Text(content))
	}
	for _, tc := range core.GetSlice(message["tool_calls"]) {
		call := core.GetMap(tc)
		fn := core.GetMap(call["function"])
		input, rawArgs := core.ParseToolArgs(fn["arguments"])
		if rawArgs == "" {
			rawArgs = "{}"
		}
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

// usageOf prompt_eval_count / eval_count，两者都缺失时返回 nil
func usageOf(raw map[string]any, start time.Time) *llm.ChatUsage {
	_, hasIn := raw["prompt_eval_count"]
	_, hasOut := raw["eval_count"]
	if !hasIn && !hasOut {
		return nil
	}
	return llm.NewUsage(core.GetInt64(raw["prompt_eval_count"]), core.GetInt64(raw["eval_count"]), start)
}

// ExtractError 提取 {"error": "..."}
func (f *Formatter) ExtractError(raw map[string]any) (string, string) {
	switch e := raw["error"].(type) {
	case string:
		return "", e
	case map[string]any:
		return core.GetString(e["code"]), core.GetString(e["message"])
	default:
		return "", ""
	}
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
