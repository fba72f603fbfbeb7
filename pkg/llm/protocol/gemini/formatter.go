package gemini

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/codec"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/core"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/media"
)

// ProviderName 默认 Provider 名称
const ProviderName = "gemini"

// ═══════════════════════════════════════════════════════════════════════════
// Gemini generateContent 格式化器
// ═══════════════════════════════════════════════════════════════════════════

// Formatter Gemini 对话格式化器
//
// 关键协议差异：
//  1. 内容格式：Content{role, parts[]} 而非 message{role, content}
//  2. 角色映射：assistant → model
//  3. 工具参数：直接对象，不序列化为字符串
//  4. 工具结果：user 内容中的 functionResponse part，相邻结果合并
//  5. 系统消息：独立的 systemInstruction 字段
//  6. Token 字段名：promptTokenCount, candidatesTokenCount
type Formatter struct {
	opts  core.Options
	media media.Codec
}

var (
	_ core.ChatFormatter     = (*Formatter)(nil)
	_ core.SystemInstructor  = (*Formatter)(nil)
	_ core.StreamChunkParser = (*Formatter)(nil)
	_ core.MessagePlacer     = (*Formatter)(nil)
	_ core.EndpointBuilder   = (*Formatter)(nil)
	_ core.ErrorExtractor    = (*Formatter)(nil)
)

// New 创建 Gemini 格式化器
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
		llm.BlockText, llm.BlockImage, llm.BlockAudio, llm.BlockVideo,
		llm.BlockToolUse, llm.BlockToolResult, llm.BlockThinking)
}

// SystemField 系统提示字段名
func (f *Formatter) SystemField() string { return "systemInstruction" }

// SystemInstruction 合并所有系统消息为 {"parts": [{"text": "..."}]}
func (f *Formatter) SystemInstruction(msgs []llm.Msg) (any, bool) {
	return systemContent(core.SystemText(msgs))
}

func systemContent(text string, ok bool) (any, bool) {
	if !ok {
		return nil, false
	}
	return map[string]any{"parts": []map[string]any{{"text": text}}}, true
}

// PlaceMessages 消息写入 contents
//
// 模型位于 URL 路径中，请求体不能携带 model 字段。
func (f *Formatter) PlaceMessages(param map[string]any, msgs []map[string]any) {
	delete(param, "model")
	param["contents"] = msgs
}

// Endpoint generateContent / streamGenerateContent
func (f *Formatter) Endpoint(model string, stream bool) string {
	model = strings.TrimPrefix(model, "models/")
	if stream {
		return "/models/" + model + ":streamGenerateContent?alt=sse"
	}
	return "/models/" + model + ":generateContent"
}

// ═══════════════════════════════════════════════════════════════════════════
// Format - 消息转换
// ═══════════════════════════════════════════════════════════════════════════

// Format 将统一消息转换为 Gemini contents
//
// 系统消息不出现在结果中，由 SystemInstruction 提供。
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

// appendMsg 转换单条消息并追加到 contents
//
// 工具结果追加到紧邻的 functionResponse 内容中，
// 并行调用的所有结果因此位于同一个 user 内容。
func (f *Formatter) appendMsg(out []map[string]any, msg llm.Msg) []map[string]any {
	if msg.Role == llm.RoleSystem {
		return out
	}

	var parts, responses []map[string]any
	for _, block := range msg.Content {
		switch b := block.(type) {
		case *llm.TextBlock:
			parts = append(parts, map[string]any{"text": b.Text})
		case *llm.ImageBlock, *llm.AudioBlock, *llm.VideoBlock:
			parts = append(parts, f.mediaPart(b))
		case *llm.ThinkingBlock:
			f.opts.Logger.Debug(core.LogThinkingDropped, zap.String("provider", f.opts.ProviderName))
		case *llm.ToolUseBlock:
			parts = append(parts, FunctionCall(b))
		case *llm.ToolResultBlock:
			responses = append(responses, FunctionResponse(b))
		case *llm.ControlBlock:
		}
	}

	if len(parts) > 0 {
		out = append(out, map[string]any{"role": mapRole(msg.Role), "parts": parts})
	}
	if len(responses) > 0 {
		if n := len(out); n > 0 && isResponseContent(out[n-1]) {
			out[n-1]["parts"] = append(out[n-1]["parts"].([]map[string]any), responses...)
		} else {
			out = append(out, map[string]any{"role": "user", "parts": responses})
		}
	}
	return out
}

func isResponseContent(content map[string]any) bool {
	parts, ok := content["parts"].([]map[string]any)
	if !ok || len(parts) == 0 || content["role"] != "user" {
		return false
	}
	for _, p := range parts {
		if _, ok := p["functionResponse"]; !ok {
			return false
		}
	}
	return true
}

// mapRole 将统一角色映射到 Gemini 角色
func mapRole(role llm.Role) string {
	if role == llm.RoleAssistant {
		return "model"
	}
	return "user"
}

// FunctionCall 工具调用 part（参数为对象）
func FunctionCall(b *llm.ToolUseBlock) map[string]any {
	args := b.Input
	if args == nil {
		args = map[string]any{}
	}
	call := map[string]any{"name": b.Name, "args": args}
	if b.ID != "" {
		call["id"] = b.ID
	}
	return map[string]any{"functionCall": call}
}

// FunctionResponse 工具结果 part
//
//	{"functionResponse": {"id": "...", "name": "...", "response": {"output": "..."}}}
func FunctionResponse(b *llm.ToolResultBlock) map[string]any {
	resp := map[string]any{
		"name":     b.Name,
		"response": map[string]any{"output": core.ToolResultString(b)},
	}
	if b.ID != "" {
		resp["id"] = b.ID
	}
	return map[string]any{"functionResponse": resp}
}

// mediaPart 媒体块转换为 inline_data 或 file_data
//
// 远程 URL 使用 file_data 引用，其余来源读取为 base64 内联。
func (f *Formatter) mediaPart(block llm.ContentBlock) map[string]any {
	kind, src := mediaOf(block)
	if url, ok := media.RemoteURL(src); ok {
		return map[string]any{"file_data": map[string]any{
			"mime_type": media.MimeOf(kind, src),
			"file_uri":  url,
		}}
	}
	data, mimeType, err := f.media.Blob(kind, src)
	if err != nil {
		return map[string]any{"text": core.MediaUnavailable(f.opts.Logger, f.opts.ProviderName, kind, err)}
	}
	return map[string]any{"inline_data": map[string]any{"mime_type": mimeType, "data": data}}
}

func mediaOf(block llm.ContentBlock) (media.Kind, llm.Source) {
	switch b := block.(type) {
	case *llm.ImageBlock:
		return media.KindImage, b.Source
	case *llm.AudioBlock:
		return media.KindAudio, b.Source
	case *llm.VideoBlock:
		return media.KindVideo, b.Source
	default:
		return "", nil
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// 参数与工具
// ═══════════════════════════════════════════════════════════════════════════

// ApplyOptions 写入 generationConfig
//
//	EnableThinking=true  → thinkingConfig.includeThoughts=true
//	EnableThinking=false → thinkingConfig.thinkingBudget=0（关闭思考）
//	ThinkingBudget       → thinkingConfig.thinkingBudget
func (f *Formatter) ApplyOptions(param map[string]any, opts, defaults *llm.GenerateOptions) {
	merged := llm.MergeOptions(opts, defaults)
	gc := map[string]any{}

	core.SetIf(gc, "temperature", merged.Temperature)
	core.SetIf(gc, "topP", merged.TopP)
	core.SetIf(gc, "maxOutputTokens", merged.MaxTokens)
	core.SetIf(gc, "seed", merged.Seed)
	core.SetIf(gc, "presencePenalty", merged.PresencePenalty)
	core.SetIf(gc, "frequencyPenalty", merged.FrequencyPenalty)
	if len(merged.Stop) > 0 {
		gc["stopSequences"] = merged.Stop
	}

	thinking := map[string]any{}
	if merged.EnableThinking != nil {
		if *merged.EnableThinking {
			thinking["includeThoughts"] = true
		} else {
			thinking["thinkingBudget"] = 0
		}
	}
	if merged.ThinkingBudget != nil && (merged.EnableThinking == nil || *merged.EnableThinking) {
		thinking["thinkingBudget"] = *merged.ThinkingBudget
	}
	if len(thinking) > 0 {
		gc["thinkingConfig"] = thinking
	}

	for k, v := range merged.Extra {
		gc[k] = v
	}
	if len(gc) > 0 {
		param["generationConfig"] = gc
	}
}

// ApplyTools 写入 tools[{functionDeclarations}]
func (f *Formatter) ApplyTools(param map[string]any, tools []llm.ToolSchema) {
	if len(tools) == 0 {
		return
	}
	param["tools"] = []map[string]any{{"functionDeclarations": FunctionDeclarations(tools)}}
}

// FunctionDeclarations 工具定义（实时会话共用）
func FunctionDeclarations(tools []llm.ToolSchema) []map[string]any {
	decls := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		d := map[string]any{"name": t.Name}
		if t.Description != "" {
			d["description"] = t.Description
		}
		if len(t.Parameters) > 0 {
			d["parameters"] = t.Parameters
		}
		decls = append(decls, d)
	}
	return decls
}

// ApplyToolChoice 写入 toolConfig.functionCallingConfig
//
//	auto → AUTO, none → NONE, required → ANY, specific → ANY + allowedFunctionNames
func (f *Formatter) ApplyToolChoice(param map[string]any, choice llm.ToolChoice) {
	cfg := map[string]any{}
	switch choice.Normalize() {
	case llm.ToolChoiceModeNone:
		cfg["mode"] = "NONE"
	case llm.ToolChoiceModeRequired:
		cfg["mode"] = "ANY"
	case llm.ToolChoiceModeSpecific:
		cfg["mode"] = "ANY"
		cfg["allowedFunctionNames"] = []string{choice.ToolName}
	default:
		cfg["mode"] = "AUTO"
	}
	param["toolConfig"] = map[string]any{"functionCallingConfig": cfg}
}

// ═══════════════════════════════════════════════════════════════════════════
// 响应解析
// ═══════════════════════════════════════════════════════════════════════════

// ParseResponse 解析 generateContent 响应
//
//	{
//	  "candidates": [{
//	    "content": {"role": "model", "parts": [
//	      {"text": "...", "thought": true},
//	      {"text": "..."},
//	      {"functionCall": {"name": "...", "args": {...}}}
//	    ]},
//	    "finishReason": "STOP"
//	  }],
//	  "usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 20},
//	  "responseId": "..."
//	}
//
// 没有候选时合成一个说明原因的文本块（promptFeedback.blockReason）。
func (f *Formatter) ParseResponse(raw map[string]any, start time.Time) (*llm.ChatResponse, error) {
	if err := f.errorFrom(raw); err != nil {
		return nil, err
	}
	resp := f.parse(raw, start, true)
	return resp, nil
}

// ParseStreamChunk 解析一个 SSE 块
//
// 每个块与非流式响应同形；functionCall 总是完整出现在单个块中，
// 因此不产生参数分片。不含内容、结束原因与使用量的块返回 nil。
func (f *Formatter) ParseStreamChunk(raw map[string]any, start time.Time) (*llm.ChatResponse, error) {
	if err := f.errorFrom(raw); err != nil {
		return nil, err
	}
	resp := f.parse(raw, start, false)
	if len(resp.Content) == 0 && resp.FinishReason == "" && resp.Usage == nil {
		return nil, nil
	}
	return resp, nil
}

func (f *Formatter) parse(raw map[string]any, start time.Time, complete bool) *llm.ChatResponse {
	id := core.GetString(raw["responseId"])
	usage := usageOf(raw["usageMetadata"], start)

	candidate := core.FirstMap(raw["candidates"])
	if candidate == nil {
		reason := core.GetString(core.GetPath(raw, "promptFeedback", "blockReason"))
		switch {
		case reason != "":
			return core.NewResponse(id, []llm.ContentBlock{llm.Text(blockedText(reason))}, usage, "content_filter")
		case complete:
			return core.NewResponse(id, []llm.ContentBlock{llm.Text(emptyText)}, usage, "")
		default:
			return core.NewResponse(id, nil, usage, "")
		}
	}

	rawReason := core.GetString(candidate["finishReason"])
	blocks := PartBlocks(core.GetSlice(core.GetPath(candidate, "content", "parts")))
	if len(blocks) == 0 && complete && rawReason != "" && rawReason != "STOP" {
		blocks = append(blocks, llm.Text(stoppedText(rawReason)))
	}
	return core.NewResponse(id, blocks, usage, mapFinishReason(rawReason))
}

const emptyText = "[The model returned no candidates]"

func blockedText(reason string) string {
	return fmt.Sprintf("[The prompt was blocked: %s]", reason)
}

func stoppedText(reason string) string {
	return fmt.Sprintf("[The response was stopped without content: %s]", reason)
}

// PartBlocks 将 parts 转换为内容块
//
// thought=true 的文本为思考块，functionCall 缺少 id 时生成 call_<uuid>。
func PartBlocks(parts []any) []llm.ContentBlock {
	var blocks []llm.ContentBlock
	for _, p := range parts {
		part := core.GetMap(p)
		if part == nil {
			continue
		}
		if text, ok := part["text"].(string); ok && text != "" {
			if core.GetBool(part["thought"]) {
				blocks = append(blocks, &llm.ThinkingBlock{
					Thinking:  text,
					Signature: core.GetString(part["thoughtSignature"]),
				})
			} else {
				blocks = append(blocks, llm.Text(text))
			}
		}
		if fc := core.GetMap(part["functionCall"]); fc != nil {
			id := core.GetString(fc["id"])
			if id == "" {
				id = core.NewCallID()
			}
			input, rawArgs := core.ParseToolArgs(fc["args"])
			if rawArgs == "" {
				rawArgs = "{}"
			}
			blocks = append(blocks, &llm.ToolUseBlock{
				ID:      id,
				Name:    core.GetString(fc["name"]),
				Input:   input,
				Content: rawArgs,
			})
		}
	}
	return blocks
}

// mapFinishReason 将 Gemini 完成原因映射到标准格式
func mapFinishReason(reason string) string {
	switch reason {
	case "STOP", "OTHER":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII":
		return "content_filter"
	case "MALFORMED_FUNCTION_CALL":
		return "tool_error"
	default:
		return strings.ToLower(reason)
	}
}

// usageOf 解析 usageMetadata
//
// 输出 token 包含思考 token（thoughtsTokenCount）。
func usageOf(val any, start time.Time) *llm.ChatUsage {
	u := core.GetMap(val)
	if u == nil {
		return nil
	}
	output := core.GetInt64(u["candidatesTokenCount"])
	if output == 0 {
		output = core.GetInt64(u["responseTokenCount"])
	}
	output += core.GetInt64(u["thoughtsTokenCount"])
	return llm.NewUsage(core.GetInt64(u["promptTokenCount"]), output, start)
}

// ExtractError 提取 {"error": {"code": 400, "message": "...", "status": "INVALID_ARGUMENT"}}
//
// 优先使用 status，缺失时使用数字 code。
func (f *Formatter) ExtractError(raw map[string]any) (string, string) {
	e := core.GetMap(raw["error"])
	if e == nil {
		return "", ""
	}
	return statusOf(e), core.GetString(e["message"])
}

func statusOf(e map[string]any) string {
	if status := core.GetString(e["status"]); status != "" {
		return status
	}
	if n := core.GetInt64(e["code"]); n != 0 {
		return fmt.Sprint(n)
	}
	return ""
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
