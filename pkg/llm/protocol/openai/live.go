package openai

import (
	"encoding/base64"

	"go.uber.org/zap"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/codec"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/core"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/media"
)

// OutputSampleRate Realtime API 输出 PCM16 的采样率
const OutputSampleRate = 24000

// ═══════════════════════════════════════════════════════════════════════════
// OpenAI Realtime 格式化器
// ═══════════════════════════════════════════════════════════════════════════

// LiveFormatter OpenAI Realtime API 格式化器
//
// 所有消息都是带 type 字段的 JSON 文本帧。
type LiveFormatter struct {
	opts     core.Options
	handlers map[string]liveHandler
}

type liveHandler func(state *llm.SessionState, msg map[string]any, raw []byte) llm.LiveEvent

var _ core.LiveFormatter = (*LiveFormatter)(nil)

// NewLive 创建 OpenAI Realtime 格式化器
func NewLive(opts ...core.Option) *LiveFormatter {
	f := &LiveFormatter{opts: core.NewOptions(core.Options{ProviderName: ProviderName}, opts...)}
	f.handlers = map[string]liveHandler{
		"session.created":                   sessionCreated,
		"session.updated":                   simple(llm.LiveSessionUpdated),
		"input_audio_buffer.speech_started": simple(llm.LiveSpeechStarted),
		"input_audio_buffer.speech_stopped": simple(llm.LiveSpeechStopped),
		"conversation.item.input_audio_transcription.delta":     inputTranscript("delta", false),
		"conversation.item.input_audio_transcription.completed": inputTranscript("transcript", true),
		"response.audio.delta":                   audioDelta,
		"response.output_audio.delta":            audioDelta,
		"response.audio.done":                    audioDone,
		"response.output_audio.done":             audioDone,
		"response.audio_transcript.delta":        outputTranscript("delta", false),
		"response.audio_transcript.done":         outputTranscript("transcript", true),
		"response.output_audio_transcript.delta": outputTranscript("delta", false),
		"response.output_audio_transcript.done":  outputTranscript("transcript", true),
		"response.text.delta":                    textDelta("delta", false),
		"response.text.done":                     textDelta("text", true),
		"response.output_text.delta":             textDelta("delta", false),
		"response.output_text.done":              textDelta("text", true),
		"response.function_call_arguments.delta": functionArgsDelta,
		"response.function_call_arguments.done":  functionArgsDone,
		"response.done":                          ResponseDone,
		"error":                                  f.errorEvent,
	}
	return f
}

// Capabilities 能力声明
func (f *LiveFormatter) Capabilities() llm.FormatterCapabilities {
	return llm.NewCapabilities(f.opts.ProviderName, true, false, false,
		llm.BlockText, llm.BlockAudio, llm.BlockToolUse, llm.BlockToolResult, llm.BlockControl)
}

// ═══════════════════════════════════════════════════════════════════════════
// 会话配置
// ═══════════════════════════════════════════════════════════════════════════

// BuildSessionConfig 构建 session.update
//
//	{"type": "session.update", "session": {"modalities": [...], "voice": "...", ...}}
func (f *LiveFormatter) BuildSessionConfig(_ *llm.SessionState, cfg llm.LiveConfig, tools []llm.ToolSchema) ([]byte, error) {
	session := SessionFields(cfg)

	if len(tools) > 0 {
		defs := make([]map[string]any, 0, len(tools))
		for _, t := range tools {
			defs = append(defs, map[string]any{
				"type":        "function",
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			})
		}
		session["tools"] = defs
		if cfg.ToolChoice != nil {
			session["tool_choice"] = liveToolChoice(*cfg.ToolChoice)
		}
	}
	core.SetIf(session, "temperature", cfg.Temperature)
	core.SetIf(session, "max_response_output_tokens", cfg.MaxOutputTokens)
	for k, v := range cfg.Extra {
		session[k] = v
	}

	return codec.Marshal(map[string]any{"type": "session.update", "session": session})
}

// SessionFields OpenAI 与 DashScope 共有的 session 字段
//
// 未设置的字段不写入。TurnDetection 为 Null 时写入 null 关闭服务端 VAD。
func SessionFields(cfg llm.LiveConfig) map[string]any {
	session := map[string]any{}
	if cfg.Model != "" {
		session["model"] = cfg.Model
	}
	if len(cfg.Modalities) > 0 {
		session["modalities"] = cfg.Modalities
	}
	if cfg.Instructions != "" {
		session["instructions"] = cfg.Instructions
	}
	if cfg.Voice != "" {
		session["voice"] = cfg.Voice
	}
	if cfg.InputAudioFormat != "" {
		session["input_audio_format"] = cfg.InputAudioFormat
	}
	if cfg.OutputAudioFormat != "" {
		session["output_audio_format"] = cfg.OutputAudioFormat
	}
	if cfg.InputTranscription || cfg.InputTranscriptionModel != "" {
		tr := map[string]any{}
		if cfg.InputTranscriptionModel != "" {
			tr["model"] = cfg.InputTranscriptionModel
		}
		session["input_audio_transcription"] = tr
	}
	if cfg.TurnDetection.IsNull() {
		session["turn_detection"] = nil
	} else if td, ok := cfg.TurnDetection.Get(); ok {
		session["turn_detection"] = TurnDetection(td)
	}
	return session
}

// TurnDetection 转换服务端 VAD 参数
func TurnDetection(td llm.TurnDetection) map[string]any {
	m := map[string]any{}
	if td.Type != "" {
		m["type"] = td.Type
	} else {
		m["type"] = "server_vad"
	}
	core.SetIf(m, "threshold", td.Threshold)
	core.SetIf(m, "prefix_padding_ms", td.PrefixPaddingMs)
	core.SetIf(m, "silence_duration_ms", td.SilenceDurationMs)
	core.SetIf(m, "create_response", td.CreateResponse)
	core.SetIf(m, "interrupt_response", td.InterruptResponse)
	return m
}

func liveToolChoice(c llm.ToolChoice) any {
	if c.Normalize() == llm.ToolChoiceModeSpecific {
		return map[string]any{"type": "function", "name": c.ToolName}
	}
	return string(c.Normalize())
}

// ═══════════════════════════════════════════════════════════════════════════
// 输入编码
// ═══════════════════════════════════════════════════════════════════════════

// FormatInput 编码一条输入
//
//	音频     → input_audio_buffer.append
//	文本     → conversation.item.create (message/input_text)
//	工具结果 → conversation.item.create (function_call_output)
//	控制     → commit / clear / response.create / response.cancel
func (f *LiveFormatter) FormatInput(msg llm.Msg) []byte {
	var event map[string]any
	switch b := msg.FirstBlock().(type) {
	case *llm.AudioBlock:
		data, err := media.Base64Audio(b.Source)
		if err != nil {
			f.opts.Logger.Debug(core.LogLiveInputIgnored, zap.String("provider", f.opts.ProviderName), zap.Error(err))
			return nil
		}
		event = map[string]any{"type": "input_audio_buffer.append", "audio": data}
	case *llm.TextBlock:
		event = map[string]any{
			"type": "conversation.item.create",
			"item": map[string]any{
				"type":    "message",
				"role":    "user",
				"content": []map[string]any{{"type": "input_text", "text": b.Text}},
			},
		}
	case *llm.ToolResultBlock:
		event = map[string]any{
			"type": "conversation.item.create",
			"item": map[string]any{
				"type":    "function_call_output",
				"call_id": b.ID,
				"output":  core.ToolResultString(b),
			},
		}
	case *llm.ControlBlock:
		event = ControlEvent(b.Type)
	}
	if event == nil {
		f.opts.Logger.Debug(core.LogLiveInputIgnored, zap.String("provider", f.opts.ProviderName))
		return nil
	}
	out, err := codec.Marshal(event)
	if err != nil {
		return nil
	}
	return out
}

// ControlEvent 控制信号对应的客户端事件
func ControlEvent(t llm.ControlType) map[string]any {
	switch t {
	case llm.ControlCommit:
		return map[string]any{"type": "input_audio_buffer.commit"}
	case llm.ControlClear:
		return map[string]any{"type": "input_audio_buffer.clear"}
	case llm.ControlCreateResponse:
		return map[string]any{"type": "response.create"}
	case llm.ControlInterrupt:
		return map[string]any{"type": "response.cancel"}
	default:
		return nil
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// 事件解析
// ═══════════════════════════════════════════════════════════════════════════

// ParseOutput 按 type 字段查表分派
func (f *LiveFormatter) ParseOutput(state *llm.SessionState, data []byte) llm.LiveEvent {
	msg, err := codec.ParseObject(data)
	if err != nil {
		return llm.Unknown("invalid_json", data)
	}
	t := core.GetString(msg["type"])
	if h, ok := f.handlers[t]; ok {
		return h(state, msg, data)
	}
	f.opts.Logger.Debug(core.LogUnknownLiveEvent, zap.String("provider", f.opts.ProviderName), zap.String("type", t))
	return llm.Unknown(t, data)
}

func simple(t llm.LiveEventType) liveHandler {
	return func(*llm.SessionState, map[string]any, []byte) llm.LiveEvent { return llm.SimpleEvent(t) }
}

func sessionCreated(state *llm.SessionState, msg map[string]any, _ []byte) llm.LiveEvent {
	id := core.GetString(core.GetMap(msg["session"])["id"])
	if state != nil && id != "" {
		state.SessionID = id
	}
	return llm.SessionCreated(id)
}

func inputTranscript(field string, final bool) liveHandler {
	return func(_ *llm.SessionState, msg map[string]any, _ []byte) llm.LiveEvent {
		return llm.InputTranscription(core.GetString(msg[field]), final)
	}
}

func outputTranscript(field string, final bool) liveHandler {
	return func(_ *llm.SessionState, msg map[string]any, _ []byte) llm.LiveEvent {
		return llm.OutputTranscription(core.GetString(msg[field]), final)
	}
}

func textDelta(field string, final bool) liveHandler {
	return func(_ *llm.SessionState, msg map[string]any, _ []byte) llm.LiveEvent {
		return llm.TextDelta(core.GetString(msg[field]), final)
	}
}

func audioDelta(_ *llm.SessionState, msg map[string]any, raw []byte) llm.LiveEvent {
	return PCMDelta(core.GetString(msg["delta"]), OutputSampleRate, raw)
}

func audioDone(*llm.SessionState, map[string]any, []byte) llm.LiveEvent {
	return llm.AudioDelta(llm.NewMsg(llm.RoleAssistant, ""), true)
}

// PCMDelta 解码 base64 PCM 音频增量，解码失败返回 unknown
func PCMDelta(b64 string, sampleRate int, raw []byte) llm.LiveEvent {
	pcm, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return llm.Unknown("invalid_audio", raw)
	}
	return llm.AudioDelta(llm.NewMsg(llm.RoleAssistant, "", llm.Audio(llm.PCM(pcm, sampleRate))), false)
}

// functionArgsDelta 参数分片不带名称，ID 保留 call_id（缺失时用 item_id），
// 并行调用的分片由下游按 ID 合并
func functionArgsDelta(_ *llm.SessionState, msg map[string]any, _ []byte) llm.LiveEvent {
	id := core.GetString(msg["call_id"])
	if id == "" {
		id = core.GetString(msg["item_id"])
	}
	return llm.ToolCallEvent(false, core.ToolUseFromChunk(id, "", core.GetString(msg["delta"])))
}

func functionArgsDone(_ *llm.SessionState, msg map[string]any, _ []byte) llm.LiveEvent {
	call := core.ToolUseFromChunk(core.GetString(msg["call_id"]), core.GetString(msg["name"]), core.GetString(msg["arguments"]))
	return llm.ToolCallEvent(true, call)
}

// ResponseDone response.done 携带本轮使用量（DashScope 共用）
func ResponseDone(_ *llm.SessionState, msg map[string]any, _ []byte) llm.LiveEvent {
	var usage *llm.ChatUsage
	if u := core.GetMap(core.GetPath(msg, "response", "usage")); u != nil {
		usage = &llm.ChatUsage{
			InputTokens:  core.GetInt64(u["input_tokens"]),
			OutputTokens: core.GetInt64(u["output_tokens"]),
		}
	}
	return llm.UsageEvent(llm.LiveTurnComplete, usage)
}

// liveErrorTypes Realtime 错误码映射
var liveErrorTypes = map[string]llm.LiveErrorType{
	"invalid_request_error":    llm.LiveErrInvalidRequest,
	"invalid_value":            llm.LiveErrInvalidRequest,
	"invalid_api_key":          llm.LiveErrAuthentication,
	"authentication_error":     llm.LiveErrAuthentication,
	"rate_limit_exceeded":      llm.LiveErrRateLimited,
	"insufficient_quota":       llm.LiveErrQuotaExceeded,
	"session_expired":          llm.LiveErrSessionExpired,
	"session_not_found":        llm.LiveErrSessionNotFound,
	"content_policy_violation": llm.LiveErrContentFiltered,
	"server_error":             llm.LiveErrServer,
	"connection_closed":        llm.LiveErrConnection,
}

func (f *LiveFormatter) errorEvent(_ *llm.SessionState, msg map[string]any, _ []byte) llm.LiveEvent {
	return ErrorFrom(core.GetMap(msg["error"]), liveErrorTypes)
}

// ErrorFrom 解析 {"code", "type", "message"} 错误对象，code 为空时使用 type
func ErrorFrom(e map[string]any, table map[string]llm.LiveErrorType) llm.LiveEvent {
	code := core.GetString(e["code"])
	if code == "" {
		code = core.GetString(e["type"])
	}
	return llm.ErrorEvent(llm.LookupErrorType(table, code), code, core.GetString(e["message"]))
}
