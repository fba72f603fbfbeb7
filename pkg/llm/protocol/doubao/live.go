// Package doubao 实现豆包端到端实时语音对话的二进制帧协议
//
// 对话接口与 OpenAI 兼容，由 protocol/openai 以 WithProviderName("doubao") 处理；
// 本包只负责实时会话。所有消息都是 frame 包定义的二进制帧：
//
//	客户端  StartSession(100) → TaskRequest(200 音频)* / ChatTextQuery(501) / ClientInterrupt(515) → FinishSession(102)
//	服务端  SessionStarted(150) → ASR(450/451/459) → Chat(550/559) → TTS(350/352/351/359)
package doubao

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/codec"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/core"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/frame"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/media"
)

// ProviderName 默认 Provider 名称
const ProviderName = "doubao"

// 实时会话音频采样率
const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000
)

// 客户端事件
const (
	EventStartSession    int32 = 100
	EventFinishSession   int32 = 102
	EventTaskRequest     int32 = 200
	EventChatTextQuery   int32 = 501
	EventClientInterrupt int32 = 515
)

// 服务端事件
const (
	EventConnectionStarted  int32 = 50
	EventConnectionFailed   int32 = 51
	EventConnectionFinished int32 = 52
	EventSessionStarted     int32 = 150
	EventSessionFinished    int32 = 152
	EventSessionFailed      int32 = 153
	EventUsageResponse      int32 = 154
	EventTTSSentenceStart   int32 = 350
	EventTTSSentenceEnd     int32 = 351
	EventTTSResponse        int32 = 352
	EventTTSEnded           int32 = 359
	EventASRInfo            int32 = 450
	EventASRResponse        int32 = 451
	EventASREnded           int32 = 459
	EventChatResponse       int32 = 550
	EventChatEnded          int32 = 559
	EventDialogCommonError  int32 = 599
)

// ═══════════════════════════════════════════════════════════════════════════
// 豆包实时格式化器
// ═══════════════════════════════════════════════════════════════════════════

// LiveFormatter 豆包实时对话格式化器
//
// 输入输出都是二进制帧，会话层据 BinaryFrames 选择 websocket 二进制消息。
// 不支持工具调用。
type LiveFormatter struct {
	opts     core.Options
	handlers map[int32]frameHandler
}

type frameHandler func(state *llm.SessionState, payload map[string]any, f frame.Frame) llm.LiveEvent

var (
	_ core.LiveFormatter = (*LiveFormatter)(nil)
	_ core.BinaryFramer  = (*LiveFormatter)(nil)
)

// NewLive 创建豆包实时格式化器
func NewLive(opts ...core.Option) *LiveFormatter {
	o := core.NewOptions(core.Options{ProviderName: ProviderName}, opts...)
	f := &LiveFormatter{opts: o}
	f.handlers = map[int32]frameHandler{
		EventConnectionStarted:  label("ConnectionStarted"),
		EventConnectionFailed:   failed(llm.LiveErrConnection, "ConnectionFailed"),
		EventConnectionFinished: simple(llm.LiveSessionEnded),
		EventSessionStarted:     sessionStarted,
		EventSessionFinished:    simple(llm.LiveSessionEnded),
		EventSessionFailed:      failed(llm.LiveErrServer, "SessionFailed"),
		EventUsageResponse:      usageResponse,
		EventTTSSentenceStart: func(_ *llm.SessionState, p map[string]any, fr frame.Frame) llm.LiveEvent {
			if text := core.GetString(p["text"]); text != "" {
				return llm.OutputTranscription(text, true)
			}
			return llm.Unknown("TTSSentenceStart", fr.Payload)
		},
		EventTTSSentenceEnd: label("TTSSentenceEnd"),
		EventTTSResponse: func(_ *llm.SessionState, _ map[string]any, fr frame.Frame) llm.LiveEvent {
			return llm.AudioDelta(llm.NewMsg(llm.RoleAssistant, "", llm.Audio(llm.PCM(fr.Payload, OutputSampleRate))), false)
		},
		EventTTSEnded: func(*llm.SessionState, map[string]any, frame.Frame) llm.LiveEvent {
			return llm.UsageEvent(llm.LiveTurnComplete, nil)
		},
		EventASRInfo:      simple(llm.LiveSpeechStarted),
		EventASRResponse:  asrResponse,
		EventASREnded:     simple(llm.LiveSpeechStopped),
		EventChatResponse: chatResponse,
		EventChatEnded:    simple(llm.LiveGenerationComplete),
		EventDialogCommonError: func(_ *llm.SessionState, p map[string]any, _ frame.Frame) llm.LiveEvent {
			code := core.GetString(p["status_code"])
			return llm.ErrorEvent(errorType(code), code, core.GetString(p["message"]))
		},
	}
	return f
}

// BinaryFrames 输入输出均为二进制帧
func (f *LiveFormatter) BinaryFrames() bool { return true }

// Capabilities 能力声明
func (f *LiveFormatter) Capabilities() llm.FormatterCapabilities {
	return llm.NewCapabilities(f.opts.ProviderName, false, false, false,
		llm.BlockText, llm.BlockAudio, llm.BlockControl)
}

// ═══════════════════════════════════════════════════════════════════════════
// 会话配置
// ═══════════════════════════════════════════════════════════════════════════

// BuildSessionConfig 构建 StartSession 帧
//
//	{
//	  "tts": {"speaker": "...", "audio_config": {"channel": 1, "format": "pcm", "sample_rate": 24000}},
//	  "asr": {"extra": {"end_smooth_window_ms": 1500}},
//	  "dialog": {"bot_name": "...", "system_role": "...", "dialog_id": "...", "extra": {...}}
//	}
//
// dialog_id 取自 state 中的恢复句柄，用于延续上一次会话的上下文。
// Extra 写入 dialog.extra。
func (f *LiveFormatter) BuildSessionConfig(state *llm.SessionState, cfg llm.LiveConfig, tools []llm.ToolSchema) ([]byte, error) {
	if len(tools) > 0 {
		f.opts.Logger.Debug("tools not supported by live session, ignored",
			zap.String("provider", f.opts.ProviderName), zap.Int("tools", len(tools)))
	}

	rate := cfg.OutputSampleRate
	if rate == 0 {
		rate = OutputSampleRate
	}
	tts := map[string]any{
		"audio_config": map[string]any{"channel": 1, "format": "pcm", "sample_rate": rate},
	}
	if cfg.Voice != "" {
		tts["speaker"] = cfg.Voice
	}

	asrExtra := map[string]any{}
	if td, ok := cfg.TurnDetection.Get(); ok {
		core.SetIf(asrExtra, "end_smooth_window_ms", td.SilenceDurationMs)
	}

	extra := make(map[string]any, len(cfg.Extra))
	for k, v := range cfg.Extra {
		extra[k] = v
	}
	dialog := map[string]any{"extra": extra}
	if cfg.BotName != "" {
		dialog["bot_name"] = cfg.BotName
	}
	if cfg.Instructions != "" {
		dialog["system_role"] = cfg.Instructions
	}
	if handle := state.ResumeHandle(); handle != "" {
		dialog["dialog_id"] = handle
	}

	payload, err := codec.Marshal(map[string]any{
		"tts":    tts,
		"asr":    map[string]any{"extra": asrExtra},
		"dialog": dialog,
	})
	if err != nil {
		return nil, err
	}
	return frame.Encode(EventStartSession, payload), nil
}

// FinishSession 结束会话帧
func FinishSession() []byte {
	return frame.Encode(EventFinishSession, []byte("{}"))
}

// ═══════════════════════════════════════════════════════════════════════════
// 输入编码
// ═══════════════════════════════════════════════════════════════════════════

// FormatInput 编码一条输入
//
//	音频      → TaskRequest(200) 原始音频帧
//	文本      → ChatTextQuery(501) {"content": "..."}
//	interrupt → ClientInterrupt(515)
//
// 其余控制信号与工具结果返回 nil。
func (f *LiveFormatter) FormatInput(msg llm.Msg) []byte {
	switch b := msg.FirstBlock().(type) {
	case *llm.AudioBlock:
		if pcm, err := media.RawAudio(b.Source); err == nil {
			return frame.EncodeAudio(EventTaskRequest, pcm)
		}
	case *llm.TextBlock:
		if payload, err := codec.Marshal(map[string]any{"content": b.Text}); err == nil {
			return frame.Encode(EventChatTextQuery, payload)
		}
	case *llm.ControlBlock:
		if b.Type == llm.ControlInterrupt {
			return frame.Encode(EventClientInterrupt, []byte("{}"))
		}
	}
	f.opts.Logger.Debug(core.LogLiveInputIgnored, zap.String("provider", f.opts.ProviderName))
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// 事件解析
// ═══════════════════════════════════════════════════════════════════════════

// ParseOutput 解码一帧并按事件 ID 分派
//
// 少于 8 字节的帧返回 Unknown("short_frame")；错误帧（消息类型 0xF）的事件 ID
// 位置是错误码。音频帧的载荷不解析为 JSON。
func (f *LiveFormatter) ParseOutput(state *llm.SessionState, data []byte) llm.LiveEvent {
	fr := frame.Decode(data)
	if !fr.Valid {
		return llm.Unknown("short_frame", data)
	}

	var payload map[string]any
	if !fr.Header.IsAudio() && len(fr.Payload) > 0 {
		payload, _ = codec.ParseObject(fr.Payload)
	}

	if fr.Header.IsError() {
		code := strconv.Itoa(int(fr.EventID))
		message := core.GetString(payload["error"])
		if message == "" {
			message = string(fr.Payload)
		}
		return llm.ErrorEvent(errorType(code), code, message)
	}

	if h, ok := f.handlers[fr.EventID]; ok {
		return h(state, payload, fr)
	}
	f.opts.Logger.Debug(core.LogUnknownLiveEvent,
		zap.String("provider", f.opts.ProviderName), zap.Int32("event", fr.EventID))
	return llm.Unknown(strconv.Itoa(int(fr.EventID)), data)
}

func simple(t llm.LiveEventType) frameHandler {
	return func(*llm.SessionState, map[string]any, frame.Frame) llm.LiveEvent { return llm.SimpleEvent(t) }
}

func label(name string) frameHandler {
	return func(_ *llm.SessionState, _ map[string]any, fr frame.Frame) llm.LiveEvent {
		return llm.Unknown(name, fr.Payload)
	}
}

func failed(t llm.LiveErrorType, code string) frameHandler {
	return func(_ *llm.SessionState, p map[string]any, _ frame.Frame) llm.LiveEvent {
		return llm.ErrorEvent(t, code, core.GetString(p["error"]))
	}
}

// sessionStarted 保存 dialog_id 作为恢复句柄
func sessionStarted(state *llm.SessionState, p map[string]any, _ frame.Frame) llm.LiveEvent {
	dialogID := core.GetString(p["dialog_id"])
	state.UpdateHandle(dialogID, true)
	e := llm.SessionCreated(core.GetString(p["session_id"]))
	if state != nil && e.SessionID != "" {
		state.SessionID = e.SessionID
	}
	e.Handle = dialogID
	e.Resumable = dialogID != ""
	return e
}

// usageResponse 文本与音频 token 分别计入输入/输出
func usageResponse(_ *llm.SessionState, p map[string]any, _ frame.Frame) llm.LiveEvent {
	u := core.GetMap(p["usage"])
	input := core.GetInt64(u["input_text_tokens"]) + core.GetInt64(u["input_audio_tokens"])
	output := core.GetInt64(u["output_text_tokens"]) + core.GetInt64(u["output_audio_tokens"])
	return llm.UsageEvent(llm.LiveUsageMetadata, &llm.ChatUsage{InputTokens: input, OutputTokens: output})
}

// asrResponse {"results": [{"text": "...", "is_interim": true}]}
func asrResponse(_ *llm.SessionState, p map[string]any, _ frame.Frame) llm.LiveEvent {
	result := core.FirstMap(p["results"])
	return llm.InputTranscription(core.GetString(result["text"]), !core.GetBool(result["is_interim"]))
}

// chatResponse {"content": "..."}
func chatResponse(_ *llm.SessionState, p map[string]any, _ frame.Frame) llm.LiveEvent {
	return llm.TextDelta(core.GetString(p["content"]), false)
}

// errorType 按状态码前缀分类
//
//	400 → invalid_request  401/403 → authentication  404 → session_not_found
//	408 → session_expired  429 → rate_limited        其他 → server_error
func errorType(code string) llm.LiveErrorType {
	for prefix, t := range errorPrefixes {
		if strings.HasPrefix(code, prefix) {
			return t
		}
	}
	return llm.LiveErrServer
}

var errorPrefixes = map[string]llm.LiveErrorType{
	"400": llm.LiveErrInvalidRequest,
	"401": llm.LiveErrAuthentication,
	"403": llm.LiveErrAuthentication,
	"404": llm.LiveErrSessionNotFound,
	"408": llm.LiveErrSessionExpired,
	"429": llm.LiveErrRateLimited,
}
