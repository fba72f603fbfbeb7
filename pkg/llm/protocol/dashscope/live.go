package dashscope

import (
	"go.uber.org/zap"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/codec"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/core"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/media"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/protocol/openai"
)

// OutputSampleRate qwen-omni 输出 PCM16 的采样率
const OutputSampleRate = 24000

// LiveFormatter qwen-omni realtime 格式化器
//
// 事件名与 OpenAI Realtime 相同，但不支持文本输入与工具；
// 额外支持 input_image_buffer.append 视频帧输入。
type LiveFormatter struct {
	opts     core.Options
	media    media.Codec
	handlers map[string]liveHandler
}

type liveHandler func(state *llm.SessionState, msg map[string]any, raw []byte) llm.LiveEvent

var _ core.LiveFormatter = (*LiveFormatter)(nil)

// NewLive 创建 DashScope 实时格式化器
func NewLive(opts ...core.Option) *LiveFormatter {
	o := core.NewOptions(core.Options{ProviderName: ProviderName, LocalMedia: llm.LocalMediaDataURL}, opts...)
	f := &LiveFormatter{opts: o, media: o.MediaCodec()}
	f.handlers = map[string]liveHandler{
		"session.created":                   sessionCreated,
		"session.updated":                   simple(llm.LiveSessionUpdated),
		"input_audio_buffer.speech_started": simple(llm.LiveSpeechStarted),
		"input_audio_buffer.speech_stopped": simple(llm.LiveSpeechStopped),
		"conversation.item.input_audio_transcription.completed": func(_ *llm.SessionState, m map[string]any, _ []byte) llm.LiveEvent {
			return llm.InputTranscription(core.GetString(m["transcript"]), true)
		},
		"response.audio.delta": func(_ *llm.SessionState, m map[string]any, raw []byte) llm.LiveEvent {
			return openai.PCMDelta(core.GetString(m["delta"]), OutputSampleRate, raw)
		},
		"response.audio.done": func(*llm.SessionState, map[string]any, []byte) llm.LiveEvent {
			return llm.AudioDelta(llm.NewMsg(llm.RoleAssistant, ""), true)
		},
		"response.audio_transcript.delta": func(_ *llm.SessionState, m map[string]any, _ []byte) llm.LiveEvent {
			return llm.OutputTranscription(core.GetString(m["delta"]), false)
		},
		"response.audio_transcript.done": func(_ *llm.SessionState, m map[string]any, _ []byte) llm.LiveEvent {
			return llm.OutputTranscription(core.GetString(m["transcript"]), true)
		},
		"response.text.delta": func(_ *llm.SessionState, m map[string]any, _ []byte) llm.LiveEvent {
			return llm.TextDelta(core.GetString(m["delta"]), false)
		},
		"response.text.done": func(_ *llm.SessionState, m map[string]any, _ []byte) llm.LiveEvent {
			return llm.TextDelta(core.GetString(m["text"]), true)
		},
		"response.done": openai.ResponseDone,
		"error": func(_ *llm.SessionState, m map[string]any, _ []byte) llm.LiveEvent {
			return openai.ErrorFrom(core.GetMap(m["error"]), liveErrorTypes)
		},
	}
	return f
}

// Capabilities 能力声明
func (f *LiveFormatter) Capabilities() llm.FormatterCapabilities {
	return llm.NewCapabilities(f.opts.ProviderName, false, false, true,
		llm.BlockAudio, llm.BlockImage, llm.BlockControl)
}

// BuildSessionConfig 构建 session.update
//
// 模型通过连接 URL 的 model 参数指定，不写入 session。
func (f *LiveFormatter) BuildSessionConfig(_ *llm.SessionState, cfg llm.LiveConfig, tools []llm.ToolSchema) ([]byte, error) {
	session := openai.SessionFields(cfg)
	delete(session, "model")
	if len(tools) > 0 {
		f.opts.Logger.Debug("tools not supported by live session, ignored",
			zap.String("provider", f.opts.ProviderName), zap.Int("tools", len(tools)))
	}
	for k, v := range cfg.Extra {
		session[k] = v
	}
	return codec.Marshal(map[string]any{"type": "session.update", "session": session})
}

// FormatInput 编码一条输入
//
//	音频 → input_audio_buffer.append
//	图像 → input_image_buffer.append
//	控制 → commit / clear / response.create / response.cancel
//
// 文本与工具结果不支持，返回 nil。
func (f *LiveFormatter) FormatInput(msg llm.Msg) []byte {
	var event map[string]any
	switch b := msg.FirstBlock().(type) {
	case *llm.AudioBlock:
		if data, err := media.Base64Audio(b.Source); err == nil {
			event = map[string]any{"type": "input_audio_buffer.append", "audio": data}
		}
	case *llm.ImageBlock:
		if data, _, err := f.media.Blob(media.KindImage, b.Source); err == nil {
			event = map[string]any{"type": "input_image_buffer.append", "image": data}
		}
	case *llm.ControlBlock:
		event = openai.ControlEvent(b.Type)
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

// liveErrorTypes DashScope 错误码映射
var liveErrorTypes = map[string]llm.LiveErrorType{
	"InvalidParameter":           llm.LiveErrInvalidRequest,
	"invalid_request_error":      llm.LiveErrInvalidRequest,
	"InvalidApiKey":              llm.LiveErrAuthentication,
	"AccessDenied":               llm.LiveErrAuthentication,
	"Throttling":                 llm.LiveErrRateLimited,
	"Throttling.RateQuota":       llm.LiveErrRateLimited,
	"Arrearage":                  llm.LiveErrQuotaExceeded,
	"Throttling.AllocationQuota": llm.LiveErrQuotaExceeded,
	"DataInspectionFailed":       llm.LiveErrContentFiltered,
	"SessionExpired":             llm.LiveErrSessionExpired,
	"InternalError":              llm.LiveErrServer,
}
