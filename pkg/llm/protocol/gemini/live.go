package gemini

import (
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/codec"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/core"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/media"
)

// 实时会话音频采样率
const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000
)

// ═══════════════════════════════════════════════════════════════════════════
// Gemini Live 格式化器
// ═══════════════════════════════════════════════════════════════════════════

// LiveFormatter Gemini Live API 格式化器
//
// 服务端消息没有 type 字段，按第一个出现的顶层字段识别：
//
//	setupComplete → serverContent → toolCall → toolCallCancellation →
//	sessionResumptionUpdate → goAway → usageMetadata → error
type LiveFormatter struct {
	opts  core.Options
	media media.Codec
}

var _ core.LiveFormatter = (*LiveFormatter)(nil)

// NewLive 创建 Gemini 实时格式化器
func NewLive(opts ...core.Option) *LiveFormatter {
	o := core.NewOptions(core.Options{ProviderName: ProviderName, LocalMedia: llm.LocalMediaDataURL}, opts...)
	return &LiveFormatter{opts: o, media: o.MediaCodec()}
}

// Capabilities 能力声明
func (f *LiveFormatter) Capabilities() llm.FormatterCapabilities {
	return llm.NewCapabilities(f.opts.ProviderName, true, false, true,
		llm.BlockText, llm.BlockAudio, llm.BlockImage,
		llm.BlockToolUse, llm.BlockToolResult, llm.BlockControl)
}

// ═══════════════════════════════════════════════════════════════════════════
// 会话配置
// ═══════════════════════════════════════════════════════════════════════════

// BuildSessionConfig 构建 setup 消息
//
//	{"setup": {
//	  "model": "models/...",
//	  "generationConfig": {"responseModalities": ["AUDIO"], "speechConfig": {...}},
//	  "systemInstruction": {"parts": [{"text": "..."}]},
//	  "tools": [{"functionDeclarations": [...]}],
//	  "realtimeInputConfig": {"automaticActivityDetection": {...}},
//	  "inputAudioTranscription": {}, "outputAudioTranscription": {},
//	  "sessionResumption": {"handle": "..."}
//	}}
func (f *LiveFormatter) BuildSessionConfig(state *llm.SessionState, cfg llm.LiveConfig, tools []llm.ToolSchema) ([]byte, error) {
	setup := map[string]any{}
	if cfg.Model != "" {
		model := cfg.Model
		if !strings.HasPrefix(model, "models/") {
			model = "models/" + model
		}
		setup["model"] = model
	}

	gc := map[string]any{}
	if len(cfg.Modalities) > 0 {
		modalities := make([]string, 0, len(cfg.Modalities))
		for _, m := range cfg.Modalities {
			modalities = append(modalities, strings.ToUpper(m))
		}
		gc["responseModalities"] = modalities
	}
	if cfg.Voice != "" {
		gc["speechConfig"] = map[string]any{
			"voiceConfig": map[string]any{
				"prebuiltVoiceConfig": map[string]any{"voiceName": cfg.Voice},
			},
		}
	}
	core.SetIf(gc, "temperature", cfg.Temperature)
	core.SetIf(gc, "maxOutputTokens", cfg.MaxOutputTokens)
	if len(gc) > 0 {
		setup["generationConfig"] = gc
	}

	if cfg.Instructions != "" {
		setup["systemInstruction"] = map[string]any{"parts": []map[string]any{{"text": cfg.Instructions}}}
	}
	if len(tools) > 0 {
		setup["tools"] = []map[string]any{{"functionDeclarations": FunctionDeclarations(tools)}}
	}

	if cfg.TurnDetection.IsNull() {
		setup["realtimeInputConfig"] = map[string]any{
			"automaticActivityDetection": map[string]any{"disabled": true},
		}
	} else if td, ok := cfg.TurnDetection.Get(); ok {
		aad := map[string]any{}
		core.SetIf(aad, "silenceDurationMs", td.SilenceDurationMs)
		core.SetIf(aad, "prefixPaddingMs", td.PrefixPaddingMs)
		setup["realtimeInputConfig"] = map[string]any{"automaticActivityDetection": aad}
	}

	if cfg.InputTranscription {
		setup["inputAudioTranscription"] = map[string]any{}
	}
	if cfg.OutputTranscription {
		setup["outputAudioTranscription"] = map[string]any{}
	}

	if handle := state.ResumeHandle(); handle != "" {
		setup["sessionResumption"] = map[string]any{"handle": handle}
	} else if cfg.EnableResumption {
		setup["sessionResumption"] = map[string]any{}
	}

	for k, v := range cfg.Extra {
		setup[k] = v
	}
	return codec.Marshal(map[string]any{"setup": setup})
}

// ═══════════════════════════════════════════════════════════════════════════
// 输入编码
// ═══════════════════════════════════════════════════════════════════════════

// FormatInput 编码一条输入
//
//	音频     → realtimeInput.audio {data, mimeType: "audio/pcm;rate=N"}
//	图像     → realtimeInput.video
//	文本     → realtimeInput.text
//	工具结果 → toolResponse.functionResponses（消息中的全部结果）
//	commit → activityEnd, interrupt → activityStart, create_response → clientContent.turnComplete
//
// clear 没有对应消息，返回 nil。
func (f *LiveFormatter) FormatInput(msg llm.Msg) []byte {
	var event map[string]any
	switch b := msg.FirstBlock().(type) {
	case *llm.AudioBlock:
		if data, err := media.Base64Audio(b.Source); err == nil {
			rate := media.AudioFormatOf(b.Source, InputSampleRate).SampleRate
			event = realtimeInput("audio", map[string]any{
				"data":     data,
				"mimeType": "audio/pcm;rate=" + strconv.Itoa(rate),
			})
		}
	case *llm.ImageBlock:
		if data, mimeType, err := f.media.Blob(media.KindImage, b.Source); err == nil {
			event = realtimeInput("video", map[string]any{"data": data, "mimeType": mimeType})
		}
	case *llm.TextBlock:
		event = realtimeInput("text", b.Text)
	case *llm.ToolResultBlock:
		var responses []map[string]any
		for _, tr := range msg.ToolResults() {
			responses = append(responses, FunctionResponse(tr)["functionResponse"].(map[string]any))
		}
		event = map[string]any{"toolResponse": map[string]any{"functionResponses": responses}}
	case *llm.ControlBlock:
		event = controlEvent(b.Type)
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

func realtimeInput(key string, v any) map[string]any {
	return map[string]any{"realtimeInput": map[string]any{key: v}}
}

func controlEvent(t llm.ControlType) map[string]any {
	switch t {
	case llm.ControlCommit:
		return realtimeInput("activityEnd", map[string]any{})
	case llm.ControlInterrupt:
		return realtimeInput("activityStart", map[string]any{})
	case llm.ControlCreateResponse:
		return map[string]any{"clientContent": map[string]any{"turnComplete": true}}
	default:
		return nil
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// 事件解析
// ═══════════════════════════════════════════════════════════════════════════

// serverMessage 服务端消息
//
// 内容类字段解码到 genai 类型；goAway 等携带 Duration/int64 字符串的字段保留为 map 自行解析。
type serverMessage struct {
	SetupComplete           map[string]any                        `json:"setupComplete"`
	ServerContent           *genai.LiveServerContent              `json:"serverContent"`
	ToolCall                *genai.LiveServerToolCall             `json:"toolCall"`
	ToolCallCancellation    *genai.LiveServerToolCallCancellation `json:"toolCallCancellation"`
	SessionResumptionUpdate map[string]any                        `json:"sessionResumptionUpdate"`
	GoAway                  map[string]any                        `json:"goAway"`
	UsageMetadata           map[string]any                        `json:"usageMetadata"`
	Error                   map[string]any                        `json:"error"`
}

// ParseOutput 解析服务端消息
func (f *LiveFormatter) ParseOutput(state *llm.SessionState, data []byte) llm.LiveEvent {
	var msg serverMessage
	if len(data) == 0 || codec.Unmarshal(data, &msg) != nil {
		return llm.Unknown("invalid_json", data)
	}

	switch {
	case msg.SetupComplete != nil:
		id := core.GetString(msg.SetupComplete["sessionId"])
		if state != nil && id != "" {
			state.SessionID = id
		}
		return llm.SessionCreated(id)
	case msg.ServerContent != nil:
		return serverContent(msg.ServerContent, msg.UsageMetadata, data)
	case msg.ToolCall != nil:
		return toolCall(msg.ToolCall)
	case msg.ToolCallCancellation != nil:
		return llm.ToolCallCancellation(msg.ToolCallCancellation.IDs)
	case msg.SessionResumptionUpdate != nil:
		handle := core.GetString(msg.SessionResumptionUpdate["newHandle"])
		resumable := core.GetBool(msg.SessionResumptionUpdate["resumable"])
		if resumable {
			state.UpdateHandle(handle, true)
		}
		return llm.SessionResumption(handle, resumable)
	case msg.GoAway != nil:
		return llm.GoAway(timeLeftMs(msg.GoAway["timeLeft"]))
	case msg.UsageMetadata != nil:
		return llm.UsageEvent(llm.LiveUsageMetadata, usageOf(msg.UsageMetadata, time.Time{}))
	case msg.Error != nil:
		code := statusOf(msg.Error)
		return llm.ErrorEvent(llm.LookupErrorType(liveErrorTypes, code), code, core.GetString(msg.Error["message"]))
	}

	f.opts.Logger.Debug(core.LogUnknownLiveEvent, zap.String("provider", f.opts.ProviderName))
	return llm.Unknown("unrecognized", data)
}

// serverContent 按优先级选择一个事件
//
//	interrupted > modelTurn > inputTranscription > outputTranscription >
//	generationComplete > turnComplete
func serverContent(sc *genai.LiveServerContent, usage map[string]any, raw []byte) llm.LiveEvent {
	if sc.Interrupted {
		return llm.SimpleEvent(llm.LiveInterrupted)
	}
	if sc.ModelTurn != nil {
		if e, ok := modelTurn(sc.ModelTurn); ok {
			return e
		}
	}
	if t := sc.InputTranscription; t != nil && (t.Text != "" || t.Finished) {
		return llm.InputTranscription(t.Text, t.Finished)
	}
	if t := sc.OutputTranscription; t != nil && (t.Text != "" || t.Finished) {
		return llm.OutputTranscription(t.Text, t.Finished)
	}
	if sc.GenerationComplete {
		return llm.SimpleEvent(llm.LiveGenerationComplete)
	}
	if sc.TurnComplete {
		var u *llm.ChatUsage
		if usage != nil {
			u = usageOf(usage, time.Time{})
		}
		return llm.UsageEvent(llm.LiveTurnComplete, u)
	}
	return llm.Unknown("serverContent", raw)
}

// modelTurn 模型输出按第一个有效 part 的类别产生音频、思考或文本增量
func modelTurn(content *genai.Content) (llm.LiveEvent, bool) {
	var (
		blocks []llm.ContentBlock
		kind   llm.LiveEventType
	)
	for _, p := range content.Parts {
		if p == nil {
			continue
		}
		var (
			b llm.ContentBlock
			t llm.LiveEventType
		)
		switch {
		case p.InlineData != nil && strings.HasPrefix(p.InlineData.MIMEType, "audio/"):
			src := llm.PCM(p.InlineData.Data, sampleRateOf(p.InlineData.MIMEType))
			b, t = llm.Audio(src), llm.LiveAudioDelta
		case p.Text != "" && p.Thought:
			b, t = &llm.ThinkingBlock{Thinking: p.Text}, llm.LiveThinkingDelta
		case p.Text != "":
			b, t = llm.Text(p.Text), llm.LiveTextDelta
		default:
			continue
		}
		if kind == "" {
			kind = t
		}
		if t == kind {
			blocks = append(blocks, b)
		}
	}
	if kind == "" {
		return llm.LiveEvent{}, false
	}
	return llm.ContentEvent(kind, llm.NewMsg(llm.RoleAssistant, "", blocks...), false), true
}

func toolCall(tc *genai.LiveServerToolCall) llm.LiveEvent {
	calls := make([]*llm.ToolUseBlock, 0, len(tc.FunctionCalls))
	for _, fc := range tc.FunctionCalls {
		if fc == nil {
			continue
		}
		id := fc.ID
		if id == "" {
			id = core.NewCallID()
		}
		input := fc.Args
		if input == nil {
			input = map[string]any{}
		}
		calls = append(calls, &llm.ToolUseBlock{ID: id, Name: fc.Name, Input: input, Content: codec.MustString(input)})
	}
	return llm.ToolCallEvent(true, calls...)
}

// sampleRateOf 从 "audio/pcm;rate=24000" 中读取采样率
func sampleRateOf(mimeType string) int {
	for _, param := range strings.Split(mimeType, ";")[1:] {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if ok && k == "rate" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return OutputSampleRate
}

// timeLeftMs 解析 "12.5s" 形式的剩余时间
func timeLeftMs(val any) int64 {
	switch v := val.(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0
		}
		return d.Milliseconds()
	case float64:
		return int64(v * 1000)
	default:
		return 0
	}
}

// liveErrorTypes Google RPC 状态映射
var liveErrorTypes = map[string]llm.LiveErrorType{
	"INVALID_ARGUMENT":    llm.LiveErrInvalidRequest,
	"FAILED_PRECONDITION": llm.LiveErrInvalidRequest,
	"UNAUTHENTICATED":     llm.LiveErrAuthentication,
	"PERMISSION_DENIED":   llm.LiveErrAuthentication,
	"RESOURCE_EXHAUSTED":  llm.LiveErrRateLimited,
	"NOT_FOUND":           llm.LiveErrSessionNotFound,
	"DEADLINE_EXCEEDED":   llm.LiveErrSessionExpired,
	"UNAVAILABLE":         llm.LiveErrConnection,
	"INTERNAL":            llm.LiveErrServer,
}
