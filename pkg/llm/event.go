package llm

// ═══════════════════════════════════════════════════════════════════════════
// 实时事件类型 - 统一的 Live 会话事件系统
// ═══════════════════════════════════════════════════════════════════════════

// LiveEventType 实时事件类型
type LiveEventType string

const (
	LiveSessionCreated       LiveEventType = "session_created"
	LiveSessionUpdated       LiveEventType = "session_updated"
	LiveSessionEnded         LiveEventType = "session_ended"
	LiveSessionResumption    LiveEventType = "session_resumption"
	LiveSpeechStarted        LiveEventType = "speech_started"
	LiveSpeechStopped        LiveEventType = "speech_stopped"
	LiveInterrupted          LiveEventType = "interrupted"
	LiveAudioDelta           LiveEventType = "audio_delta"
	LiveTextDelta            LiveEventType = "text_delta"
	LiveThinkingDelta        LiveEventType = "thinking_delta"
	LiveInputTranscription   LiveEventType = "input_transcription"
	LiveOutputTranscription  LiveEventType = "output_transcription"
	LiveToolCall             LiveEventType = "tool_call"
	LiveToolCallCancellation LiveEventType = "tool_call_cancellation"
	LiveTurnComplete         LiveEventType = "turn_complete"
	LiveGenerationComplete   LiveEventType = "generation_complete"
	LiveUsageMetadata        LiveEventType = "usage_metadata"
	LiveGoAway               LiveEventType = "go_away"
	LiveError                LiveEventType = "error"
	LiveUnknown              LiveEventType = "unknown"
)

// LiveErrorType 实时会话错误分类
type LiveErrorType string

const (
	LiveErrInvalidRequest   LiveErrorType = "invalid_request"
	LiveErrAuthentication   LiveErrorType = "authentication"
	LiveErrRateLimited      LiveErrorType = "rate_limited"
	LiveErrQuotaExceeded    LiveErrorType = "quota_exceeded"
	LiveErrSessionExpired   LiveErrorType = "session_expired"
	LiveErrSessionNotFound  LiveErrorType = "session_not_found"
	LiveErrConnection       LiveErrorType = "connection"
	LiveErrContentFiltered  LiveErrorType = "content_filtered"
	LiveErrServer           LiveErrorType = "server_error"
)

// LookupErrorType 通过映射表查找错误类型，未命中返回 LiveErrServer
func LookupErrorType(table map[string]LiveErrorType, code string) LiveErrorType {
	if t, ok := table[code]; ok {
		return t
	}
	return LiveErrServer
}

// LiveEvent 统一的实时事件
//
// 只由 LiveFormatter.ParseOutput 产生，创建后不再修改。
// 不同变体使用不同字段：
//
//	audio_delta / text_delta / thinking_delta / *_transcription / tool_call → Msg + IsFinal
//	session_resumption → Handle + Resumable
//	tool_call_cancellation → CancelledIDs
//	usage_metadata / turn_complete → Usage
//	go_away → TimeLeftMs
//	error → ErrorType + ErrorCode + Message
//	unknown → Label + Raw
type LiveEvent struct {
	Type LiveEventType `json:"type"`

	Msg     *Msg `json:"msg,omitempty"`
	IsFinal bool `json:"is_final,omitempty"`

	SessionID string `json:"session_id,omitempty"`
	Handle    string `json:"handle,omitempty"`
	Resumable bool   `json:"resumable,omitempty"`

	CancelledIDs []string   `json:"cancelled_ids,omitempty"`
	Usage        *ChatUsage `json:"usage,omitempty"`
	TimeLeftMs   int64      `json:"time_left_ms,omitempty"`

	ErrorType LiveErrorType `json:"error_type,omitempty"`
	ErrorCode string        `json:"error_code,omitempty"`
	Message   string        `json:"message,omitempty"`

	Label string `json:"label,omitempty"`
	Raw   []byte `json:"raw,omitempty"`
}

// ═══════════════════════════════════════════════════════════════════════════
// 构造函数
// ═══════════════════════════════════════════════════════════════════════════

// SimpleEvent 创建不携带数据的事件
func SimpleEvent(t LiveEventType) LiveEvent {
	return LiveEvent{Type: t}
}

// SessionCreated 会话建立
func SessionCreated(sessionID string) LiveEvent {
	return LiveEvent{Type: LiveSessionCreated, SessionID: sessionID}
}

// SessionResumption 会话恢复句柄更新
func SessionResumption(handle string, resumable bool) LiveEvent {
	return LiveEvent{Type: LiveSessionResumption, Handle: handle, Resumable: resumable}
}

// ContentEvent 携带消息的增量事件
func ContentEvent(t LiveEventType, msg Msg, final bool) LiveEvent {
	return LiveEvent{Type: t, Msg: &msg, IsFinal: final}
}

// AudioDelta 音频增量
func AudioDelta(msg Msg, final bool) LiveEvent {
	return ContentEvent(LiveAudioDelta, msg, final)
}

// TextDelta 文本增量
func TextDelta(text string, final bool) LiveEvent {
	return ContentEvent(LiveTextDelta, NewMsg(RoleAssistant, "", Text(text)), final)
}

// ThinkingDelta 思考增量
func ThinkingDelta(text string, final bool) LiveEvent {
	return ContentEvent(LiveThinkingDelta, NewMsg(RoleAssistant, "", &ThinkingBlock{Thinking: text}), final)
}

// InputTranscription 用户语音转写
func InputTranscription(text string, final bool) LiveEvent {
	return ContentEvent(LiveInputTranscription, NewMsg(RoleUser, "", Text(text)), final)
}

// OutputTranscription 模型语音转写
func OutputTranscription(text string, final bool) LiveEvent {
	return ContentEvent(LiveOutputTranscription, NewMsg(RoleAssistant, "", Text(text)), final)
}

// ToolCallEvent 工具调用
func ToolCallEvent(final bool, calls ...*ToolUseBlock) LiveEvent {
	blocks := make([]ContentBlock, 0, len(calls))
	for _, c := range calls {
		blocks = append(blocks, c)
	}
	return ContentEvent(LiveToolCall, NewMsg(RoleAssistant, "", blocks...), final)
}

// ToolCallCancellation 取消工具调用
func ToolCallCancellation(ids []string) LiveEvent {
	return LiveEvent{Type: LiveToolCallCancellation, CancelledIDs: ids}
}

// UsageEvent 使用量
func UsageEvent(t LiveEventType, usage *ChatUsage) LiveEvent {
	return LiveEvent{Type: t, Usage: usage}
}

// GoAway 服务端即将断开
func GoAway(ms int64) LiveEvent {
	return LiveEvent{Type: LiveGoAway, TimeLeftMs: ms}
}

// ErrorEvent 错误事件
func ErrorEvent(t LiveErrorType, code, message string) LiveEvent {
	return LiveEvent{Type: LiveError, ErrorType: t, ErrorCode: code, Message: message}
}

// Unknown 未识别事件，保留原始标签与载荷
func Unknown(label string, raw []byte) LiveEvent {
	return LiveEvent{Type: LiveUnknown, Label: label, Raw: raw}
}

// Text 提取事件消息中的文本
func (e LiveEvent) Text() string {
	if e.Msg == nil {
		return ""
	}
	return e.Msg.TextContent()
}

// AudioData 提取事件消息中的原始音频
func (e LiveEvent) AudioData() []byte {
	if e.Msg == nil {
		return nil
	}
	for _, a := range Blocks[*AudioBlock](e.Msg.Content) {
		if raw, ok := a.Source.(*RawSource); ok {
			return raw.Data
		}
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// 会话状态机
// ═══════════════════════════════════════════════════════════════════════════

// LiveState 实时会话状态
//
// 格式化器只识别事件，不维护状态；状态机由会话管理方持有。
type LiveState string

const (
	StateConnecting      LiveState = "connecting"
	StateConnected       LiveState = "connected"
	StateSessionStarting LiveState = "session_starting"
	StateSessionActive   LiveState = "session_active"
	StateSpeaking        LiveState = "speaking"
	StateListening       LiveState = "listening"
	StateToolPending     LiveState = "tool_pending"
	StateSessionEnded    LiveState = "session_ended"
	StateError           LiveState = "error"
)

// Terminal 是否为终止状态
func (s LiveState) Terminal() bool {
	return s == StateSessionEnded || s == StateError
}

// NextState 根据事件推导下一个状态
//
// 终止状态不再迁移；无关事件保持当前状态。
func NextState(current LiveState, e LiveEvent) LiveState {
	if current.Terminal() {
		return current
	}
	switch e.Type {
	case LiveSessionCreated, LiveSessionUpdated, LiveSessionResumption:
		if current == StateConnecting || current == StateConnected || current == StateSessionStarting {
			return StateSessionActive
		}
	case LiveSpeechStarted:
		return StateListening
	case LiveSpeechStopped, LiveInterrupted, LiveTurnComplete, LiveGenerationComplete:
		return StateSessionActive
	case LiveAudioDelta, LiveTextDelta, LiveOutputTranscription:
		return StateSpeaking
	case LiveToolCall:
		return StateToolPending
	case LiveToolCallCancellation:
		if current == StateToolPending {
			return StateSessionActive
		}
	case LiveSessionEnded:
		return StateSessionEnded
	case LiveError:
		return StateError
	}
	return current
}
