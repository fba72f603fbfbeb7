package gemini

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/codec"
)

func decode(t *testing.T, data []byte) map[string]any {
	t.Helper()
	require.NotNil(t, data)
	m, err := codec.ParseObject(data)
	require.NoError(t, err)
	return m
}

// ═══════════════════════════════════════════════════════════════════════════
// BuildSessionConfig 测试
// ═══════════════════════════════════════════════════════════════════════════

func TestLiveFormatter_BuildSessionConfig(t *testing.T) {
	f := NewLive()

	t.Run("完整配置", func(t *testing.T) {
		cfg := llm.LiveConfig{
			Model:               "gemini-2.0-flash-live-001",
			Instructions:        "be brief",
			Voice:               "Puck",
			Modalities:          []string{"audio"},
			Temperature:         llm.Ptr(0.4),
			InputTranscription:  true,
			OutputTranscription: true,
			TurnDetection:       llm.Some(llm.TurnDetection{SilenceDurationMs: llm.Ptr(500)}),
		}
		tools := []llm.ToolSchema{{Name: "lookup"}}

		data, err := f.BuildSessionConfig(&llm.SessionState{Handle: "h-1", Resumable: true}, cfg, tools)
		require.NoError(t, err)
		setup := decode(t, data)["setup"].(map[string]any)

		assert.Equal(t, "models/gemini-2.0-flash-live-001", setup["model"])
		gc := setup["generationConfig"].(map[string]any)
		assert.Equal(t, []any{"AUDIO"}, gc["responseModalities"])
		assert.Equal(t, 0.4, gc["temperature"])
		assert.Equal(t, "Puck", gc["speechConfig"].(map[string]any)["voiceConfig"].(map[string]any)["prebuiltVoiceConfig"].(map[string]any)["voiceName"])
		assert.Equal(t, map[string]any{"parts": []any{map[string]any{"text": "be brief"}}}, setup["systemInstruction"])
		assert.Equal(t, []any{map[string]any{"functionDeclarations": []any{map[string]any{"name": "lookup"}}}}, setup["tools"])
		assert.Equal(t, map[string]any{"automaticActivityDetection": map[string]any{"silenceDurationMs": float64(500)}}, setup["realtimeInputConfig"])
		assert.Equal(t, map[string]any{}, setup["inputAudioTranscription"])
		assert.Equal(t, map[string]any{}, setup["outputAudioTranscription"])
		assert.Equal(t, map[string]any{"handle": "h-1"}, setup["sessionResumption"])
	})

	t.Run("关闭自动活动检测", func(t *testing.T) {
		data, err := f.BuildSessionConfig(nil, llm.LiveConfig{TurnDetection: llm.Null[llm.TurnDetection](), EnableResumption: true}, nil)
		require.NoError(t, err)
		setup := decode(t, data)["setup"].(map[string]any)
		assert.Equal(t, map[string]any{"automaticActivityDetection": map[string]any{"disabled": true}}, setup["realtimeInputConfig"])
		assert.Equal(t, map[string]any{}, setup["sessionResumption"])
		assert.NotContains(t, setup, "generationConfig")
	})
}

// ═══════════════════════════════════════════════════════════════════════════
// FormatInput 测试
// ═══════════════════════════════════════════════════════════════════════════

func TestLiveFormatter_FormatInput(t *testing.T) {
	f := NewLive()

	t.Run("音频带采样率", func(t *testing.T) {
		m := decode(t, f.FormatInput(llm.NewMsg(llm.RoleUser, "", llm.Audio(llm.PCM([]byte{1, 2}, 24000)))))
		audio := m["realtimeInput"].(map[string]any)["audio"].(map[string]any)
		assert.Equal(t, "audio/pcm;rate=24000", audio["mimeType"])
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{1, 2}), audio["data"])

		m = decode(t, f.FormatInput(llm.NewMsg(llm.RoleUser, "", llm.Audio(llm.FromBase64("AAAA", "")))))
		assert.Equal(t, "audio/pcm;rate=16000", m["realtimeInput"].(map[string]any)["audio"].(map[string]any)["mimeType"])
	})

	t.Run("图像帧与文本", func(t *testing.T) {
		m := decode(t, f.FormatInput(llm.NewMsg(llm.RoleUser, "", llm.Image(llm.FromBase64("AAAA", "image/jpeg")))))
		assert.Equal(t, map[string]any{"data": "AAAA", "mimeType": "image/jpeg"}, m["realtimeInput"].(map[string]any)["video"])

		m = decode(t, f.FormatInput(llm.UserMsg("", "hello")))
		assert.Equal(t, map[string]any{"text": "hello"}, m["realtimeInput"])
	})

	t.Run("工具结果", func(t *testing.T) {
		m := decode(t, f.FormatInput(llm.NewMsg(llm.RoleTool, "",
			llm.ToolResult("c1", "a", llm.Text("1")),
			llm.ToolResult("c2", "b", llm.Text("2")),
		)))
		responses := m["toolResponse"].(map[string]any)["functionResponses"].([]any)
		require.Len(t, responses, 2)
		assert.Equal(t, map[string]any{"id": "c2", "name": "b", "response": map[string]any{"output": "2"}}, responses[1])
	})

	t.Run("控制信号", func(t *testing.T) {
		m := decode(t, f.FormatInput(llm.NewMsg(llm.RoleUser, "", llm.Control(llm.ControlCommit))))
		assert.Contains(t, m["realtimeInput"], "activityEnd")
		m = decode(t, f.FormatInput(llm.NewMsg(llm.RoleUser, "", llm.Control(llm.ControlInterrupt))))
		assert.Contains(t, m["realtimeInput"], "activityStart")
		m = decode(t, f.FormatInput(llm.NewMsg(llm.RoleUser, "", llm.Control(llm.ControlCreateResponse))))
		assert.Equal(t, map[string]any{"turnComplete": true}, m["clientContent"])

		assert.Nil(t, f.FormatInput(llm.NewMsg(llm.RoleUser, "", llm.Control(llm.ControlClear))))
	})
}

// ═══════════════════════════════════════════════════════════════════════════
// ParseOutput 测试
// ═══════════════════════════════════════════════════════════════════════════

func TestLiveFormatter_ParseOutput(t *testing.T) {
	f := NewLive()

	t.Run("setupComplete", func(t *testing.T) {
		e := f.ParseOutput(&llm.SessionState{}, []byte(`{"setupComplete":{}}`))
		assert.Equal(t, llm.LiveSessionCreated, e.Type)
	})

	t.Run("模型音频", func(t *testing.T) {
		b64 := base64.StdEncoding.EncodeToString([]byte{7, 7, 7})
		e := f.ParseOutput(nil, []byte(`{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"`+b64+`"}}]}}}`))
		assert.Equal(t, llm.LiveAudioDelta, e.Type)
		assert.Equal(t, []byte{7, 7, 7}, e.AudioData())
		assert.Equal(t, 24000, e.Msg.Content[0].(*llm.AudioBlock).Source.(*llm.RawSource).SampleRate)
	})

	t.Run("文本与思考", func(t *testing.T) {
		e := f.ParseOutput(nil, []byte(`{"serverContent":{"modelTurn":{"parts":[{"text":"hi"},{"text":" there"}]}}}`))
		assert.Equal(t, llm.LiveTextDelta, e.Type)
		assert.Equal(t, "hi\n there", e.Text())

		e = f.ParseOutput(nil, []byte(`{"serverContent":{"modelTurn":{"parts":[{"text":"plan","thought":true}]}}}`))
		assert.Equal(t, llm.LiveThinkingDelta, e.Type)
	})

	t.Run("serverContent 优先级", func(t *testing.T) {
		e := f.ParseOutput(nil, []byte(`{"serverContent":{"interrupted":true,"modelTurn":{"parts":[{"text":"x"}]}}}`))
		assert.Equal(t, llm.LiveInterrupted, e.Type)

		e = f.ParseOutput(nil, []byte(`{"serverContent":{"inputTranscription":{"text":"hello","finished":true},"turnComplete":true}}`))
		assert.Equal(t, llm.LiveInputTranscription, e.Type)
		assert.True(t, e.IsFinal)
		assert.Equal(t, "hello", e.Text())

		e = f.ParseOutput(nil, []byte(`{"serverContent":{"outputTranscription":{"text":"ok"}}}`))
		assert.Equal(t, llm.LiveOutputTranscription, e.Type)
		assert.False(t, e.IsFinal)

		e = f.ParseOutput(nil, []byte(`{"serverContent":{"generationComplete":true,"turnComplete":true}}`))
		assert.Equal(t, llm.LiveGenerationComplete, e.Type)

		e = f.ParseOutput(nil, []byte(`{"serverContent":{"turnComplete":true},"usageMetadata":{"promptTokenCount":4,"responseTokenCount":6}}`))
		assert.Equal(t, llm.LiveTurnComplete, e.Type)
		require.NotNil(t, e.Usage)
		assert.Equal(t, int64(10), e.Usage.TotalTokens())
	})

	t.Run("工具调用与取消", func(t *testing.T) {
		e := f.ParseOutput(nil, []byte(`{"toolCall":{"functionCalls":[{"id":"fc-1","name":"lookup","args":{"k":"v"}},{"name":"noid"}]}}`))
		assert.Equal(t, llm.LiveToolCall, e.Type)
		assert.True(t, e.IsFinal)
		calls := e.Msg.ToolUses()
		require.Len(t, calls, 2)
		assert.Equal(t, "fc-1", calls[0].ID)
		assert.Equal(t, map[string]any{"k": "v"}, calls[0].Input)
		assert.NotEmpty(t, calls[1].ID)
		assert.Equal(t, map[string]any{}, calls[1].Input)

		e = f.ParseOutput(nil, []byte(`{"toolCallCancellation":{"ids":["fc-1"]}}`))
		assert.Equal(t, llm.LiveToolCallCancellation, e.Type)
		assert.Equal(t, []string{"fc-1"}, e.CancelledIDs)
	})

	t.Run("会话恢复句柄写入状态", func(t *testing.T) {
		state := &llm.SessionState{}
		e := f.ParseOutput(state, []byte(`{"sessionResumptionUpdate":{"newHandle":"h-2","resumable":true}}`))
		assert.Equal(t, llm.LiveSessionResumption, e.Type)
		assert.Equal(t, "h-2", e.Handle)
		assert.Equal(t, "h-2", state.ResumeHandle())

		e = f.ParseOutput(state, []byte(`{"sessionResumptionUpdate":{"newHandle":"h-3","resumable":false}}`))
		assert.False(t, e.Resumable)
		assert.Equal(t, "h-2", state.ResumeHandle())
	})

	t.Run("goAway", func(t *testing.T) {
		e := f.ParseOutput(nil, []byte(`{"goAway":{"timeLeft":"12.5s"}}`))
		assert.Equal(t, llm.LiveGoAway, e.Type)
		assert.Equal(t, int64(12500), e.TimeLeftMs)
	})

	t.Run("使用量与错误", func(t *testing.T) {
		e := f.ParseOutput(nil, []byte(`{"usageMetadata":{"promptTokenCount":1,"responseTokenCount":2}}`))
		assert.Equal(t, llm.LiveUsageMetadata, e.Type)
		assert.Equal(t, int64(3), e.Usage.TotalTokens())

		e = f.ParseOutput(nil, []byte(`{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`))
		assert.Equal(t, llm.LiveError, e.Type)
		assert.Equal(t, llm.LiveErrRateLimited, e.ErrorType)
		assert.Equal(t, "RESOURCE_EXHAUSTED", e.ErrorCode)
	})

	t.Run("无法识别", func(t *testing.T) {
		assert.Equal(t, llm.LiveUnknown, f.ParseOutput(nil, []byte(`{}`)).Type)
		e := f.ParseOutput(nil, []byte(`not json`))
		assert.Equal(t, "invalid_json", e.Label)
		assert.Equal(t, llm.LiveUnknown, f.ParseOutput(nil, nil).Type)
	})
}
