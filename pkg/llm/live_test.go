package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ═══════════════════════════════════════════════════════════════════════════
// Optional 三态测试
// ═══════════════════════════════════════════════════════════════════════════

func TestOptional(t *testing.T) {
	unset := Unset[int]()
	assert.False(t, unset.IsSet())
	assert.False(t, unset.IsNull())

	null := Null[int]()
	assert.True(t, null.IsSet())
	assert.True(t, null.IsNull())
	_, ok := null.Get()
	assert.False(t, ok)

	some := Some(3)
	v, ok := some.Get()
	assert.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestLoadLiveConfig_TurnDetection(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		format   string
		wantSet  bool
		wantNull bool
	}{
		{"YAML 省略", "voice: Chelsie\n", "yaml", false, false},
		{"YAML 显式 null", "voice: Chelsie\nturn_detection: null\n", "yaml", true, true},
		{"YAML 波浪号", "turn_detection: ~\n", "yml", true, true},
		{"YAML 有值", "turn_detection:\n  type: server_vad\n  silence_duration_ms: 800\n", ".yaml", true, false},
		{"JSON 省略", `{"voice":"alloy"}`, "json", false, false},
		{"JSON 显式 null", `{"turn_detection":null}`, "json", true, true},
		{"JSON 有值", `{"turn_detection":{"type":"server_vad","threshold":0.5}}`, "json", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadLiveConfigFromBytes([]byte(tt.data), tt.format)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSet, cfg.TurnDetection.IsSet())
			assert.Equal(t, tt.wantNull, cfg.TurnDetection.IsNull())
		})
	}

	t.Run("有值时字段完整", func(t *testing.T) {
		cfg, err := LoadLiveConfigFromBytes([]byte("turn_detection:\n  type: server_vad\n  silence_duration_ms: 800\n"), "yaml")
		require.NoError(t, err)
		td, ok := cfg.TurnDetection.Get()
		require.True(t, ok)
		assert.Equal(t, "server_vad", td.Type)
		require.NotNil(t, td.SilenceDurationMs)
		assert.Equal(t, 800, *td.SilenceDurationMs)
	})

	t.Run("不支持的格式", func(t *testing.T) {
		_, err := LoadLiveConfigFromBytes([]byte("x"), "toml")
		assert.True(t, IsConfigError(err))
	})
}

func TestSessionState(t *testing.T) {
	state := &SessionState{}
	state.UpdateHandle("", true)
	assert.Empty(t, state.ResumeHandle())

	state.UpdateHandle("h1", true)
	assert.Equal(t, "h1", state.ResumeHandle())
	assert.True(t, state.Resumable)

	var nilState *SessionState
	nilState.UpdateHandle("h2", true)
	assert.Empty(t, nilState.ResumeHandle())
}

// ═══════════════════════════════════════════════════════════════════════════
// 状态机测试
// ═══════════════════════════════════════════════════════════════════════════

func TestNextState(t *testing.T) {
	steps := []struct {
		event LiveEvent
		want  LiveState
	}{
		{SessionCreated("s1"), StateSessionActive},
		{SimpleEvent(LiveSpeechStarted), StateListening},
		{SimpleEvent(LiveSpeechStopped), StateSessionActive},
		{TextDelta("hi", false), StateSpeaking},
		{ToolCallEvent(true, ToolUse("c1", "f", nil)), StateToolPending},
		{ToolCallCancellation([]string{"c1"}), StateSessionActive},
		{SimpleEvent(LiveTurnComplete), StateSessionActive},
		{Unknown("x", nil), StateSessionActive},
		{SimpleEvent(LiveSessionEnded), StateSessionEnded},
		{TextDelta("late", false), StateSessionEnded},
	}

	state := StateSessionStarting
	for _, step := range steps {
		state = NextState(state, step.event)
		assert.Equal(t, step.want, state, "after %s", step.event.Type)
	}

	assert.Equal(t, StateError, NextState(StateSpeaking, ErrorEvent(LiveErrServer, "500", "boom")))
}

func TestLookupErrorType(t *testing.T) {
	table := map[string]LiveErrorType{"rate_limit_exceeded": LiveErrRateLimited}

	assert.Equal(t, LiveErrRateLimited, LookupErrorType(table, "rate_limit_exceeded"))
	assert.Equal(t, LiveErrServer, LookupErrorType(table, "whatever"))
	assert.Equal(t, LiveErrServer, LookupErrorType(nil, ""))
}

func TestLiveEvent_Accessors(t *testing.T) {
	e := AudioDelta(NewMsg(RoleAssistant, "", Audio(PCM([]byte{1, 2}, 24000))), false)
	assert.Equal(t, []byte{1, 2}, e.AudioData())
	assert.Empty(t, e.Text())

	td := OutputTranscription("你好", true)
	assert.Equal(t, "你好", td.Text())
	assert.True(t, td.IsFinal)
	assert.Nil(t, Unknown("x", nil).AudioData())
}

// ═══════════════════════════════════════════════════════════════════════════
// Config 测试
// ═══════════════════════════════════════════════════════════════════════════

func TestLoadConfigFromBytes(t *testing.T) {
	data := `
type: dashscope
api_key: sk-test
timeout: 30s
formatter:
  multi_agent: true
  local_media: file_url
  max_image_bytes: 512000
defaults:
  temperature: 0.3
live:
  voice: Chelsie
  turn_detection: null
`
	cfg, err := LoadConfigFromBytes([]byte(data), "yaml")
	require.NoError(t, err)

	assert.Equal(t, ProviderTypeDashScope, cfg.Type)
	assert.Equal(t, "https://dashscope.aliyuncs.com/api/v1", cfg.BaseURL)
	assert.Equal(t, "qwen-plus", cfg.Model)
	assert.Equal(t, int64(30e9), int64(cfg.TimeoutDuration()))
	assert.True(t, cfg.Formatter.MultiAgent)
	assert.Equal(t, LocalMediaFileURL, cfg.Formatter.LocalMedia)
	assert.Equal(t, DefaultHistoryPrompt, cfg.Formatter.HistoryPreamble())
	require.NotNil(t, cfg.Defaults)
	assert.Equal(t, 0.3, *cfg.Defaults.Temperature)
	require.NotNil(t, cfg.Live)
	assert.True(t, cfg.Live.TurnDetection.IsNull())
}

func TestConfig_Validate(t *testing.T) {
	_, err := LoadConfigFromBytes([]byte(`{"type":"openai","timeout":"soon"}`), "json")
	assert.True(t, IsConfigError(err))

	_, err = LoadConfigFromBytes([]byte("formatter:\n  local_media: ftp\n"), "yaml")
	assert.True(t, IsConfigError(err))

	cfg := DefaultConfig()
	assert.Equal(t, ProviderTypeOpenAI, cfg.Type)
	assert.NoError(t, cfg.Validate())
}
