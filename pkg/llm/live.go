package llm

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ═══════════════════════════════════════════════════════════════════════════
// 实时会话配置
// ═══════════════════════════════════════════════════════════════════════════

// TurnDetection 服务端语音活动检测（VAD）配置
type TurnDetection struct {
	// Type 检测类型："server_vad" 或 "semantic_vad"
	Type string `yaml:"type,omitempty" json:"type,omitempty"`

	Threshold         *float64 `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	PrefixPaddingMs   *int     `yaml:"prefix_padding_ms,omitempty" json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs *int     `yaml:"silence_duration_ms,omitempty" json:"silence_duration_ms,omitempty"`
	CreateResponse    *bool    `yaml:"create_response,omitempty" json:"create_response,omitempty"`
	InterruptResponse *bool    `yaml:"interrupt_response,omitempty" json:"interrupt_response,omitempty"`
}

// LiveConfig 统一的实时会话配置
//
// 未设置的字段不会出现在 Provider 的会话初始化消息中。
// TurnDetection 是三态：Unset 省略字段（使用服务端默认），
// Null 显式关闭服务端 VAD（由客户端发送 commit 等控制信号），Some 指定参数。
type LiveConfig struct {
	Model        string   `yaml:"model,omitempty" json:"model,omitempty"`
	Instructions string   `yaml:"instructions,omitempty" json:"instructions,omitempty"`
	Voice        string   `yaml:"voice,omitempty" json:"voice,omitempty"`
	Modalities   []string `yaml:"modalities,omitempty" json:"modalities,omitempty"`

	InputAudioFormat  string `yaml:"input_audio_format,omitempty" json:"input_audio_format,omitempty"`
	OutputAudioFormat string `yaml:"output_audio_format,omitempty" json:"output_audio_format,omitempty"`
	InputSampleRate   int    `yaml:"input_sample_rate,omitempty" json:"input_sample_rate,omitempty"`
	OutputSampleRate  int    `yaml:"output_sample_rate,omitempty" json:"output_sample_rate,omitempty"`

	TurnDetection Optional[TurnDetection] `yaml:"turn_detection,omitempty" json:"turn_detection,omitempty"`

	InputTranscription      bool   `yaml:"input_transcription,omitempty" json:"input_transcription,omitempty"`
	InputTranscriptionModel string `yaml:"input_transcription_model,omitempty" json:"input_transcription_model,omitempty"`
	OutputTranscription     bool   `yaml:"output_transcription,omitempty" json:"output_transcription,omitempty"`

	Temperature     *float64    `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	MaxOutputTokens *int        `yaml:"max_output_tokens,omitempty" json:"max_output_tokens,omitempty"`
	ToolChoice      *ToolChoice `yaml:"tool_choice,omitempty" json:"tool_choice,omitempty"`

	// EnableResumption 请求服务端下发会话恢复句柄（Gemini）
	EnableResumption bool `yaml:"enable_resumption,omitempty" json:"enable_resumption,omitempty"`

	// BotName 机器人名称（豆包）
	BotName string `yaml:"bot_name,omitempty" json:"bot_name,omitempty"`

	Extra map[string]any `yaml:"extra,omitempty" json:"extra,omitempty"`
}

// UnmarshalYAML 保留 turn_detection 的显式 null
//
// yaml.v3 遇到 null 节点不会调用字段的 UnmarshalYAML，需要在外层识别。
func (c *LiveConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain LiveConfig
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*c = LiveConfig(p)

	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "turn_detection" && node.Content[i+1].Tag == "!!null" {
			c.TurnDetection = Null[TurnDetection]()
		}
	}
	return nil
}

// SampleRateOr 返回输入采样率，未设置时使用 fallback
func (c LiveConfig) SampleRateOr(fallback int) int {
	if c.InputSampleRate > 0 {
		return c.InputSampleRate
	}
	return fallback
}

// LoadLiveConfigFile 从文件加载实时会话配置
func LoadLiveConfigFile(path string) (*LiveConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewConfigError("read live config file", err)
	}
	return LoadLiveConfigFromBytes(data, filepath.Ext(path))
}

// LoadLiveConfigFromBytes 从字节数据加载实时会话配置
func LoadLiveConfigFromBytes(data []byte, format string) (*LiveConfig, error) {
	cfg := &LiveConfig{}
	if err := decode(data, format, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// 会话状态
// ═══════════════════════════════════════════════════════════════════════════

// SessionState 实时会话的可变状态
//
// 由调用方持有并传入 BuildSessionConfig / ParseOutput，
// 格式化器实例本身不保存任何会话状态，可在多个会话间共享。
// 同一个 SessionState 不能被多个会话并发使用。
type SessionState struct {
	// SessionID 服务端分配的会话 ID
	SessionID string `json:"session_id,omitempty"`

	// Handle 最近一次收到的恢复句柄（Gemini newHandle / 豆包 dialog_id）
	Handle string `json:"handle,omitempty"`

	// Resumable 当前句柄是否可用于恢复
	Resumable bool `json:"resumable,omitempty"`
}

// UpdateHandle 更新恢复句柄，空句柄忽略
func (s *SessionState) UpdateHandle(handle string, resumable bool) {
	if s == nil || handle == "" {
		return
	}
	s.Handle = handle
	s.Resumable = resumable
}

// ResumeHandle 返回可用于恢复的句柄
func (s *SessionState) ResumeHandle() string {
	if s == nil {
		return ""
	}
	return s.Handle
}
