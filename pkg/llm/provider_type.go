package llm

// ProviderType LLM Provider 类型
type ProviderType string

const (
	// ProviderTypeOpenAI OpenAI 原生 API
	ProviderTypeOpenAI ProviderType = "openai"

	// ProviderTypeAnthropic Anthropic 原生 API
	ProviderTypeAnthropic ProviderType = "anthropic"

	// ProviderTypeGemini Google Gemini API
	ProviderTypeGemini ProviderType = "gemini"

	// ProviderTypeDashScope 阿里云百炼 DashScope 原生 API（通义千问）
	ProviderTypeDashScope ProviderType = "dashscope"

	// ProviderTypeOllama Ollama 本地模型（原生 /api/chat）
	ProviderTypeOllama ProviderType = "ollama"

	// ProviderTypeDoubao 字节跳动豆包（对话走 OpenAI 兼容，实时语音走二进制协议）
	ProviderTypeDoubao ProviderType = "doubao"

	// ProviderTypeDeepSeek DeepSeek API（OpenAI 兼容）
	ProviderTypeDeepSeek ProviderType = "deepseek"

	// ProviderTypeOpenRouter OpenRouter API（OpenAI 兼容）
	ProviderTypeOpenRouter ProviderType = "openrouter"

	// ProviderTypeGLM 智谱 GLM API（OpenAI 兼容）
	ProviderTypeGLM ProviderType = "glm"

	// ProviderTypeMoonshot 月之暗面 Kimi API（OpenAI 兼容）
	ProviderTypeMoonshot ProviderType = "moonshot"
)

// String 返回字符串表示
func (t ProviderType) String() string {
	return string(t)
}

// IsOpenAICompatible 判断对话接口是否为 OpenAI 兼容协议
func (t ProviderType) IsOpenAICompatible() bool {
	switch t {
	case ProviderTypeOpenAI, ProviderTypeOpenRouter, ProviderTypeDeepSeek,
		ProviderTypeGLM, ProviderTypeDoubao, ProviderTypeMoonshot:
		return true
	default:
		return false
	}
}

// HasLive 判断是否提供实时语音会话格式化器
func (t ProviderType) HasLive() bool {
	switch t {
	case ProviderTypeOpenAI, ProviderTypeGemini, ProviderTypeDashScope, ProviderTypeDoubao:
		return true
	default:
		return false
	}
}

// DefaultBaseURL 返回对话接口默认 Base URL
func (t ProviderType) DefaultBaseURL() string {
	switch t {
	case ProviderTypeOpenAI:
		return "https://api.openai.com/v1"
	case ProviderTypeOpenRouter:
		return "https://openrouter.ai/api/v1"
	case ProviderTypeAnthropic:
		return "https://api.anthropic.com/v1"
	case ProviderTypeDeepSeek:
		return "https://api.deepseek.com/v1"
	case ProviderTypeOllama:
		return "http://localhost:11434"
	case ProviderTypeGemini:
		return "https://generativelanguage.googleapis.com/v1beta"
	case ProviderTypeDashScope:
		return "https://dashscope.aliyuncs.com/api/v1"
	case ProviderTypeGLM:
		return "https://open.bigmodel.cn/api/paas/v4"
	case ProviderTypeDoubao:
		return "https://ark.cn-beijing.volces.com/api/v3"
	case ProviderTypeMoonshot:
		return "https://api.moonshot.cn/v1"
	default:
		return ""
	}
}

// DefaultLiveURL 返回实时会话默认 WebSocket 地址
func (t ProviderType) DefaultLiveURL() string {
	switch t {
	case ProviderTypeOpenAI:
		return "wss://api.openai.com/v1/realtime"
	case ProviderTypeGemini:
		return "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	case ProviderTypeDashScope:
		return "wss://dashscope.aliyuncs.com/api-ws/v1/realtime"
	case ProviderTypeDoubao:
		return "wss://openspeech.bytedance.com/api/v3/realtime/dialogue"
	default:
		return ""
	}
}

// DefaultModel 返回默认模型
func (t ProviderType) DefaultModel() string {
	switch t {
	case ProviderTypeOpenAI:
		return "gpt-4o-mini"
	case ProviderTypeOpenRouter:
		return "anthropic/claude-haiku-4.5"
	case ProviderTypeAnthropic:
		return "claude-3-5-haiku-latest"
	case ProviderTypeDeepSeek:
		return "deepseek-chat"
	case ProviderTypeOllama:
		return "llama3.2"
	case ProviderTypeGemini:
		return "gemini-2.5-flash"
	case ProviderTypeDashScope:
		return "qwen-plus"
	case ProviderTypeGLM:
		return "glm-4-flash"
	case ProviderTypeDoubao:
		return "" // 需要用户指定 endpoint_id
	case ProviderTypeMoonshot:
		return "moonshot-v1-128k"
	default:
		return ""
	}
}
