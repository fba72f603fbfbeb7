package core

import (
	"time"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
)

// ═══════════════════════════════════════════════════════════════════════════
// 对话格式化器接口
// ═══════════════════════════════════════════════════════════════════════════

// ChatFormatter 对话格式化器接口
//
// 每个 Provider 实现此接口来定义统一消息与 Provider 请求/响应之间的转换。
//
// 职责边界：
//   - ✅ 负责：消息格式转换、参数/工具序列化、响应解析
//   - ❌ 不负责：HTTP 通信、重试、会话状态
//
// 所有方法都是同步的内存转换，除本地媒体文件读取外不做 I/O。
// 输入消息不会被修改。
type ChatFormatter interface {
	// Format 将统一消息转换为 Provider 消息数组
	//
	// 系统消息的处理方式因 Provider 而异：
	//   - 内联：作为第一条 role=system 消息（DashScope、OpenAI、Ollama）
	//   - 独立字段：不出现在返回值中，由 SystemInstructor 提供（Gemini、Anthropic）
	Format(msgs []llm.Msg) ([]map[string]any, error)

	// ParseResponse 解析非流式响应
	//
	// 返回内容固定按 Thinking → Text → ToolUse 排序。
	// 结构性缺失（如 OpenAI 缺少 choices 键）返回 *llm.FormatterError，
	// 携带原始载荷与错误码。
	ParseResponse(raw map[string]any, start time.Time) (*llm.ChatResponse, error)

	// ApplyOptions 将生成参数写入请求参数
	//
	// opts 中设置的字段优先，其余取 defaults；未设置的字段不写入。
	ApplyOptions(param map[string]any, opts, defaults *llm.GenerateOptions)

	// ApplyTools 写入工具定义，tools 为空时不做任何修改
	ApplyTools(param map[string]any, tools []llm.ToolSchema)

	// ApplyToolChoice 写入工具选择策略
	//
	// Provider 不支持的模式记录 warn 日志并降级为 auto。
	ApplyToolChoice(param map[string]any, choice llm.ToolChoice)

	// Capabilities 静态能力声明
	Capabilities() llm.FormatterCapabilities
}

// SystemInstructor 系统提示使用独立请求字段的格式化器
//
// Gemini: {"systemInstruction": {"parts": [{"text": "..."}]}}
// Anthropic: {"system": "..."}
type SystemInstructor interface {
	// SystemField 请求中系统提示的字段名
	SystemField() string

	// SystemInstruction 提取系统提示，没有系统消息时 ok=false
	SystemInstruction(msgs []llm.Msg) (value any, ok bool)
}

// StreamChunkParser 支持 SSE 流式响应的格式化器
//
// 每个 data 行解析为一个增量 ChatResponse；不产生内容的块返回 nil。
// 工具调用参数分片遵循 llm.FragmentPlaceholder 约定，由 Accumulator 合并。
type StreamChunkParser interface {
	ParseStreamChunk(raw map[string]any, start time.Time) (*llm.ChatResponse, error)
}

// EndpointBuilder 请求端点
//
// 未实现时 Client 使用 "/chat/completions"。
type EndpointBuilder interface {
	Endpoint(model string, stream bool) string
}

// ErrorExtractor 从错误响应体中提取 Provider 错误码与消息
type ErrorExtractor interface {
	ExtractError(raw map[string]any) (code, message string)
}

// ═══════════════════════════════════════════════════════════════════════════
// 实时格式化器接口
// ═══════════════════════════════════════════════════════════════════════════

// LiveFormatter 实时会话格式化器接口
//
// 格式化器是事件识别器，不维护会话状态机；
// 可变状态（会话 ID、恢复句柄）保存在调用方持有的 llm.SessionState 中，
// 因此同一个格式化器实例可被多个会话共享。
type LiveFormatter interface {
	// BuildSessionConfig 构建会话初始化消息
	//
	// 未设置的配置项不写入；TurnDetection 为 Null 时显式关闭服务端 VAD。
	// state 中的恢复句柄（若有）写入 Provider 的恢复字段。
	BuildSessionConfig(state *llm.SessionState, cfg llm.LiveConfig, tools []llm.ToolSchema) ([]byte, error)

	// FormatInput 编码一条输入
	//
	// 只检查第一个内容块；不支持的输入返回 nil，调用方应静默忽略。
	FormatInput(msg llm.Msg) []byte

	// ParseOutput 解析一条服务端消息
	//
	// 全函数：无法识别或无法解析的数据返回 LiveUnknown 事件，永不 panic。
	ParseOutput(state *llm.SessionState, data []byte) llm.LiveEvent

	// Capabilities 静态能力声明
	Capabilities() llm.FormatterCapabilities
}

// BinaryFramer 输出二进制帧的实时格式化器（豆包）
//
// 会话层据此选择 websocket 二进制消息类型。
type BinaryFramer interface {
	BinaryFrames() bool
}
