// Package llm 定义多 Provider 消息格式化层的统一数据模型
//
// 本包只包含数据类型与纯函数，不做任何网络通信：
//   - [Msg] 与 [ContentBlock]：统一的对话消息与内容块
//   - [Source]：媒体来源（URL、本地路径、base64、原始字节）
//   - [ToolSchema]、[ToolChoice]、[GenerateOptions]：工具与生成参数
//   - [ChatResponse]、[ChatUsage]：解析后的响应
//   - [LiveEvent]、[LiveConfig]、[SessionState]：实时会话事件与配置
//   - [Optional]：区分未设置、显式 null 与有值的三态字段
//
// 完整使用示例请参考 example_test.go。
//
// # 内容块
//
// 一条消息由有序的内容块组成：文本、图像、音频、视频、思考、工具调用、工具结果，
// 以及实时会话专用的控制信号。响应中的内容块固定按 思考 → 文本 → 工具调用 排序。
//
// # Provider 类型
//
// [ProviderType] 枚举支持的 Provider：
//   - OpenAI 及兼容服务（DeepSeek、OpenRouter、GLM、Moonshot、豆包对话）
//   - DashScope（通义千问）
//   - Gemini
//   - Anthropic
//   - Ollama
//
// 实时语音会话支持 OpenAI、DashScope、Gemini 与豆包。
//
// # 子包
//
//   - [pkg/llm/codec]: JSON 编解码（sonic）
//   - [pkg/llm/media]: 媒体来源解析与 base64 / data URL 转换
//   - [pkg/llm/frame]: 豆包实时对话二进制帧
//   - [pkg/llm/core]: 格式化器接口、多智能体折叠、流式聚合、HTTP 客户端
//   - [pkg/llm/protocol/...]: 各 Provider 的对话与实时格式化器
//   - [pkg/llm/provider]: 按类型创建格式化器与客户端
//   - [pkg/llm/live]: websocket 实时会话
//   - [pkg/llm/fixture]: 跨 Provider 的格式化真值用例
//
// # 包文件组织
//
//   - message.go: Msg、Role
//   - block.go: ContentBlock 及各内容块
//   - source.go: Source
//   - types.go: ToolSchema、GenerateOptions、ChatResponse、FormatterCapabilities
//   - event.go: LiveEvent、LiveState 状态机
//   - live.go: LiveConfig、SessionState
//   - optional.go: Optional
//   - config.go: Config、FormatterConfig 与加载
//   - errors.go: 错误类型
//   - provider_type.go: ProviderType 枚举
package llm
