package llm

import "strconv"

// ═══════════════════════════════════════════════════════════════════════════
// 内容块类型
// ═══════════════════════════════════════════════════════════════════════════

// BlockType 内容块类型标签
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockImage      BlockType = "image"
	BlockAudio      BlockType = "audio"
	BlockVideo      BlockType = "video"
	BlockThinking   BlockType = "thinking"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
	BlockControl    BlockType = "control"
)

// AllBlockTypes 全部内容块类型
var AllBlockTypes = []BlockType{
	BlockText, BlockImage, BlockAudio, BlockVideo,
	BlockThinking, BlockToolUse, BlockToolResult, BlockControl,
}

// ContentBlock 内容块接口
//
// 封闭的变体集合：只有本包内的类型可以实现（isContentBlock 未导出）。
// 格式化器对其做 type switch，每个分支都必须显式处理或显式忽略。
type ContentBlock interface {
	BlockType() BlockType
	isContentBlock()
}

// TextBlock 文本块
type TextBlock struct {
	Text string `json:"text"`
}

// ImageBlock 图像块
type ImageBlock struct {
	Source Source `json:"source"`
}

// AudioBlock 音频块
type AudioBlock struct {
	Source Source `json:"source"`
}

// VideoBlock 视频块
type VideoBlock struct {
	Source Source `json:"source"`
}

// ThinkingBlock 思考/推理内容块
//
// 对应 Anthropic extended thinking、Gemini thought、DeepSeek/Qwen reasoning_content。
// Signature 保存 Provider 返回的签名（Anthropic signature / Gemini thoughtSignature）。
type ThinkingBlock struct {
	Thinking  string `json:"thinking"`
	Signature string `json:"signature,omitempty"`
}

// ToolUseBlock 工具调用块
//
// ID 是与后续 ToolResultBlock 关联的键。
// Content 保留原始参数字符串：流式分片解析失败时依赖它重新拼接。
// Index 是 Provider 流中的调用序号（OpenAI tool_calls[].index、Anthropic 内容块 index），
// 只出现在流式增量上。
type ToolUseBlock struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Input   map[string]any `json:"input"`
	Content string         `json:"content,omitempty"`
	Index   *int           `json:"index,omitempty"`
}

// IsFragment 是否为待合并的参数分片
func (b *ToolUseBlock) IsFragment() bool {
	return b.Name == FragmentPlaceholder
}

// ToolResultBlock 工具结果块
//
// Output 可以包含文本、图像、音频、视频块，但不会包含工具调用或工具结果。
type ToolResultBlock struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Output  []ContentBlock `json:"output"`
	IsError bool           `json:"is_error,omitempty"`
}

// ControlType 实时会话控制信号
type ControlType string

const (
	ControlInterrupt      ControlType = "interrupt"
	ControlCommit         ControlType = "commit"
	ControlClear          ControlType = "clear"
	ControlCreateResponse ControlType = "create_response"
)

// ControlBlock 实时会话控制块
type ControlBlock struct {
	Type ControlType `json:"control_type"`
}

// FragmentPlaceholder 流式工具调用分片的保留名称
const FragmentPlaceholder = "__fragment__"

func (b *TextBlock) BlockType() BlockType       { return BlockText }
func (b *ImageBlock) BlockType() BlockType      { return BlockImage }
func (b *AudioBlock) BlockType() BlockType      { return BlockAudio }
func (b *VideoBlock) BlockType() BlockType      { return BlockVideo }
func (b *ThinkingBlock) BlockType() BlockType   { return BlockThinking }
func (b *ToolUseBlock) BlockType() BlockType    { return BlockToolUse }
func (b *ToolResultBlock) BlockType() BlockType { return BlockToolResult }
func (b *ControlBlock) BlockType() BlockType    { return BlockControl }

func (*TextBlock) isContentBlock()       {}
func (*ImageBlock) isContentBlock()      {}
func (*AudioBlock) isContentBlock()      {}
func (*VideoBlock) isContentBlock()      {}
func (*ThinkingBlock) isContentBlock()   {}
func (*ToolUseBlock) isContentBlock()    {}
func (*ToolResultBlock) isContentBlock() {}
func (*ControlBlock) isContentBlock()    {}

// ═══════════════════════════════════════════════════════════════════════════
// 构造函数
// ═══════════════════════════════════════════════════════════════════════════

// Text 创建文本块
func Text(text string) *TextBlock { return &TextBlock{Text: text} }

// Image 创建图像块
func Image(src Source) *ImageBlock { return &ImageBlock{Source: src} }

// Audio 创建音频块
func Audio(src Source) *AudioBlock { return &AudioBlock{Source: src} }

// Video 创建视频块
func Video(src Source) *VideoBlock { return &VideoBlock{Source: src} }

// Control 创建控制块
func Control(t ControlType) *ControlBlock { return &ControlBlock{Type: t} }

// ToolUse 创建工具调用块
func ToolUse(id, name string, input map[string]any) *ToolUseBlock {
	return &ToolUseBlock{ID: id, Name: name, Input: input}
}

// ToolResult 创建工具结果块
//
// 嵌套的工具结果被展开为其输出，嵌套的工具调用被丢弃，
// 保证 Output 中只有文本与媒体块。
func ToolResult(id, name string, output ...ContentBlock) *ToolResultBlock {
	return &ToolResultBlock{ID: id, Name: name, Output: flattenOutput(output)}
}

func flattenOutput(blocks []ContentBlock) []ContentBlock {
	result := make([]ContentBlock, 0, len(blocks))
	for _, block := range blocks {
		switch b := block.(type) {
		case *ToolResultBlock:
			result = append(result, flattenOutput(b.Output)...)
		case *ToolUseBlock, *ControlBlock, nil:
		default:
			result = append(result, b)
		}
	}
	return result
}

// Validate 检查工具结果输出是否只包含允许的块
func (b *ToolResultBlock) Validate() error {
	for i, block := range b.Output {
		switch block.(type) {
		case *TextBlock, *ImageBlock, *AudioBlock, *VideoBlock, *ThinkingBlock:
		case nil:
			return NewFormatterError("", "nil block in tool result output", nil).WithCode("invalid_tool_result")
		default:
			return NewFormatterError("", "invalid tool result output", nil).
				WithCode("invalid_tool_result").
				WithPayload(string(block.BlockType()) + " at output[" + strconv.Itoa(i) + "]")
		}
	}
	return nil
}
