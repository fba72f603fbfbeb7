package llm

import (
	"strings"

	"github.com/google/uuid"
)

// ═══════════════════════════════════════════════════════════════════════════
// 角色定义
// ═══════════════════════════════════════════════════════════════════════════

// Role 消息角色
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ═══════════════════════════════════════════════════════════════════════════
// 消息结构
// ═══════════════════════════════════════════════════════════════════════════

// Msg 一轮对话消息
//
// Msg 构建后视为不可变：格式化器只读取，不修改调用方传入的消息。
// Name 是说话人标识，多智能体历史折叠时使用；为空时回退到角色名。
// Metadata 原样携带，通常保存 Provider 原始 JSON 便于排查。
type Msg struct {
	ID       string         `json:"id,omitempty"`
	Role     Role           `json:"role"`
	Name     string         `json:"name,omitempty"`
	Content  []ContentBlock `json:"content,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewMsg 创建消息并生成 ID
func NewMsg(role Role, name string, blocks ...ContentBlock) Msg {
	return Msg{
		ID:      uuid.New().String(),
		Role:    role,
		Name:    name,
		Content: blocks,
	}
}

// UserMsg 创建用户文本消息
func UserMsg(name, text string) Msg {
	return NewMsg(RoleUser, name, &TextBlock{Text: text})
}

// AssistantMsg 创建助手文本消息
func AssistantMsg(name, text string) Msg {
	return NewMsg(RoleAssistant, name, &TextBlock{Text: text})
}

// SystemMsg 创建系统消息
func SystemMsg(text string) Msg {
	return NewMsg(RoleSystem, "system", &TextBlock{Text: text})
}

// Speaker 返回说话人名称，未设置时回退到角色
func (m *Msg) Speaker() string {
	if m.Name != "" {
		return m.Name
	}
	return string(m.Role)
}

// TextContent 拼接所有文本块（换行分隔）
func (m *Msg) TextContent() string {
	var parts []string
	for _, block := range m.Content {
		if tb, ok := block.(*TextBlock); ok {
			parts = append(parts, tb.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// FirstBlock 返回第一个内容块，没有则返回 nil
func (m *Msg) FirstBlock() ContentBlock {
	if len(m.Content) == 0 {
		return nil
	}
	return m.Content[0]
}

// HasToolUse 检查消息是否包含工具调用
func (m *Msg) HasToolUse() bool {
	return hasBlock[*ToolUseBlock](m.Content)
}

// HasToolResult 检查消息是否包含工具结果
func (m *Msg) HasToolResult() bool {
	return hasBlock[*ToolResultBlock](m.Content)
}

// HasToolBlocks 检查消息是否包含任何工具相关块
func (m *Msg) HasToolBlocks() bool {
	return m.HasToolUse() || m.HasToolResult()
}

// HasMedia 检查消息是否包含图像、音频或视频
func (m *Msg) HasMedia() bool {
	for _, block := range m.Content {
		switch block.(type) {
		case *ImageBlock, *AudioBlock, *VideoBlock:
			return true
		}
	}
	return false
}

// IsTextOnly 检查消息是否只包含文本块（忽略思考块）
func (m *Msg) IsTextOnly() bool {
	for _, block := range m.Content {
		switch block.(type) {
		case *TextBlock, *ThinkingBlock:
		default:
			return false
		}
	}
	return true
}

// ToolUses 获取消息中的工具调用
func (m *Msg) ToolUses() []*ToolUseBlock {
	return Blocks[*ToolUseBlock](m.Content)
}

// ToolResults 获取消息中的工具结果
func (m *Msg) ToolResults() []*ToolResultBlock {
	return Blocks[*ToolResultBlock](m.Content)
}

// Blocks 按类型过滤内容块
func Blocks[T ContentBlock](blocks []ContentBlock) []T {
	var result []T
	for _, block := range blocks {
		if b, ok := block.(T); ok {
			result = append(result, b)
		}
	}
	return result
}

func hasBlock[T ContentBlock](blocks []ContentBlock) bool {
	for _, block := range blocks {
		if _, ok := block.(T); ok {
			return true
		}
	}
	return false
}
