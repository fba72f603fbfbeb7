package core

import (
	"strings"

	"go.uber.org/zap"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
)

// ═══════════════════════════════════════════════════════════════════════════
// 消息分组
// ═══════════════════════════════════════════════════════════════════════════

// GroupKind 分组类型
type GroupKind string

const (
	// GroupAgentMessage 不含工具块的普通发言
	GroupAgentMessage GroupKind = "agent_message"

	// GroupToolSequence 工具调用与工具结果
	GroupToolSequence GroupKind = "tool_sequence"
)

// Group 相邻同类消息组成的分组
type Group struct {
	Kind GroupKind
	Msgs []llm.Msg
}

// GroupMessages 将消息按相邻关系划分为最长分组
//
// 开头的系统消息单独返回，不参与分组。
// 含任何工具块的消息开始或延续 ToolSequence 分组，其余消息开始或延续 AgentMessage 分组。
//
//	[agent, tool, tool, agent] → [AgentMessage, ToolSequence, AgentMessage]
func GroupMessages(msgs []llm.Msg) (system *llm.Msg, groups []Group) {
	if len(msgs) > 0 && msgs[0].Role == llm.RoleSystem {
		sys := msgs[0]
		system = &sys
		msgs = msgs[1:]
	}

	for _, msg := range msgs {
		kind := GroupAgentMessage
		if msg.HasToolBlocks() {
			kind = GroupToolSequence
		}
		if n := len(groups); n > 0 && groups[n-1].Kind == kind {
			groups[n-1].Msgs = append(groups[n-1].Msgs, msg)
			continue
		}
		groups = append(groups, Group{Kind: kind, Msgs: []llm.Msg{msg}})
	}
	return system, groups
}

// ═══════════════════════════════════════════════════════════════════════════
// 历史折叠
// ═══════════════════════════════════════════════════════════════════════════

// 历史标签
const (
	HistoryOpen  = "<history>"
	HistoryClose = "</history>"
)

// HistoryFolder 将一个 AgentMessage 分组折叠为一段历史文本
//
// 输出格式：
//
//	{preamble}<history>
//	alice: 你好
//	[Image]
//	bob: 在的
//	</history>
//
// 媒体块只在文本中留下占位符，原始块通过 Folded.Media 交给 Provider 转换为独立内容。
type HistoryFolder struct {
	// Preamble 历史前言，为空使用 llm.DefaultHistoryPrompt
	Preamble string

	// Logger 日志记录器
	Logger *zap.Logger
}

// Folded 折叠结果
type Folded struct {
	Text  string
	Media []llm.ContentBlock
}

// Fold 折叠一组消息，withPreamble 为 true 时在开头加入历史前言
func (h HistoryFolder) Fold(msgs []llm.Msg, withPreamble bool) Folded {
	log := Logger(h.Logger)
	var sb strings.Builder
	var mediaBlocks []llm.ContentBlock

	if withPreamble {
		sb.WriteString(h.preamble())
	}
	sb.WriteString(HistoryOpen)
	sb.WriteString("\n")

	for _, msg := range msgs {
		speaker := msg.Speaker()
		for _, block := range msg.Content {
			switch b := block.(type) {
			case *llm.TextBlock:
				sb.WriteString(speaker)
				sb.WriteString(": ")
				sb.WriteString(b.Text)
				sb.WriteString("\n")
			case *llm.ImageBlock, *llm.AudioBlock, *llm.VideoBlock:
				sb.WriteString(Placeholder(b))
				sb.WriteString("\n")
				mediaBlocks = append(mediaBlocks, b)
			case *llm.ToolResultBlock:
				log.Warn(LogToolResultSkipped, zap.String("speaker", speaker), zap.String("tool_id", b.ID))
			case *llm.ThinkingBlock:
				log.Debug(LogThinkingDropped, zap.String("speaker", speaker))
			}
		}
	}

	sb.WriteString(HistoryClose)
	return Folded{Text: sb.String(), Media: mediaBlocks}
}

func (h HistoryFolder) preamble() string {
	if h.Preamble != "" {
		return h.Preamble
	}
	return llm.DefaultHistoryPrompt
}

// Placeholder 媒体块在历史文本中的占位符
//
//	[Image]  [Audio]  [Video: https://...]  [Video]
func Placeholder(block llm.ContentBlock) string {
	switch b := block.(type) {
	case *llm.ImageBlock:
		return "[Image]"
	case *llm.AudioBlock:
		return "[Audio]"
	case *llm.VideoBlock:
		if u, ok := b.Source.(*llm.URLSource); ok && u.URL != "" && !strings.HasPrefix(u.URL, "data:") {
			return "[Video: " + u.URL + "]"
		}
		return "[Video]"
	default:
		return ""
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// 多智能体格式化流程
// ═══════════════════════════════════════════════════════════════════════════

// MultiAgentEmitter Provider 为多智能体流程提供的转换步骤
type MultiAgentEmitter interface {
	// FormatSystem 转换系统消息；系统提示使用独立字段的 Provider 返回 nil
	FormatSystem(sys llm.Msg) ([]map[string]any, error)

	// FormatAgentGroup 将折叠后的历史文本与媒体块组装为一条 user 消息
	FormatAgentGroup(folded Folded) (map[string]any, error)

	// FormatToolSequence 按单智能体规则逐条转换工具分组
	FormatToolSequence(msgs []llm.Msg) ([]map[string]any, error)
}

// FormatMultiAgent 多智能体格式化
//
// 流程：
//  1. 提取开头的系统消息，交给 FormatSystem
//  2. 按相邻关系分组
//  3. AgentMessage 分组折叠为一条 user 消息，只有第一个分组带历史前言
//  4. ToolSequence 分组 1:1 转换
//
// 分组按原始顺序输出，组内消息保持原始顺序。
func FormatMultiAgent(msgs []llm.Msg, folder HistoryFolder, emitter MultiAgentEmitter) ([]map[string]any, error) {
	system, groups := GroupMessages(msgs)

	var out []map[string]any
	if system != nil {
		sys, err := emitter.FormatSystem(*system)
		if err != nil {
			return nil, err
		}
		out = append(out, sys...)
	}

	preambleUsed := false
	for _, g := range groups {
		switch g.Kind {
		case GroupAgentMessage:
			msg, err := emitter.FormatAgentGroup(folder.Fold(g.Msgs, !preambleUsed))
			if err != nil {
				return nil, err
			}
			preambleUsed = true
			out = append(out, msg)
		case GroupToolSequence:
			seq, err := emitter.FormatToolSequence(g.Msgs)
			if err != nil {
				return nil, err
			}
			out = append(out, seq...)
		}
	}
	if out == nil {
		out = []map[string]any{}
	}
	return out, nil
}

// SplitSystem 分离开头的系统消息
//
// 系统提示使用独立字段的 Provider 在 Format 中跳过它，
// 通过 SystemInstruction 单独提供。
func SplitSystem(msgs []llm.Msg) (system *llm.Msg, rest []llm.Msg) {
	if len(msgs) > 0 && msgs[0].Role == llm.RoleSystem {
		sys := msgs[0]
		return &sys, msgs[1:]
	}
	return nil, msgs
}

// LeadingSystemText 开头系统消息的文本
//
// 多智能体流程中其余系统消息已折叠进历史，不能再进入系统字段。
func LeadingSystemText(msgs []llm.Msg) (string, bool) {
	sys, _ := SplitSystem(msgs)
	if sys == nil {
		return "", false
	}
	text := sys.TextContent()
	return text, text != ""
}

// SystemText 合并所有系统消息的文本
func SystemText(msgs []llm.Msg) (string, bool) {
	var parts []string
	for i := range msgs {
		if msgs[i].Role == llm.RoleSystem {
			if t := msgs[i].TextContent(); t != "" {
				parts = append(parts, t)
			}
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\n"), true
}
