package core

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/codec"
)

// ═══════════════════════════════════════════════════════════════════════════
// Token 计数
// ═══════════════════════════════════════════════════════════════════════════

// TokenCounter 消息 token 计数器
type TokenCounter interface {
	Count(msgs []llm.Msg) (int, error)
}

// perMessageOverhead 每条消息的固定开销: <|start|>role\n content<|end|>\n
const perMessageOverhead = 4

var knownEncodings = map[string]bool{
	"cl100k_base": true,
	"o200k_base":  true,
	"p50k_base":   true,
	"p50k_edit":   true,
	"r50k_base":   true,
}

// TiktokenCounter 基于 tiktoken 的计数器
//
// 编码表在第一次计数时加载（可能需要下载 BPE 数据）。
type TiktokenCounter struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

var _ TokenCounter = (*TiktokenCounter)(nil)

// NewTiktokenCounter 创建 tiktoken 计数器
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if !knownEncodings[encoding] {
		return nil, llm.NewConfigError(fmt.Sprintf("unknown tiktoken encoding: %s", encoding), nil)
	}
	return &TiktokenCounter{encoding: encoding}, nil
}

func (c *TiktokenCounter) init() error {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err != nil {
			c.initErr = fmt.Errorf("init tiktoken encoding %s: %w", c.encoding, err)
			return
		}
		c.enc = enc
	})
	return c.initErr
}

// Count 计算消息 token 数（角色、文本、工具参数、工具结果）
func (c *TiktokenCounter) Count(msgs []llm.Msg) (int, error) {
	if err := c.init(); err != nil {
		return 0, err
	}
	total := 0
	for i := range msgs {
		total += perMessageOverhead
		total += len(c.enc.Encode(string(msgs[i].Role), nil, nil))
		total += len(c.enc.Encode(RenderForCount(msgs[i]), nil, nil))
	}
	return total, nil
}

// CharCounter 离线估算计数器：每 CharsPerToken 个字符计 1 个 token
//
// CharsPerToken 为 0 时按 4 计算。
type CharCounter struct {
	CharsPerToken int
}

var _ TokenCounter = CharCounter{}

// Count 估算消息 token 数
func (c CharCounter) Count(msgs []llm.Msg) (int, error) {
	per := c.CharsPerToken
	if per <= 0 {
		per = 4
	}
	total := 0
	for i := range msgs {
		n := utf8.RuneCountInString(RenderForCount(msgs[i]))
		total += (n + per - 1) / per
	}
	return total, nil
}

// RenderForCount 将消息渲染为用于计数的纯文本
func RenderForCount(msg llm.Msg) string {
	var parts []string
	for _, block := range msg.Content {
		switch b := block.(type) {
		case *llm.TextBlock:
			parts = append(parts, b.Text)
		case *llm.ThinkingBlock:
			// 思考块不会发送给 Provider
		case *llm.ToolUseBlock:
			parts = append(parts, b.Name, codec.MustString(b.Input))
		case *llm.ToolResultBlock:
			parts = append(parts, ToolResultString(b))
		case *llm.ImageBlock, *llm.AudioBlock, *llm.VideoBlock:
			parts = append(parts, Placeholder(b))
		}
	}
	return strings.Join(parts, "\n")
}

// ═══════════════════════════════════════════════════════════════════════════
// 历史截断
// ═══════════════════════════════════════════════════════════════════════════

// Truncate 按 token 预算截断历史
//
// 规则：
//   - 开头的系统消息始终保留
//   - 从最旧的消息开始丢弃，直到总数不超过 maxTokens
//   - 带工具调用的助手消息与紧随其后的对应工具结果作为整体丢弃，不会留下孤立的工具结果
//   - 最后一个单元始终保留，即使它本身超出预算
func Truncate(msgs []llm.Msg, counter TokenCounter, maxTokens int) ([]llm.Msg, error) {
	if maxTokens <= 0 || len(msgs) == 0 {
		return msgs, nil
	}

	system, rest := SplitSystem(msgs)
	budget := maxTokens
	if system != nil {
		n, err := counter.Count([]llm.Msg{*system})
		if err != nil {
			return nil, err
		}
		budget -= n
	}

	units := toolUnits(rest)
	costs := make([]int, len(units))
	total := 0
	for i, u := range units {
		n, err := counter.Count(u)
		if err != nil {
			return nil, err
		}
		costs[i] = n
		total += n
	}

	start := 0
	for total > budget && start < len(units)-1 {
		total -= costs[start]
		start++
	}

	out := make([]llm.Msg, 0, len(msgs))
	if system != nil {
		out = append(out, *system)
	}
	for _, u := range units[start:] {
		out = append(out, u...)
	}
	return out, nil
}

// toolUnits 将消息划分为不可拆分的单元
//
// 带工具调用的消息与其后所有结果都属于这些调用的消息组成一个单元，其余消息各自成为一个单元。
func toolUnits(msgs []llm.Msg) [][]llm.Msg {
	var units [][]llm.Msg
	for i := 0; i < len(msgs); {
		unit := []llm.Msg{msgs[i]}
		if msgs[i].HasToolUse() {
			ids := map[string]bool{}
			for _, tu := range msgs[i].ToolUses() {
				ids[tu.ID] = true
			}
			j := i + 1
			for j < len(msgs) && resultsBelongTo(msgs[j], ids) {
				unit = append(unit, msgs[j])
				j++
			}
			units = append(units, unit)
			i = j
			continue
		}
		units = append(units, unit)
		i++
	}
	return units
}

func resultsBelongTo(msg llm.Msg, ids map[string]bool) bool {
	results := msg.ToolResults()
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if !ids[r.ID] {
			return false
		}
	}
	return true
}
