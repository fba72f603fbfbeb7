package core

import (
	"strings"

	"github.com/google/uuid"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/codec"
)

// ═══════════════════════════════════════════════════════════════════════════
// 流式工具调用分片
// ═══════════════════════════════════════════════════════════════════════════

// NewCallID 生成工具调用 ID
func NewCallID() string { return "call_" + uuid.NewString() }

// NewFragmentID 生成分片 ID
func NewFragmentID() string { return "fragment_" + uuid.NewString() }

// ToolUseFromChunk 将流式块中的工具调用转换为 ToolUseBlock
//
// 带名称的块（调用的第一个分片）：
//   - ID 使用原始 ID，缺失时生成 call_<uuid>
//   - Input 尽力解析，失败为空 map
//   - Content 保留原始参数字符串
//
// 不带名称的块（后续分片）：
//   - Name 为 llm.FragmentPlaceholder
//   - ID 保留所属调用的原始 ID，缺失时为 fragment_<uuid>
//   - Content 为原始分片，Input 为空 map
//
// 原始字符串必须保留：分片单独解析几乎总是失败，合并后才能得到完整 JSON。
func ToolUseFromChunk(id, name, rawArgs string) *llm.ToolUseBlock {
	if name == "" {
		if id == "" {
			id = NewFragmentID()
		}
		return &llm.ToolUseBlock{
			ID:      id,
			Name:    llm.FragmentPlaceholder,
			Input:   map[string]any{},
			Content: rawArgs,
		}
	}
	if id == "" {
		id = NewCallID()
	}
	input, _ := codec.ParseArgs(rawArgs)
	return &llm.ToolUseBlock{ID: id, Name: name, Input: input, Content: rawArgs}
}

// IndexedToolUse 同 ToolUseFromChunk，并记录 Provider 流中的调用序号
//
// Accumulator 优先按序号合并，并行调用的分片交错到达时不会串到别的调用上。
func IndexedToolUse(index int, id, name, rawArgs string) *llm.ToolUseBlock {
	b := ToolUseFromChunk(id, name, rawArgs)
	b.Index = &index
	return b
}

// ParseToolArgs 解析完整的工具参数
//
// 参数可能是 JSON 字符串（OpenAI 风格）或已解析的对象（Gemini/Ollama/Anthropic）。
// 返回解析后的 map 与规范化的原始字符串。
func ParseToolArgs(val any) (map[string]any, string) {
	switch v := val.(type) {
	case string:
		input, _ := codec.ParseArgs(v)
		return input, v
	case map[string]any:
		return v, codec.MustString(v)
	default:
		return map[string]any{}, ""
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// 流式聚合器
// ═══════════════════════════════════════════════════════════════════════════

// Accumulator 流式响应聚合器
//
// 将增量 ChatResponse 聚合为完整响应：文本与思考内容拼接，
// 工具调用分片按以下顺序找到所属调用后追加原始参数，结束后统一重新解析：
//
//	1. 分片带 Index → 同序号的调用
//	2. 分片 ID 与某个调用相同 → 该调用
//	3. 都没有 → 最近一个具名调用
//
// 示例：
//
//	acc := core.NewAccumulator()
//	for chunk := range stream {
//	    acc.Add(chunk.Response)
//	}
//	resp := acc.Result()
type Accumulator struct {
	id           string
	textBuf      strings.Builder
	thinkingBuf  strings.Builder
	signature    string
	calls        []*toolBuffer
	byIndex      map[int]*toolBuffer
	byID         map[string]*toolBuffer
	usage        *llm.ChatUsage
	finishReason string
	orphans      int
}

type toolBuffer struct {
	id      string
	name    string
	argsBuf strings.Builder
	input   map[string]any
}

// NewAccumulator 创建聚合器
func NewAccumulator() *Accumulator {
	return &Accumulator{
		byIndex: map[int]*toolBuffer{},
		byID:    map[string]*toolBuffer{},
	}
}

// Add 喂入一个增量响应，nil 忽略
func (a *Accumulator) Add(resp *llm.ChatResponse) {
	if resp == nil {
		return
	}
	if a.id == "" {
		a.id = resp.ID
	}
	if resp.FinishReason != "" {
		a.finishReason = resp.FinishReason
	}
	a.mergeUsage(resp.Usage)

	for _, block := range resp.Content {
		switch b := block.(type) {
		case *llm.TextBlock:
			a.textBuf.WriteString(b.Text)
		case *llm.ThinkingBlock:
			a.thinkingBuf.WriteString(b.Thinking)
			if b.Signature != "" {
				a.signature = b.Signature
			}
		case *llm.ToolUseBlock:
			a.addToolUse(b)
		}
	}
}

func (a *Accumulator) addToolUse(b *llm.ToolUseBlock) {
	if !b.IsFragment() {
		// 同一序号重复出现名称（部分兼容实现每个分片都带 name）视为同一调用
		if b.Index != nil {
			if buf, ok := a.byIndex[*b.Index]; ok {
				buf.argsBuf.WriteString(b.Content)
				return
			}
		}
		buf := &toolBuffer{id: b.ID, name: b.Name, input: b.Input}
		buf.argsBuf.WriteString(b.Content)
		a.calls = append(a.calls, buf)
		a.byID[b.ID] = buf
		if b.Index != nil {
			a.byIndex[*b.Index] = buf
		}
		return
	}

	if buf := a.owner(b); buf != nil {
		buf.argsBuf.WriteString(b.Content)
		return
	}
	// 没有具名调用可以挂靠的分片无法还原
	a.orphans++
}

// owner 查找分片所属的调用
func (a *Accumulator) owner(b *llm.ToolUseBlock) *toolBuffer {
	if b.Index != nil {
		if buf, ok := a.byIndex[*b.Index]; ok {
			return buf
		}
	}
	if buf, ok := a.byID[b.ID]; ok {
		return buf
	}
	// 流中已出现序号时，序号未知的分片不能猜测归属
	if len(a.calls) == 0 || (b.Index != nil && len(a.byIndex) > 0) {
		return nil
	}
	return a.calls[len(a.calls)-1]
}

// mergeUsage 分别保留最新的非零输入/输出计数
//
// OpenAI 在最后一个块给出完整 usage；Anthropic 在 message_start 给输入、
// message_delta 给输出。
func (a *Accumulator) mergeUsage(u *llm.ChatUsage) {
	if u == nil {
		return
	}
	if a.usage == nil {
		a.usage = &llm.ChatUsage{}
	}
	if u.InputTokens > 0 {
		a.usage.InputTokens = u.InputTokens
	}
	if u.OutputTokens > 0 {
		a.usage.OutputTokens = u.OutputTokens
	}
	if u.Time > a.usage.Time {
		a.usage.Time = u.Time
	}
}

// CurrentText 当前累积的文本
func (a *Accumulator) CurrentText() string { return a.textBuf.String() }

// CurrentThinking 当前累积的思考内容
func (a *Accumulator) CurrentThinking() string { return a.thinkingBuf.String() }

// Orphans 无法挂靠的分片数量
func (a *Accumulator) Orphans() int { return a.orphans }

// Result 构建聚合后的响应
//
// 可以在流式传输过程中调用，获取当前累积的状态。
// 合并后的参数无法解析时 Input 为空 map，Content 保留原始字符串。
func (a *Accumulator) Result() *llm.ChatResponse {
	var blocks []llm.ContentBlock
	if a.thinkingBuf.Len() > 0 {
		blocks = append(blocks, &llm.ThinkingBlock{Thinking: a.thinkingBuf.String(), Signature: a.signature})
	}
	if a.textBuf.Len() > 0 {
		blocks = append(blocks, llm.Text(a.textBuf.String()))
	}
	for _, c := range a.calls {
		raw := c.argsBuf.String()
		input, ok := codec.ParseArgs(raw)
		if !ok || (raw == "" && len(c.input) > 0) {
			// 非 JSON 字符串参数的 Provider（Gemini/Ollama）首块即完整对象
			if len(c.input) > 0 {
				input = c.input
			}
		}
		blocks = append(blocks, &llm.ToolUseBlock{ID: c.id, Name: c.name, Input: input, Content: raw})
	}

	var usage *llm.ChatUsage
	if a.usage != nil {
		u := *a.usage
		usage = &u
	}
	return NewResponse(a.id, blocks, usage, a.finishReason)
}
