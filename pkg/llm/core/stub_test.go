package core

import (
	"time"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
)

// ═══════════════════════════════════════════════════════════════════════════
// 测试用最小格式化器
// ═══════════════════════════════════════════════════════════════════════════

// stubFormatter 以最简单的形状实现格式化器接口，隔离测试 core 的通用流程
//
// 请求：{"role": ..., "content": TextContent}
// 响应：{"id", "text", "tool": {"id","name","args"}, "usage": {"in","out"}}
// 错误：{"error": {"code","message"}}
type stubFormatter struct {
	name string
}

var (
	_ ChatFormatter     = (*stubFormatter)(nil)
	_ StreamChunkParser = (*stubFormatter)(nil)
	_ ErrorExtractor    = (*stubFormatter)(nil)
)

func (s *stubFormatter) Format(msgs []llm.Msg) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(msgs))
	for i := range msgs {
		out = append(out, map[string]any{"role": string(msgs[i].Role), "content": msgs[i].TextContent()})
	}
	return out, nil
}

func (s *stubFormatter) ParseResponse(raw map[string]any, start time.Time) (*llm.ChatResponse, error) {
	if e := GetMap(raw["error"]); e != nil {
		return nil, llm.NewFormatterError(s.name, GetString(e["message"]), nil).WithCode(GetString(e["code"]))
	}
	return s.parse(raw, start), nil
}

func (s *stubFormatter) ParseStreamChunk(raw map[string]any, start time.Time) (*llm.ChatResponse, error) {
	if e := GetMap(raw["error"]); e != nil {
		return nil, llm.NewFormatterError(s.name, GetString(e["message"]), nil).WithCode(GetString(e["code"]))
	}
	resp := s.parse(raw, start)
	if len(resp.Content) == 0 && resp.Usage == nil && resp.FinishReason == "" {
		return nil, nil
	}
	return resp, nil
}

func (s *stubFormatter) parse(raw map[string]any, start time.Time) *llm.ChatResponse {
	var blocks []llm.ContentBlock
	if text := GetString(raw["text"]); text != "" {
		blocks = append(blocks, llm.Text(text))
	}
	if tool := GetMap(raw["tool"]); tool != nil {
		blocks = append(blocks, ToolUseFromChunk(GetString(tool["id"]), GetString(tool["name"]), GetString(tool["args"])))
	}
	var usage *llm.ChatUsage
	if u := GetMap(raw["usage"]); u != nil {
		usage = llm.NewUsage(GetInt64(u["in"]), GetInt64(u["out"]), start)
	}
	return NewResponse(GetString(raw["id"]), blocks, usage, GetString(raw["finish"]))
}

func (s *stubFormatter) ApplyOptions(param map[string]any, opts, defaults *llm.GenerateOptions) {
	merged := llm.MergeOptions(opts, defaults)
	SetIf(param, "temperature", merged.Temperature)
	if merged.Stream {
		param["stream"] = true
	}
}

func (s *stubFormatter) ApplyTools(param map[string]any, tools []llm.ToolSchema) {
	names := make([]any, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	param["tools"] = names
}

func (s *stubFormatter) ApplyToolChoice(param map[string]any, choice llm.ToolChoice) {
	param["tool_choice"] = string(choice.Normalize())
}

func (s *stubFormatter) Capabilities() llm.FormatterCapabilities {
	return llm.NewCapabilities(s.name, true, false, false, llm.BlockText, llm.BlockToolUse)
}

func (s *stubFormatter) ExtractError(raw map[string]any) (string, string) {
	e := GetMap(raw["error"])
	return GetString(e["code"]), GetString(e["message"])
}

// separateSystem 系统提示使用独立字段
type separateSystem struct {
	stubFormatter
}

func (s *separateSystem) SystemField() string { return "system" }

func (s *separateSystem) SystemInstruction(msgs []llm.Msg) (any, bool) {
	return SystemText(msgs)
}

func (s *separateSystem) Format(msgs []llm.Msg) ([]map[string]any, error) {
	_, rest := SplitSystem(msgs)
	return s.stubFormatter.Format(rest)
}
