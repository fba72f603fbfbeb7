package core

import (
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
)

// MessagePlacer 自定义消息数组在请求中的位置
//
// 默认写入 param["messages"]；DashScope 写入 input.messages，Gemini 写入 contents。
type MessagePlacer interface {
	PlaceMessages(param map[string]any, msgs []map[string]any)
}

// Request 一次对话请求
type Request struct {
	Model    string
	Messages []llm.Msg
	Tools    []llm.ToolSchema
	Options  *llm.GenerateOptions
}

// BuildRequest 组装完整的请求参数
//
// 流程：
//  1. Format 转换消息，按 MessagePlacer 放置
//  2. SystemInstructor 提供独立的系统提示字段
//  3. ApplyOptions 写入合并后的生成参数
//  4. ApplyTools / ApplyToolChoice 写入工具定义与选择策略（无工具时不写入选择策略）
func BuildRequest(f ChatFormatter, req Request, defaults *llm.GenerateOptions) (map[string]any, error) {
	formatted, err := f.Format(req.Messages)
	if err != nil {
		return nil, err
	}

	param := map[string]any{}
	if req.Model != "" {
		param["model"] = req.Model
	}
	if p, ok := f.(MessagePlacer); ok {
		p.PlaceMessages(param, formatted)
	} else {
		param["messages"] = formatted
	}

	if s, ok := f.(SystemInstructor); ok {
		if v, ok := s.SystemInstruction(req.Messages); ok {
			param[s.SystemField()] = v
		}
	}

	f.ApplyOptions(param, req.Options, defaults)

	if len(req.Tools) > 0 {
		f.ApplyTools(param, req.Tools)
		merged := llm.MergeOptions(req.Options, defaults)
		if merged.ToolChoice != nil {
			f.ApplyToolChoice(param, *merged.ToolChoice)
		}
	}
	return param, nil
}
