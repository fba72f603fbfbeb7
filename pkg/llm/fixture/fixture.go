// Package fixture 加载跨 Provider 的格式化真值用例
//
// 用例以 YAML/JSON 描述输入消息与期望的 Provider 载荷，测试中用于逐字段比较：
//
//	cases:
//	  - name: openai_text
//	    provider: openai
//	    messages:
//	      - {role: user, name: alice, text: hi}
//	    expected:
//	      - {role: user, content: hi}
//
// 文本字段支持模板语法（{{ env "KEY" "default" }}、{{ .DIR }} 等），
// 用于引用用例文件所在目录下的本地媒体。
package fixture

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/codec"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/core"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/provider"
)

//go:embed testdata/ground_truth.yaml
var groundTruthYAML []byte

// File 用例文件
type File struct {
	Cases []Case `yaml:"cases" json:"cases"`
}

// Case 单个用例
//
// Tools、Options 或 Model 任一非空时比较 core.BuildRequest 的完整请求，
// 否则只比较 Format 的消息数组。
type Case struct {
	Name      string               `yaml:"name" json:"name"`
	Provider  llm.ProviderType     `yaml:"provider" json:"provider"`
	Formatter llm.FormatterConfig  `yaml:"formatter,omitempty" json:"formatter,omitempty"`
	Model     string               `yaml:"model,omitempty" json:"model,omitempty"`
	Messages  []MsgSpec            `yaml:"messages" json:"messages"`
	Tools     []llm.ToolSchema     `yaml:"tools,omitempty" json:"tools,omitempty"`
	Options   *llm.GenerateOptions `yaml:"options,omitempty" json:"options,omitempty"`
	Expected  any                  `yaml:"expected" json:"expected"`
}

// MsgSpec 便于手写的消息描述
//
// Text 为简写，等价于 Content 中的第一个文本块。
type MsgSpec struct {
	Role    llm.Role    `yaml:"role" json:"role"`
	Name    string      `yaml:"name,omitempty" json:"name,omitempty"`
	Text    string      `yaml:"text,omitempty" json:"text,omitempty"`
	Content []BlockSpec `yaml:"content,omitempty" json:"content,omitempty"`
}

// BlockSpec 内容块描述，每项只应设置一个字段
type BlockSpec struct {
	Text       string          `yaml:"text,omitempty" json:"text,omitempty"`
	Thinking   string          `yaml:"thinking,omitempty" json:"thinking,omitempty"`
	ImageURL   string          `yaml:"image_url,omitempty" json:"image_url,omitempty"`
	AudioURL   string          `yaml:"audio_url,omitempty" json:"audio_url,omitempty"`
	VideoURL   string          `yaml:"video_url,omitempty" json:"video_url,omitempty"`
	ToolUse    *ToolUseSpec    `yaml:"tool_use,omitempty" json:"tool_use,omitempty"`
	ToolResult *ToolResultSpec `yaml:"tool_result,omitempty" json:"tool_result,omitempty"`
}

// ToolUseSpec 工具调用
type ToolUseSpec struct {
	ID    string         `yaml:"id" json:"id"`
	Name  string         `yaml:"name" json:"name"`
	Input map[string]any `yaml:"input,omitempty" json:"input,omitempty"`
}

// ToolResultSpec 工具结果（输出为纯文本）
type ToolResultSpec struct {
	ID      string `yaml:"id" json:"id"`
	Name    string `yaml:"name" json:"name"`
	Output  string `yaml:"output" json:"output"`
	IsError bool   `yaml:"is_error,omitempty" json:"is_error,omitempty"`
}

// ═══════════════════════════════════════════════════════════════════════════
// 加载
// ═══════════════════════════════════════════════════════════════════════════

// LoadFile 从文件加载用例，模板中的 DIR 为文件所在目录
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture file: %w", err)
	}
	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolve fixture dir: %w", err)
	}
	f, err := LoadBytes(data, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	f.render(templateData(abs))
	return f, nil
}

// LoadBytes 从字节数据加载用例（支持 ".yaml" 或 "yaml"）
func LoadBytes(data []byte, format string) (*File, error) {
	f := &File{}
	format = strings.TrimPrefix(strings.ToLower(format), ".")

	switch format {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, f); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
	case "json":
		if err := codec.Unmarshal(data, f); err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported format: %s (expected yaml, yml, or json)", format)
	}

	for i, c := range f.Cases {
		if c.Name == "" {
			return nil, fmt.Errorf("case %d: name is required", i)
		}
		if c.Provider == "" {
			return nil, fmt.Errorf("case %s: provider is required", c.Name)
		}
	}
	return f, nil
}

// LoadGroundTruth 加载内嵌的真值用例
func LoadGroundTruth() (*File, error) {
	f, err := LoadBytes(groundTruthYAML, "yaml")
	if err != nil {
		return nil, err
	}
	f.render(templateData(""))
	return f, nil
}

// Find 按名称查找用例
func (f *File) Find(name string) (Case, bool) {
	for _, c := range f.Cases {
		if c.Name == name {
			return c, true
		}
	}
	return Case{}, false
}

// ═══════════════════════════════════════════════════════════════════════════
// 消息构建
// ═══════════════════════════════════════════════════════════════════════════

// ToMsg 构建统一消息
func (s MsgSpec) ToMsg() llm.Msg {
	blocks := make([]llm.ContentBlock, 0, len(s.Content)+1)
	if s.Text != "" {
		blocks = append(blocks, llm.Text(s.Text))
	}
	for _, b := range s.Content {
		if block := b.toBlock(); block != nil {
			blocks = append(blocks, block)
		}
	}
	return llm.NewMsg(s.Role, s.Name, blocks...)
}

func (b BlockSpec) toBlock() llm.ContentBlock {
	switch {
	case b.Text != "":
		return llm.Text(b.Text)
	case b.Thinking != "":
		return &llm.ThinkingBlock{Thinking: b.Thinking}
	case b.ImageURL != "":
		return llm.Image(llm.FromURL(b.ImageURL))
	case b.AudioURL != "":
		return llm.Audio(llm.FromURL(b.AudioURL))
	case b.VideoURL != "":
		return llm.Video(llm.FromURL(b.VideoURL))
	case b.ToolUse != nil:
		return llm.ToolUse(b.ToolUse.ID, b.ToolUse.Name, b.ToolUse.Input)
	case b.ToolResult != nil:
		r := llm.ToolResult(b.ToolResult.ID, b.ToolResult.Name, llm.Text(b.ToolResult.Output))
		r.IsError = b.ToolResult.IsError
		return r
	}
	return nil
}

// Msgs 构建用例的全部输入消息
func (c Case) Msgs() []llm.Msg {
	out := make([]llm.Msg, len(c.Messages))
	for i, m := range c.Messages {
		out[i] = m.ToMsg()
	}
	return out
}

// ═══════════════════════════════════════════════════════════════════════════
// 执行与比较
// ═══════════════════════════════════════════════════════════════════════════

// Actual 用注册表中的格式化器生成规范化后的实际载荷
func (c Case) Actual(opts ...core.Option) (any, error) {
	f, err := provider.NewChatFormatter(&llm.Config{Type: c.Provider, Formatter: c.Formatter}, opts...)
	if err != nil {
		return nil, err
	}

	var out any
	if c.Model != "" || len(c.Tools) > 0 || c.Options != nil {
		out, err = core.BuildRequest(f, core.Request{
			Model:    c.Model,
			Messages: c.Msgs(),
			Tools:    c.Tools,
			Options:  c.Options,
		}, nil)
	} else {
		out, err = f.Format(c.Msgs())
	}
	if err != nil {
		return nil, err
	}
	return Normalize(out)
}

// Want 规范化后的期望载荷
func (c Case) Want() (any, error) {
	return Normalize(c.Expected)
}

// Normalize 经过一次 JSON 编解码，使 YAML 整数、具体 map 类型等与实际载荷形状一致
func Normalize(v any) (any, error) {
	return codec.Normalize(v)
}

// ═══════════════════════════════════════════════════════════════════════════
// 模板渲染
// ═══════════════════════════════════════════════════════════════════════════

// templateFuncs 模板函数映射
var templateFuncs = template.FuncMap{
	"env":      envFunc,
	"default":  defaultFunc,
	"coalesce": coalesceFunc,
}

// envFunc 获取环境变量
func envFunc(key string, defaultVal ...string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if len(defaultVal) > 0 {
		return defaultVal[0]
	}
	return ""
}

// defaultFunc 提供默认值
func defaultFunc(defaultVal, value any) any {
	if value == nil {
		return defaultVal
	}
	if str, ok := value.(string); ok && str == "" {
		return defaultVal
	}
	return value
}

// coalesceFunc 返回第一个非空值
func coalesceFunc(values ...any) any {
	for _, v := range values {
		if v == nil {
			continue
		}
		if str, ok := v.(string); ok && str == "" {
			continue
		}
		return v
	}
	return nil
}

// templateData 环境变量加上 DIR（用例文件目录）
func templateData(dir string) map[string]string {
	vars := make(map[string]string)
	for _, env := range os.Environ() {
		if k, v, ok := strings.Cut(env, "="); ok {
			vars[k] = v
		}
	}
	vars["DIR"] = dir
	return vars
}

// render 渲染消息中的文本与媒体地址，渲染失败保留原文
func (f *File) render(data map[string]string) {
	for i := range f.Cases {
		for j := range f.Cases[i].Messages {
			m := &f.Cases[i].Messages[j]
			m.Text = renderText(m.Text, data)
			for k := range m.Content {
				b := &m.Content[k]
				b.Text = renderText(b.Text, data)
				b.ImageURL = renderText(b.ImageURL, data)
				b.AudioURL = renderText(b.AudioURL, data)
				b.VideoURL = renderText(b.VideoURL, data)
			}
		}
	}
}

func renderText(text string, data map[string]string) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	tmpl, err := template.New("fixture").Funcs(templateFuncs).Parse(text)
	if err != nil {
		return text
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return text
	}
	return buf.String()
}
