// Package codec 提供统一的 JSON 编解码边界
//
// 所有格式化器通过本包序列化 Provider 载荷与工具参数，底层使用 sonic。
// 配置固定为：map 键排序（保证与基准夹具逐字节一致）、紧凑输出、不转义 HTML
// （工具参数里的 < > & 原样回放）。
package codec

import (
	"bytes"
	"fmt"

	"github.com/bytedance/sonic"
)

var api = sonic.Config{
	SortMapKeys:      true,
	CompactMarshaler: true,
	CopyString:       true,
	ValidateString:   true,
}.Froze()

// Marshal 序列化为 JSON 字节
func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

// Unmarshal 反序列化 JSON 字节
func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// ToJSON 序列化为 JSON 字符串
func ToJSON(v any) (string, error) {
	return api.MarshalToString(v)
}

// FromJSON 反序列化 JSON 字符串为指定类型
func FromJSON[T any](s string) (T, error) {
	var v T
	err := api.UnmarshalFromString(s, &v)
	return v, err
}

// MustString 序列化为 JSON 字符串，失败时返回 "{}"
//
// 用于回放工具调用参数：参数来自已解析的 map，序列化失败只可能是不可编码的值。
func MustString(v any) string {
	if v == nil {
		return "{}"
	}
	s, err := api.MarshalToString(v)
	if err != nil {
		return "{}"
	}
	return s
}

// ParseObject 解析 JSON 对象
func ParseObject(data []byte) (map[string]any, error) {
	var m map[string]any
	if err := api.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("json: not an object: %s", truncate(data, 64))
	}
	return m, nil
}

// ParseArgs 尽力解析工具参数字符串
//
// 空串视为空对象；解析失败返回 ok=false 与空 map，调用方应保留原始字符串。
func ParseArgs(raw string) (args map[string]any, ok bool) {
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 {
		return map[string]any{}, true
	}
	m, err := ParseObject(trimmed)
	if err != nil {
		return map[string]any{}, false
	}
	return m, true
}

// Compact 规范化 JSON 文本（去除空白、键排序）
func Compact(raw string) (string, error) {
	var v any
	if err := api.UnmarshalFromString(raw, &v); err != nil {
		return "", err
	}
	return api.MarshalToString(v)
}

// Normalize 通过一次编解码把任意值转换为 map/slice/float64 等通用形状
//
// 测试中用于结构化比较期望值与实际值。
func Normalize(v any) (any, error) {
	data, err := api.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := api.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
