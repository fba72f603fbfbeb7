package core

import "encoding/json"

// ═══════════════════════════════════════════════════════════════════════════
// 类型转换辅助函数
// ═══════════════════════════════════════════════════════════════════════════

// GetInt64 将 JSON 解码得到的数字转换为 int64
//
// 接受 float64（默认解码）、json.Number（UseNumber 解码）、
// int/int32/int64（YAML 夹具与 genai 结构体）。其他类型返回 0。
//
//	usage := GetMap(raw["usage"])
//	in := GetInt64(usage["prompt_tokens"])
func GetInt64(val any) int64 {
	switch v := val.(type) {
	case float64:
		return int64(v)
	case float32:
		return int64(v)
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		f, _ := v.Float64()
		return int64(f)
	default:
		return 0
	}
}

// GetFloat64 将 JSON 数字转换为 float64，非数字返回 0
func GetFloat64(val any) float64 {
	switch v := val.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}

// GetString 取字符串，非字符串返回 ""
//
// 不做数字到字符串的转换：id、name 等字段类型不符时视为缺失。
func GetString(val any) string {
	if s, ok := val.(string); ok {
		return s
	}
	return ""
}

// GetBool 将 any 类型安全转换为 bool，非 bool 返回 false
func GetBool(val any) bool {
	b, _ := val.(bool)
	return b
}

// GetMap 将 any 类型安全转换为 map[string]any，其他类型返回 nil
//
// 示例：
//
//	output := GetMap(raw["output"])
//	message := GetMap(output["message"])
func GetMap(val any) map[string]any {
	m, _ := val.(map[string]any)
	return m
}

// GetSlice 将 any 类型安全转换为 []any，其他类型返回 nil
func GetSlice(val any) []any {
	s, _ := val.([]any)
	return s
}

// GetPath 沿键路径取值，任何一级缺失返回 nil
//
//	GetPath(raw, "output", "choices")  // raw["output"]["choices"]
func GetPath(m map[string]any, keys ...string) any {
	var cur any = m
	for _, k := range keys {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = node[k]
	}
	return cur
}

// FirstMap 返回切片中的第一个 map，空切片或类型不符返回 nil
func FirstMap(val any) map[string]any {
	s := GetSlice(val)
	if len(s) == 0 {
		return nil
	}
	return GetMap(s[0])
}

// SetIf 仅当指针非 nil 时写入参数
func SetIf[T any](param map[string]any, key string, v *T) {
	if v != nil {
		param[key] = *v
	}
}

// Sub 返回（必要时创建）参数中的子对象
func Sub(param map[string]any, key string) map[string]any {
	if m, ok := param[key].(map[string]any); ok {
		return m
	}
	m := map[string]any{}
	param[key] = m
	return m
}
