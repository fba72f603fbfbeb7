package llm

import (
	"gopkg.in/yaml.v3"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/codec"
)

// Optional 三态可选值：未设置 / 显式 null / 有值
//
// 会话配置里 "省略字段" 与 "显式 null" 语义不同（例如 turn_detection: null 表示关闭服务端 VAD），
// 普通指针无法区分这两种状态。
type Optional[T any] struct {
	state optionalState
	value T
}

type optionalState uint8

const (
	optionalUnset optionalState = iota
	optionalNull
	optionalValue
)

// Unset 未设置（序列化时省略字段）
func Unset[T any]() Optional[T] { return Optional[T]{} }

// Null 显式 null
func Null[T any]() Optional[T] { return Optional[T]{state: optionalNull} }

// Some 有值
func Some[T any](v T) Optional[T] { return Optional[T]{state: optionalValue, value: v} }

// IsSet 是否已设置（null 或有值）
func (o Optional[T]) IsSet() bool { return o.state != optionalUnset }

// IsNull 是否为显式 null
func (o Optional[T]) IsNull() bool { return o.state == optionalNull }

// Get 返回值及是否有值
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.state == optionalValue
}

// UnmarshalYAML 支持从 YAML 读取三态：字段缺失 → Unset，null → Null，其余 → Some
func (o *Optional[T]) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!null" {
		*o = Null[T]()
		return nil
	}
	var v T
	if err := node.Decode(&v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}

// UnmarshalJSON 支持从 JSON 读取三态
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = Null[T]()
		return nil
	}
	var v T
	if err := codec.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}
