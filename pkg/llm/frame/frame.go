// Package frame 实现豆包实时对话使用的二进制帧编解码
//
// 帧布局（大端序）：
//
//	+--------+--------+--------+--------+
//	| ver|hs | type|fl| ser|cmp|reserved|   4 字节头
//	+--------+--------+--------+--------+
//	|            event id (int32)        |   4 字节事件 ID
//	+--------+--------+--------+--------+
//	|            payload ...             |   变长载荷
//
// 控制/元数据帧的载荷是 UTF-8 JSON，音频帧的载荷是原始 PCM；
// 接收方按事件 ID 区分，不嗅探载荷内容。
package frame

import "encoding/binary"

// 头部字段取值
const (
	Version1       byte = 0x1
	HeaderSizeWord byte = 0x1 // 头长度，单位 4 字节

	TypeFullClient  byte = 0x1
	TypeAudioClient byte = 0x2
	TypeFullServer  byte = 0x9
	TypeAudioServer byte = 0xB
	TypeError       byte = 0xF

	FlagNone  byte = 0x0
	FlagEvent byte = 0x4 // 携带事件 ID

	SerializationRaw  byte = 0x0
	SerializationJSON byte = 0x1

	CompressionNone byte = 0x0
)

// HeaderLen 固定头长度；MinLen 头 + 事件 ID
const (
	HeaderLen = 4
	MinLen    = 8
)

// Header 4 字节帧头
type Header struct {
	Version       byte
	HeaderSize    byte
	MessageType   byte
	Flags         byte
	Serialization byte
	Compression   byte
}

// ControlHeader 客户端 JSON 控制帧头
var ControlHeader = Header{
	Version:       Version1,
	HeaderSize:    HeaderSizeWord,
	MessageType:   TypeFullClient,
	Flags:         FlagEvent,
	Serialization: SerializationJSON,
	Compression:   CompressionNone,
}

// AudioHeader 客户端音频帧头
var AudioHeader = Header{
	Version:       Version1,
	HeaderSize:    HeaderSizeWord,
	MessageType:   TypeAudioClient,
	Flags:         FlagEvent,
	Serialization: SerializationRaw,
	Compression:   CompressionNone,
}

// Bytes 打包为 4 字节
func (h Header) Bytes() [HeaderLen]byte {
	return [HeaderLen]byte{
		(h.Version&0x0F)<<4 | h.HeaderSize&0x0F,
		(h.MessageType&0x0F)<<4 | h.Flags&0x0F,
		(h.Serialization&0x0F)<<4 | h.Compression&0x0F,
		0,
	}
}

// ParseHeader 解析 4 字节帧头（调用方保证长度）
func ParseHeader(b []byte) Header {
	return Header{
		Version:       b[0] >> 4,
		HeaderSize:    b[0] & 0x0F,
		MessageType:   b[1] >> 4,
		Flags:         b[1] & 0x0F,
		Serialization: b[2] >> 4,
		Compression:   b[2] & 0x0F,
	}
}

// IsError 是否为服务端错误帧
func (h Header) IsError() bool { return h.MessageType == TypeError }

// IsAudio 是否为音频帧
func (h Header) IsAudio() bool {
	return h.MessageType == TypeAudioClient || h.MessageType == TypeAudioServer
}

// Frame 解码结果
//
// Valid 为 false 表示缓冲区过短，其余字段为零值。
type Frame struct {
	Header  Header
	EventID int32
	Payload []byte
	Valid   bool
}

// Encode 编码 JSON 控制帧
func Encode(eventID int32, payload []byte) []byte {
	return EncodeWithHeader(ControlHeader, eventID, payload)
}

// EncodeAudio 编码原始音频帧
func EncodeAudio(eventID int32, pcm []byte) []byte {
	return EncodeWithHeader(AudioHeader, eventID, pcm)
}

// EncodeWithHeader 使用指定帧头编码
func EncodeWithHeader(h Header, eventID int32, payload []byte) []byte {
	buf := make([]byte, MinLen+len(payload))
	head := h.Bytes()
	copy(buf, head[:])
	binary.BigEndian.PutUint32(buf[HeaderLen:], uint32(eventID))
	copy(buf[MinLen:], payload)
	return buf
}

// Decode 解码帧
//
// 长度不足 8 字节（含 nil）返回 Valid=false，不会 panic。
// 载荷被复制，返回值不引用 buf。
func Decode(buf []byte) Frame {
	if len(buf) < MinLen {
		return Frame{}
	}
	payload := make([]byte, len(buf)-MinLen)
	copy(payload, buf[MinLen:])
	return Frame{
		Header:  ParseHeader(buf),
		EventID: int32(binary.BigEndian.Uint32(buf[HeaderLen:MinLen])),
		Payload: payload,
		Valid:   true,
	}
}
