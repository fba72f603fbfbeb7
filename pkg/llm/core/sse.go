package core

import (
	"bufio"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/codec"
)

// ═══════════════════════════════════════════════════════════════════════════
// 流式块
// ═══════════════════════════════════════════════════════════════════════════

// StreamChunk SSE 流中的一个结果
//
// Response 与 Err 恰好一个非 nil；Err 非 nil 时流随即结束。
type StreamChunk struct {
	Response *llm.ChatResponse
	Err      error
}

// DoneMarker OpenAI 风格的流结束标记
const DoneMarker = "[DONE]"

// maxLineSize 单行上限（大块 base64 音频可能很长）
const maxLineSize = 4 << 20

// ═══════════════════════════════════════════════════════════════════════════
// SSE 解析器
// ═══════════════════════════════════════════════════════════════════════════

// SSEParser SSE (Server-Sent Events) 解析器
//
// 职责：
//   - 解析 SSE 流格式（event:/data: 行）
//   - 遇到 [DONE] 结束
//   - 委托 StreamChunkParser 把每个 data 对象转换为增量 ChatResponse
//
// SSE 格式：
//
//	event: content_block_delta
//	data: {"type": "content_block_delta", ...}
//
//	data: {"choices": [...]}
//	data: [DONE]
//
// 以 { 开头的裸行按 NDJSON 处理，与 data 行等价。
//
// 非 JSON 的 data 行记录 debug 日志后跳过。
type SSEParser struct {
	parser StreamChunkParser
	start  time.Time
	logger *zap.Logger
}

// NewSSEParser 创建 SSE 解析器
//
// start 为请求开始时间，用于计算 usage 耗时。
func NewSSEParser(parser StreamChunkParser, start time.Time, logger *zap.Logger) *SSEParser {
	return &SSEParser{parser: parser, start: start, logger: Logger(logger)}
}

// Parse 解析 SSE 流
//
// 行为：
//   - 自动关闭 body 与 out
//   - 解析器返回错误时发送 StreamChunk{Err} 并退出
//   - 读取错误（含 context 取消导致的连接关闭）作为 *llm.StreamError 发送
//
// 此方法应在 goroutine 中调用。
func (p *SSEParser) Parse(body io.ReadCloser, out chan<- StreamChunk) {
	defer func() { _ = body.Close() }()
	defer close(out)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Text()

		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			if !strings.HasPrefix(strings.TrimSpace(line), "{") {
				// event:/id:/retry:/注释行不影响解析，事件类型同样出现在 data 的 type 字段中
				continue
			}
			// NDJSON（Ollama）每行就是一个 JSON 对象
			data = line
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}
		if data == DoneMarker {
			return
		}

		payload, err := codec.ParseObject([]byte(data))
		if err != nil {
			p.logger.Debug("sse data is not a json object", zap.Error(err))
			continue
		}

		resp, err := p.parser.ParseStreamChunk(payload, p.start)
		if err != nil {
			out <- StreamChunk{Err: err}
			return
		}
		if resp != nil {
			out <- StreamChunk{Response: resp}
		}
	}

	if err := scanner.Err(); err != nil {
		out <- StreamChunk{Err: llm.NewStreamError("read sse stream", err)}
	}
}

// Collect 读取整个流并聚合为一个响应
func Collect(stream <-chan StreamChunk) (*llm.ChatResponse, error) {
	acc := NewAccumulator()
	for chunk := range stream {
		if chunk.Err != nil {
			// 排空剩余块，保证生产者退出
			for range stream {
			}
			return nil, chunk.Err
		}
		acc.Add(chunk.Response)
	}
	return acc.Result(), nil
}
