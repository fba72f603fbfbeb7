package core

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/media"
)

// ToolResultString 将工具结果输出转换为字符串
//
// 规则：
//   - 单个文本块：原样返回
//   - 其他情况：逐块渲染后以 "\n" 拼接
//   - 文本块原样
//   - URL 媒体："The returned image can be found at: {url}"
//   - 内联媒体："[Image: image/png, 1024 bytes]"
//   - 思考块忽略
//
// 结果作为工具消息的字符串内容，各 Provider 的工具响应字段都要求字符串。
func ToolResultString(tr *llm.ToolResultBlock) string {
	if tr == nil || len(tr.Output) == 0 {
		return ""
	}
	if len(tr.Output) == 1 {
		if tb, ok := tr.Output[0].(*llm.TextBlock); ok {
			return tb.Text
		}
	}

	parts := make([]string, 0, len(tr.Output))
	for _, block := range tr.Output {
		if s, ok := renderOutputBlock(block); ok {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

func renderOutputBlock(block llm.ContentBlock) (string, bool) {
	switch b := block.(type) {
	case *llm.TextBlock:
		return b.Text, true
	case *llm.ImageBlock:
		return renderMedia(media.KindImage, b.Source), true
	case *llm.AudioBlock:
		return renderMedia(media.KindAudio, b.Source), true
	case *llm.VideoBlock:
		return renderMedia(media.KindVideo, b.Source), true
	default:
		return "", false
	}
}

func renderMedia(kind media.Kind, src llm.Source) string {
	switch s := src.(type) {
	case *llm.URLSource:
		if mt, data, ok := media.ParseDataURL(s.URL); ok {
			return inlineRef(kind, mt, media.DecodedLen(data))
		}
		return fmt.Sprintf("The returned %s can be found at: %s", kind, s.URL)
	case *llm.Base64Source:
		return inlineRef(kind, media.MimeOf(kind, s), media.DecodedLen(s.Data))
	case *llm.RawSource:
		return inlineRef(kind, media.MimeOf(kind, s), int64(len(s.Data)))
	default:
		return fmt.Sprintf("[%s]", Title(kind))
	}
}

func inlineRef(kind media.Kind, mimeType string, n int64) string {
	return fmt.Sprintf("[%s: %s, %d bytes]", Title(kind), mimeType, n)
}

// Title 媒体类别首字母大写（"image" → "Image"）
func Title(kind media.Kind) string {
	s := string(kind)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// MediaUnavailable 媒体转换失败时替代的文本 "[Image unavailable: {err}]"
//
// 只替换失败的块，消息其余部分照常转换。
func MediaUnavailable(log *zap.Logger, provider string, kind media.Kind, err error) string {
	Logger(log).Warn(LogMediaConversionFail,
		zap.String("provider", provider),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
	return fmt.Sprintf("[%s unavailable: %v]", Title(kind), err)
}
