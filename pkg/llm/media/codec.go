package media

import (
	"encoding/base64"
	"errors"
	"io/fs"
	"os"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
)

// Codec 媒体编码器
//
// 每个格式化器按自身 Provider 约定构造一个 Codec：
//
//	media.Codec{LocalMode: llm.LocalMediaFileURL, MaxImageBytes: media.DefaultMaxImageBytes} // DashScope
//	media.Codec{LocalMode: llm.LocalMediaDataURL}                                            // OpenAI
type Codec struct {
	// LocalMode 本地文件的引用方式（为空按 data URL 处理）
	LocalMode llm.LocalMediaMode

	// MaxImageBytes 图像解码后大小上限（<=0 不限制）
	MaxImageBytes int64
}

// ═══════════════════════════════════════════════════════════════════════════
// URL 形态
// ═══════════════════════════════════════════════════════════════════════════

// ImageURL 图像来源转换为 URL
func (c Codec) ImageURL(src llm.Source) (string, error) { return c.URL(KindImage, src) }

// AudioURL 音频来源转换为 URL
func (c Codec) AudioURL(src llm.Source) (string, error) { return c.URL(KindAudio, src) }

// VideoURL 视频来源转换为 URL
func (c Codec) VideoURL(src llm.Source) (string, error) { return c.URL(KindVideo, src) }

// URL 将来源转换为 Provider 可用的 URL
//
//   - 远程 URL 原样返回
//   - 本地文件按 LocalMode 返回 file:// 或 data URL
//   - Base64 / 原始字节返回 data URL
func (c Codec) URL(kind Kind, src llm.Source) (string, error) {
	switch s := src.(type) {
	case *llm.URLSource:
		if mimeType, data, ok := ParseDataURL(s.URL); ok {
			if _, err := c.checkBase64(kind, "data-url", data); err != nil {
				return "", err
			}
			return DataURL(mimeType, data), nil
		}
		if !IsLocal(s.URL) {
			return s.URL, nil
		}
		path, err := c.checkLocal(kind, s.URL)
		if err != nil {
			return "", err
		}
		if c.LocalMode == llm.LocalMediaFileURL {
			return FileURL(path)
		}
		data, err := readFile(path)
		if err != nil {
			return "", err
		}
		return DataURL(MimeType(path), base64.StdEncoding.EncodeToString(data)), nil

	case *llm.Base64Source:
		if _, err := c.checkBase64(kind, "base64", s.Data); err != nil {
			return "", err
		}
		return DataURL(mimeOr(s.MediaType, kind), s.Data), nil

	case *llm.RawSource:
		if err := c.checkSize(kind, "raw", int64(len(s.Data))); err != nil {
			return "", err
		}
		return DataURL(mimeOr(s.MimeType, kind), base64.StdEncoding.EncodeToString(s.Data)), nil

	default:
		return "", llm.NewMediaError(llm.MediaUnsupportedSource, "", nil)
	}
}

// RemoteURL 来源是否为远程 URL（http/https/gs 等，不含 data URL）
func RemoteURL(src llm.Source) (string, bool) {
	s, ok := src.(*llm.URLSource)
	if !ok || IsLocal(s.URL) {
		return "", false
	}
	if _, _, isData := ParseDataURL(s.URL); isData {
		return "", false
	}
	return s.URL, true
}

// ═══════════════════════════════════════════════════════════════════════════
// 内联 Blob 形态
// ═══════════════════════════════════════════════════════════════════════════

// Blob 将来源转换为内联的 base64 数据与 MIME 类型
//
// 用于 Gemini inline_data、Anthropic base64 source、Ollama images 等。
// 远程 URL 无法内联，返回 unsupported_source 错误，调用方需改用 URL 形态。
func (c Codec) Blob(kind Kind, src llm.Source) (data, mimeType string, err error) {
	switch s := src.(type) {
	case *llm.URLSource:
		if mt, b64, ok := ParseDataURL(s.URL); ok {
			if _, err := c.checkBase64(kind, "data-url", b64); err != nil {
				return "", "", err
			}
			return b64, mt, nil
		}
		if !IsLocal(s.URL) {
			return "", "", llm.NewMediaError(llm.MediaUnsupportedSource, s.URL, errors.New("remote url cannot be inlined"))
		}
		path, err := c.checkLocal(kind, s.URL)
		if err != nil {
			return "", "", err
		}
		raw, err := readFile(path)
		if err != nil {
			return "", "", err
		}
		return base64.StdEncoding.EncodeToString(raw), MimeType(path), nil

	case *llm.Base64Source:
		if _, err := c.checkBase64(kind, "base64", s.Data); err != nil {
			return "", "", err
		}
		return s.Data, mimeOr(s.MediaType, kind), nil

	case *llm.RawSource:
		if err := c.checkSize(kind, "raw", int64(len(s.Data))); err != nil {
			return "", "", err
		}
		return base64.StdEncoding.EncodeToString(s.Data), mimeOr(s.MimeType, kind), nil

	default:
		return "", "", llm.NewMediaError(llm.MediaUnsupportedSource, "", nil)
	}
}

// MimeOf 返回来源的 MIME 类型（不做 I/O）
func MimeOf(kind Kind, src llm.Source) string {
	switch s := src.(type) {
	case *llm.URLSource:
		if mt, _, ok := ParseDataURL(s.URL); ok {
			return mt
		}
		if mt := MimeType(s.URL); mt != "application/octet-stream" {
			return mt
		}
	case *llm.Base64Source:
		return mimeOr(s.MediaType, kind)
	case *llm.RawSource:
		return mimeOr(s.MimeType, kind)
	}
	return mimeOr("", kind)
}

// ═══════════════════════════════════════════════════════════════════════════
// 校验
// ═══════════════════════════════════════════════════════════════════════════

// CheckImageSize 检查图像解码后大小
func (c Codec) CheckImageSize(path string, decodedLen int64) error {
	return c.checkSize(KindImage, path, decodedLen)
}

func (c Codec) checkSize(kind Kind, path string, size int64) error {
	if kind != KindImage || c.MaxImageBytes <= 0 || size <= c.MaxImageBytes {
		return nil
	}
	return llm.NewMediaTooLargeError(path, size, c.MaxImageBytes)
}

func (c Codec) checkBase64(kind Kind, path, b64 string) (int64, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		if raw, err = base64.RawStdEncoding.DecodeString(b64); err != nil {
			return 0, llm.NewMediaError(llm.MediaInvalidBase64, path, err)
		}
	}
	size := int64(len(raw))
	return size, c.checkSize(kind, path, size)
}

// checkLocal 依次检查扩展名、文件是否存在与大小，返回绝对路径
func (c Codec) checkLocal(kind Kind, raw string) (string, error) {
	if err := CheckExtension(kind, raw); err != nil {
		return "", err
	}
	path, err := LocalPath(raw)
	if err != nil {
		return "", llm.NewMediaError(llm.MediaReadFailed, raw, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", llm.NewMediaError(llm.MediaNotFound, path, err)
		}
		return "", llm.NewMediaError(llm.MediaReadFailed, path, err)
	}
	if info.IsDir() {
		return "", llm.NewMediaError(llm.MediaNotFound, path, errors.New("is a directory"))
	}
	if err := c.checkSize(kind, path, info.Size()); err != nil {
		return "", err
	}
	return path, nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, llm.NewMediaError(llm.MediaReadFailed, path, err)
	}
	return data, nil
}

func mimeOr(mimeType string, kind Kind) string {
	if mimeType != "" {
		return mimeType
	}
	switch kind {
	case KindImage:
		return "image/png"
	case KindAudio:
		return "audio/wav"
	case KindVideo:
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// 音频格式
// ═══════════════════════════════════════════════════════════════════════════

// AudioFormat 实时会话音频格式描述
type AudioFormat struct {
	Encoding   string // "pcm16" / "wav" / "mp3" ...
	SampleRate int
	Channels   int
}

// AudioFormatOf 从来源推导音频格式，采样率缺省使用 fallbackRate
func AudioFormatOf(src llm.Source, fallbackRate int) AudioFormat {
	af := AudioFormat{Encoding: "pcm16", SampleRate: fallbackRate, Channels: 1}
	switch s := src.(type) {
	case *llm.RawSource:
		if s.SampleRate > 0 {
			af.SampleRate = s.SampleRate
		}
		if s.Channels > 0 {
			af.Channels = s.Channels
		}
		if s.BitDepth == 8 {
			af.Encoding = "pcm8"
		}
		af.Encoding = encodingFromMime(s.MimeType, af.Encoding)
	case *llm.Base64Source:
		af.Encoding = encodingFromMime(s.MediaType, af.Encoding)
	case *llm.URLSource:
		af.Encoding = encodingFromMime(MimeType(s.URL), af.Encoding)
	}
	return af
}

func encodingFromMime(mimeType, fallback string) string {
	switch mimeType {
	case "audio/wav", "audio/x-wav":
		return "wav"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/ogg", "audio/opus":
		return "opus"
	case "audio/flac":
		return "flac"
	default:
		return fallback
	}
}

// RawAudio 返回来源中的原始音频字节（base64 来源会被解码）
func RawAudio(src llm.Source) ([]byte, error) {
	switch s := src.(type) {
	case *llm.RawSource:
		return s.Data, nil
	case *llm.Base64Source:
		raw, err := base64.StdEncoding.DecodeString(s.Data)
		if err != nil {
			return nil, llm.NewMediaError(llm.MediaInvalidBase64, "audio", err)
		}
		return raw, nil
	case *llm.URLSource:
		if _, b64, ok := ParseDataURL(s.URL); ok {
			return RawAudio(llm.FromBase64(b64, ""))
		}
		if !IsLocal(s.URL) {
			return nil, llm.NewMediaError(llm.MediaUnsupportedSource, s.URL, errors.New("remote audio cannot be streamed"))
		}
		path, err := LocalPath(s.URL)
		if err != nil {
			return nil, llm.NewMediaError(llm.MediaReadFailed, s.URL, err)
		}
		return readFile(path)
	default:
		return nil, llm.NewMediaError(llm.MediaUnsupportedSource, "", nil)
	}
}

// Base64Audio 返回来源音频的 base64 编码
func Base64Audio(src llm.Source) (string, error) {
	if s, ok := src.(*llm.Base64Source); ok {
		return s.Data, nil
	}
	raw, err := RawAudio(src)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
