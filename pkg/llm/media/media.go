// Package media 将 llm.Source 转换为各 Provider 需要的媒体表示
//
// 支持的目标形态：
//   - 远程 URL 原样透传
//   - 本地文件 → file:// 绝对路径 或 data URL（由 Codec.LocalMode 决定）
//   - Base64 / 原始字节 → data:{mime};base64,{data} 或内联 blob（data + mime）
//
// 扩展名白名单在任何 I/O 之前检查；图像大小按解码后的字节数检查，
// 超限返回 *llm.MediaError，不会截断。
package media

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
)

// DefaultMaxImageBytes DashScope 图像输入的解码后大小上限
const DefaultMaxImageBytes int64 = 500 * 1024

// Kind 媒体类别
type Kind string

const (
	KindImage Kind = "image"
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// ═══════════════════════════════════════════════════════════════════════════
// 扩展名与 MIME
// ═══════════════════════════════════════════════════════════════════════════

var mimeTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".heic": "image/heic",

	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".flv":  "video/x-flv",
	".mpeg": "video/mpeg",
	".mpg":  "video/mpeg",
	".wmv":  "video/x-ms-wmv",
	".3gp":  "video/3gpp",

	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".flac": "audio/flac",
	".aac":  "audio/aac",
	".ogg":  "audio/ogg",
	".m4a":  "audio/mp4",
	".opus": "audio/opus",
	".pcm":  "audio/pcm",
}

// MimeType 根据扩展名推断 MIME 类型，未知返回 application/octet-stream
func MimeType(path string) string {
	if mt, ok := mimeTypes[Ext(path)]; ok {
		return mt
	}
	return "application/octet-stream"
}

// Ext 返回小写扩展名（忽略 URL 查询串与片段）
func Ext(path string) string {
	if u, err := url.Parse(path); err == nil && u.Scheme != "" && u.Path != "" {
		path = u.Path
	}
	return strings.ToLower(filepath.Ext(path))
}

// KindOf 返回扩展名所属的媒体类别
func KindOf(path string) (Kind, bool) {
	mt, ok := mimeTypes[Ext(path)]
	if !ok {
		return "", false
	}
	switch {
	case strings.HasPrefix(mt, "image/"):
		return KindImage, true
	case strings.HasPrefix(mt, "video/"):
		return KindVideo, true
	default:
		return KindAudio, true
	}
}

// CheckExtension 检查扩展名是否在对应类别的白名单中
func CheckExtension(kind Kind, path string) error {
	got, ok := KindOf(path)
	if !ok || got != kind {
		return llm.NewMediaError(llm.MediaUnsupportedExtension, path,
			fmt.Errorf("extension %q not allowed for %s", Ext(path), kind))
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// 本地 / 远程判断
// ═══════════════════════════════════════════════════════════════════════════

var remoteSchemes = map[string]bool{
	"http": true, "https": true, "data": true, "gs": true, "oss": true, "s3": true,
}

// IsLocal 判断 URL 是否指向本地文件
//
// file:// 与无 scheme 的路径（/abs、./rel、../rel、~/home、rel/file.png）视为本地；
// http(s)、data、gs、oss、s3 视为远程。
func IsLocal(raw string) bool {
	if strings.HasPrefix(raw, "file://") {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return true
	}
	// Windows 盘符（C:\）会被解析成单字母 scheme
	if len(u.Scheme) <= 1 {
		return true
	}
	return !remoteSchemes[strings.ToLower(u.Scheme)]
}

// LocalPath 把本地 URL 转换为绝对文件路径
func LocalPath(raw string) (string, error) {
	path := strings.TrimPrefix(raw, "file://")
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[2:])
	}
	return filepath.Abs(path)
}

// FileURL 返回本地文件的 file:// 绝对路径
func FileURL(raw string) (string, error) {
	abs, err := LocalPath(raw)
	if err != nil {
		return "", err
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// DataURL 组装 data URL
func DataURL(mimeType, b64 string) string {
	return "data:" + mimeType + ";base64," + b64
}

// ParseDataURL 拆解 data URL，返回 mime 与 base64 数据
func ParseDataURL(raw string) (mimeType, data string, ok bool) {
	rest, found := strings.CutPrefix(raw, "data:")
	if !found {
		return "", "", false
	}
	meta, data, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mimeType, isB64 := strings.CutSuffix(meta, ";base64")
	if !isB64 {
		return "", "", false
	}
	return mimeType, data, true
}

// DecodedLen 返回 base64 数据解码后的字节数（不实际解码）
func DecodedLen(b64 string) int64 {
	n := int64(len(b64))
	if n == 0 {
		return 0
	}
	padding := int64(strings.Count(b64[max(0, len(b64)-2):], "="))
	return n*3/4 - padding
}
