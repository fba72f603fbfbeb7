package llm

// ═══════════════════════════════════════════════════════════════════════════
// 媒体来源
// ═══════════════════════════════════════════════════════════════════════════

// SourceKind 媒体来源类型
type SourceKind string

const (
	SourceRaw    SourceKind = "raw"
	SourceBase64 SourceKind = "base64"
	SourceURL    SourceKind = "url"
)

// Source 媒体来源
//
// 封闭变体：RawSource、Base64Source、URLSource，每个值恰好是其中一种。
// 转换为 Provider 格式由 media 包按变体分派完成。
type Source interface {
	Kind() SourceKind
	isSource()
}

// RawSource 原始字节来源
//
// 音频数据额外携带采样率、位深与声道数，实时会话据此推导音频格式。
type RawSource struct {
	Data       []byte `json:"data"`
	MimeType   string `json:"mime_type"`
	SampleRate int    `json:"sample_rate,omitempty"`
	BitDepth   int    `json:"bit_depth,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// Base64Source Base64 编码来源
type Base64Source struct {
	Data      string `json:"data"`
	MediaType string `json:"media_type"`
}

// URLSource URL 来源（远程地址或本地文件路径）
type URLSource struct {
	URL string `json:"url"`
}

func (*RawSource) Kind() SourceKind    { return SourceRaw }
func (*Base64Source) Kind() SourceKind { return SourceBase64 }
func (*URLSource) Kind() SourceKind    { return SourceURL }

func (*RawSource) isSource()    {}
func (*Base64Source) isSource() {}
func (*URLSource) isSource()    {}

// FromURL 创建 URL 来源
func FromURL(url string) *URLSource { return &URLSource{URL: url} }

// FromBase64 创建 Base64 来源
func FromBase64(data, mediaType string) *Base64Source {
	return &Base64Source{Data: data, MediaType: mediaType}
}

// FromBytes 创建原始字节来源
func FromBytes(data []byte, mimeType string) *RawSource {
	return &RawSource{Data: data, MimeType: mimeType}
}

// PCM 创建 PCM 音频来源
func PCM(data []byte, sampleRate int) *RawSource {
	return &RawSource{
		Data:       data,
		MimeType:   "audio/pcm",
		SampleRate: sampleRate,
		BitDepth:   16,
		Channels:   1,
	}
}
