package core

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/codec"
)

// 请求结果标签
const (
	OutcomeSuccess        = "success"
	OutcomeTransportError = "transport_error"
	OutcomeAPIError       = "api_error"
	OutcomeFormatError    = "format_error"
)

// ═══════════════════════════════════════════════════════════════════════════
// Client 对话客户端
// ═══════════════════════════════════════════════════════════════════════════

// Client 驱动 ChatFormatter 的 HTTP 客户端
//
// 封装 HTTP 通信、错误映射与指标，消息转换全部委托给格式化器。
//
// 使用示例：
//
//	cfg := llm.DefaultConfig(llm.ProviderTypeDashScope)
//	cfg.APIKey = "sk-xxx"
//	f, _ := provider.NewChatFormatter(&cfg)
//	client, _ := core.NewClient(&cfg, f)
//
//	resp, err := client.Complete(ctx, core.Request{Messages: msgs})
type Client struct {
	cfg       *llm.Config
	formatter ChatFormatter
	resty     *resty.Client
	logger    *zap.Logger
	requests  *prometheus.CounterVec
}

type clientOptions struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	headers    map[string]string
	httpClient *http.Client
}

// ClientOption 客户端选项
type ClientOption func(*clientOptions)

// WithClientLogger 设置日志记录器
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = l }
}

// WithRegisterer 注册请求计数指标（nil 不注册）
func WithRegisterer(r prometheus.Registerer) ClientOption {
	return func(o *clientOptions) { o.registerer = r }
}

// WithHeader 追加请求头
func WithHeader(key, value string) ClientOption {
	return func(o *clientOptions) {
		if o.headers == nil {
			o.headers = map[string]string{}
		}
		o.headers[key] = value
	}
}

// WithHTTPClient 使用自定义 http.Client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(o *clientOptions) { o.httpClient = hc }
}

// NewClient 创建客户端
//
// 配置无效或缺少 API Key（Ollama 除外）返回 *llm.ConfigError。
func NewClient(cfg *llm.Config, f ChatFormatter, opts ...ClientOption) (*Client, error) {
	if cfg == nil {
		return nil, llm.NewConfigError("config is required", nil)
	}
	if f == nil {
		return nil, llm.NewConfigError("formatter is required", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.APIKey == "" && cfg.Type != llm.ProviderTypeOllama {
		return nil, llm.NewConfigError("API key is required", nil)
	}

	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = cfg.Type.DefaultBaseURL()
	}

	r := resty.New()
	if o.httpClient != nil {
		r = resty.NewWithClient(o.httpClient)
	}
	r.SetBaseURL(baseURL)
	r.SetTimeout(cfg.TimeoutDuration())
	r.SetHeader("Content-Type", "application/json")
	for k, v := range authHeaders(cfg.Type, cfg.APIKey) {
		r.SetHeader(k, v)
	}
	for k, v := range o.headers {
		r.SetHeader(k, v)
	}
	if cfg.MaxRetries > 0 {
		r.SetRetryCount(cfg.MaxRetries).
			SetRetryWaitTime(500 * time.Millisecond).
			AddRetryCondition(func(resp *resty.Response, err error) bool {
				if err != nil || resp == nil {
					return false
				}
				code := resp.StatusCode()
				return code == http.StatusTooManyRequests || code >= 500 && code <= 504
			})
	}

	requests := promauto.With(o.registerer).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llmfmt",
			Name:      "requests_total",
			Help:      "Total number of chat requests by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	return &Client{
		cfg:       cfg,
		formatter: f,
		resty:     r,
		logger:    Logger(o.logger),
		requests:  requests,
	}, nil
}

// authHeaders 各 Provider 的认证头
func authHeaders(t llm.ProviderType, apiKey string) map[string]string {
	if apiKey == "" {
		return nil
	}
	switch t {
	case llm.ProviderTypeAnthropic:
		return map[string]string{"x-api-key": apiKey, "anthropic-version": "2023-06-01"}
	case llm.ProviderTypeGemini:
		return map[string]string{"x-goog-api-key": apiKey}
	default:
		return map[string]string{"Authorization": "Bearer " + apiKey}
	}
}

// Formatter 返回客户端使用的格式化器
func (c *Client) Formatter() ChatFormatter { return c.formatter }

// Requests 请求计数指标
func (c *Client) Requests() *prometheus.CounterVec { return c.requests }

func (c *Client) providerName() string {
	if name := c.formatter.Capabilities().ProviderName; name != "" {
		return name
	}
	return c.cfg.Type.String()
}

func (c *Client) record(outcome string) {
	c.requests.WithLabelValues(c.providerName(), outcome).Inc()
}

// ═══════════════════════════════════════════════════════════════════════════
// 请求
// ═══════════════════════════════════════════════════════════════════════════

// Complete 同步完成
//
// 流程：
//  1. BuildRequest 组装请求参数
//  2. POST 到格式化器声明的端点
//  3. 非 2xx 映射为 *llm.APIError（携带 Provider 错误码）
//  4. ParseResponse 解析响应
func (c *Client) Complete(ctx context.Context, req Request) (*llm.ChatResponse, error) {
	start := time.Now()
	model := c.model(req)

	body, err := c.buildBody(req, false)
	if err != nil {
		return nil, err
	}

	resp, err := c.resty.R().
		SetContext(ctx).
		SetBody(body).
		Post(c.endpoint(model, false))
	if err != nil {
		c.record(OutcomeTransportError)
		return nil, llm.NewHTTPError("request failed", err)
	}

	if resp.StatusCode() >= 400 {
		c.record(OutcomeAPIError)
		return nil, c.apiError(resp.StatusCode(), resp.Body(), resp.Header())
	}

	raw, err := codec.ParseObject(resp.Body())
	if err != nil {
		c.record(OutcomeFormatError)
		return nil, llm.NewResponseError("body", err)
	}

	result, err := c.formatter.ParseResponse(raw, start)
	if err != nil {
		c.record(OutcomeFormatError)
		return nil, err
	}
	c.record(OutcomeSuccess)
	c.logger.Debug("chat completed",
		zap.String("provider", c.providerName()),
		zap.String("model", model),
		zap.Int64("total_tokens", result.Usage.TotalTokens()),
	)
	return result, nil
}

// Stream 流式完成
//
// 格式化器必须实现 StreamChunkParser，否则返回 *llm.ConfigError。
// 返回的 channel 缓冲区大小为 10，流结束或出错后自动关闭。
func (c *Client) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	parser, ok := c.formatter.(StreamChunkParser)
	if !ok {
		return nil, llm.NewConfigError(c.providerName()+" formatter does not support streaming", nil)
	}
	start := time.Now()
	model := c.model(req)

	body, err := c.buildBody(req, true)
	if err != nil {
		return nil, err
	}

	r := c.resty.R().
		SetContext(ctx).
		SetBody(body).
		SetHeader("Accept", "text/event-stream").
		SetDoNotParseResponse(true)
	if c.cfg.Type == llm.ProviderTypeDashScope {
		r.SetHeader("X-DashScope-SSE", "enable")
	}

	resp, err := r.Post(c.endpoint(model, true))
	if err != nil {
		c.record(OutcomeTransportError)
		return nil, llm.NewHTTPError("request failed", err)
	}

	if resp.StatusCode() >= 400 {
		c.record(OutcomeAPIError)
		data, _ := io.ReadAll(resp.RawBody())
		_ = resp.RawBody().Close()
		return nil, c.apiError(resp.StatusCode(), data, resp.Header())
	}

	c.record(OutcomeSuccess)
	chunks := make(chan StreamChunk, 10)
	go NewSSEParser(parser, start, c.logger).Parse(resp.RawBody(), chunks)
	return chunks, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// 辅助方法
// ═══════════════════════════════════════════════════════════════════════════

func (c *Client) model(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return c.cfg.Model
}

func (c *Client) buildBody(req Request, stream bool) ([]byte, error) {
	req.Model = c.model(req)

	var opts llm.GenerateOptions
	if req.Options != nil {
		opts = *req.Options
	}
	opts.Stream = stream
	req.Options = &opts

	param, err := BuildRequest(c.formatter, req, c.cfg.Defaults)
	if err != nil {
		return nil, llm.NewRequestError("build request", err)
	}
	body, err := codec.Marshal(param)
	if err != nil {
		return nil, llm.NewRequestError("marshal request", err)
	}
	return body, nil
}

func (c *Client) endpoint(model string, stream bool) string {
	if b, ok := c.formatter.(EndpointBuilder); ok {
		return b.Endpoint(model, stream)
	}
	return "/chat/completions"
}

func (c *Client) apiError(status int, body []byte, header http.Header) *llm.APIError {
	apiErr := llm.NewAPIError(status, string(body)).WithProvider(c.providerName())

	if requestID := header.Get("X-Request-ID"); requestID != "" {
		apiErr = apiErr.WithRequestID(requestID)
	}
	if ext, ok := c.formatter.(ErrorExtractor); ok {
		if raw, err := codec.ParseObject(body); err == nil {
			if code, _ := ext.ExtractError(raw); code != "" {
				apiErr = apiErr.WithErrorCode(code)
			}
		}
	}
	return apiErr
}
