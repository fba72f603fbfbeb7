// Package live 通过 websocket 驱动实时会话格式化器
//
// Session 只负责传输：会话配置、输入编码与事件解析全部委托给 core.LiveFormatter。
//
//	f, _ := provider.NewLiveFormatter(llm.ProviderTypeGemini)
//	s, err := live.Dial(ctx, url, f, cfg, tools, live.WithHeader("x-goog-api-key", key))
//	defer s.Close()
//
//	go s.Run(ctx, func(e llm.LiveEvent) error {
//	    // 处理事件
//	    return nil
//	})
//	_ = s.Send(ctx, llm.NewMsg(llm.RoleUser, "", llm.Audio(llm.PCM(pcm, 16000))))
package live

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/core"
)

// 默认参数
const (
	DefaultReadLimit    = 16 << 20
	DefaultPingInterval = 30 * time.Second
)

// Handler 事件回调，返回错误会终止 Run
type Handler func(llm.LiveEvent) error

// ═══════════════════════════════════════════════════════════════════════════
// 选项
// ═══════════════════════════════════════════════════════════════════════════

type options struct {
	logger       *zap.Logger
	registerer   prometheus.Registerer
	header       http.Header
	httpClient   *http.Client
	state        *llm.SessionState
	readLimit    int64
	pingInterval time.Duration
}

// Option 会话选项
type Option func(*options)

// WithLogger 设置日志记录器
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegisterer 注册会话指标（nil 不注册）
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registerer = r }
}

// WithHeader 追加握手请求头
func WithHeader(key, value string) Option {
	return func(o *options) {
		if o.header == nil {
			o.header = http.Header{}
		}
		o.header.Add(key, value)
	}
}

// WithHTTPClient 使用自定义 http.Client 握手
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithResume 使用已有会话状态（其中的句柄用于恢复上一次会话）
func WithResume(state *llm.SessionState) Option {
	return func(o *options) { o.state = state }
}

// WithReadLimit 单条消息大小上限（字节）
func WithReadLimit(n int64) Option {
	return func(o *options) { o.readLimit = n }
}

// WithPingInterval 心跳间隔（<=0 关闭心跳）
func WithPingInterval(d time.Duration) Option {
	return func(o *options) { o.pingInterval = d }
}

// ═══════════════════════════════════════════════════════════════════════════
// Session
// ═══════════════════════════════════════════════════════════════════════════

// Session 一条实时会话连接
//
// Send 与 Run 可以并发调用；写操作由互斥锁串行化。
type Session struct {
	conn      *websocket.Conn
	formatter core.LiveFormatter
	provider  string
	msgType   websocket.MessageType
	logger    *zap.Logger
	ping      time.Duration

	writeMu sync.Mutex

	mu    sync.Mutex
	state *llm.SessionState
	live  llm.LiveState

	closeOnce sync.Once
	closeErr  error

	events  *prometheus.CounterVec
	dropped *prometheus.CounterVec
}

// Dial 建立连接并发送会话配置
//
// 格式化器实现 core.BinaryFramer 且返回 true 时所有消息以二进制发送，否则以文本发送。
// 配置发送失败时连接被关闭。
func Dial(ctx context.Context, url string, f core.LiveFormatter, cfg llm.LiveConfig, tools []llm.ToolSchema, opts ...Option) (*Session, error) {
	if f == nil {
		return nil, llm.NewConfigError("live formatter is required", nil)
	}
	o := options{readLimit: DefaultReadLimit, pingInterval: DefaultPingInterval}
	for _, opt := range opts {
		opt(&o)
	}
	if o.state == nil {
		o.state = &llm.SessionState{}
	}

	s := &Session{
		formatter: f,
		provider:  f.Capabilities().ProviderName,
		msgType:   websocket.MessageText,
		logger:    core.Logger(o.logger).With(zap.String("component", "live_session")),
		ping:      o.pingInterval,
		state:     o.state,
		live:      llm.StateConnecting,
	}
	if b, ok := f.(core.BinaryFramer); ok && b.BinaryFrames() {
		s.msgType = websocket.MessageBinary
	}
	s.events, s.dropped = newMetrics(o.registerer)

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: o.httpClient,
		HTTPHeader: o.header,
	})
	if err != nil {
		return nil, llm.NewHTTPError("dial websocket", err)
	}
	conn.SetReadLimit(o.readLimit)
	s.conn = conn
	s.setState(llm.StateConnected)

	s.mu.Lock()
	payload, err := f.BuildSessionConfig(s.state, cfg, tools)
	s.mu.Unlock()
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "build session config")
		return nil, llm.NewRequestError("build session config", err)
	}
	if err := s.write(ctx, payload); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "send session config")
		return nil, err
	}
	s.setState(llm.StateSessionStarting)

	s.logger.Debug("live session dialed", zap.String("provider", s.provider), zap.Bool("binary", s.msgType == websocket.MessageBinary))
	return s, nil
}

// Send 编码并发送一条输入
//
// 格式化器不支持的输入（FormatInput 返回 nil）计入丢弃指标并返回 nil。
func (s *Session) Send(ctx context.Context, msg llm.Msg) error {
	data := s.formatter.FormatInput(msg)
	if data == nil {
		s.dropped.WithLabelValues(s.provider).Inc()
		s.logger.Debug(core.LogLiveInputIgnored, zap.String("provider", s.provider))
		return nil
	}
	return s.write(ctx, data)
}

// SendRaw 发送已编码的消息（如豆包 FinishSession 帧）
func (s *Session) SendRaw(ctx context.Context, data []byte) error {
	return s.write(ctx, data)
}

func (s *Session) write(ctx context.Context, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.Write(ctx, s.msgType, data); err != nil {
		return llm.NewStreamError("websocket write", err)
	}
	return nil
}

// Run 读取并分派服务端事件，直到连接关闭、会话结束、ctx 取消或 handler 返回错误
//
// 读循环与心跳在同一个 errgroup 中运行。对端正常关闭或收到 session_ended 时返回 nil。
func (s *Session) Run(ctx context.Context, handler Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return s.readLoop(gctx, handler)
	})
	if s.ping > 0 {
		g.Go(func() error { return s.pingLoop(gctx) })
	}
	return g.Wait()
}

func (s *Session) readLoop(ctx context.Context, handler Handler) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return s.readError(ctx, err)
		}

		s.mu.Lock()
		e := s.formatter.ParseOutput(s.state, data)
		s.live = llm.NextState(s.live, e)
		s.mu.Unlock()

		s.events.WithLabelValues(s.provider, string(e.Type)).Inc()
		if e.Type == llm.LiveError {
			s.logger.Warn("live session error event",
				zap.String("provider", s.provider),
				zap.String("error_type", string(e.ErrorType)),
				zap.String("code", e.ErrorCode),
				zap.String("message", e.Message),
			)
		}

		if handler != nil {
			if err := handler(e); err != nil {
				return err
			}
		}
		if e.Type == llm.LiveSessionEnded {
			return nil
		}
	}
}

func (s *Session) readError(ctx context.Context, err error) error {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		s.setState(llm.StateSessionEnded)
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.setState(llm.StateError)
	return llm.NewStreamError("websocket read", err)
}

func (s *Session) pingLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.ping)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.conn.Ping(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return llm.NewStreamError("websocket ping", err)
			}
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// 状态
// ═══════════════════════════════════════════════════════════════════════════

// State 当前会话状态
func (s *Session) State() llm.LiveState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

func (s *Session) setState(st llm.LiveState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live.Terminal() {
		s.live = st
	}
}

// Handle 最近一次收到的恢复句柄
func (s *Session) Handle() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ResumeHandle()
}

// SessionState 会话状态快照，可通过 WithResume 传给下一次 Dial
func (s *Session) SessionState() llm.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.state
}

// Provider 格式化器声明的 Provider 名称
func (s *Session) Provider() string { return s.provider }

// Close 正常关闭连接，重复调用返回首次结果
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.setState(llm.StateSessionEnded)
		err := s.conn.Close(websocket.StatusNormalClosure, "closing")
		var ce websocket.CloseError
		if err != nil && !errors.As(err, &ce) && !errors.Is(err, net.ErrClosed) {
			s.closeErr = err
		}
	})
	return s.closeErr
}

// ═══════════════════════════════════════════════════════════════════════════
// 指标
// ═══════════════════════════════════════════════════════════════════════════

func newMetrics(r prometheus.Registerer) (events, dropped *prometheus.CounterVec) {
	events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "llmfmt",
		Name:      "live_events_total",
		Help:      "Total number of live events by provider and type",
	}, []string{"provider", "type"})
	dropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "llmfmt",
		Name:      "live_inputs_dropped_total",
		Help:      "Total number of live inputs the formatter could not encode",
	}, []string{"provider"})
	return register(r, events), register(r, dropped)
}

// register 注册指标，同名指标已存在时复用已注册的实例
func register(r prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if r == nil {
		return c
	}
	if err := r.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return c
}
