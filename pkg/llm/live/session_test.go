package live

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/codec"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/frame"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/protocol/dashscope"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/protocol/doubao"
)

// ═══════════════════════════════════════════════════════════════════════════
// 测试辅助
// ═══════════════════════════════════════════════════════════════════════════

// wsServer 启动一个 websocket 服务端，script 在连接建立后运行，返回时正常关闭连接
func wsServer(t *testing.T, script func(ctx context.Context, conn *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		script(r.Context(), conn)
		_ = conn.Close(websocket.StatusNormalClosure, "done")
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func readJSON(t *testing.T, ctx context.Context, conn *websocket.Conn) map[string]any {
	t.Helper()
	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)
	m, err := codec.ParseObject(data)
	require.NoError(t, err)
	return m
}

func writeText(ctx context.Context, conn *websocket.Conn, s string) {
	_ = conn.Write(ctx, websocket.MessageText, []byte(s))
}

// ═══════════════════════════════════════════════════════════════════════════
// JSON 会话
// ═══════════════════════════════════════════════════════════════════════════

func TestSession_JSONRoundTrip(t *testing.T) {
	ctx := testContext(t)
	inputs := make(chan map[string]any, 1)

	url := wsServer(t, func(ctx context.Context, conn *websocket.Conn) {
		cfg := readJSON(t, ctx, conn)
		assert.Equal(t, "session.update", cfg["type"])
		assert.Equal(t, "你是助手", cfg["session"].(map[string]any)["instructions"])

		writeText(ctx, conn, `{"type":"session.created","session":{"id":"sess-1"}}`)
		inputs <- readJSON(t, ctx, conn)
		writeText(ctx, conn, `{"type":"response.text.delta","delta":"hi"}`)
		writeText(ctx, conn, `{"type":"mystery"}`)
	})

	reg := prometheus.NewRegistry()
	s, err := Dial(ctx, url, dashscope.NewLive(), llm.LiveConfig{Instructions: "你是助手"}, nil,
		WithRegisterer(reg), WithPingInterval(20*time.Millisecond))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	assert.Equal(t, llm.StateSessionStarting, s.State())
	assert.Equal(t, "dashscope", s.Provider())

	created := make(chan struct{})
	var events []llm.LiveEvent
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(e llm.LiveEvent) error {
			events = append(events, e)
			if e.Type == llm.LiveSessionCreated {
				close(created)
			}
			return nil
		})
	}()

	<-created
	// 文本输入不被 DashScope 支持，计入丢弃
	require.NoError(t, s.Send(ctx, llm.UserMsg("", "ignored")))
	require.NoError(t, s.Send(ctx, llm.NewMsg(llm.RoleUser, "", llm.Control(llm.ControlCommit))))

	require.NoError(t, <-done)
	assert.Equal(t, "input_audio_buffer.commit", (<-inputs)["type"])

	require.Len(t, events, 3)
	assert.Equal(t, llm.LiveSessionCreated, events[0].Type)
	assert.Equal(t, "hi", events[1].Text())
	assert.Equal(t, llm.LiveUnknown, events[2].Type)

	assert.Equal(t, "sess-1", s.SessionState().SessionID)
	assert.Equal(t, llm.StateSessionEnded, s.State())

	assert.Equal(t, 1.0, testutil.ToFloat64(s.dropped.WithLabelValues("dashscope")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.events.WithLabelValues("dashscope", "text_delta")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.events.WithLabelValues("dashscope", "unknown")))
}

func TestSession_HandlerError(t *testing.T) {
	ctx := testContext(t)
	url := wsServer(t, func(ctx context.Context, conn *websocket.Conn) {
		_, _, _ = conn.Read(ctx)
		writeText(ctx, conn, `{"type":"session.created","session":{"id":"x"}}`)
		// 保持连接直到客户端关闭
		_, _, _ = conn.Read(ctx)
	})

	s, err := Dial(ctx, url, dashscope.NewLive(), llm.LiveConfig{}, nil, WithPingInterval(0))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	errStop := errors.New("stop")
	err = s.Run(ctx, func(llm.LiveEvent) error { return errStop })
	assert.ErrorIs(t, err, errStop)
}

func TestSession_SessionEndedStopsRun(t *testing.T) {
	ctx := testContext(t)
	url := wsServer(t, func(ctx context.Context, conn *websocket.Conn) {
		_, _, _ = conn.Read(ctx)
		_ = conn.Write(ctx, websocket.MessageBinary, frame.Encode(doubao.EventSessionFinished, []byte("{}")))
		_, _, _ = conn.Read(ctx)
	})

	s, err := Dial(ctx, url, doubao.NewLive(), llm.LiveConfig{}, nil)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.Run(ctx, nil))
	assert.Equal(t, llm.StateSessionEnded, s.State())
}

// ═══════════════════════════════════════════════════════════════════════════
// 二进制会话
// ═══════════════════════════════════════════════════════════════════════════

func TestSession_BinaryFrames(t *testing.T) {
	ctx := testContext(t)
	audio := make(chan frame.Frame, 1)

	url := wsServer(t, func(ctx context.Context, conn *websocket.Conn) {
		typ, data, err := conn.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, websocket.MessageBinary, typ)
		start := frame.Decode(data)
		assert.Equal(t, doubao.EventStartSession, start.EventID)
		assert.Contains(t, string(start.Payload), `"dialog_id":"dlg-old"`)

		_ = conn.Write(ctx, websocket.MessageBinary, frame.Encode(doubao.EventSessionStarted, []byte(`{"dialog_id":"dlg-new"}`)))

		typ, data, err = conn.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, websocket.MessageBinary, typ)
		audio <- frame.Decode(data)

		h := frame.AudioHeader
		h.MessageType = frame.TypeAudioServer
		_ = conn.Write(ctx, websocket.MessageBinary, frame.EncodeWithHeader(h, doubao.EventTTSResponse, []byte{7, 7}))
	})

	resume := &llm.SessionState{}
	resume.UpdateHandle("dlg-old", true)

	s, err := Dial(ctx, url, doubao.NewLive(), llm.LiveConfig{}, nil, WithResume(resume))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	started := make(chan struct{})
	var audioOut []byte
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(e llm.LiveEvent) error {
			switch e.Type {
			case llm.LiveSessionCreated:
				close(started)
			case llm.LiveAudioDelta:
				audioOut = e.AudioData()
			}
			return nil
		})
	}()

	<-started
	assert.Equal(t, "dlg-new", s.Handle())
	require.NoError(t, s.Send(ctx, llm.NewMsg(llm.RoleUser, "", llm.Audio(llm.PCM([]byte{1, 2}, doubao.InputSampleRate)))))

	require.NoError(t, <-done)
	in := <-audio
	assert.Equal(t, doubao.EventTaskRequest, in.EventID)
	assert.Equal(t, []byte{1, 2}, in.Payload)
	assert.Equal(t, []byte{7, 7}, audioOut)
}

// ═══════════════════════════════════════════════════════════════════════════
// 错误路径
// ═══════════════════════════════════════════════════════════════════════════

func TestDial_Errors(t *testing.T) {
	ctx := testContext(t)

	t.Run("缺少格式化器", func(t *testing.T) {
		_, err := Dial(ctx, "ws://127.0.0.1:1", nil, llm.LiveConfig{}, nil)
		var ce *llm.ConfigError
		assert.True(t, errors.As(err, &ce))
	})

	t.Run("握手失败", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		defer srv.Close()
		_, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), dashscope.NewLive(), llm.LiveConfig{}, nil)
		var he *llm.HTTPError
		assert.True(t, errors.As(err, &he))
	})
}

func TestNewMetrics_Reregister(t *testing.T) {
	reg := prometheus.NewRegistry()
	e1, d1 := newMetrics(reg)
	e2, d2 := newMetrics(reg)
	assert.Same(t, e1, e2)
	assert.Same(t, d1, d2)

	e3, _ := newMetrics(nil)
	assert.NotSame(t, e1, e3)
}
