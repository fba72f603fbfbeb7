package llm_test

import (
	"fmt"

	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/codec"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/core"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/frame"
	"github.com/lwmacct/251218-go-pkg-llmfmt/pkg/llm/protocol/openai"
)

// Example_format 展示对话消息转换为 OpenAI 消息数组
func Example_format() {
	f := openai.New()
	out, err := f.Format([]llm.Msg{
		llm.SystemMsg("you are helpful"),
		llm.UserMsg("alice", "hi"),
	})
	if err != nil {
		fmt.Println("Error:", err)
		return
	}

	s, _ := codec.ToJSON(out)
	fmt.Println(s)
	// Output: [{"content":"you are helpful","role":"system"},{"content":"hi","role":"user"}]
}

// Example_multiAgent 展示多智能体历史折叠
func Example_multiAgent() {
	f := openai.NewMultiAgent(core.WithHistoryPrompt("历史：\n"))
	out, _ := f.Format([]llm.Msg{
		llm.UserMsg("alice", "move e4"),
		llm.AssistantMsg("bob", "c5"),
	})

	fmt.Println(len(out))
	fmt.Println(out[0]["content"])
	// Output:
	// 1
	// 历史：
	// <history>
	// alice: move e4
	// bob: c5
	// </history>
}

// Example_toolCalls 展示工具调用消息
func Example_toolCalls() {
	msg := llm.NewMsg(llm.RoleAssistant, "bot",
		llm.Text("Let me check"),
		llm.ToolUse("call_123", "get_weather", map[string]any{"city": "Beijing"}),
	)

	for _, tu := range msg.ToolUses() {
		fmt.Printf("Tool: %s, ID: %s, City: %v\n", tu.Name, tu.ID, tu.Input["city"])
	}
	fmt.Println("Text:", msg.TextContent())
	// Output:
	// Tool: get_weather, ID: call_123, City: Beijing
	// Text: Let me check
}

// Example_frame 展示豆包二进制帧编解码
func Example_frame() {
	data := frame.Encode(100, []byte("{}"))
	fmt.Printf("% x\n", data)

	f := frame.Decode(data)
	fmt.Println(f.EventID, string(f.Payload), f.Header.IsAudio())
	// Output:
	// 11 14 10 00 00 00 00 64 7b 7d
	// 100 {} false
}

// Example_liveState 展示实时事件驱动的会话状态
func Example_liveState() {
	state := llm.StateConnecting
	for _, e := range []llm.LiveEvent{
		llm.SessionCreated("s1"),
		llm.SimpleEvent(llm.LiveSpeechStarted),
		llm.TextDelta("hi", false),
		llm.UsageEvent(llm.LiveTurnComplete, nil),
		llm.SimpleEvent(llm.LiveSessionEnded),
	} {
		state = llm.NextState(state, e)
		fmt.Println(e.Type, "→", state)
	}
	// Output:
	// session_created → session_active
	// speech_started → listening
	// text_delta → speaking
	// turn_complete → session_active
	// session_ended → session_ended
}

// Example_optionalTurnDetection 展示三态可选值
func Example_optionalTurnDetection() {
	var unset llm.Optional[llm.TurnDetection]
	disabled := llm.Null[llm.TurnDetection]()
	server := llm.Some(llm.TurnDetection{Type: "server_vad"})

	fmt.Println(unset.IsSet(), disabled.IsNull(), server.IsSet())
	// Output: false true true
}
