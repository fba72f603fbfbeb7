// Package gemini 实现 Google Gemini API 的消息格式化
//
// # 对话（generateContent）
//
//   - 内容格式：contents[{role, parts[]}]，角色 user / model
//   - 系统提示：独立的 systemInstruction 字段（SystemInstruction）
//   - 媒体：本地/base64/原始字节 → inline_data，远程 URL → file_data
//   - 工具：functionDeclarations；结果作为 user 内容中的 functionResponse
//   - 端点：/models/{model}:generateContent，流式 :streamGenerateContent?alt=sse
//
// 请求示例：
//
//	{
//	  "systemInstruction": {"parts": [{"text": "..."}]},
//	  "contents": [
//	    {"role": "user", "parts": [{"text": "..."}]},
//	    {"role": "model", "parts": [{"functionCall": {"name": "...", "args": {...}}}]}
//	  ],
//	  "tools": [{"functionDeclarations": [...]}],
//	  "generationConfig": {"thinkingConfig": {"includeThoughts": true, "thinkingBudget": 1024}}
//	}
//
// # 实时会话（Live API）
//
// 首帧为 setup，随后是 realtimeInput / toolResponse / clientContent；
// 服务端消息按顶层字段识别，解码到 google.golang.org/genai 的类型。
package gemini
