// Package anthropic 实现 Anthropic Messages API 的消息格式化
//
// 关键协议差异：
//  1. 内容数组：content 数组承载所有内容块
//  2. 工具参数：直接传递对象（无需序列化为 JSON 字符串）
//  3. 工具结果：user 消息中的 tool_result 块，连续的结果合并为一条消息
//  4. 系统消息：独立的 system 字段（SystemInstruction）
//  5. Token 字段名：input_tokens, output_tokens（无 total_tokens）
//
// 流式响应按 data 中的 type 字段分派：
//
//	message_start → content_block_start → content_block_delta* →
//	content_block_stop → message_delta → message_stop
package anthropic
