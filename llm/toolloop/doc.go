// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package toolloop 实现流式工具调用循环。

Orchestrator 对单个请求执行状态机：

	STREAMING_TEXT → DONE
	STREAMING_TEXT → TOOL_CALLS_DETECTED → EXECUTING_TOOLS → STREAMING_TEXT
	超过 MaxLoops → FINAL_PLAIN_REQUEST → DONE

文本增量在本回合出现工具调用前立即输出；每个完成的工具调用输出一个
FormatMarker 标记。Provider 拒绝带工具的请求且尚未输出任何内容时，
去掉工具整体重试一次并发出一次性提示。ctx 取消时通道直接关闭，不发送错误。

Service 是会话级的上下文对象，持有 Provider、工具执行器与并发配额，
通过 Init/Dispose 管理生命周期。
*/
package toolloop
