// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 mcpflow 流水线的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm、tools、toolloop、mcp
等上层模块提供统一的类型契约，以避免循环依赖。

# 核心类型

  - Message / Role：对话消息（Content、Embeds、ToolCalls、ToolCallID）
  - ToolCall：模型发起的工具调用（参数保留原始 JSON 文本）
  - ToolDefinition：MCP 工具定义（name + description + JSON Schema + ServerID）
  - ToolInvoker：外部工具调用回调 (serverID, name, args) -> string
  - Error / ErrorType：归一化错误（auth / permission / rate_limit / network / server / invalid_request）

# 主要能力

  - 错误工具链：AsError / IsRetryable / IsAbort / GetErrorType
  - Context 传播：WithTraceID / WithRequestID / WithLLMModel
*/
package types
