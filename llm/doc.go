// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 llm 定义流式对话的统一契约与错误归一化。

# 概述

上层只依赖 [Provider] 的 Stream 接口；各厂商实现位于 llm/providers 子包，
负责把自身的 SSE 事件解码为统一的 [StreamChunk]。

# 核心类型

  - [ChatRequest]：一次流式请求（消息、工具、模型、采样参数）
  - [StreamChunk]：文本增量、工具调用增量、结束原因、用量或终止错误
  - [ToolCallDelta]：按 Index 累积的工具调用片段

# 错误归一化

[NormalizeError] 把任意错误映射为 *types.Error：识别中止、提取 HTTP 状态码、
按状态码与消息分类，并据此标记是否可重试。[NewHTTPError] 用于已知状态码的场景。

# 相关子包

  - llm/sse：SSE 帧解析
  - llm/retry：指数退避重试
  - llm/providers：厂商适配与重试包装
  - llm/tools：参数修复、校验与工具执行
  - llm/toolloop：工具调用循环编排
*/
package llm
