// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
# 概述

包 providers 提供流式 Provider 实现的公共基础层。各服务商子包
（openaicompat、anthropic）依赖本包完成 HTTP 发送、错误映射与 SSE 泵送。

# 核心类型

  - BaseProviderConfig：所有 Provider 共享的基础配置（APIKey、BaseURL、Model、Timeout）
  - EventDecoder：单个流内有状态的 SSE 事件解码器
  - RetryableProvider：仅对连接阶段做指数退避重试的 Provider 包装器

# 核心函数

  - PostJSON：序列化请求并发送，非 2xx 响应转换为归一化错误
  - ReadErrorMessage：从各家错误响应体中提取可读消息
  - StreamSSE：基于 llm/sse 的流式读取与解码
  - ChooseModel：按优先级选择模型（请求 > 默认 > 兜底）
*/
package providers
