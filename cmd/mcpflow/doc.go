// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 mcpflow 命令行程序入口。

# 概述

cmd/mcpflow 把配置中的 LLM Provider 与 MCP 工具服务器组装成
toolloop.Service，并在终端中流式输出模型回复。模型请求工具时，
工具结果以一行摘要的形式插入输出。

# 主要能力

  - 子命令：chat（流式对话）、tools（列出已发现的工具）、version
  - 结构化日志（zap），默认输出到 stderr，stdout 只保留模型输出
  - 可选 Prometheus 端点（errgroup 管理生命周期）与 OpenTelemetry 导出
  - Ctrl-C 中止当前请求，流干净结束
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
