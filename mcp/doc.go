// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package mcp 实现 Model Context Protocol (MCP) 的客户端侧。
//
// 包含 JSON-RPC 消息类型、streamable HTTP 与 WebSocket 两种传输
// （后者支持心跳与指数退避重连）、基于读循环的 Client，以及
// 聚合多个服务器工具并按归属路由调用的 Registry。Registry 满足
// toolloop.ToolSource，可直接作为工具循环的工具来源。
package mcp
