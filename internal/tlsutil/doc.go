// Package tlsutil 提供集中式 TLS 配置，
// 为 LLM 流式请求与 MCP 客户端提供安全加固的 HTTP 客户端（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
