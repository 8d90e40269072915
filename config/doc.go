// Package config 提供 mcpflow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（MCPFLOW_ 前缀）的顺序叠加，
// 覆盖 LLM 上游、重试、工具循环、MCP 服务器、日志、遥测与指标。
package config
