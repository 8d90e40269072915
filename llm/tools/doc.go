/*
Package tools 执行模型发起的 MCP 工具调用。

Executor 按声明顺序逐个执行调用：解析参数、按 inputSchema 修复常见的
形态错误（URL 与 owner/repo 互转、单个缺失必填字段回填）、校验类型，
然后依次尝试 BuildCandidates 生成的参数组合。上游返回可恢复故障时换下一个
候选，其余错误立即停止。

任何失败都不会以 error 返回，而是写入 Result.Content，作为 tool 消息交给
模型在下一轮自行纠正。
*/
package tools
