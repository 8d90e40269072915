// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
# 概述

包 anthropic 提供 Anthropic Messages API（/v1/messages）的流式 Provider 实现。
Claude API 与 OpenAI 格式有显著差异，本包负责消息、工具与流式事件的双向转换。

# 协议差异

  - 认证使用 x-api-key 请求头（非 Bearer Token），并携带 anthropic-version
  - system 消息从 messages 数组中提取，单独传递到 system 字段
  - 消息 content 为数组形式，支持 text / image / tool_use / tool_result 混合
  - Tool 结果包装为 user 角色的 tool_result 内容块，相邻的同角色消息会被合并
  - 流式 SSE 事件为 message_start / content_block_start / content_block_delta /
    content_block_stop / message_delta / message_stop / error

# 工具调用增量

content_block_start 中的 tool_use 块给出 id 与名称，随后的 input_json_delta
片段按块索引累积，content_block_stop 时以 Closed 标记该索引结束。
*/
package anthropic
