/*
包 sse 提供 text/event-stream 帧解析，把任意切分的网络分片还原为完整的协议事件。

# 概述

上游 LLM 以 Server-Sent Events 推送增量结果，TCP 分片可能在任何字节处切断帧。
本包的 FeedChunk 是无状态函数：调用方持有累积缓冲，每次把新分片与缓冲一起交给
FeedChunk，得到已完整的事件和尚未结束的剩余文本。

# 行为约定

  - \r\n 与单独的 \r 统一为 \n；空行分隔帧，未以空行结束的尾部作为 Rest 留待下次。
  - field: value 语法，冒号后单个前导空格被去除；以 : 开头的行为注释。
  - 多个 data: 行以 \n 拼接；未知字段忽略；retry: 非整数时丢弃。
  - 不含任何可识别字段的帧不产生事件。
  - data 为 [DONE] 时标记 IsDone 并立即停止，之后的缓冲文本被丢弃。
  - JSON 解析为尽力而为，失败写入 ParseError，解析器本身从不返回错误。

分片无关性：FeedChunk("", A) 后接 FeedChunk(rest, B) 与 FeedChunk("", A+B)
产生完全相同的事件序列。

Read 在 FeedChunk 之上从 io.Reader 泵取数据，供 Provider 流解码与 MCP HTTP 传输复用。
*/
package sse
