// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的流水线指标采集能力，覆盖
流式请求、工具循环、工具调用与连接重试四个维度。

# 概述

Collector 通过 promauto.With 注册到调用方给定的 Registerer，
测试中可使用独立的 prometheus.Registry 隔离。所有指标按 namespace
隔离，命令行在启用指标时通过 /metrics 端点暴露。

# 核心类型

  - Collector：指标收集器，方法签名与 toolloop.Metrics、
    tools.MetricsRecorder、providers.RetryObserver 对齐，可直接注入。

# 主要能力

  - 流式请求：按 provider/status 计数（success/error/aborted/fallback）与耗时。
  - 工具循环：模型轮次计数，按 reason 分组的降级计数。
  - 工具调用：按 tool/outcome 计数，耗时与参数候选尝试次数分布。
  - 重试：按 provider/error_type 计数与退避延迟分布。
*/
package metrics
