// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/mcpflow/types"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器，同时满足 toolloop.Metrics、tools.MetricsRecorder
// 与 providers.RetryObserver 的签名
type Collector struct {
	// 流式请求指标
	streamRequestsTotal *prometheus.CounterVec
	streamDuration      *prometheus.HistogramVec

	// 工具循环指标
	loopIterationsTotal *prometheus.CounterVec
	fallbacksTotal      *prometheus.CounterVec

	// 工具调用指标
	toolCallsTotal   *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	toolCallAttempts *prometheus.HistogramVec

	// 重试指标
	retriesTotal *prometheus.CounterVec
	retryDelay   *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器并注册到 reg；reg 为 nil 时注册到默认 Registry
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.streamRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_requests_total",
			Help:      "Total number of streamed chat requests by final status",
		},
		[]string{"provider", "status"}, // status: success, error, aborted, fallback
	)

	c.streamDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Wall time of a streamed chat request including tool rounds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)

	c.loopIterationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_loop_iterations_total",
			Help:      "Total number of model turns issued by the tool loop",
		},
		[]string{"provider"},
	)

	c.fallbacksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_loop_fallbacks_total",
			Help:      "Total number of tool-free fallbacks after provider incompatibility",
		},
		[]string{"provider", "reason"},
	)

	c.toolCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls by outcome",
		},
		[]string{"tool", "outcome"},
	)

	c.toolCallDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call duration in seconds including repair attempts",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	c.toolCallAttempts = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_attempts",
			Help:      "Argument candidates tried per tool call",
			Buckets:   []float64{1, 2, 3, 4, 6, 8},
		},
		[]string{"tool"},
	)

	c.retriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Total number of connection retries by error type",
		},
		[]string{"provider", "error_type"},
	)

	c.retryDelay = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retry_delay_seconds",
			Help:      "Backoff delay before each retry",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🌊 流式请求
// =============================================================================

// RecordStream 记录一次流式请求的最终状态
func (c *Collector) RecordStream(provider, status string, duration time.Duration) {
	c.streamRequestsTotal.WithLabelValues(provider, status).Inc()
	c.streamDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordLoopIteration 记录一次模型轮次
func (c *Collector) RecordLoopIteration(provider string) {
	c.loopIterationsTotal.WithLabelValues(provider).Inc()
}

// RecordFallback 记录一次无工具降级
func (c *Collector) RecordFallback(provider, reason string) {
	c.fallbacksTotal.WithLabelValues(provider, reason).Inc()
}

// =============================================================================
// 🔧 工具调用
// =============================================================================

// RecordToolCall 记录一次工具调用
func (c *Collector) RecordToolCall(tool, outcome string, attempts int, duration time.Duration) {
	c.toolCallsTotal.WithLabelValues(tool, outcome).Inc()
	c.toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if attempts > 0 {
		c.toolCallAttempts.WithLabelValues(tool).Observe(float64(attempts))
	}
}

// =============================================================================
// 🔁 重试
// =============================================================================

// RecordRetry 记录一次重试等待
func (c *Collector) RecordRetry(provider string, err *types.Error, attempt int, delay time.Duration) {
	errType := "unknown"
	if err != nil && err.Type != "" {
		errType = string(err.Type)
	}
	c.retriesTotal.WithLabelValues(provider, errType).Inc()
	c.retryDelay.WithLabelValues(provider).Observe(delay.Seconds())
	c.logger.Debug("retry recorded",
		zap.String("provider", provider),
		zap.String("error_type", errType),
		zap.Int("attempt", attempt))
}
