package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/mcpflow/config"
	"github.com/BaSui01/mcpflow/internal/metrics"
	"github.com/BaSui01/mcpflow/internal/telemetry"
	"github.com/BaSui01/mcpflow/llm"
	"github.com/BaSui01/mcpflow/llm/providers"
	"github.com/BaSui01/mcpflow/llm/providers/anthropic"
	"github.com/BaSui01/mcpflow/llm/providers/openaicompat"
	"github.com/BaSui01/mcpflow/llm/retry"
	"github.com/BaSui01/mcpflow/llm/toolloop"
	"github.com/BaSui01/mcpflow/llm/tools"
	"github.com/BaSui01/mcpflow/mcp"
)

const shutdownTimeout = 5 * time.Second

// app 持有一次命令执行期间的全部组件
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	otel      *telemetry.Providers
	collector *metrics.Collector
	registry  *mcp.Registry

	group        *errgroup.Group
	metricsSrv   *http.Server
	cancelServer context.CancelFunc
}

func newApp(cfg *config.Config, logger *zap.Logger) *app {
	a := &app{cfg: cfg, logger: logger}

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	a.otel = otelProviders

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		a.collector = metrics.NewCollector("mcpflow", reg, logger)
		a.startMetricsServer(reg)
	}

	a.registry = mcp.NewRegistry(mcp.RegistryOptions{
		Logger: logger,
		Retry:  retryOptions(cfg.Retry),
	})
	return a
}

// startMetricsServer 在后台暴露 /metrics，close 时关闭
func (a *app) startMetricsServer(reg *prometheus.Registry) {
	path := a.cfg.Metrics.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	a.metricsSrv = &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancelServer = cancel
	g, gctx := errgroup.WithContext(ctx)
	a.group = g

	g.Go(func() error {
		a.logger.Info("metrics server listening", zap.String("addr", a.cfg.Metrics.Addr))
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.metricsSrv.Shutdown(shutdownCtx)
	})
}

// connectServers 连接所有配置的 MCP 服务器，失败的服务器只记录警告
func (a *app) connectServers(ctx context.Context) int {
	connected := 0
	for _, s := range a.cfg.MCPServers {
		err := a.registry.Connect(ctx, mcp.ServerConfig{
			ID:        s.ID,
			Transport: s.Transport,
			URL:       s.URL,
			Headers:   s.Headers,
		})
		if err != nil {
			a.logger.Warn("skipping mcp server", zap.String("server_id", s.ID), zap.Error(err))
			continue
		}
		connected++
	}
	return connected
}

// buildProvider 按配置创建带重试的流式 Provider
func (a *app) buildProvider() (llm.Provider, error) {
	lc := a.cfg.LLM
	base := providers.BaseProviderConfig{
		APIKey:    lc.APIKey,
		BaseURL:   lc.BaseURL,
		Model:     lc.Model,
		MaxTokens: lc.MaxTokens,
		Timeout:   lc.Timeout,
	}

	var inner llm.Provider
	if lc.Provider == "anthropic" {
		inner = anthropic.New(anthropic.Config{BaseProviderConfig: base}, a.logger)
	} else if p, ok := openaicompat.NewFromPreset(lc.Provider, base, a.logger); ok {
		inner = p
	} else {
		return nil, fmt.Errorf("unsupported llm provider %q", lc.Provider)
	}

	var observer providers.RetryObserver
	if a.collector != nil {
		observer = a.collector.RecordRetry
	}
	return providers.NewRetryableProvider(inner, retryOptions(a.cfg.Retry), observer, a.logger), nil
}

// newService 组装工具循环服务；withTools 为 false 时不挂载工具来源
func (a *app) newService(provider llm.Provider, withTools bool, maxLoops int) *toolloop.Service {
	execOpts := tools.ExecutorOptions{
		Timeout:   a.cfg.ToolLoop.ToolTimeout,
		RateLimit: a.cfg.ToolLoop.ToolRateLimit,
		Burst:     a.cfg.ToolLoop.ToolBurst,
		Logger:    a.logger,
		Tracer:    a.otel.Tracer(),
	}
	svcCfg := toolloop.ServiceConfig{
		Provider:      provider,
		MaxLoops:      maxLoops,
		MaxConcurrent: a.cfg.ToolLoop.MaxConcurrent,
		Logger:        a.logger,
		Tracer:        a.otel.Tracer(),
	}
	// 避免把 nil *Collector 装进接口
	if a.collector != nil {
		execOpts.Metrics = a.collector
		svcCfg.Metrics = a.collector
	}
	svcCfg.Executor = tools.NewExecutor(execOpts)
	if withTools {
		svcCfg.Tools = a.registry
	}
	return toolloop.NewService(svcCfg)
}

func (a *app) close() {
	if err := a.registry.Close(); err != nil {
		a.logger.Warn("failed to close mcp servers", zap.Error(err))
	}
	if a.group != nil {
		a.cancelServer()
		if err := a.group.Wait(); err != nil {
			a.logger.Warn("metrics server stopped with error", zap.Error(err))
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.otel.Shutdown(ctx); err != nil {
		a.logger.Warn("failed to shutdown telemetry", zap.Error(err))
	}
}

func retryOptions(rc config.RetryConfig) retry.Options {
	return retry.Options{
		MaxRetries:  rc.MaxRetries,
		BaseDelay:   rc.BaseDelay,
		MaxDelay:    rc.MaxDelay,
		JitterRatio: rc.JitterRatio,
	}
}
