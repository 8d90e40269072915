package toolloop

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/mcpflow/llm"
	"github.com/BaSui01/mcpflow/llm/tools"
	"github.com/BaSui01/mcpflow/types"
)

// DefaultMaxConcurrent 是 Service 默认允许的并发请求数
const DefaultMaxConcurrent = 4

var (
	// ErrNotInitialized 表示 Init 尚未成功调用
	ErrNotInitialized = errors.New("toolloop: service not initialized")
	// ErrDisposed 表示 Service 已释放
	ErrDisposed = errors.New("toolloop: service disposed")
)

// ToolSource 提供工具定义与调用，通常由 MCP registry 实现
type ToolSource interface {
	ListTools(ctx context.Context) ([]types.ToolDefinition, error)
	Invoke(ctx context.Context, serverID, name string, args map[string]any) (string, error)
}

// ServiceConfig 是 Service 的依赖与限额
type ServiceConfig struct {
	Provider llm.Provider
	Executor *tools.Executor
	Tools    ToolSource

	MaxLoops      int
	MaxConcurrent int64

	Logger  *zap.Logger
	Tracer  oteltrace.Tracer
	Metrics Metrics
}

// Service 是一个会话级的显式上下文：持有 Provider、工具执行器与并发配额，
// 每个请求创建独立的 Orchestrator 状态。
type Service struct {
	cfg    ServiceConfig
	orch   *Orchestrator
	sem    *semaphore.Weighted
	logger *zap.Logger

	mu          sync.RWMutex
	initialized bool
	disposed    bool
	wg          sync.WaitGroup
}

// NewService 创建 Service，需调用 Init 后才能使用
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.MaxLoops <= 0 {
		cfg.MaxLoops = DefaultMaxLoops
	}
	return &Service{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrent),
		logger: logger.With(zap.String("component", "toolloop_service")),
	}
}

// Init 校验依赖并预热工具发现。工具发现失败只记录警告，不影响初始化。
func (s *Service) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return ErrDisposed
	}
	if s.initialized {
		return nil
	}
	if s.cfg.Provider == nil {
		return fmt.Errorf("toolloop: provider is required")
	}

	s.orch = NewOrchestrator(s.cfg.Provider, s.cfg.Executor, Options{
		Logger:  s.cfg.Logger,
		Tracer:  s.cfg.Tracer,
		Metrics: s.cfg.Metrics,
	})

	toolCount := 0
	if s.cfg.Tools != nil {
		defs, err := s.cfg.Tools.ListTools(ctx)
		if err != nil {
			s.logger.Warn("tool discovery failed", zap.Error(err))
		}
		toolCount = len(defs)
	}

	s.initialized = true
	s.logger.Info("tool loop service initialized",
		zap.String("provider", s.cfg.Provider.Name()),
		zap.Int("tools", toolCount),
		zap.Int64("max_concurrent", s.cfg.MaxConcurrent))
	return nil
}

// Stream 在并发配额内启动一个请求。请求未指定工具时从 ToolSource 获取。
func (s *Service) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	s.mu.RLock()
	switch {
	case s.disposed:
		s.mu.RUnlock()
		return nil, ErrDisposed
	case !s.initialized:
		s.mu.RUnlock()
		return nil, ErrNotInitialized
	}
	s.wg.Add(1)
	s.mu.RUnlock()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.wg.Done()
		return nil, types.NewAbortError(err)
	}

	requestID, ok := types.RequestID(ctx)
	if !ok {
		requestID = uuid.NewString()
		ctx = types.WithRequestID(ctx, requestID)
	}

	r := *req
	if r.MaxLoops <= 0 {
		r.MaxLoops = s.cfg.MaxLoops
	}
	if r.Model == "" {
		if model, ok := types.LLMModel(ctx); ok {
			r.Model = model
		}
	}
	if r.Tools == nil && s.cfg.Tools != nil {
		defs, err := s.cfg.Tools.ListTools(ctx)
		if err != nil {
			s.logger.Warn("tool discovery failed, continuing without tools",
				zap.String("request_id", requestID), zap.Error(err))
		}
		r.Tools = defs
		if r.Invoke == nil {
			r.Invoke = s.cfg.Tools.Invoke
		}
	}

	traceID, _ := types.TraceID(ctx)
	s.logger.Debug("stream started",
		zap.String("request_id", requestID),
		zap.String("trace_id", traceID),
		zap.Int("messages", len(r.Messages)),
		zap.Int("tools", len(r.Tools)))

	in := s.orch.Stream(ctx, &r)
	out := make(chan Chunk)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)
		defer close(out)
		for c := range in {
			select {
			case out <- c:
			case <-ctx.Done():
				// 排空上游，让其 goroutine 退出
				for range in {
				}
				return
			}
		}
	}()
	return out, nil
}

// Dispose 拒绝新请求并等待进行中的请求结束
func (s *Service) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("tool loop service disposed")
}
