package providers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mcpflow/llm"
	"github.com/BaSui01/mcpflow/llm/retry"
	"github.com/BaSui01/mcpflow/types"
)

// RetryObserver 在每次重试前被调用，用于指标采集。
type RetryObserver func(provider string, err *types.Error, attempt int, delay time.Duration)

// RetryableProvider wraps an llm.Provider with exponential-backoff retry logic.
// Only the connection-establishment phase is retried; mid-stream errors are not.
type RetryableProvider struct {
	inner    llm.Provider
	opts     retry.Options
	observer RetryObserver
	logger   *zap.Logger
}

// NewRetryableProvider creates a retrying wrapper around the given provider.
func NewRetryableProvider(inner llm.Provider, opts retry.Options, observer RetryObserver, logger *zap.Logger) *RetryableProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "retry_provider"), zap.String("provider", inner.Name()))
	if opts.Logger == nil {
		opts.Logger = logger
	}
	return &RetryableProvider{
		inner:    inner,
		opts:     opts,
		observer: observer,
		logger:   logger,
	}
}

// Compile-time interface check.
var _ llm.Provider = (*RetryableProvider)(nil)

func (p *RetryableProvider) Name() string { return p.inner.Name() }
func (p *RetryableProvider) SupportsNativeFunctionCalling() bool {
	return p.inner.SupportsNativeFunctionCalling()
}

// Stream performs a streaming chat request with retry on connection errors.
func (p *RetryableProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	opts := p.opts
	userHook := opts.OnRetry
	opts.OnRetry = func(err *types.Error, attempt int, delay time.Duration) {
		p.logger.Warn("stream connection failed, will retry",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		if p.observer != nil {
			p.observer(p.inner.Name(), err, attempt, delay)
		}
		if userHook != nil {
			userHook(err, attempt, delay)
		}
	}

	ch, err := retry.Do(ctx, func(ctx context.Context) (<-chan llm.StreamChunk, error) {
		return p.inner.Stream(ctx, req)
	}, opts)
	if err != nil {
		if ne, ok := types.AsError(err); ok && ne.Provider == "" {
			ne.Provider = p.inner.Name()
		}
		return nil, err
	}
	return ch, nil
}
