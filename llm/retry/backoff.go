package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mcpflow/llm"
	"github.com/BaSui01/mcpflow/types"
)

// Options 定义一次重试执行的配置
type Options struct {
	MaxRetries  int           // 最大重试次数（0 表示不重试），总调用次数为 1+MaxRetries
	BaseDelay   time.Duration // 首次重试前的基础延迟
	MaxDelay    time.Duration // 指数退避的上限
	JitterRatio float64       // 抖动比例，延迟在 [d-d*r, d+d*r] 内均匀分布

	// ShouldRetry 在错误本身可重试时再做一次调用方判定；attempt 为失败尝试的序号（从 0 开始）
	ShouldRetry func(err *types.Error, attempt int) bool

	// OnRetry 在每次重试的等待开始前调用，仅用于观测
	OnRetry func(err *types.Error, attempt int, delay time.Duration)

	Logger *zap.Logger

	// Rand 返回 [0,1) 的随机数，测试中可替换
	Rand func() float64
}

// DefaultOptions 返回默认的重试配置
// 适用于大部分 LLM API 调用场景
func DefaultOptions() Options {
	return Options{
		MaxRetries:  3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		JitterRatio: 0.25,
	}
}

func (o Options) normalized() Options {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BaseDelay < 0 {
		o.BaseDelay = 0
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = o.BaseDelay
	}
	if o.JitterRatio < 0 {
		o.JitterRatio = 0
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Rand == nil {
		o.Rand = rand.Float64
	}
	return o
}

// Do 执行 op，失败时按指数退避重试。
//
// 返回的错误总是 *types.Error：重试耗尽或错误不可重试时为最后一次的归一化错误，
// ctx 在尝试前或等待中结束时为 abort 错误。
func Do[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts Options) (T, error) {
	opts = opts.normalized()
	var zero T

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, types.NewAbortError(err)
		}

		result, err := op(ctx)
		if err == nil {
			if attempt > 0 {
				opts.Logger.Debug("retry succeeded", zap.Int("attempt", attempt))
			}
			return result, nil
		}

		ne := llm.NormalizeError(err, "")
		if !shouldRetry(ne, attempt, opts) {
			if ne.Retryable && attempt >= opts.MaxRetries && opts.MaxRetries > 0 {
				opts.Logger.Warn("retries exhausted",
					zap.Int("attempts", attempt+1),
					zap.Error(ne),
				)
			}
			return zero, ne
		}

		delay := Delay(attempt, opts)
		opts.Logger.Debug("retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", opts.MaxRetries),
			zap.Duration("delay", delay),
			zap.String("error_type", string(ne.Type)),
			zap.Error(ne),
		)
		if opts.OnRetry != nil {
			opts.OnRetry(ne, attempt, delay)
		}

		if err := Sleep(ctx, delay); err != nil {
			return zero, types.NewAbortError(err)
		}
	}
}

func shouldRetry(ne *types.Error, attempt int, opts Options) bool {
	if ne.IsAbort || !ne.Retryable {
		return false
	}
	if attempt >= opts.MaxRetries {
		return false
	}
	if opts.ShouldRetry != nil && !opts.ShouldRetry(ne, attempt) {
		return false
	}
	return true
}

// Delay 计算第 attempt 次失败（从 0 开始）后的等待时间：
// min(MaxDelay, BaseDelay*2^attempt)，加上均匀抖动，下限为 0，取整到毫秒。
func Delay(attempt int, opts Options) time.Duration {
	opts = opts.normalized()

	d := float64(opts.BaseDelay) * math.Pow(2, float64(attempt))
	if d > float64(opts.MaxDelay) || math.IsInf(d, 0) {
		d = float64(opts.MaxDelay)
	}

	if opts.JitterRatio > 0 {
		d += (opts.Rand()*2 - 1) * d * opts.JitterRatio
	}
	if d < 0 {
		d = 0
	}

	ms := math.Round(d / float64(time.Millisecond))
	return time.Duration(ms) * time.Millisecond
}

// Sleep 等待 d，ctx 结束时立即返回 ctx.Err()。
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
