package retry

import "context"

// Retryer 重试器接口
// 提供不关心返回值的统一重试能力
type Retryer interface {
	// Do 执行函数，失败时根据策略重试
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

type backoffRetryer struct {
	opts Options
}

// NewRetryer 创建指数退避重试器
func NewRetryer(opts Options) Retryer {
	return &backoffRetryer{opts: opts.normalized()}
}

// Do 实现 Retryer.Do
func (r *backoffRetryer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, r.opts)
	if err != nil {
		return err
	}
	return nil
}
