package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fishermon/internal/exchange"
)

// ErrRetriesExhausted 表示达到了配置的最大尝试次数。
var ErrRetriesExhausted = errors.New("execution: 重试次数已用尽")

// RetryPolicy 控制重试行为。
//
// 零值即默认策略：每次尝试前固定等待 Cooldown，可重试错误无限重试，不做退避。
type RetryPolicy struct {
	Cooldown      time.Duration
	MaxAttempts   int
	BackoffFactor float64
	MaxCooldown   time.Duration
}

type sleepFunc func(ctx context.Context, d time.Duration) error

// Retrier 包装交易所调用，按错误分类决定是否重试。
type Retrier struct {
	policy    RetryPolicy
	logger    *zap.Logger
	sleep     sleepFunc
	retryable func(error) bool
}

// NewRetrier 创建重试器。
func NewRetrier(policy RetryPolicy, logger *zap.Logger) *Retrier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrier{
		policy:    policy,
		logger:    logger,
		sleep:     sleepContext,
		retryable: exchange.IsRetryable,
	}
}

// Run 执行无返回值的调用。
func (r *Retrier) Run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, r, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do 在每次尝试前等待冷却时间，网络错误与非 422 状态错误会被重试，其余错误立即返回。
func Do[T any](ctx context.Context, r *Retrier, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	wait := r.policy.Cooldown

	for attempt := 1; ; attempt++ {
		if err := r.sleep(ctx, wait); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("交易所调用重试后成功",
					zap.String("operation", op),
					zap.Int("attempts", attempt),
				)
			}
			return result, nil
		}

		if !r.retryable(err) {
			r.logger.Error("交易所调用失败",
				zap.String("operation", op),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return zero, err
		}

		if r.policy.MaxAttempts > 0 && attempt >= r.policy.MaxAttempts {
			r.logger.Error("交易所调用重试次数用尽",
				zap.String("operation", op),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return zero, fmt.Errorf("%w: %s (%d 次): %w", ErrRetriesExhausted, op, attempt, err)
		}

		wait = r.nextWait(wait)
		r.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
}

func (r *Retrier) nextWait(current time.Duration) time.Duration {
	if r.policy.BackoffFactor <= 1 {
		return r.policy.Cooldown
	}
	next := time.Duration(float64(current) * r.policy.BackoffFactor)
	if r.policy.MaxCooldown > 0 && next > r.policy.MaxCooldown {
		next = r.policy.MaxCooldown
	}
	return next
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
