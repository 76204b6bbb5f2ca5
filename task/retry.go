package task

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// ErrMaxRetriesExceeded 重试次数耗尽
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// RetryPolicy 固定间隔重试
type RetryPolicy struct {
	// MaxRetries 最多尝试次数，<= 0 按 1 次处理
	MaxRetries int           `mapstructure:"max_retries" json:"max_retries"`
	Delay      time.Duration `mapstructure:"delay" json:"delay"`
	// OnRetry 每次重试之前调用，attempt 为刚刚失败的是第几次
	OnRetry func(err error, attempt int) `mapstructure:"-" json:"-"`
	// ShouldRetry 返回 false 时不再重试，直接返回该错误
	ShouldRetry func(err error) bool `mapstructure:"-" json:"-"`
}

// DefaultRetryPolicy 默认 3 次，间隔 1 秒
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, Delay: time.Second}
}

// MaxRetriesError 包装最后一次失败的错误
type MaxRetriesError struct {
	Attempts int
	Last     error
}

func (e *MaxRetriesError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrMaxRetriesExceeded, e.Attempts, e.Last)
}

func (e *MaxRetriesError) Is(target error) bool {
	return target == ErrMaxRetriesExceeded
}

func (e *MaxRetriesError) Unwrap() error {
	return e.Last
}

// Retry 执行 op，失败后按策略重试
func Retry(ctx context.Context, policy RetryPolicy, op func(ctx context.Context) error) error {
	attempts := policy.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		last = op(ctx)
		if last == nil {
			return nil
		}
		if policy.ShouldRetry != nil && !policy.ShouldRetry(last) {
			return last
		}
		if attempt == attempts {
			break
		}

		if policy.OnRetry != nil {
			policy.OnRetry(last, attempt)
		}
		if policy.Delay > 0 {
			t := time.NewTimer(policy.Delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	return &MaxRetriesError{Attempts: attempts, Last: last}
}
