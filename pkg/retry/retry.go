package retry

import (
	"context"
	"errors"
	"time"
)

type unrecoverableError struct {
	err error
}

func (u unrecoverableError) Error() string { return u.err.Error() }
func (u unrecoverableError) Unwrap() error { return u.err }

// Unrecoverable 包装错误以立即终止重试
func Unrecoverable(err error) error {
	return unrecoverableError{err: err}
}

// Do 以纯指数退避重试 fn，最多 maxAttempts 次。
// 第 n 次失败后等待 baseDelay × 2^(n-1)，全部失败时返回最后一个错误。
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var unrecoverable unrecoverableError
		if errors.As(lastErr, &unrecoverable) {
			return unrecoverable.err
		}

		if attempt < maxAttempts {
			delay := baseDelay << uint(attempt-1)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	return lastErr
}
