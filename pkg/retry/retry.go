// Package retry 提供按错误类型区分的指数退避重试。
//
// 调用方把可重试的失败包装成 Transient(err)，其余错误一律视为永久失败，立即返回。
package retry

import (
	"context"
	"errors"
	"time"
)

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient 把 err 标记为可重试。nil 原样返回。
func Transient(err error) error {
	if err == nil {
		return nil
	}
	var te *transientError
	if errors.As(err, &te) {
		return err
	}
	return &transientError{err: err}
}

// IsTransient 判断 err 链上是否带有可重试标记。
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// Policy 描述一次重试的上限和退避区间。
type Policy struct {
	Attempts   int
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// OnRetry 在每次等待之前调用，attempt 从 1 开始。
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Backoff 返回第 attempt 次失败后的等待时间：MinBackoff * 2^(attempt-1)，不超过 MaxBackoff。
func (p Policy) Backoff(attempt int) time.Duration {
	wait := p.MinBackoff
	for i := 1; i < attempt; i++ {
		wait *= 2
		if p.MaxBackoff > 0 && wait >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && wait > p.MaxBackoff {
		return p.MaxBackoff
	}
	return wait
}

// Do 执行 fn，遇到 Transient 错误时按 Policy 退避重试。
// 返回的错误是 fn 最后一次返回的原始错误，已去掉可重试标记；ctx 被取消时返回 ctx.Err()。
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if !IsTransient(err) || attempt >= attempts {
			return zero, unwrapTransient(err)
		}

		wait := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		if err := Sleep(ctx, wait); err != nil {
			return zero, err
		}
	}
}

// Sleep 等待 d，ctx 结束时提前返回 ctx.Err()。
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

func unwrapTransient(err error) error {
	var te *transientError
	if errors.As(err, &te) && err == error(te) {
		return te.err
	}
	return err
}
