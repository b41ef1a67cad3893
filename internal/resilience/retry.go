package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Retrier 有界指数退避重试：默认 3 次尝试，间隔 1s、2s
type Retrier struct {
	Attempts int
	Initial  time.Duration
	Factor   float64
	Breaker  *CircuitBreaker

	// OnRetry 每次失败后回调（attempt 从 1 开始），可为空
	OnRetry func(op string, attempt int, err error)

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier 创建重试器，breaker 可为空
func NewRetrier(attempts int, initial time.Duration, breaker *CircuitBreaker) *Retrier {
	if attempts <= 0 {
		attempts = 3
	}
	if initial <= 0 {
		initial = time.Second
	}
	return &Retrier{Attempts: attempts, Initial: initial, Factor: 2, Breaker: breaker, sleep: sleepCtx}
}

// Do 执行 fn，失败后按退避间隔重试；熔断打开时立即返回，不再重试
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	delay := r.Initial
	var err error
	for attempt := 1; attempt <= r.Attempts; attempt++ {
		call := func() error { return fn(ctx) }
		if r.Breaker != nil {
			err = r.Breaker.Call(call)
		} else {
			err = call()
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests) {
			return fmt.Errorf("%s: %w", op, err)
		}
		if r.OnRetry != nil {
			r.OnRetry(op, attempt, err)
		}
		if attempt == r.Attempts {
			break
		}
		if serr := r.sleepFn()(ctx, delay); serr != nil {
			return fmt.Errorf("%s: %w", op, serr)
		}
		delay = time.Duration(float64(delay) * r.factor())
	}
	return fmt.Errorf("%s: %d attempts failed: %w", op, r.Attempts, err)
}

func (r *Retrier) factor() float64 {
	if r.Factor <= 1 {
		return 2
	}
	return r.Factor
}

func (r *Retrier) sleepFn() func(context.Context, time.Duration) error {
	if r.sleep == nil {
		return sleepCtx
	}
	return r.sleep
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
