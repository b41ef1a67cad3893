package tcpserver

import (
	"sync/atomic"

	"golang.org/x/time/rate"
)

// RateLimiter 新建连接的令牌桶限速，防止大批设备同时重连压垮网关
type RateLimiter struct {
	limiter  *rate.Limiter
	allowed  atomic.Int64
	rejected atomic.Int64
}

// NewRateLimiter ratePerSec 为稳定速率，burst<=0 时取 2 倍速率
func NewRateLimiter(ratePerSec, burst int) *RateLimiter {
	if ratePerSec <= 0 {
		ratePerSec = 100
	}
	if burst <= 0 {
		burst = ratePerSec * 2
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Allow 非阻塞判断是否放行
func (l *RateLimiter) Allow() bool {
	if l.limiter.Allow() {
		l.allowed.Add(1)
		return true
	}
	l.rejected.Add(1)
	return false
}

// Allowed 累计放行数
func (l *RateLimiter) Allowed() int64 { return l.allowed.Load() }

// Rejected 累计拒绝数
func (l *RateLimiter) Rejected() int64 { return l.rejected.Load() }
