package tcpserver

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// ConnectionLimiter 并发连接数上限（信号量）
type ConnectionLimiter struct {
	sem      chan struct{}
	timeout  time.Duration
	active   atomic.Int64
	rejected atomic.Int64
}

// NewConnectionLimiter maxConn<=0 取 10000；timeout 为获取许可的最长等待
func NewConnectionLimiter(maxConn int, timeout time.Duration) *ConnectionLimiter {
	if maxConn <= 0 {
		maxConn = 10000
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ConnectionLimiter{sem: make(chan struct{}, maxConn), timeout: timeout}
}

// Acquire 获取连接许可，超时返回错误
func (l *ConnectionLimiter) Acquire(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	select {
	case l.sem <- struct{}{}:
		l.active.Add(1)
		return nil
	case <-ctx.Done():
		l.rejected.Add(1)
		return fmt.Errorf("connection limit exceeded: max=%d", cap(l.sem))
	}
}

// Release 释放连接许可
func (l *ConnectionLimiter) Release() {
	select {
	case <-l.sem:
		l.active.Add(-1)
	default:
	}
}

// Current 当前活跃连接数
func (l *ConnectionLimiter) Current() int { return int(l.active.Load()) }

// Max 最大连接数
func (l *ConnectionLimiter) Max() int { return cap(l.sem) }

// Rejected 累计拒绝数
func (l *ConnectionLimiter) Rejected() int64 { return l.rejected.Load() }

// Utilization 0.0 - 1.0
func (l *ConnectionLimiter) Utilization() float64 {
	return float64(l.Current()) / float64(l.Max())
}
