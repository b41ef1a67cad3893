package health

import (
	"context"
	"time"
)

// Status 健康状态
type Status string

const (
	StatusHealthy   Status = "healthy"   // 健康
	StatusDegraded  Status = "degraded"  // 降级，仍可服务
	StatusUnhealthy Status = "unhealthy" // 无法服务
)

// CheckResult 单个组件的检查结果
type CheckResult struct {
	Status  Status         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Latency time.Duration  `json:"latency"`
}

// Checker 组件健康检查
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// CheckFunc 以函数形式实现 Checker，用于 NATS 等无需独立类型的组件
type CheckFunc struct {
	ComponentName string
	Fn            func(ctx context.Context) CheckResult
}

func (f CheckFunc) Name() string { return f.ComponentName }

func (f CheckFunc) Check(ctx context.Context) CheckResult {
	start := time.Now()
	r := f.Fn(ctx)
	if r.Latency == 0 {
		r.Latency = time.Since(start)
	}
	return r
}

// utilizationStatus 按利用率给出状态：超过 degraded 为降级，达到 unhealthy 为不健康
func utilizationStatus(u, degraded, unhealthy float64) (Status, string) {
	switch {
	case u >= unhealthy:
		return StatusUnhealthy, "pool exhausted"
	case u > degraded:
		return StatusDegraded, "pool near limit"
	default:
		return StatusHealthy, "ok"
	}
}
