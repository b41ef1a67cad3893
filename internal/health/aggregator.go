package health

import (
	"context"
	"sync"
	"time"
)

// defaultCheckTimeout 单个组件检查的上限
const defaultCheckTimeout = 3 * time.Second

// Aggregator 并发执行所有检查并汇总
type Aggregator struct {
	mu       sync.RWMutex
	checkers []Checker
	timeout  time.Duration
}

func NewAggregator(checkers ...Checker) *Aggregator {
	return &Aggregator{checkers: checkers, timeout: defaultCheckTimeout}
}

// AddChecker 追加检查器（组件按启动顺序陆续注册）
func (a *Aggregator) AddChecker(c Checker) {
	if c == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checkers = append(a.checkers, c)
}

// CheckAll 并发执行，每个检查受 timeout 限制
func (a *Aggregator) CheckAll(ctx context.Context) map[string]CheckResult {
	a.mu.RLock()
	checkers := append([]Checker(nil), a.checkers...)
	a.mu.RUnlock()

	results := make(map[string]CheckResult, len(checkers))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, c := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()
			r := c.Check(cctx)
			mu.Lock()
			results[c.Name()] = r
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return results
}

// Overall 任一组件不健康则不健康；否则任一降级则降级
func Overall(results map[string]CheckResult) Status {
	overall := StatusHealthy
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

// OverallStatus 执行全部检查并汇总
func (a *Aggregator) OverallStatus(ctx context.Context) Status {
	return Overall(a.CheckAll(ctx))
}

// Ready 降级仍视为就绪
func (a *Aggregator) Ready(ctx context.Context) bool {
	return a.OverallStatus(ctx) != StatusUnhealthy
}

// Report 一次检查生成完整报告
func (a *Aggregator) Report(ctx context.Context) HealthReport {
	results := a.CheckAll(ctx)
	return HealthReport{Status: Overall(results), Timestamp: time.Now(), Checks: results}
}

// HealthReport /health 的响应体
type HealthReport struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}
