package health

import (
	"context"
	"sort"
	"sync"
)

// Readiness 启动阶段标记：各组件完成初始化后置位，未全部完成时 /health/ready 返回 503
type Readiness struct {
	mu    sync.RWMutex
	flags map[string]bool
}

// New 声明需要等待的组件
func New(components ...string) *Readiness {
	r := &Readiness{flags: make(map[string]bool, len(components))}
	for _, c := range components {
		r.flags[c] = false
	}
	return r
}

// Set 标记组件就绪状态；未声明的组件会被加入
func (r *Readiness) Set(component string, ready bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags[component] = ready
}

// Ready 所有声明的组件均已就绪
func (r *Readiness) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.flags {
		if !v {
			return false
		}
	}
	return true
}

// Pending 尚未就绪的组件，按名称排序
func (r *Readiness) Pending() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for k, v := range r.flags {
		if !v {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Readiness) Name() string { return "startup" }

func (r *Readiness) Check(context.Context) CheckResult {
	if pending := r.Pending(); len(pending) > 0 {
		return CheckResult{Status: StatusUnhealthy, Message: "starting", Details: map[string]any{"pending": pending}}
	}
	return CheckResult{Status: StatusHealthy, Message: "ok"}
}
