package health

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisChecker 在线影子所用 Redis 的探活；Redis 只承载影子数据，故障时网关降级而非不可用
type RedisChecker struct {
	client *redis.Client
}

func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

func (c *RedisChecker) Name() string { return "redis" }

func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	if err := c.client.Ping(ctx).Err(); err != nil {
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("ping failed: %v", err),
			Latency: time.Since(start),
		}
	}

	stats := c.client.PoolStats()
	u := 0.0
	if stats.TotalConns > 0 {
		u = float64(stats.TotalConns-stats.IdleConns) / float64(stats.TotalConns)
	}
	status, msg := utilizationStatus(u, 0.9, 2)
	return CheckResult{
		Status:  status,
		Message: msg,
		Details: map[string]any{
			"total_conns": stats.TotalConns,
			"idle_conns":  stats.IdleConns,
			"stale_conns": stats.StaleConns,
			"hits":        stats.Hits,
			"misses":      stats.Misses,
			"timeouts":    stats.Timeouts,
			"utilization": fmt.Sprintf("%.1f%%", u*100),
		},
		Latency: time.Since(start),
	}
}
