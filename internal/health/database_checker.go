package health

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DatabaseChecker PostgreSQL 连接池检查
type DatabaseChecker struct {
	pool *pgxpool.Pool
}

func NewDatabaseChecker(pool *pgxpool.Pool) *DatabaseChecker {
	return &DatabaseChecker{pool: pool}
}

func (c *DatabaseChecker) Name() string { return "database" }

func (c *DatabaseChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	if err := c.pool.Ping(ctx); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("ping failed: %v", err),
			Latency: time.Since(start),
		}
	}

	stats := c.pool.Stat()
	u := 0.0
	if stats.MaxConns() > 0 {
		u = float64(stats.AcquiredConns()) / float64(stats.MaxConns())
	}
	status, msg := utilizationStatus(u, 0.9, 1.0)
	return CheckResult{
		Status:  status,
		Message: msg,
		Details: map[string]any{
			"total_conns":    stats.TotalConns(),
			"idle_conns":     stats.IdleConns(),
			"acquired_conns": stats.AcquiredConns(),
			"max_conns":      stats.MaxConns(),
			"utilization":    fmt.Sprintf("%.1f%%", u*100),
		},
		Latency: time.Since(start),
	}
}
