package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunSweeper 周期清理超时会话与过期的待回执命令，ctx 取消时退出
func (g *Gateway) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.Session.SweepInterval)
	defer ticker.Stop()
	g.logger.Info("session sweeper started",
		zap.Duration("interval", g.cfg.Session.SweepInterval),
		zap.Duration("idle_timeout", g.IdleTimeout()))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.SweepOnce(ctx, g.now())
		}
	}
}

// SweepOnce 驱逐最近活跃早于 now-IdleTimeout 的会话并关闭其连接，返回驱逐数量
func (g *Gateway) SweepOnce(ctx context.Context, now time.Time) int {
	evicted := g.registry.Sweep(now, g.IdleTimeout())
	for _, s := range evicted {
		g.deviceOffline(ctx, s.Identity, s.Endpoint.ID(), "timeout")
		_ = s.Endpoint.Close()
	}
	if expired, _ := g.facade.Sweep(now); expired > 0 {
		g.logger.Info("pending commands expired", zap.Int("count", expired))
	}
	return len(evicted)
}
