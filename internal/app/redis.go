package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/pile-gateway/internal/config"
	redisstorage "github.com/taoyao-code/pile-gateway/internal/storage/redis"
)

// NewRedisClient 未启用时返回 (nil, nil)
func NewRedisClient(ctx context.Context, cfg cfgpkg.RedisConfig, logger *zap.Logger) (*redisstorage.Client, error) {
	if !cfg.Enabled {
		logger.Info("redis is disabled, presence shadow off")
		return nil, nil
	}
	client, err := redisstorage.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("redis client initialized",
		zap.String("addr", cfg.Addr),
		zap.Int("pool_size", cfg.PoolSize))
	return client, nil
}

// CleanupPresence 关闭前清除本实例登记的影子记录
func CleanupPresence(p *redisstorage.Presence, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Cleanup(ctx); err != nil {
		logger.Warn("presence cleanup failed", zap.Error(err))
	}
}
