package app

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/pile-gateway/internal/config"
	"github.com/taoyao-code/pile-gateway/internal/migrate"
	pgstorage "github.com/taoyao-code/pile-gateway/internal/storage/pg"
)

// ConnectDBAndMigrate 建立连接池并按需执行迁移；DSN 为空时返回 (nil, nil)，由调用方改用内存存储
func ConnectDBAndMigrate(ctx context.Context, cfg cfgpkg.DatabaseConfig, log *zap.Logger) (*pgxpool.Pool, error) {
	pool, err := pgstorage.NewPool(ctx, cfg, log)
	if errors.Is(err, pgstorage.ErrNoDSN) {
		return nil, nil
	}
	if err != nil {
		log.Error("db connect error", zap.Error(err))
		return nil, err
	}
	if cfg.AutoMigrate {
		n, err := migrate.Runner{Dir: cfg.MigrationsDir, Logger: log}.Up(ctx, pool)
		if err != nil {
			log.Error("db migrate error", zap.Error(err))
			pool.Close()
			return nil, err
		}
		log.Info("db migrations applied", zap.Int("count", n))
	}
	return pool, nil
}
