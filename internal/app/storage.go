package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/pile-gateway/internal/config"
	"github.com/taoyao-code/pile-gateway/internal/storage"
	"github.com/taoyao-code/pile-gateway/internal/storage/gormrepo"
	pgstorage "github.com/taoyao-code/pile-gateway/internal/storage/pg"
	"github.com/taoyao-code/pile-gateway/internal/storage/stations"
)

// Stores 网关使用的存储集合
type Stores struct {
	Devices storage.DeviceStore
	Audit   storage.CmdLogger
	CmdLogs storage.CmdLogReader
}

// NewStores pool 为空时全部落在进程内存；否则设备档案走 gorm，命令审计走 pgx
func NewStores(ctx context.Context, pool *pgxpool.Pool, cfg cfgpkg.PersistenceConfig, log *zap.Logger) (Stores, error) {
	if pool == nil {
		mem := storage.NewMemoryStore()
		log.Warn("database not configured, using in-memory store")
		return Stores{Devices: mem, Audit: mem, CmdLogs: mem}, nil
	}

	db, err := gormrepo.Open(pool)
	if err != nil {
		return Stores{}, fmt.Errorf("open gorm: %w", err)
	}
	repo := gormrepo.New(db)
	if cfg.StationCatalog != "" {
		list, err := stations.Load(cfg.StationCatalog)
		if err != nil {
			return Stores{}, err
		}
		n, err := repo.UpsertStations(ctx, list)
		if err != nil {
			return Stores{}, fmt.Errorf("sync station catalog: %w", err)
		}
		log.Info("station catalog synced", zap.String("path", cfg.StationCatalog), zap.Int64("rows", n))
	}
	cmdlog := pgstorage.NewCmdLogRepo(pool)
	return Stores{Devices: repo, Audit: cmdlog, CmdLogs: cmdlog}, nil
}
