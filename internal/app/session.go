package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/pile-gateway/internal/config"
	"github.com/taoyao-code/pile-gateway/internal/dispatch"
	"github.com/taoyao-code/pile-gateway/internal/metrics"
	"github.com/taoyao-code/pile-gateway/internal/ordersession"
	"github.com/taoyao-code/pile-gateway/internal/session"
	"github.com/taoyao-code/pile-gateway/internal/storage"
)

// NewDispatch 会话注册表、待回执表与命令门面
func NewDispatch(
	cfg cfgpkg.DispatchConfig,
	reg prometheus.Registerer,
	appm *metrics.AppMetrics,
	audit storage.CmdLogger,
	logger *zap.Logger,
) (*session.Registry, *dispatch.Facade) {
	registry := session.NewRegistry()
	tracker := ordersession.NewTracker(
		ordersession.WithTTLs(cfg.PendingTTL, 0),
		ordersession.WithObserver(PendingObserver(reg)),
	)
	facade := dispatch.New(registry,
		dispatch.WithTracker(tracker),
		dispatch.WithAudit(audit),
		dispatch.WithMetrics(appm),
		dispatch.WithLogger(logger.Named("dispatch")),
	)
	logger.Info("dispatch initialized", zap.Duration("pending_ttl", cfg.PendingTTL))
	return registry, facade
}
