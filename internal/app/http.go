package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/pile-gateway/internal/config"
	"github.com/taoyao-code/pile-gateway/internal/health"
	"github.com/taoyao-code/pile-gateway/internal/httpserver"
)

// NewHTTPServer 创建 HTTP 服务并挂载指标与健康检查路由
func NewHTTPServer(cfg *cfgpkg.Config, metricsHandler http.Handler, agg *health.Aggregator, ready *health.Readiness, logger *zap.Logger) *httpserver.Server {
	srv := httpserver.New(cfg.HTTP, logger)
	if cfg.Metrics.Enable {
		srv.MountMetrics(cfg.Metrics.Path, metricsHandler)
	}
	r := srv.Engine()
	health.RegisterHTTPRoutes(r, agg)
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/readyz", func(c *gin.Context) {
		if ready.Ready() {
			c.String(http.StatusOK, "ready")
			return
		}
		c.String(http.StatusServiceUnavailable, "not-ready")
	})
	return srv
}
