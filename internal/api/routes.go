package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/taoyao-code/pile-gateway/internal/api/docs"
	"github.com/taoyao-code/pile-gateway/internal/api/middleware"
	cfgpkg "github.com/taoyao-code/pile-gateway/internal/config"
)

// RegisterRoutes 注册 /api 路由组与 OpenAPI 文档
func RegisterRoutes(r *gin.Engine, h *Handler, authCfg cfgpkg.APIAuthConfig, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	r.GET("/docs/openapi.yaml", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/yaml", docs.OpenAPI)
	})
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/docs/openapi.yaml")))

	api := r.Group("/api", middleware.RequestID())
	if authCfg.Enabled {
		api.Use(middleware.APIKeyAuth(authCfg, logger))
		logger.Info("api authentication enabled", zap.Int("api_keys_count", len(authCfg.APIKeys)))
	} else {
		logger.Warn("api authentication disabled - only for development!")
	}

	api.GET("/sessions", h.ListSessions)
	api.GET("/sessions/:imei", h.GetSession)

	api.GET("/devices", h.ListDevices)
	api.GET("/devices/:imei", h.GetDevice)
	api.GET("/devices/:imei/presence", h.GetPresence)
	api.GET("/devices/:imei/commands", h.ListCommands)

	api.POST("/devices/:imei/ports/:port/start", h.StartCharging)
	api.POST("/devices/:imei/ports/:port/stop", h.StopCharging)
	api.POST("/devices/:imei/ports/:port/query", h.QueryPort)
}
