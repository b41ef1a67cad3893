package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterHTTPRoutes /health/live、/health/ready、/health
func RegisterHTTPRoutes(r gin.IRoutes, agg *Aggregator) {
	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"alive": true})
	})

	r.GET("/health/ready", func(c *gin.Context) {
		if !agg.Ready(c.Request.Context()) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": StatusUnhealthy, "ready": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "ready": true})
	})

	r.GET("/health", func(c *gin.Context) {
		report := agg.Report(c.Request.Context())
		code := http.StatusOK
		if report.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, report)
	})
}
