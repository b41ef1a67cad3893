// Package httpserver 管理面 HTTP 服务：gin 引擎、访问日志与优雅关闭。
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/pile-gateway/internal/config"
)

// Server HTTP 服务封装；路由由调用方通过 Engine 注册
type Server struct {
	engine *gin.Engine
	srv    *http.Server
	logger *zap.Logger
}

func New(cfg cfgpkg.HTTPConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(AccessLog(logger), gin.CustomRecovery(func(c *gin.Context, rec any) {
		logger.Error("http handler panic", zap.Any("panic", rec), zap.String("path", c.Request.URL.Path))
		c.AbortWithStatus(http.StatusInternalServerError)
	}))

	return &Server{
		engine: r,
		logger: logger,
		srv: &http.Server{
			Addr:         cfg.Addr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

// Engine 路由注册入口
func (s *Server) Engine() *gin.Engine { return s.engine }

// MountMetrics 挂载 Prometheus 处理器，path 为空时使用 /metrics
func (s *Server) MountMetrics(path string, h http.Handler) {
	if h == nil {
		return
	}
	if path == "" {
		path = "/metrics"
	}
	s.engine.GET(path, gin.WrapH(h))
}

// Start 监听并服务（阻塞），正常关闭时返回 nil
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve 在已有监听上服务（测试使用随机端口）
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// AccessLog zap 访问日志；/metrics 与 /health 探针只记 debug
func AccessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("http request", fields...)
		case isProbe(c.Request.URL.Path):
			logger.Debug("http request", fields...)
		default:
			logger.Info("http request", fields...)
		}
	}
}

func isProbe(path string) bool {
	return path == "/metrics" || path == "/health" || len(path) > 8 && path[:8] == "/health/"
}
