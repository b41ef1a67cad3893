package app

import (
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/pile-gateway/internal/config"
	"github.com/taoyao-code/pile-gateway/internal/metrics"
	"github.com/taoyao-code/pile-gateway/internal/tcpserver"
)

// NewTCPServer 创建设备接入服务，连接按 Mux 识别协议后交给对应适配器
func NewTCPServer(cfg cfgpkg.TCPConfig, logger *zap.Logger, appm *metrics.AppMetrics, builders ...tcpserver.AdapterBuilder) *tcpserver.Server {
	srv := tcpserver.New(cfg, logger)
	srv.SetMetricsCallbacks(
		func() { appm.TCPAccepted.Inc() },
		func(reason string) { appm.TCPRejected.WithLabelValues(reason).Inc() },
		func(n int) { appm.TCPBytesReceived.Add(float64(n)) },
	)
	srv.SetConnHandler(tcpserver.NewMux(logger, builders...).BindToConn)
	return srv
}
