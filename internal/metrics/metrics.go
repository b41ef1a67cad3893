package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 网关业务指标
type AppMetrics struct {
	TCPAccepted      prometheus.Counter
	TCPRejected      *prometheus.CounterVec // labels: reason=rate|limit
	TCPBytesReceived prometheus.Counter
	FrameDecodeTotal *prometheus.CounterVec // labels: result=ok|checksum|malformed
	RouteTotal       *prometheus.CounterVec // labels: ctrl
	OnlineGauge      prometheus.Gauge
	HeartbeatTotal   prometheus.Counter
	LoginTotal       *prometheus.CounterVec // labels: result=normal|upgrade|malformed
	TakeoverTotal    prometheus.Counter
	OfflineTotal     *prometheus.CounterVec // labels: reason=tcp|timeout|shutdown
	CommandTotal     *prometheus.CounterVec // labels: ctrl, result=sent|offline|lost
	PersistTotal     *prometheus.CounterVec // labels: op, result=ok|retry|failed|dropped
}

// NewAppMetrics 注册并返回业务指标
func NewAppMetrics(reg prometheus.Registerer) *AppMetrics {
	m := &AppMetrics{
		TCPAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tcp_accept_total",
			Help: "Total accepted TCP connections.",
		}),
		TCPRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tcp_reject_total",
			Help: "Rejected TCP connections by reason.",
		}, []string{"reason"}),
		TCPBytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tcp_bytes_received_total",
			Help: "Total bytes received over TCP.",
		}),
		FrameDecodeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pile_frame_decode_total",
			Help: "Pile frame decode attempts by result.",
		}, []string{"result"}),
		RouteTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pile_route_total",
			Help: "Routed pile frames by control code.",
		}, []string{"ctrl"}),
		OnlineGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "session_online_count",
			Help: "Current number of registered piles.",
		}),
		HeartbeatTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "session_heartbeat_total",
			Help: "Total heartbeats observed.",
		}),
		LoginTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_login_total",
			Help: "Pile logins by result.",
		}, []string{"result"}),
		TakeoverTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "session_takeover_total",
			Help: "Sessions displaced by a newer connection with the same IMEI.",
		}),
		OfflineTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_offline_total",
			Help: "Sessions removed by reason.",
		}, []string{"reason"}),
		CommandTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_command_total",
			Help: "Downlink commands by control code and result.",
		}, []string{"ctrl", "result"}),
		PersistTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "persist_op_total",
			Help: "Persistence operations by result.",
		}, []string{"op", "result"}),
	}
	reg.MustRegister(
		m.TCPAccepted, m.TCPRejected, m.TCPBytesReceived,
		m.FrameDecodeTotal, m.RouteTotal,
		m.OnlineGauge, m.HeartbeatTotal, m.LoginTotal, m.TakeoverTotal, m.OfflineTotal,
		m.CommandTotal, m.PersistTotal,
	)
	return m
}
