package app

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/taoyao-code/pile-gateway/internal/metrics"
	"github.com/taoyao-code/pile-gateway/internal/ordersession"
)

// NewMetrics 初始化注册表与应用指标
func NewMetrics() (*prometheus.Registry, *metrics.AppMetrics) {
	reg := metrics.NewRegistry()
	return reg, metrics.NewAppMetrics(reg)
}

// PendingObserver 待回执表的操作计入 pile_pending_ops_total
func PendingObserver(reg prometheus.Registerer) ordersession.Observer {
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pile_pending_ops_total",
		Help: "Pending command table operations by operation and status.",
	}, []string{"operation", "status"})
	reg.MustRegister(ops)
	return ordersession.ObserverFunc(func(operation, status string) {
		ops.WithLabelValues(operation, status).Inc()
	})
}
