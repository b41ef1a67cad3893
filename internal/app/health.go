package app

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/taoyao-code/pile-gateway/internal/health"
	"github.com/taoyao-code/pile-gateway/internal/tcpserver"
)

// 启动阶段需要等待的组件
const (
	ReadyStorage = "storage"
	ReadyTCP     = "tcp"
)

// NewHealthAggregator 按已启用的组件组装检查器；各参数均可为空
func NewHealthAggregator(ready *health.Readiness, pool *pgxpool.Pool, rdb *redis.Client, nc *nats.Conn) *health.Aggregator {
	agg := health.NewAggregator(ready)
	if pool != nil {
		agg.AddChecker(health.NewDatabaseChecker(pool))
	}
	if rdb != nil {
		agg.AddChecker(health.NewRedisChecker(rdb))
	}
	if nc != nil {
		agg.AddChecker(NATSChecker(nc))
	}
	return agg
}

// AddTCPChecker TCP 服务启动后加入
func AddTCPChecker(agg *health.Aggregator, srv *tcpserver.Server, online func() int) {
	agg.AddChecker(health.NewTCPChecker(srv, online))
}
