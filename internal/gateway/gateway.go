// Package gateway 充电桩连接状态机：登录、心跳、命令回执与会话超时清理。
package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/pile-gateway/internal/config"
	"github.com/taoyao-code/pile-gateway/internal/dispatch"
	"github.com/taoyao-code/pile-gateway/internal/events"
	"github.com/taoyao-code/pile-gateway/internal/metrics"
	padapter "github.com/taoyao-code/pile-gateway/internal/protocol/adapter"
	"github.com/taoyao-code/pile-gateway/internal/protocol/pile"
	"github.com/taoyao-code/pile-gateway/internal/resilience"
	"github.com/taoyao-code/pile-gateway/internal/session"
	"github.com/taoyao-code/pile-gateway/internal/storage"
	redisstorage "github.com/taoyao-code/pile-gateway/internal/storage/redis"
	"github.com/taoyao-code/pile-gateway/internal/tcpserver"
)

// Presence 跨实例在线影子，由 storage/redis.Presence 实现
type Presence interface {
	Online(ctx context.Context, rec redisstorage.PresenceRecord) error
	Touch(ctx context.Context, imei string, t time.Time) error
	Offline(ctx context.Context, imei string, endpointID uint64) error
}

// Config 网关运行参数
type Config struct {
	Protocol    cfgpkg.ProtocolConfig
	Session     cfgpkg.SessionConfig
	Persistence cfgpkg.PersistenceConfig
	ServerID    string
}

// Deps 网关协作者；Store/Presence/Events/Metrics 可为空
type Deps struct {
	Registry *session.Registry
	Facade   *dispatch.Facade
	Store    storage.DeviceStore
	Presence Presence
	Events   events.Publisher
	Metrics  *metrics.AppMetrics
	Logger   *zap.Logger
	Now      func() time.Time
}

type Gateway struct {
	cfg      Config
	codec    pile.Codec
	interval uint8 // 下发给设备的心跳间隔（已限制在上下限内）

	registry *session.Registry
	facade   *dispatch.Facade
	store    storage.DeviceStore
	presence Presence
	events   events.Publisher
	metrics  *metrics.AppMetrics
	logger   *zap.Logger
	now      func() time.Time
	retrier  *resilience.Retrier

	ctx    context.Context
	cancel context.CancelFunc
}

// New 校验协议参数并组装网关
func New(cfg Config, deps Deps) (*Gateway, error) {
	rule, err := pile.IdentityRuleByName(cfg.Protocol.IdentityRule)
	if err != nil {
		return nil, err
	}
	policy, err := pile.ParseChecksumPolicy(cfg.Protocol.ChecksumPolicy)
	if err != nil {
		return nil, err
	}
	if deps.Registry == nil {
		deps.Registry = session.NewRegistry()
	}
	if deps.Facade == nil {
		deps.Facade = dispatch.New(deps.Registry)
	}
	if deps.Events == nil {
		deps.Events = events.NopPublisher{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	lo, hi := cfg.Protocol.HeartbeatMinSec, cfg.Protocol.HeartbeatMaxSec
	if lo <= 0 {
		lo = 10
	}
	if hi <= 0 {
		hi = 250
	}
	if cfg.Session.TimeoutMultiplier <= 0 {
		cfg.Session.TimeoutMultiplier = 3
	}
	if cfg.Session.SweepInterval <= 0 {
		cfg.Session.SweepInterval = 30 * time.Second
	}
	if cfg.Persistence.QueueSize <= 0 {
		cfg.Persistence.QueueSize = 64
	}

	var breaker *resilience.CircuitBreaker
	if cfg.Persistence.BreakerThreshold > 0 {
		breaker = resilience.NewCircuitBreaker(cfg.Persistence.BreakerThreshold, cfg.Persistence.BreakerTimeout)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		cfg:      cfg,
		codec:    pile.Codec{Rule: rule, Policy: policy},
		interval: pile.ClampHeartbeat(cfg.Protocol.HeartbeatIntervalSec, lo, hi),
		registry: deps.Registry,
		facade:   deps.Facade,
		store:    deps.Store,
		presence: deps.Presence,
		events:   deps.Events,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		now:      deps.Now,
		retrier:  resilience.NewRetrier(cfg.Persistence.RetryAttempts, cfg.Persistence.RetryInitial, breaker),
		ctx:      ctx,
		cancel:   cancel,
	}
	g.retrier.OnRetry = func(op string, attempt int, err error) {
		g.countPersist(op, "retry")
		g.logger.Warn("persistence attempt failed",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	if breaker != nil {
		breaker.SetStateChangeCallback(func(from, to resilience.State) {
			g.logger.Warn("persistence breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		})
	}
	return g, nil
}

// Registry 会话注册表
func (g *Gateway) Registry() *session.Registry { return g.registry }

// HeartbeatInterval 登录应答中下发的心跳间隔
func (g *Gateway) HeartbeatInterval() time.Duration {
	return time.Duration(g.interval) * time.Second
}

// IdleTimeout 超过该时长无登录/心跳的会话被清理
func (g *Gateway) IdleTimeout() time.Duration {
	return g.HeartbeatInterval() * time.Duration(g.cfg.Session.TimeoutMultiplier)
}

// AdapterBuilder 供 tcpserver.Mux 为每条连接构造协议适配器
func (g *Gateway) AdapterBuilder() tcpserver.AdapterBuilder {
	return func(cc *tcpserver.ConnContext) padapter.Adapter {
		return g.attach(cc).adapter
	}
}

// Shutdown 清空注册表并关闭所有设备连接，停止持久化重试
func (g *Gateway) Shutdown(ctx context.Context) {
	for _, s := range g.registry.Clear() {
		g.deviceOffline(ctx, s.Identity, s.Endpoint.ID(), "shutdown")
		_ = s.Endpoint.Close()
	}
	g.cancel()
}

func (g *Gateway) publish(t events.Type, identity string, data any) {
	ev := events.Event{Type: t, Identity: identity, ServerID: g.cfg.ServerID, At: g.now(), Data: data}
	if err := g.events.Publish(g.ctx, ev); err != nil {
		g.logger.Warn("publish event failed",
			zap.String("type", string(t)),
			zap.String("imei", identity),
			zap.Error(err))
	}
}

// deviceOffline 会话已从注册表移除后的通知：待回执命令、事件、在线影子、指标
func (g *Gateway) deviceOffline(ctx context.Context, identity string, endpointID uint64, reason string) {
	g.facade.OnDeviceOffline(identity)
	g.publish(events.TypeOffline, identity, map[string]any{"reason": reason, "endpointId": endpointID})
	if g.presence != nil {
		if err := g.presence.Offline(ctx, identity, endpointID); err != nil {
			g.logger.Warn("presence offline failed", zap.String("imei", identity), zap.Error(err))
		}
	}
	if g.metrics != nil {
		g.metrics.OfflineTotal.WithLabelValues(reason).Inc()
		g.metrics.OnlineGauge.Set(float64(g.registry.Len()))
	}
	g.logger.Info("device offline",
		zap.String("imei", identity),
		zap.Uint64("endpoint", endpointID),
		zap.String("reason", reason))
}

func (g *Gateway) countPersist(op, result string) {
	if g.metrics != nil {
		g.metrics.PersistTotal.WithLabelValues(op, result).Inc()
	}
}
