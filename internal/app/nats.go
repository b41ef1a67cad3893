package app

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/pile-gateway/internal/config"
	"github.com/taoyao-code/pile-gateway/internal/dispatch"
	"github.com/taoyao-code/pile-gateway/internal/events"
	"github.com/taoyao-code/pile-gateway/internal/health"
)

// downlinkWait NATS request/reply 下行时同步等待设备回执的时长
const downlinkWait = 5 * time.Second

// NewNATS 未启用时返回 (nil, nil)
func NewNATS(cfg cfgpkg.NATSConfig, serverID string, logger *zap.Logger) (*nats.Conn, error) {
	if !cfg.Enabled {
		logger.Info("nats is disabled, device events not published")
		return nil, nil
	}
	nc, err := events.Connect(cfg.URL, serverID, logger)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	logger.Info("nats connected", zap.String("url", nc.ConnectedUrl()))
	return nc, nil
}

// NewPublisher nc 为空时返回 NopPublisher
func NewPublisher(nc *nats.Conn, cfg cfgpkg.NATSConfig, serverID string, logger *zap.Logger) events.Publisher {
	if nc == nil {
		return events.NopPublisher{}
	}
	return events.NewNATSPublisher(nc, cfg.EventPrefix, serverID, logger)
}

// DownlinkHandler 将 NATS 下行命令交给 dispatch.Facade
func DownlinkHandler(f *dispatch.Facade) events.CommandHandler {
	return func(ctx context.Context, cmd events.DownlinkCommand) (any, error) {
		return f.Execute(ctx, RequestFromDownlink(cmd))
	}
}

// RequestFromDownlink 下行命令到统一请求
func RequestFromDownlink(cmd events.DownlinkCommand) dispatch.Request {
	return dispatch.Request{
		Identity:        cmd.Identity,
		Action:          cmd.Action,
		Port:            cmd.Port,
		OrderID:         cmd.OrderID,
		StartMode:       cmd.StartMode,
		CardID:          cmd.CardID,
		ChargingMode:    cmd.ChargingMode,
		ChargingParam:   cmd.ChargingParam,
		AvailableAmount: cmd.AvailableAmount,
		Wait:            downlinkWait,
	}
}

// NATSChecker NATS 断线时网关降级（事件暂不可达），但设备接入不受影响
func NATSChecker(nc *nats.Conn) health.Checker {
	return health.CheckFunc{ComponentName: "nats", Fn: func(context.Context) health.CheckResult {
		st := nc.Status()
		r := health.CheckResult{Details: map[string]any{"status": st.String(), "url": nc.ConnectedUrl()}}
		if st == nats.CONNECTED {
			r.Status, r.Message = health.StatusHealthy, "ok"
		} else {
			r.Status, r.Message = health.StatusDegraded, "not connected"
		}
		return r
	}}
}
