package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Type 设备事件类型，同时作为 NATS subject 的最后一段
type Type string

const (
	TypeOnline           Type = "online"
	TypeOffline          Type = "offline"
	TypeTakeover         Type = "takeover"
	TypeHeartbeat        Type = "heartbeat"
	TypeStartResult      Type = "start_result"
	TypeStopResult       Type = "stop_result"
	TypeChargingEnd      Type = "charging_end"
	TypeLocalStart       Type = "local_start"
	TypeCardInfo         Type = "card_info"
	TypePortData         Type = "port_data"
	TypeIdentityAnnounce Type = "identity_announce"
)

// Event 上行设备事件
type Event struct {
	Type     Type      `json:"type"`
	Identity string    `json:"imei"`
	ServerID string    `json:"serverId,omitempty"`
	At       time.Time `json:"at"`
	Data     any       `json:"data,omitempty"`
}

// Publisher 事件发布者
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NopPublisher 未启用 NATS 时使用
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// NATSPublisher 发布到 <prefix>.<type>，并镜像到 <prefix>.all
type NATSPublisher struct {
	nc       *nats.Conn
	prefix   string
	serverID string
	logger   *zap.Logger
}

func NewNATSPublisher(nc *nats.Conn, prefix, serverID string, logger *zap.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = "pile.events"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{nc: nc, prefix: prefix, serverID: serverID, logger: logger}
}

// Subject 事件类型对应的 subject
func Subject(prefix string, t Type) string { return fmt.Sprintf("%s.%s", prefix, t) }

func (p *NATSPublisher) Publish(_ context.Context, ev Event) error {
	if ev.ServerID == "" {
		ev.ServerID = p.serverID
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(Subject(p.prefix, ev.Type), data); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	if err := p.nc.Publish(p.prefix+".all", data); err != nil {
		return fmt.Errorf("publish all: %w", err)
	}
	p.logger.Debug("event published", zap.String("type", string(ev.Type)), zap.String("imei", ev.Identity))
	return nil
}

// Connect 建立 NATS 连接，断线自动重连
func Connect(url, name string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
}
