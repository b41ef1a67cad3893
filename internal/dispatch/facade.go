// Package dispatch 按设备 IMEI 下发充电命令。
// 调用方只持有 IMEI，连接由会话注册表解析；写完成即返回，设备回执通过 Await 可选等待。
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/pile-gateway/internal/metrics"
	"github.com/taoyao-code/pile-gateway/internal/ordersession"
	"github.com/taoyao-code/pile-gateway/internal/protocol/pile"
	"github.com/taoyao-code/pile-gateway/internal/session"
	"github.com/taoyao-code/pile-gateway/internal/storage"
)

var (
	// ErrDeviceOffline 注册表中没有该设备的连接，未发送任何字节
	ErrDeviceOffline = errors.New("device offline")
	// ErrConnectionLost 连接存在但已不可写
	ErrConnectionLost = errors.New("connection lost")
	// ErrInvalidCommand 参数不合法
	ErrInvalidCommand = errors.New("invalid command")
)

// Registry 由 session.Registry 实现
type Registry interface {
	EndpointFor(identity string) (session.Endpoint, bool)
}

// Ack 命令已写入连接
type Ack struct {
	Identity string    `json:"imei"`
	Control  byte      `json:"control"`
	Port     uint8     `json:"port"`
	OrderID  uint32    `json:"orderId,omitempty"`
	SentAt   time.Time `json:"sentAt"`
}

type Facade struct {
	registry Registry
	tracker  *ordersession.Tracker
	audit    storage.CmdLogger
	metrics  *metrics.AppMetrics
	logger   *zap.Logger
	now      func() time.Time

	auditWG      sync.WaitGroup
	auditTimeout time.Duration
}

type Option func(*Facade)

func WithTracker(t *ordersession.Tracker) Option {
	return func(f *Facade) {
		if t != nil {
			f.tracker = t
		}
	}
}

// WithAudit 每条下行命令及设备回执写入审计日志（异步）
func WithAudit(l storage.CmdLogger) Option {
	return func(f *Facade) { f.audit = l }
}

func WithMetrics(m *metrics.AppMetrics) Option {
	return func(f *Facade) { f.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(f *Facade) {
		if l != nil {
			f.logger = l
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(f *Facade) {
		if now != nil {
			f.now = now
		}
	}
}

func New(registry Registry, opts ...Option) *Facade {
	f := &Facade{
		registry:     registry,
		tracker:      ordersession.NewTracker(),
		logger:       zap.NewNop(),
		now:          time.Now,
		auditTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Tracker 待回执表
func (f *Facade) Tracker() *ordersession.Tracker { return f.tracker }

// SendStartCharging 下发开始充电（0x83）
func (f *Facade) SendStartCharging(ctx context.Context, identity string, cmd pile.StartChargingCommand) (Ack, error) {
	return f.send(ctx, identity, pile.CmdStartCharging, cmd.Port, cmd.OrderID, cmd.Encode())
}

// SendStopCharging 下发停止充电（0x84）
func (f *Facade) SendStopCharging(ctx context.Context, identity string, port uint8, orderID uint32) (Ack, error) {
	cmd := pile.StopChargingCommand{Port: port, OrderID: orderID}
	return f.send(ctx, identity, pile.CmdStopCharging, port, orderID, cmd.Encode())
}

// SendQueryPortData 查询端口数据（0x88），不登记待回执
func (f *Facade) SendQueryPortData(ctx context.Context, identity string, port uint8) (Ack, error) {
	return f.send(ctx, identity, pile.CmdQueryPortData, port, 0, pile.QueryPortData{Port: port}.Encode())
}

func (f *Facade) send(ctx context.Context, identity string, control byte, port uint8, orderID uint32, payload []byte) (Ack, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" || len(identity) > pile.IdentityLen {
		return Ack{}, fmt.Errorf("%w: bad imei %q", ErrInvalidCommand, identity)
	}
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	ctrl := fmt.Sprintf("%02X", control)

	ep, ok := f.registry.EndpointFor(identity)
	if !ok {
		f.count(ctrl, "offline")
		f.record(downlink(identity, control, port, orderID, payload), ErrDeviceOffline)
		return Ack{}, ErrDeviceOffline
	}
	if ep.Closed() {
		f.count(ctrl, "lost")
		f.record(downlink(identity, control, port, orderID, payload), ErrConnectionLost)
		return Ack{}, ErrConnectionLost
	}

	frame, err := pile.BuildWithIdentity(control, pile.ResultSuccess, identity, payload)
	if err != nil {
		return Ack{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	// 先登记再写，避免设备回执先于登记到达
	tracked := orderID != 0 && (control == pile.CmdStartCharging || control == pile.CmdStopCharging)
	if tracked {
		f.tracker.Track(identity, orderID, control, port)
	}
	if err := ep.Write(frame); err != nil {
		lost := fmt.Errorf("%w: %v", ErrConnectionLost, err)
		if tracked {
			f.tracker.Cancel(identity, orderID, lost)
		}
		f.count(ctrl, "lost")
		f.record(downlink(identity, control, port, orderID, payload), lost)
		f.logger.Warn("command write failed",
			zap.String("imei", identity),
			zap.String("ctrl", ctrl),
			zap.Uint64("endpoint", ep.ID()),
			zap.Error(err))
		return Ack{}, lost
	}

	ack := Ack{Identity: identity, Control: control, Port: port, OrderID: orderID, SentAt: f.now()}
	f.count(ctrl, "sent")
	f.record(downlink(identity, control, port, orderID, payload), nil)
	f.logger.Info("command sent",
		zap.String("imei", identity),
		zap.String("cmd", pile.ControlName(control)),
		zap.Uint8("port", port),
		zap.Uint32("order_id", orderID))
	return ack, nil
}

// Await 等待设备对 (identity, orderID) 的回执
func (f *Facade) Await(ctx context.Context, identity string, orderID uint32) (ordersession.Outcome, error) {
	p, ok := f.tracker.Lookup(identity, orderID)
	if !ok {
		return ordersession.Outcome{}, ordersession.ErrPendingNotFound
	}
	return p.Wait(ctx)
}

// OnResult 设备回执到达（0x83/0x84 结果、0x85 充电结束）
func (f *Facade) OnResult(identity string, o ordersession.Outcome) {
	f.record(storage.CmdLogRecord{
		Identity:  identity,
		Control:   o.Control,
		Direction: storage.DirectionUp,
		Port:      o.Port,
		OrderID:   o.OrderID,
	}, nil)
	if o.OrderID == 0 {
		return
	}
	if _, err := f.tracker.Complete(identity, o); err != nil {
		f.logger.Debug("device result without pending command",
			zap.String("imei", identity),
			zap.Uint32("order_id", o.OrderID),
			zap.Error(err))
	}
}

// OnDeviceOffline 设备离线时结束其全部待回执命令
func (f *Facade) OnDeviceOffline(identity string) {
	if n := f.tracker.FailDevice(identity, ErrDeviceOffline); n > 0 {
		f.logger.Info("pending commands failed on offline",
			zap.String("imei", identity),
			zap.Int("count", n))
	}
}

// Sweep 清理过期待回执条目
func (f *Facade) Sweep(now time.Time) (expired, purged int) {
	return f.tracker.Sweep(now)
}

// Flush 等待未完成的审计写入
func (f *Facade) Flush() { f.auditWG.Wait() }

func (f *Facade) count(ctrl, result string) {
	if f.metrics != nil {
		f.metrics.CommandTotal.WithLabelValues(ctrl, result).Inc()
	}
}

func downlink(identity string, control byte, port uint8, orderID uint32, payload []byte) storage.CmdLogRecord {
	return storage.CmdLogRecord{
		Identity:  identity,
		Control:   control,
		Direction: storage.DirectionDown,
		Port:      port,
		OrderID:   orderID,
		Payload:   payload,
	}
}

func (f *Facade) record(rec storage.CmdLogRecord, cause error) {
	if f.audit == nil {
		return
	}
	rec.Success = cause == nil
	if rec.At.IsZero() {
		rec.At = f.now()
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	f.auditWG.Add(1)
	go func() {
		defer f.auditWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), f.auditTimeout)
		defer cancel()
		if err := f.audit.AppendCmdLog(ctx, rec); err != nil {
			f.logger.Warn("cmd log write failed", zap.String("imei", rec.Identity), zap.Error(err))
		}
	}()
}
