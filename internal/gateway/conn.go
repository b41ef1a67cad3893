package gateway

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/taoyao-code/pile-gateway/internal/events"
	"github.com/taoyao-code/pile-gateway/internal/ordersession"
	"github.com/taoyao-code/pile-gateway/internal/protocol/pile"
	"github.com/taoyao-code/pile-gateway/internal/storage"
	redisstorage "github.com/taoyao-code/pile-gateway/internal/storage/redis"
	"github.com/taoyao-code/pile-gateway/internal/tcpserver"
)

// State 连接状态
type State int32

const (
	StateConnected State = iota
	StateLoggedIn
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateLoggedIn:
		return "logged_in"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// conn 单条设备连接；帧处理全部发生在该连接的读协程内
type conn struct {
	g       *Gateway
	cc      *tcpserver.ConnContext
	adapter *pile.Adapter
	queue   *persistQueue
	logger  *zap.Logger
	state   atomic.Int32
}

func (g *Gateway) attach(cc *tcpserver.ConnContext) *conn {
	c := &conn{
		g:  g,
		cc: cc,
		logger: g.logger.With(
			zap.Uint64("conn_id", cc.ID()),
			zap.String("remote_addr", cc.RemoteAddr().String())),
	}
	c.queue = newPersistQueue(g, g.cfg.Persistence.QueueSize)
	c.adapter = pile.NewAdapter(g.codec, g.cfg.Protocol.MaxFrameLen)
	c.adapter.OnDecodeError(c.onDecodeError)

	c.adapter.Register(pile.CmdLogin, c.route(c.handleLogin, false))
	c.adapter.Register(pile.CmdHeartbeat, c.route(c.handleHeartbeat, true))
	c.adapter.Register(pile.CmdStartCharging, c.route(c.handleStartResult, true))
	c.adapter.Register(pile.CmdStopCharging, c.route(c.handleStopResult, true))
	c.adapter.Register(pile.CmdChargingEnd, c.route(c.handleChargingEnd, true))
	c.adapter.Register(pile.CmdLocalStart, c.route(c.handleLocalStart, true))
	c.adapter.Register(pile.CmdOnlineCardInfo, c.route(c.report(events.TypeCardInfo), true))
	c.adapter.Register(pile.CmdQueryPortData, c.route(c.report(events.TypePortData), true))
	c.adapter.Register(pile.CmdIdentityAnnounce, c.route(c.report(events.TypeIdentityAnnounce), true))
	c.adapter.SetFallback(c.handleUnknown)

	go func() {
		<-cc.Done()
		c.close()
	}()
	return c
}

// State 当前状态
func (c *conn) State() State { return State(c.state.Load()) }

func (c *conn) setState(s State) { c.state.Store(int32(s)) }

// route 统一计数；active 为真的处理器只在登录完成后生效
func (c *conn) route(h func(f *pile.Frame, identity string) error, active bool) pile.Handler {
	return func(f *pile.Frame) error {
		if m := c.g.metrics; m != nil {
			m.FrameDecodeTotal.WithLabelValues("ok").Inc()
			m.RouteTotal.WithLabelValues(fmt.Sprintf("%02X", f.Control)).Inc()
		}
		if !active {
			return h(f, "")
		}
		if st := c.State(); st != StateActive {
			c.logger.Debug("frame before login dropped",
				zap.String("cmd", pile.ControlName(f.Control)),
				zap.Stringer("state", st))
			return nil
		}
		identity, ok := c.identity(f)
		if !ok {
			c.logger.Warn("frame identity unresolved, dropped", zap.String("cmd", pile.ControlName(f.Control)))
			return nil
		}
		return h(f, identity)
	}
}

// identity 以注册表中本连接的会话为准；帧内身份不一致时记录告警
func (c *conn) identity(f *pile.Frame) (string, bool) {
	owner, ok := c.g.registry.IdentityFor(c.cc)
	if f.HasIdentity && f.Identity != "" {
		if ok && owner != f.Identity {
			c.logger.Warn("frame identity differs from session",
				zap.String("frame_imei", f.Identity),
				zap.String("session_imei", owner))
			return owner, true
		}
		if !ok {
			return "", false
		}
		return f.Identity, true
	}
	return owner, ok
}

func (c *conn) onDecodeError(err error) {
	result := "malformed"
	if errors.Is(err, pile.ErrChecksumMismatch) {
		result = "checksum"
	}
	if c.g.metrics != nil {
		c.g.metrics.FrameDecodeTotal.WithLabelValues(result).Inc()
	}
	c.logger.Debug("frame dropped", zap.Error(err))
}

func (c *conn) handleLogin(f *pile.Frame, _ string) error {
	info, err := pile.ParseLogin(f.Payload)
	if err != nil {
		c.countLogin("malformed")
		c.logger.Warn("login payload malformed", zap.Int("payload_len", len(f.Payload)), zap.Error(err))
		return nil
	}
	identity := info.Identity
	if identity == "" && f.HasIdentity {
		identity = f.Identity
	}
	if identity == "" {
		c.countLogin("malformed")
		c.logger.Warn("login without imei")
		return nil
	}
	if f.HasIdentity && f.Identity != "" && f.Identity != identity {
		c.logger.Warn("login frame imei differs from payload",
			zap.String("frame_imei", f.Identity),
			zap.String("payload_imei", identity))
	}

	g := c.g
	if prev := g.registry.RegisterOrTakeover(c.cc, identity); prev != nil {
		_ = prev.Close()
		if g.metrics != nil {
			g.metrics.TakeoverTotal.Inc()
		}
		g.publish(events.TypeTakeover, identity, map[string]any{
			"previousEndpointId": prev.ID(),
			"endpointId":         c.cc.ID(),
		})
		c.logger.Info("session taken over",
			zap.String("imei", identity),
			zap.Uint64("previous_conn_id", prev.ID()))
	}
	c.setState(StateLoggedIn)

	resp := pile.LoginResponse{
		HeartbeatSec: g.interval,
		Result:       pile.LoginResultFor(info.ProtocolVersion, g.cfg.Protocol.MinNewProtocolVersion),
	}
	frame, err := pile.Build(pile.CmdLogin, pile.ResultSuccess, resp.Encode())
	if err != nil {
		return fmt.Errorf("build login response: %w", err)
	}
	if err := c.cc.Write(frame); err != nil {
		return fmt.Errorf("write login response: %w", err)
	}
	c.setState(StateActive)

	if resp.Result == pile.LoginResultNewProtocol {
		c.countLogin("upgrade")
	} else {
		c.countLogin("normal")
	}
	if g.metrics != nil {
		g.metrics.OnlineGauge.Set(float64(g.registry.Len()))
	}
	c.logger.Info("device login",
		zap.String("imei", identity),
		zap.Uint8("ports", info.PortCount),
		zap.String("hw", info.HardwareVersion),
		zap.String("sw", info.SoftwareVersion),
		zap.Uint8("protocol_version", info.ProtocolVersion),
		zap.Uint8("reason", info.LoginReason),
		zap.Uint8("heartbeat_sec", resp.HeartbeatSec))

	now := g.now()
	remote := c.cc.RemoteAddr().String()
	if g.store != nil {
		rec := storage.LoginRecord{
			Identity:        identity,
			PortCount:       info.PortCount,
			HardwareVersion: info.HardwareVersion,
			SoftwareVersion: info.SoftwareVersion,
			CCID:            info.CCID,
			ProtocolVersion: info.ProtocolVersion,
			LoginReason:     info.LoginReason,
			RemoteAddr:      remote,
			At:              now,
		}
		c.queue.enqueue(persistJob{op: "login", identity: identity, fn: func(ctx context.Context) error {
			return g.store.UpsertLogin(ctx, rec)
		}})
	}
	if g.presence != nil {
		rec := redisstorage.PresenceRecord{
			Identity:    identity,
			ServerID:    g.cfg.ServerID,
			EndpointID:  c.cc.ID(),
			RemoteAddr:  remote,
			ConnectedAt: now,
			LastSeen:    now,
		}
		c.queue.enqueue(persistJob{op: "presence_online", identity: identity, once: true, fn: func(ctx context.Context) error {
			return g.presence.Online(ctx, rec)
		}})
	}
	g.publish(events.TypeOnline, identity, map[string]any{
		"ports":           info.PortCount,
		"hardwareVersion": info.HardwareVersion,
		"softwareVersion": info.SoftwareVersion,
		"ccid":            info.CCID,
		"protocolVersion": info.ProtocolVersion,
		"loginReason":     info.LoginReason,
		"remoteAddr":      remote,
	})
	return nil
}

func (c *conn) handleHeartbeat(f *pile.Frame, identity string) error {
	hb, err := pile.ParseHeartbeat(f.Payload)
	if err != nil {
		c.logger.Warn("heartbeat payload malformed", zap.String("imei", identity), zap.Error(err))
		return nil
	}
	g := c.g
	now := g.now()
	if !g.registry.Touch(identity, now) {
		c.logger.Warn("heartbeat for unknown session dropped", zap.String("imei", identity))
		return nil
	}
	if g.metrics != nil {
		g.metrics.HeartbeatTotal.Inc()
	}
	if err := c.reply(pile.CmdHeartbeat, identity, pile.AckPayload()); err != nil {
		return err
	}

	ports := make([]storage.PortState, len(hb.Ports))
	statuses := make([]string, len(hb.Ports))
	for i, s := range hb.Ports {
		ports[i] = storage.PortState{No: uint8(i + 1), Status: uint8(s)}
		statuses[i] = s.String()
	}
	c.logger.Debug("heartbeat",
		zap.String("imei", identity),
		zap.Uint8("signal", hb.Signal),
		zap.Int8("temperature", hb.Temperature),
		zap.Strings("ports", statuses))

	if g.store != nil {
		rec := storage.HeartbeatRecord{Identity: identity, Signal: hb.Signal, Temperature: hb.Temperature, Ports: ports, At: now}
		c.queue.enqueue(persistJob{op: "heartbeat", identity: identity, fn: func(ctx context.Context) error {
			return g.store.SaveHeartbeat(ctx, rec)
		}})
	}
	if g.presence != nil {
		c.queue.enqueue(persistJob{op: "presence_touch", identity: identity, once: true, fn: func(ctx context.Context) error {
			return g.presence.Touch(ctx, identity, now)
		}})
	}
	g.publish(events.TypeHeartbeat, identity, map[string]any{
		"signal":      hb.Signal,
		"temperature": hb.Temperature,
		"ports":       statuses,
	})
	return nil
}

func (c *conn) handleStartResult(f *pile.Frame, identity string) error {
	r, err := pile.ParseStartChargingResult(f.Payload)
	if err != nil {
		c.logger.Warn("start result malformed", zap.String("imei", identity), zap.Error(err))
		return nil
	}
	c.g.facade.OnResult(identity, ordersession.Outcome{Control: pile.CmdStartCharging, Port: r.Port, OrderID: r.OrderID, Result: r.Result})
	c.logger.Info("start charging result",
		zap.String("imei", identity),
		zap.Uint8("port", r.Port),
		zap.Uint32("order_id", r.OrderID),
		zap.Uint8("result", r.Result))
	c.g.publish(events.TypeStartResult, identity, map[string]any{
		"port":    r.Port,
		"orderId": r.OrderID,
		"result":  r.Result,
	})
	return nil
}

func (c *conn) handleStopResult(f *pile.Frame, identity string) error {
	r, err := pile.ParseStopChargingResult(f.Payload)
	if err != nil {
		c.logger.Warn("stop result malformed", zap.String("imei", identity), zap.Error(err))
		return nil
	}
	c.g.facade.OnResult(identity, ordersession.Outcome{Control: pile.CmdStopCharging, Port: r.Port, OrderID: r.OrderID, Result: r.Result})
	c.logger.Info("stop charging result",
		zap.String("imei", identity),
		zap.Uint8("port", r.Port),
		zap.Uint32("order_id", r.OrderID),
		zap.Uint8("result", r.Result))
	c.g.publish(events.TypeStopResult, identity, map[string]any{
		"port":    r.Port,
		"orderId": r.OrderID,
		"result":  r.Result,
	})
	return nil
}

// handleChargingEnd 充电结束上报：应答 1 字节，并结束同订单的待回执命令
func (c *conn) handleChargingEnd(f *pile.Frame, identity string) error {
	end, err := pile.ParseChargingEnd(f.Payload)
	if err != nil {
		c.logger.Warn("charging end malformed", zap.String("imei", identity), zap.Error(err))
		return nil
	}
	if err := c.reply(pile.CmdChargingEnd, identity, pile.AckPayload()); err != nil {
		return err
	}
	c.g.facade.OnResult(identity, ordersession.Outcome{Control: pile.CmdChargingEnd, Port: end.Port, OrderID: end.OrderID})
	c.logger.Info("charging end",
		zap.String("imei", identity),
		zap.Uint8("port", end.Port),
		zap.Uint32("order_id", end.OrderID))
	c.g.publish(events.TypeChargingEnd, identity, map[string]any{
		"port":    end.Port,
		"orderId": end.OrderID,
		"extra":   hex.EncodeToString(end.Extra),
	})
	return nil
}

func (c *conn) handleLocalStart(f *pile.Frame, identity string) error {
	if err := c.reply(pile.CmdLocalStart, identity, pile.AckPayload()); err != nil {
		return err
	}
	c.logger.Info("local start report", zap.String("imei", identity), zap.Binary("payload", f.Payload))
	c.g.publish(events.TypeLocalStart, identity, map[string]any{"payload": hex.EncodeToString(f.Payload)})
	return nil
}

// report 只记录并发布事件的上报类帧
func (c *conn) report(t events.Type) func(f *pile.Frame, identity string) error {
	return func(f *pile.Frame, identity string) error {
		c.logger.Info("device report",
			zap.String("imei", identity),
			zap.String("cmd", pile.ControlName(f.Control)),
			zap.Binary("payload", f.Payload))
		c.g.publish(t, identity, map[string]any{"payload": hex.EncodeToString(f.Payload)})
		return nil
	}
}

func (c *conn) handleUnknown(f *pile.Frame) error {
	if c.g.metrics != nil {
		c.g.metrics.FrameDecodeTotal.WithLabelValues("ok").Inc()
		c.g.metrics.RouteTotal.WithLabelValues("unknown").Inc()
	}
	c.logger.Warn("unrecognised control code dropped",
		zap.String("ctrl", fmt.Sprintf("0x%02X", f.Control)),
		zap.Int("payload_len", len(f.Payload)))
	return nil
}

func (c *conn) reply(control byte, identity string, payload []byte) error {
	b, err := pile.BuildWithIdentity(control, pile.ResultSuccess, identity, payload)
	if err != nil {
		return err
	}
	if err := c.cc.Write(b); err != nil {
		return fmt.Errorf("write %s ack: %w", pile.ControlName(control), err)
	}
	return nil
}

func (c *conn) countLogin(result string) {
	if c.g.metrics != nil {
		c.g.metrics.LoginTotal.WithLabelValues(result).Inc()
	}
}

// close 连接结束：注销会话（不会误删已被接管的会话），排空落库队列
func (c *conn) close() {
	c.setState(StateClosed)
	g := c.g
	if identity, offline := g.registry.Remove(c.cc); offline {
		g.facade.OnDeviceOffline(identity)
		g.publish(events.TypeOffline, identity, map[string]any{"reason": "tcp", "endpointId": c.cc.ID()})
		if g.presence != nil {
			id := c.cc.ID()
			c.queue.enqueue(persistJob{op: "presence_offline", identity: identity, once: true, fn: func(ctx context.Context) error {
				return g.presence.Offline(ctx, identity, id)
			}})
		}
		if g.metrics != nil {
			g.metrics.OfflineTotal.WithLabelValues("tcp").Inc()
			g.metrics.OnlineGauge.Set(float64(g.registry.Len()))
		}
		c.logger.Info("device offline", zap.String("imei", identity), zap.String("reason", "tcp"))
	}
	c.queue.close()
}
