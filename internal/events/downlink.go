package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DownlinkCommand 通过 NATS 下发的命令；subject 形如 pile.downlink.<imei>
type DownlinkCommand struct {
	Identity        string `json:"imei"`
	Action          string `json:"action"` // start | stop | query
	Port            uint8  `json:"port"`
	OrderID         uint32 `json:"orderId"`
	StartMode       uint8  `json:"startMode"`
	CardID          uint32 `json:"cardId"`
	ChargingMode    uint8  `json:"chargingMode"`
	ChargingParam   uint32 `json:"chargingParam"`
	AvailableAmount uint32 `json:"availableAmount"`
}

// Reply request/reply 模式下的应答
type Reply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Ack   any    `json:"ack,omitempty"`
}

// CommandHandler 执行下行命令
type CommandHandler func(ctx context.Context, cmd DownlinkCommand) (any, error)

var errNoIdentity = errors.New("imei missing in subject and body")

// DownlinkConsumer 订阅下行命令并交给 CommandHandler
type DownlinkConsumer struct {
	nc      *nats.Conn
	subject string
	handler CommandHandler
	timeout time.Duration
	logger  *zap.Logger
	sub     *nats.Subscription
}

func NewDownlinkConsumer(nc *nats.Conn, subject string, handler CommandHandler, logger *zap.Logger) *DownlinkConsumer {
	if subject == "" {
		subject = "pile.downlink.*"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DownlinkConsumer{nc: nc, subject: subject, handler: handler, timeout: 10 * time.Second, logger: logger}
}

// Start 开始订阅
func (c *DownlinkConsumer) Start() error {
	sub, err := c.nc.Subscribe(c.subject, c.handleMsg)
	if err != nil {
		return err
	}
	c.sub = sub
	c.logger.Info("downlink consumer subscribed", zap.String("subject", c.subject))
	return nil
}

// Stop 取消订阅
func (c *DownlinkConsumer) Stop() error {
	if c.sub == nil {
		return nil
	}
	return c.sub.Unsubscribe()
}

func (c *DownlinkConsumer) handleMsg(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	reply := c.process(ctx, msg.Subject, msg.Data)
	if msg.Reply == "" {
		return
	}
	data, _ := json.Marshal(reply)
	if err := msg.Respond(data); err != nil {
		c.logger.Warn("downlink reply failed", zap.Error(err))
	}
}

func (c *DownlinkConsumer) process(ctx context.Context, subject string, data []byte) Reply {
	var cmd DownlinkCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		c.logger.Warn("downlink decode failed", zap.String("subject", subject), zap.Error(err))
		return Reply{Error: "bad command: " + err.Error()}
	}
	if id := identityFromSubject(subject); id != "" {
		cmd.Identity = id
	}
	if cmd.Identity == "" {
		return Reply{Error: errNoIdentity.Error()}
	}

	ack, err := c.handler(ctx, cmd)
	if err != nil {
		c.logger.Warn("downlink command failed",
			zap.String("imei", cmd.Identity),
			zap.String("action", cmd.Action),
			zap.Error(err))
		return Reply{Error: err.Error()}
	}
	c.logger.Info("downlink command sent",
		zap.String("imei", cmd.Identity),
		zap.String("action", cmd.Action),
		zap.Uint32("order_id", cmd.OrderID))
	return Reply{OK: true, Ack: ack}
}

// identityFromSubject 取 subject 最后一段作为 IMEI（通配订阅时）
func identityFromSubject(subject string) string {
	i := strings.LastIndexByte(subject, '.')
	if i < 0 || i == len(subject)-1 {
		return ""
	}
	last := subject[i+1:]
	if last == "*" || last == ">" {
		return ""
	}
	return last
}
