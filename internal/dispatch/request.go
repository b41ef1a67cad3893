package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taoyao-code/pile-gateway/internal/ordersession"
	"github.com/taoyao-code/pile-gateway/internal/protocol/pile"
)

// 命令动作
const (
	ActionStart = "start"
	ActionStop  = "stop"
	ActionQuery = "query"
)

// Request REST / NATS 下发的统一命令
type Request struct {
	Identity        string
	Action          string
	Port            uint8
	OrderID         uint32
	StartMode       uint8
	CardID          uint32
	ChargingMode    uint8
	ChargingParam   uint32
	AvailableAmount uint32
	// Wait > 0 时在写完成后继续等待设备回执，超时不算失败
	Wait time.Duration
}

// Result Execute 的结果；Outcome 仅在等到回执时非空
type Result struct {
	Ack     Ack                   `json:"ack"`
	Outcome *ordersession.Outcome `json:"outcome,omitempty"`
	Waited  bool                  `json:"waited"`
}

// Execute 按 Action 分派到对应的 Send 方法
func (f *Facade) Execute(ctx context.Context, req Request) (Result, error) {
	var (
		ack Ack
		err error
	)
	switch req.Action {
	case ActionStart:
		ack, err = f.SendStartCharging(ctx, req.Identity, pile.StartChargingCommand{
			Port:            req.Port,
			OrderID:         req.OrderID,
			StartMode:       req.StartMode,
			CardID:          req.CardID,
			ChargingMode:    req.ChargingMode,
			ChargingParam:   req.ChargingParam,
			AvailableAmount: req.AvailableAmount,
		})
	case ActionStop:
		ack, err = f.SendStopCharging(ctx, req.Identity, req.Port, req.OrderID)
	case ActionQuery:
		ack, err = f.SendQueryPortData(ctx, req.Identity, req.Port)
	default:
		return Result{}, fmt.Errorf("%w: unknown action %q", ErrInvalidCommand, req.Action)
	}
	if err != nil {
		return Result{}, err
	}

	res := Result{Ack: ack}
	if req.Wait <= 0 || req.Action == ActionQuery || req.OrderID == 0 {
		return res, nil
	}
	wctx, cancel := context.WithTimeout(ctx, req.Wait)
	defer cancel()
	res.Waited = true
	o, err := f.Await(wctx, ack.Identity, ack.OrderID)
	switch {
	case err == nil:
		res.Outcome = &o
	case errors.Is(err, context.DeadlineExceeded):
	default:
		return res, err
	}
	return res, nil
}
