package pile

import "encoding/binary"

const (
	StartChargingLen       = 19
	StartChargingResultLen = 7
	StopChargingLen        = 5
	StopChargingResultLen  = 6
	ChargingEndMinLen      = 5
)

// 停止充电结果
const (
	StopOK            byte = 0
	StopAlreadyIdle   byte = 1
	StopOrderMismatch byte = 2
)

// StartChargingCommand 开始充电下行负载
type StartChargingCommand struct {
	Port            uint8
	OrderID         uint32
	StartMode       uint8
	CardID          uint32
	ChargingMode    uint8
	ChargingParam   uint32
	AvailableAmount uint32
}

func (c StartChargingCommand) Encode() []byte {
	out := make([]byte, 0, StartChargingLen)
	out = append(out, c.Port)
	out = binary.LittleEndian.AppendUint32(out, c.OrderID)
	out = append(out, c.StartMode)
	out = binary.LittleEndian.AppendUint32(out, c.CardID)
	out = append(out, c.ChargingMode)
	out = binary.LittleEndian.AppendUint32(out, c.ChargingParam)
	out = binary.LittleEndian.AppendUint32(out, c.AvailableAmount)
	return out
}

func ParseStartChargingCommand(p []byte) (*StartChargingCommand, error) {
	if len(p) < StartChargingLen {
		return nil, ErrShortPayload
	}
	le := binary.LittleEndian
	return &StartChargingCommand{
		Port:            p[0],
		OrderID:         le.Uint32(p[1:5]),
		StartMode:       p[5],
		CardID:          le.Uint32(p[6:10]),
		ChargingMode:    p[10],
		ChargingParam:   le.Uint32(p[11:15]),
		AvailableAmount: le.Uint32(p[15:19]),
	}, nil
}

// StartChargingResult 设备对 0x83 的回执
type StartChargingResult struct {
	Port      uint8
	OrderID   uint32
	StartMode uint8
	Result    uint8
}

func (r StartChargingResult) Encode() []byte {
	out := make([]byte, 0, StartChargingResultLen)
	out = append(out, r.Port)
	out = binary.LittleEndian.AppendUint32(out, r.OrderID)
	return append(out, r.StartMode, r.Result)
}

func ParseStartChargingResult(p []byte) (*StartChargingResult, error) {
	if len(p) < StartChargingResultLen {
		return nil, ErrShortPayload
	}
	return &StartChargingResult{
		Port:      p[0],
		OrderID:   binary.LittleEndian.Uint32(p[1:5]),
		StartMode: p[5],
		Result:    p[6],
	}, nil
}

// StopChargingCommand 停止充电下行负载
type StopChargingCommand struct {
	Port    uint8
	OrderID uint32
}

func (c StopChargingCommand) Encode() []byte {
	out := make([]byte, 0, StopChargingLen)
	out = append(out, c.Port)
	return binary.LittleEndian.AppendUint32(out, c.OrderID)
}

func ParseStopChargingCommand(p []byte) (*StopChargingCommand, error) {
	if len(p) < StopChargingLen {
		return nil, ErrShortPayload
	}
	return &StopChargingCommand{Port: p[0], OrderID: binary.LittleEndian.Uint32(p[1:5])}, nil
}

// StopChargingResult 设备对 0x84 的回执
type StopChargingResult struct {
	Port    uint8
	OrderID uint32
	Result  uint8
}

func (r StopChargingResult) Encode() []byte {
	out := make([]byte, 0, StopChargingResultLen)
	out = append(out, r.Port)
	out = binary.LittleEndian.AppendUint32(out, r.OrderID)
	return append(out, r.Result)
}

func ParseStopChargingResult(p []byte) (*StopChargingResult, error) {
	if len(p) < StopChargingResultLen {
		return nil, ErrShortPayload
	}
	return &StopChargingResult{Port: p[0], OrderID: binary.LittleEndian.Uint32(p[1:5]), Result: p[5]}, nil
}

// ChargingEnd 充电结束上报：port + orderId，其后字段按固件版本不同原样保留
type ChargingEnd struct {
	Port    uint8
	OrderID uint32
	Extra   []byte
}

func ParseChargingEnd(p []byte) (*ChargingEnd, error) {
	if len(p) < ChargingEndMinLen {
		return nil, ErrShortPayload
	}
	return &ChargingEnd{
		Port:    p[0],
		OrderID: binary.LittleEndian.Uint32(p[1:5]),
		Extra:   append([]byte(nil), p[5:]...),
	}, nil
}

func (e ChargingEnd) Encode() []byte {
	out := make([]byte, 0, ChargingEndMinLen+len(e.Extra))
	out = append(out, e.Port)
	out = binary.LittleEndian.AppendUint32(out, e.OrderID)
	return append(out, e.Extra...)
}

// QueryPortData 0x88 下行负载：端口号
type QueryPortData struct {
	Port uint8
}

func (q QueryPortData) Encode() []byte { return []byte{q.Port} }
