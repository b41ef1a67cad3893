package pile

import "fmt"

// PortStatus 心跳中单个端口的状态字节
type PortStatus uint8

const (
	PortIdle       PortStatus = 0
	PortInUse      PortStatus = 1
	PortFuseBlown  PortStatus = 2
	PortRelayStuck PortStatus = 3
	PortDisabled   PortStatus = 4
)

// Known 是否为协议定义的状态值
func (s PortStatus) Known() bool { return s <= PortDisabled }

func (s PortStatus) String() string {
	switch s {
	case PortIdle:
		return "idle"
	case PortInUse:
		return "in_use"
	case PortFuseBlown:
		return "fuse_blown"
	case PortRelayStuck:
		return "relay_stuck"
	case PortDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("unknown(0x%02X)", uint8(s))
	}
}

// HeartbeatInfo 心跳负载
type HeartbeatInfo struct {
	Signal      uint8
	Temperature int8
	PortCount   uint8
	Ports       []PortStatus
}

// ParseHeartbeat signal(1)+temp(1)+ports(1)+status[ports]
func ParseHeartbeat(p []byte) (*HeartbeatInfo, error) {
	if len(p) < 3 {
		return nil, ErrShortPayload
	}
	n := int(p[2])
	if len(p) < 3+n {
		return nil, ErrShortPayload
	}
	hb := &HeartbeatInfo{Signal: p[0], Temperature: int8(p[1]), PortCount: p[2], Ports: make([]PortStatus, n)}
	for i := 0; i < n; i++ {
		hb.Ports[i] = PortStatus(p[3+i])
	}
	return hb, nil
}

func (h *HeartbeatInfo) Encode() []byte {
	out := make([]byte, 0, 3+len(h.Ports))
	out = append(out, h.Signal, byte(h.Temperature), byte(len(h.Ports)))
	for _, s := range h.Ports {
		out = append(out, byte(s))
	}
	return out
}

// AckPayload 心跳应答与充电结束应答共用的 1 字节保留负载
func AckPayload() []byte { return []byte{0x00} }
