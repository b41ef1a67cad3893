package pile

// 控制码
const (
	CmdLogin            byte = 0x81
	CmdHeartbeat        byte = 0x82
	CmdStartCharging    byte = 0x83
	CmdStopCharging     byte = 0x84
	CmdChargingEnd      byte = 0x85
	CmdLocalStart       byte = 0x86
	CmdOnlineCardInfo   byte = 0x87
	CmdQueryPortData    byte = 0x88
	CmdIdentityAnnounce byte = 0xC0
)

// 结果码（约定值）
const (
	ResultFailure   byte = 0x00
	ResultSuccess   byte = 0x01
	ResultNoNetwork byte = 0xFF
)

const (
	// StartMarker 帧起始标识，线上按小端写出为 55 AA
	StartMarker uint16 = 0xAA55
	// IdentityLen IMEI 定长 ASCII
	IdentityLen = 15
	// MinFrameLen marker+len+ctrl+result+sum
	MinFrameLen = 7

	markerLo = byte(StartMarker & 0xFF)
	markerHi = byte(StartMarker >> 8)

	// fixedLen 长度字段中固定计入的字节：ctrl+result+sum
	fixedLen = 3
)

// Frame 一帧完整报文。
// 布局：marker[2] | lenLE[2] | ctrl[1] | result[1] | imei[15]? | payload[n] | sum[1]
// HasIdentity 明确表示身份字段是否存在，Identity 去除了 NUL 填充。
type Frame struct {
	Control     byte
	Result      byte
	HasIdentity bool
	Identity    string
	Payload     []byte

	// Checksum 线上收到的校验值；Computed 按解码字段重新计算的校验值。编码时二者相同。
	Checksum byte
	Computed byte
}

// Length 长度字段的取值
func (f *Frame) Length() int {
	n := len(f.Payload) + fixedLen
	if f.HasIdentity {
		n += IdentityLen
	}
	return n
}

// ChecksumOK 收到的校验与重算结果是否一致
func (f *Frame) ChecksumOK() bool { return f.Checksum == f.Computed }

// ControlName 控制码的可读名称，用于日志与指标标签
func ControlName(c byte) string {
	switch c {
	case CmdLogin:
		return "login"
	case CmdHeartbeat:
		return "heartbeat"
	case CmdStartCharging:
		return "start_charging"
	case CmdStopCharging:
		return "stop_charging"
	case CmdChargingEnd:
		return "charging_end"
	case CmdLocalStart:
		return "local_start"
	case CmdOnlineCardInfo:
		return "online_card_info"
	case CmdQueryPortData:
		return "query_port_data"
	case CmdIdentityAnnounce:
		return "identity_announce"
	default:
		return "unknown"
	}
}
