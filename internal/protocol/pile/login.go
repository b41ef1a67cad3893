package pile

import "errors"

var ErrShortPayload = errors.New("short payload")

// 登录负载字段宽度
const (
	hwVersionLen     = 16
	swVersionLen     = 16
	ccidLen          = 20
	LoginPayloadLen  = IdentityLen + 1 + hwVersionLen + swVersionLen + ccidLen + 1 + 1
	LoginResponseLen = 9

	// LoginResultNormal 正常登录
	LoginResultNormal byte = 0x00
	// LoginResultNewProtocol 通知设备后续切换为新协议
	LoginResultNewProtocol byte = 0xF0
)

// LoginInfo 登录帧负载
type LoginInfo struct {
	Identity        string
	PortCount       uint8
	HardwareVersion string
	SoftwareVersion string
	CCID            string
	ProtocolVersion uint8
	LoginReason     uint8
}

// ParseLogin 解析登录负载，不足 70 字节返回 ErrShortPayload
func ParseLogin(p []byte) (*LoginInfo, error) {
	if len(p) < LoginPayloadLen {
		return nil, ErrShortPayload
	}
	off := 0
	take := func(n int) []byte {
		b := p[off : off+n]
		off += n
		return b
	}
	info := &LoginInfo{}
	info.Identity = trimASCII(take(IdentityLen))
	info.PortCount = take(1)[0]
	info.HardwareVersion = trimASCII(take(hwVersionLen))
	info.SoftwareVersion = trimASCII(take(swVersionLen))
	info.CCID = trimASCII(take(ccidLen))
	info.ProtocolVersion = take(1)[0]
	info.LoginReason = take(1)[0]
	return info, nil
}

// Encode 设备侧登录负载（模拟器与测试使用）
func (l *LoginInfo) Encode() []byte {
	out := make([]byte, 0, LoginPayloadLen)
	out = append(out, padASCII(l.Identity, IdentityLen)...)
	out = append(out, l.PortCount)
	out = append(out, padASCII(l.HardwareVersion, hwVersionLen)...)
	out = append(out, padASCII(l.SoftwareVersion, swVersionLen)...)
	out = append(out, padASCII(l.CCID, ccidLen)...)
	out = append(out, l.ProtocolVersion, l.LoginReason)
	return out
}

// LoginResponse 登录应答负载：7 字节保留 + 心跳间隔 + 登录结果
type LoginResponse struct {
	HeartbeatSec uint8
	Result       byte
}

func (r LoginResponse) Encode() []byte {
	out := make([]byte, LoginResponseLen)
	out[7] = r.HeartbeatSec
	out[8] = r.Result
	return out
}

// ParseLoginResponse 设备侧解析登录应答
func ParseLoginResponse(p []byte) (LoginResponse, error) {
	if len(p) < LoginResponseLen {
		return LoginResponse{}, ErrShortPayload
	}
	return LoginResponse{HeartbeatSec: p[7], Result: p[8]}, nil
}

// ClampHeartbeat 将心跳间隔限制在 [lo,hi] 秒
func ClampHeartbeat(sec, lo, hi int) uint8 {
	if sec < lo {
		sec = lo
	}
	if sec > hi {
		sec = hi
	}
	if sec < 0 {
		sec = 0
	}
	if sec > 0xFF {
		sec = 0xFF
	}
	return uint8(sec)
}

// LoginResultFor 协议版本达到阈值时要求设备切换新协议
func LoginResultFor(protocolVersion, minNewProtocol uint8) byte {
	if protocolVersion >= minNewProtocol {
		return LoginResultNewProtocol
	}
	return LoginResultNormal
}
