package pile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrShortFrame       = errors.New("short frame")
	ErrBadMarker        = errors.New("bad start marker")
	ErrIncomplete       = errors.New("incomplete frame")
	ErrBadLength        = errors.New("bad length")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrBadIdentity      = errors.New("identity must be at most 15 ascii bytes")
	ErrFrameTooLarge    = errors.New("frame too large")
)

// IdentityRule 根据控制码与长度字段判断帧内是否携带 IMEI
type IdentityRule func(control byte, length int) bool

// LegacyIdentityRule 兼容旧固件的推断规则：仅当登录帧且 length<=3 时无身份字段
func LegacyIdentityRule(control byte, length int) bool {
	return !(control == CmdLogin && length <= fixedLen)
}

// UplinkIdentityRule 设备上行帧一律携带身份字段
func UplinkIdentityRule(byte, int) bool { return true }

// DownlinkIdentityRule 服务端下行：登录应答不带身份，其余均带
func DownlinkIdentityRule(control byte, _ int) bool { return control != CmdLogin }

// IdentityRuleByName 配置名到规则的映射
func IdentityRuleByName(name string) (IdentityRule, error) {
	switch strings.ToLower(name) {
	case "", "uplink":
		return UplinkIdentityRule, nil
	case "legacy":
		return LegacyIdentityRule, nil
	case "downlink":
		return DownlinkIdentityRule, nil
	default:
		return nil, fmt.Errorf("unknown identity rule %q", name)
	}
}

// ChecksumPolicy 校验不一致时的处理策略
type ChecksumPolicy int

const (
	ChecksumStrict ChecksumPolicy = iota
	ChecksumLenient
)

func (p ChecksumPolicy) String() string {
	if p == ChecksumLenient {
		return "lenient"
	}
	return "strict"
}

// ParseChecksumPolicy strict | lenient
func ParseChecksumPolicy(s string) (ChecksumPolicy, error) {
	switch strings.ToLower(s) {
	case "", "strict":
		return ChecksumStrict, nil
	case "lenient":
		return ChecksumLenient, nil
	default:
		return ChecksumStrict, fmt.Errorf("unknown checksum policy %q", s)
	}
}

// Checksum 对 len..payload 的字节求和取低 8 位
func Checksum(body []byte) byte {
	var sum byte
	for _, b := range body {
		sum += b
	}
	return sum
}

// Encode 将帧序列化为线上字节，输出长度恒为 Length()+4；校验和按内容重新计算，不修改 f
func (f *Frame) Encode() ([]byte, error) {
	if f.HasIdentity && len(f.Identity) > IdentityLen {
		return nil, ErrBadIdentity
	}
	length := f.Length()
	if length > 0xFFFF {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, 0, length+4)
	buf = append(buf, markerLo, markerHi)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(length))
	buf = append(buf, f.Control, f.Result)
	if f.HasIdentity {
		buf = append(buf, padASCII(f.Identity, IdentityLen)...)
	}
	buf = append(buf, f.Payload...)
	return append(buf, Checksum(buf[2:])), nil
}

// Build 构造不带身份字段的帧
func Build(control, result byte, payload []byte) ([]byte, error) {
	f := &Frame{Control: control, Result: result, Payload: payload}
	return f.Encode()
}

// BuildWithIdentity 构造携带 IMEI 的帧
func BuildWithIdentity(control, result byte, identity string, payload []byte) ([]byte, error) {
	f := &Frame{Control: control, Result: result, HasIdentity: true, Identity: identity, Payload: payload}
	return f.Encode()
}

// Decode 解析 raw 开头的一帧，raw 可以比该帧更长。
// 校验不一致时返回带标记的帧，由调用方（或 Codec）决定是否拒绝。
func Decode(raw []byte, rule IdentityRule) (*Frame, error) {
	if len(raw) < MinFrameLen {
		return nil, ErrShortFrame
	}
	if raw[0] != markerLo || raw[1] != markerHi {
		return nil, ErrBadMarker
	}
	length := int(binary.LittleEndian.Uint16(raw[2:4]))
	if length < fixedLen {
		return nil, ErrBadLength
	}
	if len(raw) < length+4 {
		return nil, ErrIncomplete
	}
	if rule == nil {
		rule = UplinkIdentityRule
	}
	f := &Frame{Control: raw[4], Result: raw[5]}
	off := 6
	payloadLen := length - fixedLen
	if rule(f.Control, length) {
		if length < fixedLen+IdentityLen {
			return nil, ErrBadLength
		}
		f.HasIdentity = true
		f.Identity = trimASCII(raw[off : off+IdentityLen])
		off += IdentityLen
		payloadLen -= IdentityLen
	}
	f.Payload = append([]byte(nil), raw[off:off+payloadLen]...)
	end := length + 3
	f.Checksum = raw[end]
	f.Computed = Checksum(raw[2:end])
	return f, nil
}

// FrameLen 返回 buf 开头一帧的总字节数；头部不足时返回 false
func FrameLen(buf []byte) (int, bool) {
	if len(buf) < 4 {
		return 0, false
	}
	return int(binary.LittleEndian.Uint16(buf[2:4])) + 4, true
}

// Codec 绑定身份规则与校验策略的解码器
type Codec struct {
	Rule   IdentityRule
	Policy ChecksumPolicy
}

// Decode 按策略解码；strict 下校验不一致返回 ErrChecksumMismatch
func (c Codec) Decode(raw []byte) (*Frame, error) {
	f, err := Decode(raw, c.Rule)
	if err != nil {
		return nil, err
	}
	if !f.ChecksumOK() && c.Policy == ChecksumStrict {
		return nil, fmt.Errorf("%w: got 0x%02X want 0x%02X", ErrChecksumMismatch, f.Checksum, f.Computed)
	}
	return f, nil
}

func padASCII(s string, width int) []byte {
	out := make([]byte, width)
	copy(out, s)
	return out
}

func trimASCII(b []byte) string {
	return strings.TrimRight(string(b), "\x00 ")
}
