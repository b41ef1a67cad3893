package pile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleLogin() *LoginInfo {
	return &LoginInfo{
		Identity:        testIMEI,
		PortCount:       2,
		HardwareVersion: "HW1",
		SoftwareVersion: "SW1",
		CCID:            "1234567890123456789",
		ProtocolVersion: 0x64,
		LoginReason:     1,
	}
}

func TestLogin_EncodeParse(t *testing.T) {
	p := sampleLogin().Encode()
	require.Len(t, p, LoginPayloadLen)
	assert.Equal(t, 70, LoginPayloadLen)

	got, err := ParseLogin(p)
	require.NoError(t, err)
	assert.Equal(t, sampleLogin(), got)
}

func TestLogin_ShortPayload(t *testing.T) {
	p := sampleLogin().Encode()
	_, err := ParseLogin(p[:69])
	assert.ErrorIs(t, err, ErrShortPayload)
	_, err = ParseLogin(nil)
	assert.ErrorIs(t, err, ErrShortPayload)
}

func TestLoginResponse(t *testing.T) {
	p := LoginResponse{HeartbeatSec: 60, Result: LoginResultNewProtocol}.Encode()
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 60, 0xF0}, p)
	r, err := ParseLoginResponse(p)
	require.NoError(t, err)
	assert.Equal(t, uint8(60), r.HeartbeatSec)
	_, err = ParseLoginResponse(p[:8])
	assert.ErrorIs(t, err, ErrShortPayload)
}

func TestClampHeartbeat(t *testing.T) {
	assert.Equal(t, uint8(10), ClampHeartbeat(5, 10, 250))
	assert.Equal(t, uint8(250), ClampHeartbeat(300, 10, 250))
	assert.Equal(t, uint8(60), ClampHeartbeat(60, 10, 250))
}

func TestLoginResultFor(t *testing.T) {
	assert.Equal(t, LoginResultNewProtocol, LoginResultFor(0x64, 0x64))
	assert.Equal(t, LoginResultNewProtocol, LoginResultFor(0x70, 0x64))
	assert.Equal(t, LoginResultNormal, LoginResultFor(0x50, 0x64))
}

func TestHeartbeat_Parse(t *testing.T) {
	t.Run("正常", func(t *testing.T) {
		hb, err := ParseHeartbeat([]byte{25, 0xF6, 3, 0, 1, 9})
		require.NoError(t, err)
		assert.Equal(t, uint8(25), hb.Signal)
		assert.Equal(t, int8(-10), hb.Temperature)
		assert.Equal(t, []PortStatus{PortIdle, PortInUse, 9}, hb.Ports)
		assert.False(t, hb.Ports[2].Known())
		assert.Equal(t, "unknown(0x09)", hb.Ports[2].String())
	})
	t.Run("端口状态不足", func(t *testing.T) {
		_, err := ParseHeartbeat([]byte{25, 30, 3, 0})
		assert.ErrorIs(t, err, ErrShortPayload)
	})
	t.Run("头部不足", func(t *testing.T) {
		_, err := ParseHeartbeat([]byte{25})
		assert.ErrorIs(t, err, ErrShortPayload)
	})
}

func TestStartCharging_Layout(t *testing.T) {
	cmd := StartChargingCommand{Port: 1, OrderID: 0x04030201, StartMode: 2, CardID: 0xAABBCCDD, ChargingMode: 1, ChargingParam: 3600, AvailableAmount: 500}
	p := cmd.Encode()
	require.Len(t, p, StartChargingLen)
	assert.Equal(t, []byte{1, 0x01, 0x02, 0x03, 0x04, 2}, p[:6])
	back, err := ParseStartChargingCommand(p)
	require.NoError(t, err)
	assert.Equal(t, cmd, *back)

	res := StartChargingResult{Port: 1, OrderID: 7, StartMode: 2, Result: 0}
	r, err := ParseStartChargingResult(res.Encode())
	require.NoError(t, err)
	assert.Equal(t, res, *r)
	_, err = ParseStartChargingResult(make([]byte, 6))
	assert.ErrorIs(t, err, ErrShortPayload)
}

func TestStopCharging_Layout(t *testing.T) {
	p := StopChargingCommand{Port: 2, OrderID: 9}.Encode()
	assert.Equal(t, []byte{2, 9, 0, 0, 0}, p)

	res := StopChargingResult{Port: 2, OrderID: 9, Result: StopOrderMismatch}
	r, err := ParseStopChargingResult(res.Encode())
	require.NoError(t, err)
	assert.Equal(t, res, *r)
}

func TestChargingEnd_Parse(t *testing.T) {
	e, err := ParseChargingEnd([]byte{1, 5, 0, 0, 0, 0xAB})
	require.NoError(t, err)
	assert.Equal(t, uint8(1), e.Port)
	assert.Equal(t, uint32(5), e.OrderID)
	assert.Equal(t, []byte{0xAB}, e.Extra)
	_, err = ParseChargingEnd([]byte{1, 2})
	assert.ErrorIs(t, err, ErrShortPayload)
}
