package tcpserver

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "github.com/taoyao-code/pile-gateway/internal/config"
)

func TestConnContext_SendPacing(t *testing.T) {
	connC := make(chan *ConnContext, 1)
	s := startTestServer(t, cfgpkg.TCPConfig{SendInterval: 100 * time.Millisecond}, func(cc *ConnContext) {
		connC <- cc
	})

	c, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	cc := <-connC

	start := time.Now()
	require.NoError(t, cc.Write([]byte{1}))
	require.NoError(t, cc.Write([]byte{2}))
	require.NoError(t, cc.Write([]byte{3}))
	// 第3帧必须等前两帧各自的间隔结束
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)

	buf := make([]byte, 3)
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = io.ReadFull(c, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, buf)
}

func TestConnContext_WriteAfterClose(t *testing.T) {
	connC := make(chan *ConnContext, 1)
	s := startTestServer(t, cfgpkg.TCPConfig{}, func(cc *ConnContext) { connC <- cc })

	c, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	cc := <-connC

	require.NoError(t, cc.Close())
	assert.True(t, cc.Closed())
	assert.ErrorIs(t, cc.Write([]byte{1}), ErrConnClosed)

	select {
	case <-cc.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("连接关闭后 Done 未触发")
	}
}

func TestConnContext_PeerCloseEndsLoop(t *testing.T) {
	connC := make(chan *ConnContext, 1)
	s := startTestServer(t, cfgpkg.TCPConfig{}, func(cc *ConnContext) { connC <- cc })

	c, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	cc := <-connC
	require.NoError(t, c.Close())

	select {
	case <-cc.Done():
		assert.True(t, cc.Closed())
	case <-time.After(2 * time.Second):
		t.Fatal("对端关闭后读循环未退出")
	}
}

func TestServer_ShutdownClosesConns(t *testing.T) {
	connC := make(chan *ConnContext, 1)
	cfg := cfgpkg.TCPConfig{Addr: "127.0.0.1:0"}
	s := New(cfg, nil)
	s.SetConnHandler(func(cc *ConnContext) { connC <- cc })
	require.NoError(t, s.Start())

	c, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	cc := <-connC

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.True(t, cc.Closed())

	_, err = net.DialTimeout("tcp", s.Addr().String(), 200*time.Millisecond)
	assert.Error(t, err)
}

func TestServer_BindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := New(cfgpkg.TCPConfig{Addr: ln.Addr().String()}, nil)
	assert.Error(t, s.Start())
}

func TestServer_ConnectionLimit(t *testing.T) {
	cfg := cfgpkg.TCPConfig{MaxConnections: 1, AcquireTimeout: 50 * time.Millisecond}
	s := startTestServer(t, cfg, func(*ConnContext) {})

	c1, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer c1.Close()
	time.Sleep(50 * time.Millisecond)

	c2, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer c2.Close()

	_ = c2.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = c2.Read(make([]byte, 1))
	assert.Error(t, err)
	assert.Equal(t, 1, s.Limiter().Current())
}
