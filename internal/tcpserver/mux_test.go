package tcpserver

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/pile-gateway/internal/config"
	padapter "github.com/taoyao-code/pile-gateway/internal/protocol/adapter"
)

// echoAdapter 前缀匹配后将收到的字节原样回写
type echoAdapter struct {
	cc     *ConnContext
	prefix []byte
}

func (e *echoAdapter) Name() string { return "echo" }
func (e *echoAdapter) Sniff(p []byte) bool {
	return bytes.HasPrefix(p, e.prefix)
}
func (e *echoAdapter) ProcessBytes(p []byte) error { return e.cc.Write(p) }

func startTestServer(t *testing.T, cfg cfgpkg.TCPConfig, onConn func(*ConnContext)) *Server {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	s := New(cfg, zap.NewNop())
	s.SetConnHandler(onConn)
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func echoMux() *Mux {
	return NewMux(zap.NewNop(), func(cc *ConnContext) padapter.Adapter {
		return &echoAdapter{cc: cc, prefix: []byte{0x55, 0xAA}}
	})
}

func TestMux_SniffAndDispatch(t *testing.T) {
	var mu sync.Mutex
	var seen *ConnContext
	mux := echoMux()
	s := startTestServer(t, cfgpkg.TCPConfig{}, func(cc *ConnContext) {
		mu.Lock()
		seen = cc
		mu.Unlock()
		mux.BindToConn(cc)
	})

	c, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	msg := []byte{0x55, 0xAA, 0x01, 0x02}
	_, err = c.Write(msg)
	require.NoError(t, err)

	got := make([]byte, len(msg))
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = io.ReadFull(c, got)
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, seen)
	assert.Equal(t, "echo", seen.Protocol())
}

func TestMux_UnknownProtocolCloses(t *testing.T) {
	mux := echoMux()
	s := startTestServer(t, cfgpkg.TCPConfig{SendInterval: 0}, mux.BindToConn)

	c, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < maxUnknownChunks; i++ {
		_, err = c.Write([]byte{0x00, 0x01})
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond)
	}

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = c.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestMux_SplitOrNoisyPrefix(t *testing.T) {
	cases := []struct {
		name   string
		chunks [][]byte
		want   []byte
	}{
		{"起始标识被拆包", [][]byte{{0x55}, {0xAA, 0x01, 0x02}}, []byte{0x55, 0xAA, 0x01, 0x02}},
		{"标识前有杂散字节", [][]byte{{0x00, 0x13, 0x55, 0xAA, 0x03}}, []byte{0x55, 0xAA, 0x03}},
		{"杂散字节后拆包", [][]byte{{0x7F, 0x55}, {0xAA, 0x04}}, []byte{0x55, 0xAA, 0x04}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux := echoMux()
			s := startTestServer(t, cfgpkg.TCPConfig{}, mux.BindToConn)

			c, err := net.Dial("tcp", s.Addr().String())
			require.NoError(t, err)
			defer c.Close()

			for _, chunk := range tc.chunks {
				_, err = c.Write(chunk)
				require.NoError(t, err)
				time.Sleep(100 * time.Millisecond)
			}

			got := make([]byte, len(tc.want))
			_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, err = io.ReadFull(c, got)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
