package tcpserver

import (
	"go.uber.org/zap"

	padapter "github.com/taoyao-code/pile-gateway/internal/protocol/adapter"
)

// AdapterBuilder 为单条连接构造协议适配器（适配器持有该连接的解码状态）
type AdapterBuilder func(cc *ConnContext) padapter.Adapter

// maxUnknownChunks 连续多少次无法识别协议后断开连接
const maxUnknownChunks = 3

// 协议判定时每次交给 Sniff 的前缀长度，以及跨包暂存的上限
const (
	sniffPrefixLen = 8
	maxSniffBytes  = 64
)

// Mux 多协议复用器：首帧初判 -> 绑定协议 -> 直通处理
type Mux struct {
	builders []AdapterBuilder
	logger   *zap.Logger
}

func NewMux(logger *zap.Logger, builders ...AdapterBuilder) *Mux {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mux{builders: builders, logger: logger}
}

// BindToConn 为连接安装 onRead，根据首包前缀判断协议后固定处理路径。
// 未识别的字节跨包暂存，起始标识被拆包或前面带杂散字节时仍能识别，识别后从标识处起整段交给适配器。
func (m *Mux) BindToConn(cc *ConnContext) {
	var bound padapter.Adapter
	var candidates []padapter.Adapter
	var pending []byte
	unknown := 0

	cc.SetOnRead(func(p []byte) {
		if bound == nil {
			if candidates == nil {
				for _, b := range m.builders {
					candidates = append(candidates, b(cc))
				}
			}
			pending = append(pending, p...)
			if n := len(pending); n > maxSniffBytes {
				pending = append([]byte(nil), pending[n-maxSniffBytes:]...)
			}
			a, off := sniff(candidates, pending)
			if a == nil {
				unknown++
				m.logger.Warn("unknown protocol prefix",
					zap.Uint64("conn_id", cc.ID()),
					zap.String("remote_addr", cc.RemoteAddr().String()),
					zap.Binary("prefix", head(pending, sniffPrefixLen)),
					zap.Int("attempt", unknown))
				if unknown >= maxUnknownChunks {
					_ = cc.Close()
				}
				return
			}
			bound = a
			cc.SetProtocol(a.Name())
			m.logger.Info("protocol identified",
				zap.Uint64("conn_id", cc.ID()),
				zap.String("remote_addr", cc.RemoteAddr().String()),
				zap.String("protocol", a.Name()),
				zap.Int("skipped", off))
			p, pending = pending[off:], nil
		}
		if err := bound.ProcessBytes(p); err != nil {
			m.logger.Warn("process bytes failed",
				zap.Uint64("conn_id", cc.ID()),
				zap.String("protocol", bound.Name()),
				zap.Error(err))
		}
	})
}

// sniff 逐个偏移尝试各适配器，返回第一个命中的适配器及其起始偏移
func sniff(candidates []padapter.Adapter, buf []byte) (padapter.Adapter, int) {
	for off := range buf {
		pref := head(buf[off:], sniffPrefixLen)
		for _, a := range candidates {
			if a.Sniff(pref) {
				return a, off
			}
		}
	}
	return nil, 0
}

func head(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
