package tcpserver

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrConnClosed 连接已关闭，不可写
	ErrConnClosed = errors.New("connection closed")
	// ErrWriteQueueTimeout 写队列拥塞
	ErrWriteQueueTimeout = errors.New("write queue timeout")
)

type writeReq struct {
	b    []byte
	done chan error
}

// ConnContext 为每个 TCP 连接提供读/写循环。
// 所有下行帧经由同一个写协程串行发出，每帧发出后强制间隔 SendInterval 才能发下一帧。
type ConnContext struct {
	s      *Server
	c      net.Conn
	id     uint64
	writeC chan writeReq
	closeC chan struct{}
	doneC  chan struct{}
	closed atomic.Bool
	once   sync.Once
	onRead func([]byte)
	proto  atomic.Value // string：Mux 识别出的协议名
}

func newConnContext(s *Server, c net.Conn) *ConnContext {
	cc := &ConnContext{
		s:      s,
		c:      c,
		id:     s.nextConnID.Add(1),
		writeC: make(chan writeReq, 16),
		closeC: make(chan struct{}),
		doneC:  make(chan struct{}),
	}
	cc.proto.Store("")
	return cc
}

// ID 连接ID（进程内唯一递增）
func (cc *ConnContext) ID() uint64 { return cc.id }

// RemoteAddr 远端地址
func (cc *ConnContext) RemoteAddr() net.Addr { return cc.c.RemoteAddr() }

// SetOnRead 安装读取回调，必须在 run 之前调用
func (cc *ConnContext) SetOnRead(h func([]byte)) { cc.onRead = h }

// SetProtocol 记录 Mux 识别出的协议
func (cc *ConnContext) SetProtocol(p string) { cc.proto.Store(p) }

// Protocol 连接协议名
func (cc *ConnContext) Protocol() string {
	s, _ := cc.proto.Load().(string)
	return s
}

// Closed 连接是否已关闭
func (cc *ConnContext) Closed() bool { return cc.closed.Load() }

// Write 将一帧交给写协程并等待写完成。
// 连接已关闭返回 ErrConnClosed；写超时或 socket 错误原样返回。
func (cc *ConnContext) Write(b []byte) error {
	if cc.closed.Load() {
		return ErrConnClosed
	}
	req := writeReq{b: append([]byte(nil), b...), done: make(chan error, 1)}
	to := cc.s.cfg.WriteTimeout
	if to <= 0 {
		to = 5 * time.Second
	}
	timer := time.NewTimer(to)
	defer timer.Stop()

	select {
	case cc.writeC <- req:
	case <-cc.closeC:
		return ErrConnClosed
	case <-timer.C:
		return ErrWriteQueueTimeout
	}
	select {
	case err := <-req.done:
		return err
	case <-cc.closeC:
		return ErrConnClosed
	}
}

// Close 关闭连接；读循环随之退出
func (cc *ConnContext) Close() error {
	var err error
	cc.once.Do(func() {
		cc.closed.Store(true)
		close(cc.closeC)
		err = cc.c.Close()
	})
	return err
}

// Done 连接结束通知：读写协程均已退出
func (cc *ConnContext) Done() <-chan struct{} { return cc.doneC }

func (cc *ConnContext) writeLoop() {
	pace := cc.s.cfg.SendInterval
	for {
		select {
		case <-cc.closeC:
			return
		case req := <-cc.writeC:
			if cc.s.cfg.WriteTimeout > 0 {
				_ = cc.c.SetWriteDeadline(time.Now().Add(cc.s.cfg.WriteTimeout))
			}
			_, err := cc.c.Write(req.b)
			req.done <- err
			if err != nil {
				_ = cc.Close()
				return
			}
			if pace > 0 {
				t := time.NewTimer(pace)
				select {
				case <-cc.closeC:
					t.Stop()
					return
				case <-t.C:
				}
			}
		}
	}
}

// run 启动读/写循环，阻塞直至连接结束
func (cc *ConnContext) run() {
	defer close(cc.doneC)
	defer cc.Close()

	doneW := make(chan struct{})
	go func() {
		defer close(doneW)
		cc.writeLoop()
	}()

	buf := make([]byte, 4096)
	for {
		if cc.s.cfg.ReadTimeout > 0 {
			_ = cc.c.SetReadDeadline(time.Now().Add(cc.s.cfg.ReadTimeout))
		}
		n, err := cc.c.Read(buf)
		if n > 0 {
			if cc.s.onRecvBytes != nil {
				cc.s.onRecvBytes(n)
			}
			if cc.onRead != nil {
				cc.onRead(buf[:n])
			}
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() && !cc.closed.Load() {
				// 读超时仅刷新 deadline，空闲设备由会话清理器处理
				continue
			}
			break
		}
	}
	_ = cc.Close()
	<-doneW
}
