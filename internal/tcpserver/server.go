package tcpserver

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/pile-gateway/internal/config"
)

// Server 设备 TCP 接入：一个 accept 循环 + 每连接一个读协程
type Server struct {
	cfg    cfgpkg.TCPConfig
	logger *zap.Logger

	ln         net.Listener
	wg         sync.WaitGroup
	stopC      chan struct{}
	stopOnce   sync.Once
	nextConnID atomic.Uint64
	conns      sync.Map // id -> *ConnContext

	connLimiter *ConnectionLimiter
	rateLimiter *RateLimiter
	onConn      func(cc *ConnContext)

	// 可选指标回调
	onAccept    func()
	onReject    func(reason string)
	onRecvBytes func(n int)
}

// New 创建 TCP 服务
func New(cfg cfgpkg.TCPConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{cfg: cfg, logger: logger, stopC: make(chan struct{})}
	if cfg.MaxConnections > 0 {
		s.connLimiter = NewConnectionLimiter(cfg.MaxConnections, cfg.AcquireTimeout)
	}
	if cfg.AcceptRate > 0 {
		s.rateLimiter = NewRateLimiter(cfg.AcceptRate, cfg.AcceptBurst)
	}
	return s
}

// SetConnHandler 新连接建立后、读循环开始前回调（通常由 Mux.BindToConn 安装读处理）
func (s *Server) SetConnHandler(h func(cc *ConnContext)) { s.onConn = h }

// SetMetricsCallbacks 设置指标回调
func (s *Server) SetMetricsCallbacks(onAccept func(), onReject func(string), onRecvBytes func(int)) {
	s.onAccept, s.onReject, s.onRecvBytes = onAccept, onReject, onRecvBytes
}

// Addr 实际监听地址（Start 之后有效）
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Limiter 连接数限流器，未启用时为 nil
func (s *Server) Limiter() *ConnectionLimiter { return s.connLimiter }

// Start 监听并在后台接受连接；监听失败直接返回错误
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.logger.Info("tcp server listening", zap.String("addr", ln.Addr().String()))

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.stopC:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// 短暂错误等待后重试
			s.logger.Warn("accept error", zap.Error(err))
			time.Sleep(50 * time.Millisecond)
			continue
		}

		if s.rateLimiter != nil && !s.rateLimiter.Allow() {
			s.reject(conn, "rate")
			continue
		}
		if s.connLimiter != nil {
			if err := s.connLimiter.Acquire(context.Background()); err != nil {
				s.reject(conn, "limit")
				continue
			}
		}
		if s.onAccept != nil {
			s.onAccept()
		}

		cc := newConnContext(s, conn)
		s.conns.Store(cc.ID(), cc)
		if s.onConn != nil {
			s.onConn(cc)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.conns.Delete(cc.ID())
			if s.connLimiter != nil {
				defer s.connLimiter.Release()
			}
			cc.run()
		}()
	}
}

func (s *Server) reject(conn net.Conn, reason string) {
	s.logger.Warn("connection rejected",
		zap.String("remote_addr", conn.RemoteAddr().String()),
		zap.String("reason", reason))
	if s.onReject != nil {
		s.onReject(reason)
	}
	_ = conn.Close()
}

// Shutdown 停止 accept，关闭全部连接并等待读写协程退出
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopC) })
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.conns.Range(func(_, v any) bool {
		_ = v.(*ConnContext).Close()
		return true
	})
	ch := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(ch)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		s.logger.Info("tcp server stopped")
		return nil
	}
}
