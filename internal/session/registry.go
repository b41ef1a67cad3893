package session

import (
	"hash/fnv"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Endpoint 会话所绑定的传输端点（一条 TCP 连接）
type Endpoint interface {
	ID() uint64
	RemoteAddr() net.Addr
	Write(b []byte) error
	Close() error
	Closed() bool
}

// Session 设备会话：endpoint、identity 在创建后不再变化，只有最近活跃时间会被更新
type Session struct {
	Endpoint    Endpoint
	Identity    string
	ConnectedAt time.Time

	lastActive atomic.Int64
}

// LastActiveAt 最近一次登录或心跳的时间
func (s *Session) LastActiveAt() time.Time { return time.Unix(0, s.lastActive.Load()) }

// Snapshot 会话只读快照，供 API/日志使用
type Snapshot struct {
	Identity     string    `json:"imei"`
	EndpointID   uint64    `json:"endpointId"`
	RemoteAddr   string    `json:"remoteAddr"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		Identity:     s.Identity,
		EndpointID:   s.Endpoint.ID(),
		ConnectedAt:  s.ConnectedAt,
		LastActiveAt: s.LastActiveAt(),
	}
	if addr := s.Endpoint.RemoteAddr(); addr != nil {
		snap.RemoteAddr = addr.String()
	}
	return snap
}

const stripeCount = 64

// Registry 设备会话注册表，同时维护 identity->session 与 endpoint->session 两个方向。
// 读路径（EndpointFor/IdentityFor/Touch）无锁；同一 identity 的写操作由分段锁串行化。
type Registry struct {
	byIdentity sync.Map // string -> *Session
	byEndpoint sync.Map // uint64 -> *Session
	stripes    [stripeCount]sync.Mutex
	count      atomic.Int64
	now        func() time.Time
}

// Option 注册表配置项
type Option func(*Registry)

// WithNow 注入时钟（测试使用）
func WithNow(fn func() time.Time) Option {
	return func(r *Registry) {
		if fn != nil {
			r.now = fn
		}
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) stripe(identity string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(identity))
	return &r.stripes[h.Sum32()%stripeCount]
}

// RegisterOrTakeover 将 identity 绑定到 ep。
// 若该 identity 已绑定到其他端点，旧映射先被移除，并返回旧端点交由调用方关闭。
// 同一端点重复登录仅刷新活跃时间。
func (r *Registry) RegisterOrTakeover(ep Endpoint, identity string) (previous Endpoint) {
	// 同一连接换了 IMEI：先释放原身份
	if v, ok := r.byEndpoint.Load(ep.ID()); ok {
		if s := v.(*Session); s.Identity != identity {
			r.removeSession(s)
		}
	}

	now := r.now()
	mu := r.stripe(identity)
	mu.Lock()
	defer mu.Unlock()

	if v, ok := r.byIdentity.Load(identity); ok {
		old := v.(*Session)
		if old.Endpoint.ID() == ep.ID() {
			old.lastActive.Store(now.UnixNano())
			return nil
		}
		r.byEndpoint.CompareAndDelete(old.Endpoint.ID(), old)
		r.byIdentity.Delete(identity)
		r.count.Add(-1)
		previous = old.Endpoint
	}

	s := &Session{Endpoint: ep, Identity: identity, ConnectedAt: now}
	s.lastActive.Store(now.UnixNano())
	r.byIdentity.Store(identity, s)
	r.byEndpoint.Store(ep.ID(), s)
	r.count.Add(1)
	return previous
}

// Touch 刷新最近活跃时间；未知 identity 直接忽略
func (r *Registry) Touch(identity string, now time.Time) bool {
	v, ok := r.byIdentity.Load(identity)
	if !ok {
		return false
	}
	v.(*Session).lastActive.Store(now.UnixNano())
	return true
}

// EndpointFor 按 identity 查找当前端点
func (r *Registry) EndpointFor(identity string) (Endpoint, bool) {
	v, ok := r.byIdentity.Load(identity)
	if !ok {
		return nil, false
	}
	return v.(*Session).Endpoint, true
}

// IdentityFor 按端点查找已登录的 identity
func (r *Registry) IdentityFor(ep Endpoint) (string, bool) {
	v, ok := r.byEndpoint.Load(ep.ID())
	if !ok {
		return "", false
	}
	return v.(*Session).Identity, true
}

// Get 返回 identity 当前会话的快照
func (r *Registry) Get(identity string) (Snapshot, bool) {
	v, ok := r.byIdentity.Load(identity)
	if !ok {
		return Snapshot{}, false
	}
	return v.(*Session).Snapshot(), true
}

// Remove 解除端点绑定。返回该端点曾绑定的 identity，以及设备是否因此下线；
// 若 identity 已被新连接接管，则不会影响新会话，offline 为 false。
func (r *Registry) Remove(ep Endpoint) (identity string, offline bool) {
	v, ok := r.byEndpoint.Load(ep.ID())
	if !ok {
		return "", false
	}
	s := v.(*Session)
	return s.Identity, r.removeSession(s)
}

func (r *Registry) removeSession(s *Session) bool {
	mu := r.stripe(s.Identity)
	mu.Lock()
	defer mu.Unlock()
	r.byEndpoint.CompareAndDelete(s.Endpoint.ID(), s)
	if r.byIdentity.CompareAndDelete(s.Identity, s) {
		r.count.Add(-1)
		return true
	}
	return false
}

// Sweep 移除 maxIdle 内没有任何活动的会话，返回被移除的会话（调用方负责关闭端点）
func (r *Registry) Sweep(now time.Time, maxIdle time.Duration) []*Session {
	var evicted []*Session
	cutoff := now.Add(-maxIdle).UnixNano()
	r.byIdentity.Range(func(_, v any) bool {
		s := v.(*Session)
		if s.lastActive.Load() < cutoff && r.removeSession(s) {
			evicted = append(evicted, s)
		}
		return true
	})
	return evicted
}

// Clear 清空注册表，返回全部会话
func (r *Registry) Clear() []*Session {
	var all []*Session
	r.byIdentity.Range(func(_, v any) bool {
		s := v.(*Session)
		if r.removeSession(s) {
			all = append(all, s)
		}
		return true
	})
	return all
}

// List 当前在线的 identity，按字典序
func (r *Registry) List() []string {
	out := make([]string, 0, r.Len())
	r.byIdentity.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out
}

// Snapshots 全部会话快照，按 identity 排序
func (r *Registry) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, r.Len())
	r.byIdentity.Range(func(_, v any) bool {
		out = append(out, v.(*Session).Snapshot())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Len 在线会话数
func (r *Registry) Len() int { return int(r.count.Load()) }
