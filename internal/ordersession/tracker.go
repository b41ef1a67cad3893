package ordersession

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPendingNotFound   = errors.New("pending command not found")
	ErrPendingExpired    = errors.New("pending command expired")
	ErrPendingSuperseded = errors.New("pending command superseded")
	ErrControlMismatch   = errors.New("result control does not match pending command")
)

// 控制码：回执按下行命令的控制码对应
const (
	ctrlStop        byte = 0x84
	ctrlChargingEnd byte = 0x85
)

// answers 回执 control 能否结束下发 control 的待回执命令；充电结束上报也结束停止命令
func answers(pending, result byte) bool {
	if result == ctrlChargingEnd {
		return pending == ctrlStop
	}
	return pending == result
}

type Observer interface {
	Record(operation, status string)
}

type ObserverFunc func(operation, status string)

func (f ObserverFunc) Record(operation, status string) {
	if f != nil {
		f(operation, status)
	}
}

func NopObserver() Observer {
	return ObserverFunc(func(string, string) {})
}

// Outcome 设备对下行命令的回执
type Outcome struct {
	Control byte      `json:"control"`
	Port    uint8     `json:"port"`
	OrderID uint32    `json:"orderId"`
	Result  uint8     `json:"result"`
	At      time.Time `json:"at"`
}

// Pending 一条已下发、等待设备回执的命令，以 (identity, orderID) 为键
type Pending struct {
	Identity  string
	OrderID   uint32
	Control   byte
	Port      uint8
	CreatedAt time.Time

	done       chan struct{}
	mu         sync.Mutex
	outcome    Outcome
	err        error
	finishedAt time.Time
}

func newPending(identity string, orderID uint32, control byte, port uint8, now time.Time) *Pending {
	return &Pending{
		Identity:  identity,
		OrderID:   orderID,
		Control:   control,
		Port:      port,
		CreatedAt: now,
		done:      make(chan struct{}),
	}
}

// finish 只生效一次
func (p *Pending) finish(o Outcome, err error, at time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.finishedAt.IsZero() {
		return false
	}
	p.outcome, p.err, p.finishedAt = o, err, at
	close(p.done)
	return true
}

func (p *Pending) finished() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finishedAt, !p.finishedAt.IsZero()
}

// Done 收到回执、失败或过期后关闭
func (p *Pending) Done() <-chan struct{} { return p.done }

// Result Done 之后有效
func (p *Pending) Result() (Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outcome, p.err
}

// Wait 等待回执，ctx 取消时返回 ctx.Err()
func (p *Pending) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-p.done:
		return p.Result()
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Tracker 下行命令待回执表：pendingTTL 内未收到回执视为过期，
// 已结束的条目再保留 resultTTL 供调用方晚到的 Await 读取。
type Tracker struct {
	entries sync.Map // key -> *Pending

	pendingTTL time.Duration
	resultTTL  time.Duration
	observer   Observer
	now        func() time.Time

	lastSweep int64
}

type Option func(*Tracker)

const (
	defaultPendingTTL = 2 * time.Minute
	defaultResultTTL  = 5 * time.Minute
)

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		pendingTTL: defaultPendingTTL,
		resultTTL:  defaultResultTTL,
		observer:   NopObserver(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func WithTTLs(pendingTTL, resultTTL time.Duration) Option {
	return func(t *Tracker) {
		if pendingTTL > 0 {
			t.pendingTTL = pendingTTL
		}
		if resultTTL > 0 {
			t.resultTTL = resultTTL
		}
	}
}

func WithObserver(observer Observer) Option {
	return func(t *Tracker) {
		if observer != nil {
			t.observer = observer
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// Track 登记一条待回执命令；同键的旧条目以 ErrPendingSuperseded 结束
func (t *Tracker) Track(identity string, orderID uint32, control byte, port uint8) *Pending {
	now := t.now()
	t.maybeSweep(now)

	p := newPending(strings.TrimSpace(identity), orderID, control, port, now)
	if old, loaded := t.entries.Swap(key(identity, orderID), p); loaded {
		if old.(*Pending).finish(Outcome{}, ErrPendingSuperseded, now) {
			t.observer.Record("track", "superseded")
		}
	}
	t.observer.Record("track", "ok")
	return p
}

// Lookup 查找条目（含已结束但仍在保留期内的）
func (t *Tracker) Lookup(identity string, orderID uint32) (*Pending, bool) {
	v, ok := t.entries.Load(key(identity, orderID))
	if !ok {
		return nil, false
	}
	return v.(*Pending), true
}

// Complete 设备回执到达；控制码与待回执命令不对应时返回 ErrControlMismatch，条目保持等待
func (t *Tracker) Complete(identity string, o Outcome) (*Pending, error) {
	now := t.now()
	t.maybeSweep(now)

	v, ok := t.entries.Load(key(identity, o.OrderID))
	if !ok {
		t.observer.Record("complete", "missing")
		return nil, ErrPendingNotFound
	}
	p := v.(*Pending)
	if !answers(p.Control, o.Control) {
		t.observer.Record("complete", "mismatch")
		return nil, fmt.Errorf("%w: pending 0x%02X, got 0x%02X", ErrControlMismatch, p.Control, o.Control)
	}
	if _, done := p.finished(); done {
		if _, err := p.Result(); err != nil {
			t.observer.Record("complete", "late")
			return nil, err
		}
		t.observer.Record("complete", "duplicate")
		return p, nil
	}
	if t.pendingExpired(p, now) {
		p.finish(Outcome{}, ErrPendingExpired, now)
		t.observer.Record("complete", "expired")
		return nil, ErrPendingExpired
	}
	if o.At.IsZero() {
		o.At = now
	}
	p.finish(o, nil, now)
	t.observer.Record("complete", "ok")
	return p, nil
}

// Cancel 下发失败时撤销条目
func (t *Tracker) Cancel(identity string, orderID uint32, cause error) {
	k := key(identity, orderID)
	if v, ok := t.entries.LoadAndDelete(k); ok {
		v.(*Pending).finish(Outcome{}, cause, t.now())
		t.observer.Record("cancel", "ok")
	}
}

// FailDevice 设备离线时结束其全部未完成条目，返回结束的数量
func (t *Tracker) FailDevice(identity string, cause error) int {
	identity = strings.TrimSpace(identity)
	now := t.now()
	n := 0
	t.entries.Range(func(_, v any) bool {
		p := v.(*Pending)
		if p.Identity == identity && p.finish(Outcome{}, cause, now) {
			n++
		}
		return true
	})
	if n > 0 {
		t.observer.Record("fail_device", "ok")
	}
	return n
}

// Sweep 过期未回执的条目以 ErrPendingExpired 结束；超过保留期的已结束条目被删除
func (t *Tracker) Sweep(now time.Time) (expired, purged int) {
	t.entries.Range(func(k, v any) bool {
		p := v.(*Pending)
		if at, done := p.finished(); done {
			if now.Sub(at) > t.resultTTL {
				t.entries.CompareAndDelete(k, p)
				purged++
			}
			return true
		}
		if t.pendingExpired(p, now) && p.finish(Outcome{}, ErrPendingExpired, now) {
			expired++
			t.observer.Record("sweep", "expired")
		}
		return true
	})
	atomic.StoreInt64(&t.lastSweep, now.UnixNano())
	return expired, purged
}

// Len 表内条目数（含保留期内的已结束条目）
func (t *Tracker) Len() int {
	n := 0
	t.entries.Range(func(_, _ any) bool { n++; return true })
	return n
}

func (t *Tracker) pendingExpired(p *Pending, now time.Time) bool {
	return t.pendingTTL > 0 && now.Sub(p.CreatedAt) > t.pendingTTL
}

func (t *Tracker) maybeSweep(now time.Time) {
	last := time.Unix(0, atomic.LoadInt64(&t.lastSweep))
	if now.Sub(last) < t.pendingTTL {
		return
	}
	t.Sweep(now)
}

func key(identity string, orderID uint32) string {
	return fmt.Sprintf("%s:%d", strings.TrimSpace(identity), orderID)
}
