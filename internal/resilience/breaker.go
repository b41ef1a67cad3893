package resilience

import (
	"errors"
	"sync"
	"time"
)

// State 熔断器状态
type State int

const (
	StateClosed   State = iota // 正常放行
	StateOpen                  // 熔断，直接拒绝
	StateHalfOpen              // 试探放行
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen 熔断器打开，拒绝请求
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests 半开状态下试探请求已满
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// CircuitBreaker 持久化依赖的熔断器：连续失败达到阈值后熔断，超时后半开试探
type CircuitBreaker struct {
	mu          sync.Mutex
	state       State
	failures    int // 连续失败次数
	probes      int // 半开状态已放行的试探数
	probeOK     int
	openedAt    time.Time
	tripCount   int64
	threshold   int
	timeout     time.Duration
	halfOpenMax int

	now           func() time.Time
	onStateChange func(from, to State)
}

// NewCircuitBreaker threshold<=0 取 5，timeout<=0 取 30s
func NewCircuitBreaker(threshold int, timeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CircuitBreaker{
		threshold:   threshold,
		timeout:     timeout,
		halfOpenMax: 2,
		now:         time.Now,
	}
}

// Call 执行 fn，受熔断器保护
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.timeout {
			return ErrCircuitOpen
		}
		cb.transitionTo(StateHalfOpen)
		cb.probes, cb.probeOK = 0, 0
		fallthrough
	case StateHalfOpen:
		if cb.probes >= cb.halfOpenMax {
			return ErrTooManyRequests
		}
		cb.probes++
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		if cb.state == StateHalfOpen || cb.failures >= cb.threshold {
			cb.trip()
		}
		return
	}

	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.probeOK++
		if cb.probeOK >= cb.halfOpenMax {
			cb.transitionTo(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) trip() {
	cb.openedAt = cb.now()
	cb.tripCount++
	cb.transitionTo(StateOpen)
}

func (cb *CircuitBreaker) transitionTo(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	if cb.onStateChange != nil {
		go cb.onStateChange(from, to)
	}
}

// State 当前状态
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// TripCount 累计熔断次数
func (cb *CircuitBreaker) TripCount() int64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.tripCount
}

// SetStateChangeCallback 状态变化回调（异步执行）
func (cb *CircuitBreaker) SetStateChangeCallback(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Reset 手动恢复
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionTo(StateClosed)
	cb.failures, cb.probes, cb.probeOK = 0, 0, 0
}
