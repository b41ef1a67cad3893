package pile

import "sync"

// Handler 帧处理函数
type Handler func(f *Frame) error

// Table 路由表（ctrl -> handler），未注册的控制码交给 fallback
type Table struct {
	mu       sync.RWMutex
	handlers map[byte]Handler
	fallback Handler
}

func NewTable() *Table { return &Table{handlers: make(map[byte]Handler)} }

func (t *Table) Register(ctrl byte, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[ctrl] = h
}

// SetFallback 设置未知控制码的处理器
func (t *Table) SetFallback(h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fallback = h
}

func (t *Table) Route(f *Frame) error {
	t.mu.RLock()
	h, ok := t.handlers[f.Control]
	if !ok {
		h = t.fallback
	}
	t.mu.RUnlock()
	if h == nil {
		return nil
	}
	return h(f)
}
