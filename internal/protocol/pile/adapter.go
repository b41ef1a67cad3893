package pile

// Adapter 充电桩协议适配器：流式解码 + 路由表。
// 每条连接独占一个 Adapter，Feed 与 Route 在该连接的读协程内顺序执行。
type Adapter struct {
	decoder *StreamDecoder
	table   *Table
}

func NewAdapter(codec Codec, maxFrameLen int) *Adapter {
	return &Adapter{decoder: NewStreamDecoder(codec, maxFrameLen), table: NewTable()}
}

// Name 协议名
func (a *Adapter) Name() string { return "pile" }

// Register 注册控制码处理器
func (a *Adapter) Register(ctrl byte, h Handler) { a.table.Register(ctrl, h) }

// SetFallback 未知控制码处理器
func (a *Adapter) SetFallback(h Handler) { a.table.SetFallback(h) }

// OnDecodeError 解码丢弃回调
func (a *Adapter) OnDecodeError(fn func(err error)) { a.decoder.OnError = fn }

// ProcessBytes 处理上行字节流，按到达顺序逐帧路由；处理器返回错误时停止本批剩余帧
func (a *Adapter) ProcessBytes(p []byte) error {
	for _, fr := range a.decoder.Feed(p) {
		if err := a.table.Route(fr); err != nil {
			return err
		}
	}
	return nil
}

// Sniff 首帧初判：检查起始标识 55 AA
func (a *Adapter) Sniff(prefix []byte) bool {
	return len(prefix) >= 2 && prefix[0] == markerLo && prefix[1] == markerHi
}
