package pile

// StreamDecoder 处理半包/粘包的流式解码器
type StreamDecoder struct {
	codec       Codec
	buf         []byte
	maxFrameLen int
	// OnError 每次丢弃候选帧时回调（校验失败、长度异常等），可为空
	OnError func(err error)
}

// NewStreamDecoder 创建流式解码器，maxFrameLen<=0 时取 1024
func NewStreamDecoder(codec Codec, maxFrameLen int) *StreamDecoder {
	if maxFrameLen <= 0 {
		maxFrameLen = 1024
	}
	return &StreamDecoder{codec: codec, maxFrameLen: maxFrameLen}
}

// Buffered 当前缓存的未消费字节数
func (d *StreamDecoder) Buffered() int { return len(d.buf) }

// Feed 追加数据并尽可能解出多帧
func (d *StreamDecoder) Feed(p []byte) []*Frame {
	if len(p) == 0 {
		return nil
	}
	d.buf = append(d.buf, p...)
	var frames []*Frame

	for {
		start := indexMarker(d.buf)
		if start < 0 {
			// 保留末尾1字节，应对跨边界的 marker
			if len(d.buf) > 1 {
				d.buf = append(d.buf[:0], d.buf[len(d.buf)-1:]...)
			}
			return frames
		}
		if start > 0 {
			d.buf = d.buf[start:]
		}
		total, ok := FrameLen(d.buf)
		if !ok {
			return frames
		}
		if total < MinFrameLen || total > d.maxFrameLen {
			d.drop(ErrBadLength)
			continue
		}
		if len(d.buf) < total {
			return frames
		}
		fr, err := d.codec.Decode(d.buf[:total])
		if err != nil {
			// 向后滑动一个字节重新同步
			d.drop(err)
			continue
		}
		frames = append(frames, fr)
		d.buf = d.buf[total:]
		if len(d.buf) == 0 {
			d.buf = nil
			return frames
		}
	}
}

func (d *StreamDecoder) drop(err error) {
	d.buf = d.buf[1:]
	if d.OnError != nil {
		d.OnError(err)
	}
}

func indexMarker(b []byte) int {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == markerLo && b[i+1] == markerHi {
			return i
		}
	}
	return -1
}
