package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// persistTimeout 单次落库（含全部重试）的上限
const persistTimeout = 15 * time.Second

type persistJob struct {
	op       string
	identity string
	fn       func(ctx context.Context) error
	// once 为真时不走重试与熔断（在线影子等尽力而为的写入）
	once bool
}

// persistQueue 每连接一个的有序落库队列：应答先发，落库在后台按到达顺序执行
type persistQueue struct {
	g    *Gateway
	jobs chan persistJob
	done chan struct{}
}

func newPersistQueue(g *Gateway, size int) *persistQueue {
	q := &persistQueue{g: g, jobs: make(chan persistJob, size), done: make(chan struct{})}
	go q.run()
	return q
}

// enqueue 只在连接读协程或其清理协程中调用；队列满时丢弃并计数
func (q *persistQueue) enqueue(j persistJob) {
	select {
	case q.jobs <- j:
	default:
		q.g.countPersist(j.op, "dropped")
		q.g.logger.Warn("persistence queue full, job dropped",
			zap.String("op", j.op),
			zap.String("imei", j.identity))
	}
}

// close 不再接收新任务，已入队的任务继续执行完
func (q *persistQueue) close() { close(q.jobs) }

func (q *persistQueue) run() {
	defer close(q.done)
	for j := range q.jobs {
		q.exec(j)
	}
}

func (q *persistQueue) exec(j persistJob) {
	g := q.g
	ctx, cancel := context.WithTimeout(g.ctx, persistTimeout)
	defer cancel()
	var err error
	if j.once {
		err = j.fn(ctx)
	} else {
		err = g.retrier.Do(ctx, j.op, j.fn)
	}
	if err != nil {
		g.countPersist(j.op, "failed")
		g.logger.Error("persistence failed",
			zap.String("op", j.op),
			zap.String("imei", j.identity),
			zap.Error(err))
		return
	}
	g.countPersist(j.op, "ok")
}
