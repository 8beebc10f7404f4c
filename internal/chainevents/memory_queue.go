package chainevents

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed 在向已关闭的队列投递时返回。
var ErrQueueClosed = errors.New("队列已关闭")

// MemoryQueue 使用 channel 实现进程内队列，单实例部署与测试时使用。
type MemoryQueue struct {
	ch     chan Envelope
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan Envelope, size)}
}

// Publish 将事件投递到队列，缓冲区满时阻塞直到 ctx 结束。
func (q *MemoryQueue) Publish(ctx context.Context, env Envelope) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- env:
		return nil
	}
}

// Consume 启动指定数量的工作协程消费队列。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case env, ok := <-q.ch:
					if !ok {
						return
					}
					_ = handler(ctx, env)
				}
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close 关闭内存队列。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		close(q.ch)
		q.closed = true
	}
	return nil
}
