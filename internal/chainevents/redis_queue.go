package chainevents

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"BloodBank-Chain/pkg/logger"
)

const defaultRedisKey = "bloodbank:chain-events"

// RedisQueue 使用 Redis list 实现跨进程的事件队列。
type RedisQueue struct {
	client goredis.UniversalClient
	key    string
	wait   time.Duration
}

// NewRedisQueue 基于已有连接创建队列。
func NewRedisQueue(client goredis.UniversalClient, key string, wait time.Duration) *RedisQueue {
	if key == "" {
		key = defaultRedisKey
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisQueue{client: client, key: key, wait: wait}
}

// Publish 将事件以 JSON 形式写入 Redis。
func (q *RedisQueue) Publish(ctx context.Context, env Envelope) error {
	payload, err := encode(env)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("Redis 发布事件失败: %w", err)
	}
	return nil
}

// Consume 通过 BRPOP 从 Redis 获取事件。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	errCh := make(chan error, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				default:
				}
				values, err := q.client.BRPop(ctx, q.wait, q.key).Result()
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, goredis.ErrClosed) {
						errCh <- err
						return
					}
					if errors.Is(err, goredis.Nil) {
						continue
					}
					errCh <- fmt.Errorf("Redis 取事件失败: %w", err)
					return
				}
				if len(values) != 2 {
					continue
				}
				env, err := decode([]byte(values[1]))
				if err != nil {
					logger.L().Warn("丢弃无法解析的事件消息", "error", err)
					continue
				}
				if handlerErr := handler(ctx, env); handlerErr != nil {
					if !shouldRedeliver(handlerErr) {
						logger.L().Warn("事件处理失败，不再重试", "event_id", env.ID, "error", handlerErr)
						continue
					}
					// 重新投递到队尾。
					_ = q.client.RPush(ctx, q.key, values[1]).Err()
				}
			}
		}()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
