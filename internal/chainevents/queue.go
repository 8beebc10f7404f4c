package chainevents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	xerrors "BloodBank-Chain/internal/errors"
)

// Handler 处理从队列取出的事件。
type Handler func(ctx context.Context, env Envelope) error

// Producer 负责向队列投递事件。
type Producer interface {
	Publish(ctx context.Context, env Envelope) error
	Close() error
}

// Consumer 负责从队列中消费事件。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}

// QueueOptions 描述 Open 需要的连接参数。
type QueueOptions struct {
	Driver      string
	Buffer      int
	Redis       goredis.UniversalClient
	RedisKey    string
	BlockWait   time.Duration
	RabbitMQURL string
	QueueName   string
}

// Open 按驱动名称构造事件队列。
func Open(opts QueueOptions) (Queue, error) {
	switch strings.ToLower(opts.Driver) {
	case "", "memory":
		return NewMemoryQueue(opts.Buffer), nil
	case "redis":
		if opts.Redis == nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "redis 队列需要可用的 Redis 客户端")
		}
		return NewRedisQueue(opts.Redis, opts.RedisKey, opts.BlockWait), nil
	case "rabbitmq":
		return NewRabbitMQQueue(RabbitMQConfig{URL: opts.RabbitMQURL, Queue: opts.QueueName, Durable: true})
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的事件队列驱动: %s", opts.Driver))
	}
}

func encode(env Envelope) ([]byte, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, xerrors.Wrap(CodeEventPublish, err, "序列化事件失败")
	}
	return payload, nil
}

func decode(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, xerrors.Wrap(CodeEventDecode, err, "解析事件消息失败")
	}
	if env.ID == "" {
		return Envelope{}, xerrors.New(CodeEventDecode, "事件消息缺少 ID")
	}
	return env, nil
}

// shouldRedeliver 判断处理失败的事件是否重新投递：统一错误按错误码的
// Retryable 属性决定，其他错误一律重试。
func shouldRedeliver(err error) bool {
	if _, ok := xerrors.From(err); ok {
		return xerrors.Retryable(err)
	}
	return true
}
