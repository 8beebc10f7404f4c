package chainevents

import (
	"context"
	"log/slog"

	"BloodBank-Chain/internal/bloodbank"
	xerrors "BloodBank-Chain/internal/errors"
	"BloodBank-Chain/internal/observability/metrics"
	"BloodBank-Chain/pkg/logger"
)

// SummaryInvalidator 由链下记录服务实现，事件到达后丢弃库存汇总缓存。
type SummaryInvalidator interface {
	InvalidateSummary(ctx context.Context)
}

// Processor 负责从队列消费事件。
type Processor struct {
	consumer    Consumer
	invalidator SummaryInvalidator
	workerCount int
	logger      *slog.Logger
	stats       *Stats
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = l
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithSummaryInvalidator 配置事件到达后需要失效的库存汇总。
func WithSummaryInvalidator(inv SummaryInvalidator) ProcessorOption {
	return func(p *Processor) {
		p.invalidator = inv
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		consumer:    consumer,
		workerCount: 1,
		logger:      logger.Named("chainevents"),
		stats:       newStats(defaultDedupWindow),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Stats 返回处理计数。
func (p *Processor) Stats() *Stats { return p.stats }

// Start 启动消费循环，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeUnavailable, "未配置事件消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, env Envelope) error {
	if !p.stats.record(env) {
		p.logger.Debug("跳过重复事件", "event_id", env.ID, "key", env.Key())
		return nil
	}
	ev := env.Event
	if ev.Removed {
		metrics.ObserveEventFailure("removed")
	} else {
		metrics.ObserveChainEvent(string(ev.Kind))
	}
	if p.invalidator != nil && affectsInventory(ev.Kind) {
		p.invalidator.InvalidateSummary(ctx)
	}
	logger.Audit().Info("链上事件已处理",
		slog.String("event_id", env.ID),
		slog.String("kind", string(ev.Kind)),
		slog.String("actor", ev.Actor.Hex()),
		slog.String("blood_type", ev.BloodType),
		slog.String("tx_hash", ev.TxHash.Hex()),
		slog.Uint64("block", ev.BlockNumber),
		slog.Bool("removed", ev.Removed),
	)
	return nil
}

func affectsInventory(kind bloodbank.EventKind) bool {
	return kind == bloodbank.EventBloodDonated || kind == bloodbank.EventBloodRequested
}
