package chainevents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"BloodBank-Chain/internal/bloodbank"
	"BloodBank-Chain/internal/observability/metrics"
	"BloodBank-Chain/internal/session"
	"BloodBank-Chain/pkg/logger"
)

// SessionSource 提供钱包会话快照，由 session.Manager 实现。
type SessionSource interface {
	Session() session.Session
	Subscribe(ch chan<- session.Session) event.Subscription
}

// Mode 描述 Watcher 当前获取事件的方式。
type Mode string

const (
	ModeIdle       Mode = "idle"
	ModeSubscribed Mode = "subscribed"
	ModePolling    Mode = "polling"
)

// Status 是 Watcher 状态的快照。
type Status struct {
	Mode     Mode            `json:"mode"`
	Contract *common.Address `json:"contract"`
	Block    uint64          `json:"block"`
}

var errSubscriptionClosed = errors.New("合约事件订阅已关闭")

// Watcher 跟随会话快照拉取合约事件并投递到队列。
type Watcher struct {
	source       SessionSource
	producer     Producer
	pollInterval time.Duration
	attempts     uint
	retryDelay   time.Duration
	logger       *slog.Logger
	now          func() time.Time

	mu     sync.Mutex
	status Status
}

// WatcherOption 定义可选配置。
type WatcherOption func(*Watcher)

// WithPollInterval 设置回退轮询的周期。
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithResubscribe 设置订阅中断后的重试次数与间隔。
func WithResubscribe(attempts uint, delay time.Duration) WatcherOption {
	return func(w *Watcher) {
		if attempts > 0 {
			w.attempts = attempts
		}
		if delay > 0 {
			w.retryDelay = delay
		}
	}
}

// WithWatcherLogger 指定日志输出。
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWatcher 构造 Watcher。
func NewWatcher(source SessionSource, producer Producer, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		source:       source,
		producer:     producer,
		pollInterval: 2 * time.Second,
		attempts:     5,
		retryDelay:   time.Second,
		logger:       logger.Named("chainevents"),
		now:          time.Now,
		status:       Status{Mode: ModeIdle},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Status 返回当前状态。
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.status
	if out.Contract != nil {
		addr := *out.Contract
		out.Contract = &addr
	}
	return out
}

func (w *Watcher) setStatus(mode Mode, contract *bloodbank.Contract) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.Mode = mode
	if contract == nil {
		w.status.Contract = nil
		return
	}
	addr := contract.Address()
	w.status.Contract = &addr
}

func (w *Watcher) advance(block uint64) {
	w.mu.Lock()
	if block > w.status.Block {
		w.status.Block = block
	}
	w.mu.Unlock()
}

// Run 阻塞直到 ctx 结束。每个合约句柄最多对应一个跟随协程，
// 会话断开或句柄更换时旧协程先退出。
func (w *Watcher) Run(ctx context.Context) error {
	snapshots := make(chan session.Session, 16)
	sub := w.source.Subscribe(snapshots)
	defer sub.Unsubscribe()

	var (
		current *bloodbank.Contract
		stop    context.CancelFunc
		done    chan struct{}
	)
	halt := func() {
		if stop != nil {
			stop()
			<-done
			stop, done = nil, nil
		}
		current = nil
		w.setStatus(ModeIdle, nil)
	}
	apply := func(s session.Session) {
		if s.Connected() && s.Contract == current {
			return
		}
		halt()
		if !s.Connected() {
			return
		}
		current = s.Contract
		followCtx, cancel := context.WithCancel(ctx)
		stop, done = cancel, make(chan struct{})
		go func(contract *bloodbank.Contract, finished chan struct{}) {
			defer close(finished)
			w.follow(followCtx, contract)
		}(current, done)
	}

	apply(w.source.Session())
	for {
		select {
		case <-ctx.Done():
			halt()
			return ctx.Err()
		case s := <-snapshots:
			apply(s)
		case err := <-sub.Err():
			halt()
			if err == nil {
				return errSubscriptionClosed
			}
			return fmt.Errorf("会话订阅中断: %w", err)
		}
	}
}

// follow 优先订阅日志；节点不支持订阅或重试耗尽后回退为轮询。
func (w *Watcher) follow(ctx context.Context, contract *bloodbank.Contract) {
	var next uint64
	if head, err := contract.LatestBlock(ctx); err == nil {
		next = head + 1
	} else {
		w.logger.Warn("查询起始区块失败", "error", err)
	}
	err := retry.Do(
		func() error { return w.stream(ctx, contract, &next) },
		retry.Context(ctx),
		retry.Attempts(w.attempts),
		retry.Delay(w.retryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, gethrpc.ErrNotificationsUnsupported) && !errors.Is(err, bloodbank.ErrContractInvalidated)
		}),
		retry.OnRetry(func(n uint, err error) {
			w.logger.Warn("重新订阅合约事件", "attempt", n+1, "error", err)
		}),
	)
	if err == nil || ctx.Err() != nil || errors.Is(err, bloodbank.ErrContractInvalidated) {
		return
	}
	if errors.Is(err, gethrpc.ErrNotificationsUnsupported) {
		w.logger.Info("节点不支持日志订阅，改为轮询", "interval", w.pollInterval)
	} else {
		w.logger.Warn("合约事件订阅不可用，改为轮询", "error", err)
	}
	w.poll(ctx, contract, next)
}

func (w *Watcher) stream(ctx context.Context, contract *bloodbank.Contract, next *uint64) error {
	sub, err := contract.SubscribeEvents(ctx, nil)
	if err != nil {
		return err
	}
	defer sub.Close()
	w.setStatus(ModeSubscribed, contract)
	for {
		select {
		case <-ctx.Done():
			return nil
		case log := <-sub.Logs():
			w.dispatch(ctx, contract, log)
			if log.BlockNumber >= *next {
				*next = log.BlockNumber
			}
		case err, ok := <-sub.Err():
			if !ok || err == nil {
				return errSubscriptionClosed
			}
			return fmt.Errorf("合约事件订阅中断: %w", err)
		}
	}
}

// poll 按 [next, head] 区间拉取日志。next 为 0 时从当前区块开始。
func (w *Watcher) poll(ctx context.Context, contract *bloodbank.Contract, next uint64) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		head, err := contract.LatestBlock(ctx)
		switch {
		case errors.Is(err, bloodbank.ErrContractInvalidated):
			return
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("查询最新区块失败", "error", err)
		default:
			if next == 0 {
				next = head + 1
			}
			w.setStatus(ModePolling, contract)
			if head >= next {
				if w.fetch(ctx, contract, next, head) {
					next = head + 1
				}
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Watcher) fetch(ctx context.Context, contract *bloodbank.Contract, from, to uint64) bool {
	events, err := contract.FilterEvents(ctx, new(big.Int).SetUint64(from), new(big.Int).SetUint64(to))
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("拉取合约日志失败", "from", from, "to", to, "error", err)
		}
		return false
	}
	for _, ev := range events {
		w.publish(ctx, ev)
	}
	w.advance(to)
	return true
}

func (w *Watcher) dispatch(ctx context.Context, contract *bloodbank.Contract, log types.Log) {
	ev, err := contract.DecodeEvent(log)
	if err != nil {
		metrics.ObserveEventFailure("decode")
		w.logger.Debug("忽略无法解析的日志", "tx_hash", log.TxHash.Hex(), "error", err)
		return
	}
	w.publish(ctx, ev)
}

func (w *Watcher) publish(ctx context.Context, ev bloodbank.Event) {
	w.advance(ev.BlockNumber)
	if err := w.producer.Publish(ctx, NewEnvelope(ev, w.now())); err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.ObserveEventFailure("publish")
		w.logger.Error("投递链上事件失败", "kind", ev.Kind, "tx_hash", ev.TxHash.Hex(), "error", err)
	}
}
