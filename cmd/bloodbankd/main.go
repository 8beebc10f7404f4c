package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"BloodBank-Chain/internal/api"
	"BloodBank-Chain/internal/bloodbank"
	"BloodBank-Chain/internal/chainevents"
	"BloodBank-Chain/internal/config"
	"BloodBank-Chain/internal/observability/metrics"
	"BloodBank-Chain/internal/records"
	"BloodBank-Chain/internal/session"
	"BloodBank-Chain/internal/storage/mysql"
	"BloodBank-Chain/internal/storage/redis"
	"BloodBank-Chain/internal/web3"
	"BloodBank-Chain/internal/web3/ethereum"
	"BloodBank-Chain/pkg/logger"
)

// main 是 BloodBank 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("bloodbankd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	lg := logger.Named("bloodbankd")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	store, err := openRecordStore(ctx, cfg)
	if err != nil {
		return err
	}

	var (
		serviceOpts []records.Option
		queueRedis  goredis.UniversalClient
	)
	redisClient, err := openRedis(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		queueRedis = redisClient
		cache := redis.NewSummaryCache(redisClient, cfg.Storage.Redis.SummaryCacheKey, cfg.Storage.Redis.SummaryTTL())
		serviceOpts = append(serviceOpts, records.WithSummaryCache(cache))
	}
	recordsSvc := records.NewService(store, serviceOpts...)
	defer recordsSvc.Close()

	network := web3.DefaultNetwork()
	if cfg.Wallet.NetworkFile != "" {
		if network, err = web3.LoadNetwork(cfg.Wallet.NetworkFile); err != nil {
			return err
		}
	}
	contractABI, err := bloodbank.LoadABI(cfg.Wallet.ABIPath)
	if err != nil {
		return err
	}

	// 钱包端点不可达时按未安装钱包处理，记录接口仍然可用。
	var provider web3.Provider
	wallet, err := ethereum.Dial(ctx, ethereum.Config{
		RPCURL:       cfg.Wallet.RPCURL,
		KeystoreDir:  cfg.Wallet.KeystoreDir,
		Passphrase:   os.Getenv(cfg.Wallet.PassphraseEnv),
		PollInterval: cfg.Wallet.PollInterval(),
		DialAttempts: cfg.Wallet.DialAttempts,
	})
	if err != nil {
		lg.Warn("钱包节点不可用", "rpc_url", cfg.Wallet.RPCURL, "error", err)
	} else {
		defer wallet.Close()
		provider = wallet
	}

	manager := session.NewManager(provider, session.Options{
		Network:         network,
		ContractAddress: cfg.Wallet.ContractAddress,
		ABI:             &contractABI,
		AutoConnect:     cfg.Wallet.AutoConnect,
		OnReload: func() {
			lg.Info("钱包切换了网络，会话已重置", "expected_chain", network.ChainIDHex())
		},
	})
	if err := manager.Start(ctx); err != nil {
		return err
	}
	defer manager.Close()

	queue, err := chainevents.Open(chainevents.QueueOptions{
		Driver:      cfg.Events.Queue.Driver,
		Buffer:      cfg.Events.Queue.Buffer,
		Redis:       queueRedis,
		RedisKey:    cfg.Events.Queue.RedisKey,
		BlockWait:   time.Second,
		RabbitMQURL: cfg.Events.Queue.RabbitMQURL,
		QueueName:   cfg.Events.Queue.QueueName,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			lg.Warn("关闭事件队列失败", "error", err)
		}
	}()

	processor := chainevents.NewProcessor(queue,
		chainevents.WithWorkerCount(cfg.Events.Workers),
		chainevents.WithSummaryInvalidator(recordsSvc),
	)
	watcher := chainevents.NewWatcher(manager, queue,
		chainevents.WithPollInterval(cfg.Events.PollInterval()),
	)

	server := api.NewServer(cfg.Server.Address,
		api.WithRecords(recordsSvc),
		api.WithWallet(manager),
		api.WithChainEvents(processor.Stats(), watcher),
	)

	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()

	go func() {
		if err := processor.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("事件处理器异常退出", "error", err)
		}
	}()
	go func() {
		if err := watcher.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("合约事件监听异常退出", "error", err)
		}
	}()
	if addr := strings.TrimSpace(cfg.Server.MetricsAddress); addr != "" {
		go func() {
			if err := metrics.StartServer(workerCtx, addr); err != nil && !errors.Is(err, context.Canceled) {
				lg.Error("指标服务异常退出", "error", err)
			}
		}()
	}

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openRecordStore(ctx context.Context, cfg *config.Config) (records.Store, error) {
	switch strings.ToLower(cfg.Storage.Records.Driver) {
	case "mysql":
		store, err := mysql.NewRecordStore(ctx, mysql.Config{
			DSN:             cfg.Storage.Records.DSN,
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return records.NewMemoryStore(), nil
	}
}

// openRedis 在未配置地址时返回 nil，此时库存汇总不做缓存。
func openRedis(ctx context.Context, cfg *config.Config) (*goredis.Client, error) {
	if cfg.Storage.Redis.Address == "" {
		return nil, nil
	}
	return redis.NewClient(ctx, redis.Config{
		Address:  cfg.Storage.Redis.Address,
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})
}
