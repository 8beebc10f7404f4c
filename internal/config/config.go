package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"BloodBank-Chain/pkg/logger"
)

// 环境变量名称，部署时可覆盖配置文件中的敏感或环境相关字段。
const (
	EnvConfigPath      = "BLOODBANK_CONFIG"
	EnvContractAddress = "BLOODBANK_CONTRACT_ADDRESS"
	EnvWalletRPCURL    = "BLOODBANK_WALLET_RPC_URL"
	EnvMySQLDSN        = "BLOODBANK_MYSQL_DSN"
	EnvRedisAddress    = "BLOODBANK_REDIS_ADDRESS"
	EnvRabbitMQURL     = "BLOODBANK_RABBITMQ_URL"
)

// DefaultPath 为未指定配置路径时使用的默认文件。
const DefaultPath = "configs/bloodbank.json"

// Config 描述了 BloodBank 守护进程在启动阶段需要加载的核心配置。
type Config struct {
	Server  ServerConfig  `json:"server"`
	Logging logger.Config `json:"logging"`
	Storage StorageConfig `json:"storage"`
	Wallet  WalletConfig  `json:"wallet"`
	Events  EventsConfig  `json:"events"`
	Runtime RuntimeConfig `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
}

// StorageConfig 统一描述链下记录存储与 Redis 缓存的连接信息。
type StorageConfig struct {
	Records RecordStoreConfig `json:"records"`
	Redis   RedisConfig       `json:"redis"`
}

// RecordStoreConfig 选择链下记录的存储驱动，支持 memory 与 mysql。
type RecordStoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// RedisConfig 描述库存汇总缓存与事件队列共用的 Redis 连接。
type RedisConfig struct {
	Address         string `json:"address"`
	Password        string `json:"password"`
	DB              int    `json:"db"`
	SummaryTTLSecs  int    `json:"summary_ttl_seconds"`
	SummaryCacheKey string `json:"summary_cache_key"`
}

// SummaryTTL 返回库存汇总缓存的过期时间。
func (r RedisConfig) SummaryTTL() time.Duration {
	return time.Duration(r.SummaryTTLSecs) * time.Second
}

// WalletConfig 包含连接钱包节点以及合约绑定所需的参数。
type WalletConfig struct {
	RPCURL          string `json:"rpc_url"`
	NetworkFile     string `json:"network_file"`
	ContractAddress string `json:"contract_address"`
	ABIPath         string `json:"abi_path"`
	KeystoreDir     string `json:"keystore_dir"`
	PassphraseEnv   string `json:"passphrase_env"`
	PollIntervalMS  int    `json:"poll_interval_ms"`
	DialAttempts    uint   `json:"dial_attempts"`
	AutoConnect     bool   `json:"auto_connect"`
}

// PollInterval 返回账户/链变更轮询周期。
func (w WalletConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMS) * time.Millisecond
}

// EventsConfig 控制链上事件的订阅与分发方式。
type EventsConfig struct {
	Queue          QueueConfig `json:"queue"`
	Workers        int         `json:"workers"`
	PollIntervalMS int         `json:"poll_interval_ms"`
}

// PollInterval 返回节点不支持订阅时回退轮询的周期。
func (e EventsConfig) PollInterval() time.Duration {
	return time.Duration(e.PollIntervalMS) * time.Millisecond
}

// QueueConfig 选择事件队列驱动，支持 memory、redis 与 rabbitmq。
type QueueConfig struct {
	Driver      string `json:"driver"`
	Buffer      int    `json:"buffer"`
	RedisKey    string `json:"redis_key"`
	RabbitMQURL string `json:"rabbitmq_url"`
	QueueName   string `json:"queue_name"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件，并依次应用默认值与环境变量覆盖。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PathFromEnv 返回环境变量指定的配置路径，未设置时返回 DefaultPath。
func PathFromEnv() string {
	if v := strings.TrimSpace(os.Getenv(EnvConfigPath)); v != "" {
		return v
	}
	return DefaultPath
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.Records.Driver == "" {
		c.Storage.Records.Driver = "memory"
	}
	if c.Storage.Redis.SummaryTTLSecs <= 0 {
		c.Storage.Redis.SummaryTTLSecs = 30
	}
	if c.Storage.Redis.SummaryCacheKey == "" {
		c.Storage.Redis.SummaryCacheKey = "bloodbank:inventory:summary"
	}

	if c.Wallet.RPCURL == "" {
		c.Wallet.RPCURL = "http://localhost:8545"
	}
	c.Wallet.NetworkFile = resolve(baseDir, c.Wallet.NetworkFile)
	c.Wallet.ABIPath = resolve(baseDir, c.Wallet.ABIPath)
	c.Wallet.KeystoreDir = resolve(baseDir, c.Wallet.KeystoreDir)
	if c.Wallet.PassphraseEnv == "" {
		c.Wallet.PassphraseEnv = "BLOODBANK_KEYSTORE_PASSPHRASE"
	}
	if c.Wallet.PollIntervalMS <= 0 {
		c.Wallet.PollIntervalMS = 1000
	}
	if c.Wallet.DialAttempts == 0 {
		c.Wallet.DialAttempts = 5
	}

	if c.Events.Queue.Driver == "" {
		c.Events.Queue.Driver = "memory"
	}
	if c.Events.Queue.Buffer <= 0 {
		c.Events.Queue.Buffer = 128
	}
	if c.Events.Queue.RedisKey == "" {
		c.Events.Queue.RedisKey = "bloodbank:chain-events"
	}
	if c.Events.Queue.QueueName == "" {
		c.Events.Queue.QueueName = "bloodbank.chain-events"
	}
	if c.Events.Workers <= 0 {
		c.Events.Workers = 2
	}
	if c.Events.PollIntervalMS <= 0 {
		c.Events.PollIntervalMS = 2000
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}

// applyEnv 使用环境变量覆盖部署相关字段，lookup 便于测试注入。
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(EnvContractAddress, &c.Wallet.ContractAddress)
	set(EnvWalletRPCURL, &c.Wallet.RPCURL)
	set(EnvMySQLDSN, &c.Storage.Records.DSN)
	set(EnvRedisAddress, &c.Storage.Redis.Address)
	set(EnvRabbitMQURL, &c.Events.Queue.RabbitMQURL)
}

// Validate 检查驱动名称与驱动所需的连接参数。
func (c *Config) Validate() error {
	switch strings.ToLower(c.Storage.Records.Driver) {
	case "memory":
	case "mysql":
		if c.Storage.Records.DSN == "" {
			return errors.New("mysql 存储驱动需要配置 dsn")
		}
	default:
		return fmt.Errorf("未知的记录存储驱动: %s", c.Storage.Records.Driver)
	}

	switch strings.ToLower(c.Events.Queue.Driver) {
	case "memory":
	case "redis":
		if c.Storage.Redis.Address == "" {
			return errors.New("redis 事件队列需要配置 storage.redis.address")
		}
	case "rabbitmq":
		if c.Events.Queue.RabbitMQURL == "" {
			return errors.New("rabbitmq 事件队列需要配置 rabbitmq_url")
		}
	default:
		return fmt.Errorf("未知的事件队列驱动: %s", c.Events.Queue.Driver)
	}
	return nil
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
