package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-sql-driver/mysql"
)

// Config 描述 MySQL 连接池参数，零值字段使用默认值。
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// PingAttempts 是启动时探活的次数，数据库容器可能晚于守护进程就绪。
	PingAttempts uint
}

const (
	defaultMaxOpenConns    = 20
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = 30 * time.Minute
	defaultPingAttempts    = 3
	defaultDialTimeout     = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = defaultMaxOpenConns
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = defaultMaxIdleConns
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = defaultConnMaxLifetime
	}
	if c.PingAttempts == 0 {
		c.PingAttempts = defaultPingAttempts
	}
	return c
}

// parseDSN 校验 DSN 并补齐记录库依赖的驱动参数。时间以毫秒 BIGINT 存储，
// 因此不开启 parseTime。
func parseDSN(dsn string) (*mysql.Config, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("MySQL DSN 不能为空")
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("解析 MySQL DSN 失败: %w", err)
	}
	if parsed.Timeout == 0 {
		parsed.Timeout = defaultDialTimeout
	}
	if parsed.Params == nil {
		parsed.Params = map[string]string{}
	}
	if _, ok := parsed.Params["charset"]; !ok {
		parsed.Params["charset"] = "utf8mb4"
	}
	return parsed, nil
}

func openDatabase(ctx context.Context, cfg Config) (*sql.DB, error) {
	cfg = cfg.withDefaults()
	dsn, err := parseDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("创建 MySQL 连接器失败: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	err = retry.Do(
		func() error { return db.PingContext(ctx) },
		retry.Context(ctx),
		retry.Attempts(cfg.PingAttempts),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 MySQL %s: %w", dsn.Addr, err)
	}
	return db, nil
}
