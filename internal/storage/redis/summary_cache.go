package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"BloodBank-Chain/internal/records"
)

const defaultSummaryKey = "bloodbank:inventory:summary"

// SummaryCache 将库存汇总以 JSON 形式缓存在 Redis 中。
type SummaryCache struct {
	client goredis.Cmdable
	key    string
	ttl    time.Duration
}

var _ records.SummaryCache = (*SummaryCache)(nil)

// NewSummaryCache 创建汇总缓存。ttl 为 0 时缓存不过期，只依赖主动失效。
func NewSummaryCache(client goredis.Cmdable, key string, ttl time.Duration) *SummaryCache {
	if key == "" {
		key = defaultSummaryKey
	}
	if ttl < 0 {
		ttl = 0
	}
	return &SummaryCache{client: client, key: key, ttl: ttl}
}

// Get 读取缓存的汇总，未命中时返回 ok=false。
func (c *SummaryCache) Get(ctx context.Context) ([]records.InventorySummary, bool, error) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("读取库存汇总缓存失败: %w", err)
	}
	var summary []records.InventorySummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		// 损坏的缓存视为未命中，并尽力清理。
		_ = c.client.Del(ctx, c.key).Err()
		return nil, false, nil
	}
	return summary, true, nil
}

// Set 写入最新汇总。
func (c *SummaryCache) Set(ctx context.Context, summary []records.InventorySummary) error {
	if summary == nil {
		summary = []records.InventorySummary{}
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("序列化库存汇总失败: %w", err)
	}
	if err := c.client.Set(ctx, c.key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("写入库存汇总缓存失败: %w", err)
	}
	return nil
}

// Invalidate 删除缓存的汇总。
func (c *SummaryCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("清理库存汇总缓存失败: %w", err)
	}
	return nil
}
