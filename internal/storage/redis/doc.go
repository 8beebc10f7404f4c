// Package redis 封装 go-redis 客户端，为链下记录提供库存汇总缓存。
//
// 缓存只保存 InventorySummary 的 JSON 快照，写入路径通过 Invalidate
// 主动失效，读取路径在未命中或 Redis 不可用时回退到记录存储。
package redis
