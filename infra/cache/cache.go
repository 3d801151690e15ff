package cache

import (
	"context"
	"time"
)

// Store 缓存存储接口，支持内存和 Redis 两种实现。
// Get 用 ok 标识未命中，未命中不算错误。
type Store interface {
	// Get 获取缓存值
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set 设置缓存值，expiration 为 0 表示永不过期
	Set(ctx context.Context, key string, value string, expiration time.Duration) error

	// Del 删除缓存键
	Del(ctx context.Context, keys ...string) error

	// Close 关闭缓存连接
	Close() error
}
