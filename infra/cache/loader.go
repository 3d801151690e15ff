package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/oneops-ai/incident-rca/infra/log"
)

// Loader 带单飞合并的 TTL 读穿缓存。
// 同一 key 的并发未命中只执行一次加载；加载失败不缓存，
// TTL 从加载完成时刻起算。后端 Store 可以是内存或 Redis，
// 单飞合并始终是进程内的。
type Loader struct {
	store Store
	group singleflight.Group
}

// NewLoader 创建读穿缓存。
func NewLoader(store Store) *Loader {
	return &Loader{store: store}
}

// Key 由前缀和请求载荷生成稳定的缓存键。
// 载荷序列化为 JSON 后取 SHA-256，避免键里出现敏感参数原文。
func Key(prefix string, payload interface{}) string {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte(errors.WithStack(err).Error())
	}
	sum := sha256.Sum256(raw)
	return prefix + ":" + hex.EncodeToString(sum[:])
}

// GetOrLoad 查缓存，未命中则调用 load 并按 ttl 写回。
// ttl <= 0 表示不缓存，每次直接加载（但仍做单飞合并）。
func (l *Loader) GetOrLoad(ctx context.Context, key string, ttl time.Duration, load func(ctx context.Context) (string, error)) (string, error) {
	if value, ok, err := l.store.Get(ctx, key); err != nil {
		// 后端故障按未命中降级，只记日志
		log.Warnf("缓存读取失败，降级为直接加载: key=%s err=%v", key, err)
	} else if ok {
		return value, nil
	}

	value, err, _ := l.group.Do(key, func() (interface{}, error) {
		// 进组后再查一次：前一个执行者可能刚写回
		if cached, ok, err := l.store.Get(ctx, key); err == nil && ok {
			return cached, nil
		}

		loaded, err := load(ctx)
		if err != nil {
			return "", err
		}

		if ttl > 0 {
			if err := l.store.Set(ctx, key, loaded, ttl); err != nil {
				log.Warnf("缓存写回失败: key=%s err=%v", key, err)
			}
		}
		return loaded, nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// GetOrLoadJSON 与 GetOrLoad 相同，但结果按 JSON 解码到 out。
func (l *Loader) GetOrLoadJSON(ctx context.Context, key string, ttl time.Duration, out interface{}, load func(ctx context.Context) (string, error)) error {
	value, err := l.GetOrLoad(ctx, key, ttl, load)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(value), out); err != nil {
		return errors.Wrap(err, "解析缓存值失败")
	}
	return nil
}

// Invalidate 主动删除缓存键。
func (l *Loader) Invalidate(ctx context.Context, keys ...string) error {
	return l.store.Del(ctx, keys...)
}
