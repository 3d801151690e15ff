package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value    string
	expireAt time.Time // 零值表示永不过期
}

// MemoryStore 进程内缓存，默认的缓存后端。
// 过期采用惰性删除：读到过期键时删除并按未命中处理。
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time // 可注入时钟，测试用
}

// NewMemoryStore 创建内存缓存实例。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// SetClock 注入时钟。仅测试使用。
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Get 获取缓存值。
func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	now := m.now()
	m.mu.RUnlock()

	if !ok {
		return "", false, nil
	}
	if !entry.expireAt.IsZero() && !now.Before(entry.expireAt) {
		m.mu.Lock()
		// 重查一次，避免删掉别人刚写入的新值
		if cur, exists := m.entries[key]; exists && cur.expireAt.Equal(entry.expireAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return "", false, nil
	}
	return entry.value, true, nil
}

// Set 设置缓存值。
func (m *MemoryStore) Set(_ context.Context, key string, value string, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := memoryEntry{value: value}
	if expiration > 0 {
		entry.expireAt = m.now().Add(expiration)
	}
	m.entries[key] = entry
	return nil
}

// Del 删除缓存键。
func (m *MemoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.entries, key)
	}
	return nil
}

// Close 关闭缓存。内存实现只清空表。
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]memoryEntry)
	return nil
}
