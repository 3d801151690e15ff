package kb

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/oneops-ai/incident-rca/domain"
	"github.com/oneops-ai/incident-rca/infra/log"
)

// Store 知识库存储。启动时从 JSON 文件加载，文件变动时热更新，
// Entries 返回当前快照，调用方只读。
type Store struct {
	mu      sync.RWMutex
	entries []domain.KBEntry
	path    string

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// NewStore 从 JSON 文件创建知识库。path 为空时返回空知识库。
func NewStore(path string) (*Store, error) {
	store := &Store{path: path, stopCh: make(chan struct{})}
	if path == "" {
		return store, nil
	}

	entries, err := loadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "初始加载知识库失败")
	}
	store.entries = entries

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "创建文件 watcher 失败")
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, errors.Wrap(err, "添加知识库文件到 watch 列表失败")
	}
	store.watcher = watcher

	go store.watchFile()
	return store, nil
}

// NewStoreFromEntries 从内联数据创建知识库（请求携带 KB 时使用）。
func NewStoreFromEntries(entries []domain.KBEntry) *Store {
	return &Store{entries: entries, stopCh: make(chan struct{})}
}

// Entries 当前知识库快照。
func (s *Store) Entries() []domain.KBEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries
}

// Close 停止热更新。
func (s *Store) Close() {
	close(s.stopCh)
	if s.watcher != nil {
		s.watcher.Close()
	}
}

func (s *Store) watchFile() {
	for {
		select {
		case <-s.stopCh:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				log.Infof("检测到知识库文件变动: %s", event.Name)
				// 延迟一下，确保文件写入完成
				time.Sleep(100 * time.Millisecond)
				s.reload()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("知识库文件 watch 错误: %v", err)
		}
	}
}

// reload 重新加载失败时保留旧快照。
func (s *Store) reload() {
	entries, err := loadFile(s.path)
	if err != nil {
		log.Errorf("重新加载知识库失败，保留旧数据: %v", err)
		return
	}
	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
	log.Infof("知识库重新加载成功，共 %d 条", len(entries))
}

// LoadEntries 一次性读取知识库文件，不启动热更新。
// 请求按路径携带 KB 覆盖时使用。
func LoadEntries(path string) ([]domain.KBEntry, error) {
	return loadFile(path)
}

func loadFile(path string) ([]domain.KBEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "读取知识库文件失败")
	}
	var entries []domain.KBEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrap(err, "解析知识库 JSON 失败")
	}
	return entries, nil
}
