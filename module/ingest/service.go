package ingest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/oneops-ai/incident-rca/core"
	"github.com/oneops-ai/incident-rca/domain"
	"github.com/oneops-ai/incident-rca/infra/log"
)

// Service 多数据源并发拉取。单个数据源失败经有界重试后降级为空结果，
// 只标记不中断，保证部分数据下运行继续。
type Service struct {
	sources     []core.EventSource
	maxAttempts int
}

// NewService 创建拉取服务。
func NewService(sources []core.EventSource, maxAttempts int) *Service {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Service{sources: sources, maxAttempts: maxAttempts}
}

// FetchAll 并发拉取全部数据源，返回按时间升序合并的事件和降级源列表。
func (s *Service) FetchAll(ctx context.Context, window domain.TimeRange) ([]domain.RawEvent, []string) {
	var mu sync.Mutex
	var merged []domain.RawEvent
	var degraded []string

	group, groupCtx := errgroup.WithContext(ctx)
	for _, source := range s.sources {
		source := source
		group.Go(func() error {
			events, err := s.fetchWithRetry(groupCtx, source, window)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Errorf("数据源 %s 拉取失败，降级为空结果: %v", source.Name(), err)
				degraded = append(degraded, source.Name())
				return nil
			}
			merged = append(merged, events...)
			return nil
		})
	}
	_ = group.Wait()

	// 合并后排序，保证下游聚类输入与拉取完成顺序无关
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Timestamp.Equal(merged[j].Timestamp) {
			return merged[i].ProviderID < merged[j].ProviderID
		}
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	sort.Strings(degraded)
	return merged, degraded
}

// fetchWithRetry 指数退避的有界重试。
func (s *Service) fetchWithRetry(ctx context.Context, source core.EventSource, window domain.TimeRange) ([]domain.RawEvent, error) {
	var events []domain.RawEvent

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 5 * time.Second

	operation := func() error {
		fetched, err := source.Fetch(ctx, window)
		if err != nil {
			return err
		}
		events = fetched
		return nil
	}

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.maxAttempts-1)), ctx))
	if err != nil {
		return nil, err
	}
	return events, nil
}
