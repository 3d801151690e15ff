package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oneops-ai/incident-rca/domain"
	"github.com/oneops-ai/incident-rca/infra/cache"
	"github.com/oneops-ai/incident-rca/infra/log"
)

// ProcessFunc 单个事件簇的完整处理路径（富化 → 推理 → 报告）。
type ProcessFunc func(ctx context.Context, incident domain.Incident) (domain.RCAReport, error)

// Result 批处理结果槽。Err 非 nil 表示该事件簇处理失败，
// 失败不影响批内其余事件簇。
type Result struct {
	IncidentID     uint64
	CorrelationKey string
	Report         *domain.RCAReport
	Err            error
}

// Options 调度参数。
type Options struct {
	Concurrency int           // 同时在飞的事件簇流水线数
	BatchSize   int           // 单批事件簇上限
	DecisionTTL time.Duration // 决策去重缓存的生存期
}

// Scheduler 有界并发的批处理调度器。结果槽顺序与输入一致，
// 与完成顺序无关；相关性键相同的事件簇在 TTL 内直接命中缓存结果。
type Scheduler struct {
	process ProcessFunc
	loader  *cache.Loader
	opts    Options
}

// New 创建调度器。
func New(process ProcessFunc, loader *cache.Loader, opts Options) *Scheduler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	return &Scheduler{process: process, loader: loader, opts: opts}
}

// RunBatch 按批处理全部事件簇。
func (s *Scheduler) RunBatch(ctx context.Context, incidents []domain.Incident) []Result {
	results := make([]Result, len(incidents))

	for start := 0; start < len(incidents); start += s.opts.BatchSize {
		end := start + s.opts.BatchSize
		if end > len(incidents) {
			end = len(incidents)
		}

		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(s.opts.Concurrency)
		for i := start; i < end; i++ {
			i := i
			group.Go(func() error {
				results[i] = s.runOne(groupCtx, incidents[i])
				return nil
			})
		}
		_ = group.Wait()
	}
	return results
}

// runOne 处理单个事件簇。panic 和错误都收敛到自己的结果槽。
func (s *Scheduler) runOne(ctx context.Context, incident domain.Incident) (result Result) {
	result.IncidentID = incident.IncidentID
	result.CorrelationKey = incident.CorrelationKey

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("事件簇 %d 处理 panic: %v", incident.IncidentID, r)
			result.Report = nil
			result.Err = fmt.Errorf("处理 panic: %v", r)
		}
	}()

	var report domain.RCAReport
	key := cache.Key("rca:decision", incident.CorrelationKey)
	err := s.loader.GetOrLoadJSON(ctx, key, s.opts.DecisionTTL, &report,
		func(ctx context.Context) (string, error) {
			computed, err := s.process(ctx, incident)
			if err != nil {
				return "", err
			}
			data, err := json.Marshal(computed)
			if err != nil {
				return "", err
			}
			return string(data), nil
		})
	if err != nil {
		log.Errorf("事件簇 %d 处理失败: %v", incident.IncidentID, err)
		result.Err = err
		return result
	}
	result.Report = &report
	return result
}
