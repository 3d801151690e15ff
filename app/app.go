package app

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/oneops-ai/incident-rca/config"
	"github.com/oneops-ai/incident-rca/core"
	"github.com/oneops-ai/incident-rca/domain"
	"github.com/oneops-ai/incident-rca/infra/cache"
	"github.com/oneops-ai/incident-rca/infra/kafka"
	"github.com/oneops-ai/incident-rca/infra/llm"
	"github.com/oneops-ai/incident-rca/infra/log"
	"github.com/oneops-ai/incident-rca/infra/opensearch"
	"github.com/oneops-ai/incident-rca/infra/sdp"
	"github.com/oneops-ai/incident-rca/infra/teams"
	"github.com/oneops-ai/incident-rca/infra/uptimerobot"
	"github.com/oneops-ai/incident-rca/infra/zabbix"
	"github.com/oneops-ai/incident-rca/module/api"
	"github.com/oneops-ai/incident-rca/module/correlate"
	"github.com/oneops-ai/incident-rca/module/enrich"
	"github.com/oneops-ai/incident-rca/module/ingest"
	"github.com/oneops-ai/incident-rca/module/kb"
	"github.com/oneops-ai/incident-rca/module/pipeline"
	"github.com/oneops-ai/incident-rca/module/report"
	"github.com/oneops-ai/incident-rca/module/ticket"
	"github.com/oneops-ai/incident-rca/utils/idgen"
)

// App 负责模块装配与生命周期。可选依赖（Redis、Kafka、OpenSearch、
// Teams、SDP）按配置决定是否接入，缺失时对应能力静默关闭。
type App struct {
	cfg    *config.Config
	Runner *Runner
	API    *api.Server

	stream    *ingest.StreamSource // 可为 nil
	publisher core.StreamPublisher // 可为 nil
	store     cache.Store
	kbStore   *kb.Store
}

// New 按配置装配应用。
func New(cfg *config.Config) (*App, error) {
	// 缓存后端：配置了 Redis 用 Redis，否则进程内缓存
	var store cache.Store
	if cfg.Redis.Addr != "" {
		redisStore, err := cache.NewRedisStore(cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, errors.Wrap(err, "初始化 Redis 缓存失败")
		}
		store = redisStore
	} else {
		store = cache.NewMemoryStore()
	}
	loader := cache.NewLoader(store)

	// 数据源
	var sources []core.EventSource
	var metricSource core.MetricSource = noopMetricSource{}
	if cfg.Zabbix.URL != "" {
		zabbixClient := zabbix.NewClient(zabbix.Config{
			URL:     cfg.Zabbix.URL,
			Token:   cfg.Zabbix.Token,
			Timeout: cfg.HTTPTimeout,
			TTL:     cfg.Zabbix.TTL,
		}, loader)
		sources = append(sources, ingest.NewZabbixSource(zabbixClient))
		metricSource = enrich.NewZabbixMetricSource(zabbixClient)
	}
	if cfg.UptimeRobot.APIKey != "" {
		uptimeClient := uptimerobot.NewClient(uptimerobot.Config{
			APIKey:  cfg.UptimeRobot.APIKey,
			Timeout: cfg.HTTPTimeout,
			TTL:     cfg.UptimeRobot.TTL,
		}, loader)
		sources = append(sources, ingest.NewUptimeRobotSource(uptimeClient))
	}

	var stream *ingest.StreamSource
	var publisher core.StreamPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := kafka.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.Group,
		}
		if cfg.Kafka.SASLUsername != "" {
			kafkaCfg.SASL = &kafka.SASLConfig{
				Enabled:   true,
				Mechanism: cfg.Kafka.SASLMechanism,
				Username:  cfg.Kafka.SASLUsername,
				Password:  cfg.Kafka.SASLPassword,
			}
		}
		consumer, err := kafka.NewConsumer(kafkaCfg)
		if err != nil {
			return nil, errors.Wrap(err, "初始化 Kafka Consumer 失败")
		}
		stream = ingest.NewStreamSource(consumer)
		sources = append(sources, stream)

		publisher, err = kafka.NewProducer(kafkaCfg)
		if err != nil {
			return nil, errors.Wrap(err, "初始化 Kafka Producer 失败")
		}
	}

	// 知识库
	kbStore, err := kb.NewStore(cfg.KB.JSONPath)
	if err != nil {
		return nil, errors.Wrap(err, "初始化知识库失败")
	}

	// 推理引擎在构造期选定：有 API Key 用外部服务，否则规则推理
	var engine core.ReasoningEngine
	if cfg.LLM.APIKey != "" {
		engine = llm.NewEngine(llm.Config{
			URL:     cfg.LLM.URL,
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
			Timeout: cfg.HTTPTimeout,
			TTL:     cfg.LLM.TTL,
		}, loader)
	} else {
		log.Info("未配置 LLM_API_KEY，使用规则推理引擎")
		engine = pipeline.NewRuleEngine()
	}

	// 可选外围能力
	var ticketWorkflow *ticket.Workflow
	if cfg.SDP.URL != "" && cfg.SDP.TechnicianKey != "" {
		sdpClient := sdp.NewClient(sdp.Config{
			URL:           cfg.SDP.URL,
			TechnicianKey: cfg.SDP.TechnicianKey,
			CloseStatus:   cfg.SDP.CloseStatus,
			Timeout:       cfg.HTTPTimeout,
		})
		ticketWorkflow = ticket.NewWorkflow(sdpClient, cfg.SDP.TaskTitle, cfg.SDP.ResolutionPrefix)
	}

	var notifier core.Notifier
	if cfg.Teams.WebhookURL != "" {
		notifier = teams.NewNotifier(cfg.Teams.WebhookURL, cfg.HTTPTimeout)
	} else {
		log.Warn("未配置 TEAMS_WEBHOOK_URL，跳过结果通知")
	}

	var archive core.ReportRepository
	if len(cfg.OpenSearch.Hosts) > 0 {
		reportStore, err := opensearch.NewReportStore(opensearch.Config{
			Hosts:              cfg.OpenSearch.Hosts,
			Username:           cfg.OpenSearch.Username,
			Password:           cfg.OpenSearch.Password,
			Timeout:            cfg.HTTPTimeout,
			InsecureSkipVerify: true,
		})
		if err != nil {
			return nil, errors.Wrap(err, "初始化报告归档失败")
		}
		archive = reportStore
	}

	runner := &Runner{
		cfg:        cfg,
		ingest:     ingest.NewService(sources, cfg.Pipeline.FetchMaxAttempts),
		correlator: correlate.NewCorrelator(time.Duration(cfg.Pipeline.TimeWindowMinutes)*time.Minute, idgen.New()),
		enricher:   enrich.NewEnricher(metricSource, time.Duration(cfg.Pipeline.EnrichLookbackMinutes)*time.Minute, cfg.Pipeline.EnrichTopNItems),
		kbProvider: kbStore,
		pipeline: pipeline.New(engine, pipeline.Options{
			MinIndependentSignals: cfg.Pipeline.MinIndependentSignals,
			GuardrailCeiling:      cfg.Pipeline.GuardrailCeiling,
			FallbackConfidenceCap: cfg.Pipeline.FallbackConfidenceCap,
		}),
		composer: report.NewComposer(cfg.Pipeline.ReportTZOffset),
		loader:   loader,
		ticket:   ticketWorkflow,
		notifier: notifier,
		archive:  archive,
	}

	return &App{
		cfg:       cfg,
		Runner:    runner,
		API:       api.New(cfg, runner, publisher),
		stream:    stream,
		publisher: publisher,
		store:     store,
		kbStore:   kbStore,
	}, nil
}

// RunOnce 单次批处理：跑默认回溯窗口，按输出契约把报告写到 stdout。
func (a *App) RunOnce(ctx context.Context) error {
	window := domain.TimeRange{}
	window.Start, window.End = a.cfg.LookbackWindow(time.Now().UTC())

	out, err := a.Runner.Run(ctx, RunRequest{
		Window:    window,
		RequestID: a.cfg.SDP.RequestID,
	})
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetEscapeHTML(false)
	for _, result := range out.Results {
		if result.Err != nil {
			// 失败事件簇占据自己的结果槽，带错误标记
			if err := encoder.Encode(map[string]interface{}{
				"incident_id":     result.IncidentID,
				"correlation_key": result.CorrelationKey,
				"error":           result.Err.Error(),
			}); err != nil {
				return err
			}
			continue
		}
		if err := encoder.Encode(result.Report); err != nil {
			return err
		}
	}
	return nil
}

// Start 常驻模式：HTTP API + 消息流消费 + 缓冲清理。
func (a *App) Start(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := a.API.Start(egCtx); err != nil && !errors.Is(err, context.Canceled) {
			return errors.Wrap(err, "api 启动失败")
		}
		return nil
	})

	if a.stream != nil {
		eg.Go(func() error {
			if err := a.stream.Run(egCtx); err != nil && !errors.Is(err, context.Canceled) {
				return errors.Wrap(err, "消息流消费失败")
			}
			return nil
		})
		eg.Go(func() error {
			a.pruneLoop(egCtx)
			return nil
		})
	}

	log.Info("应用已启动，等待退出信号")
	return eg.Wait()
}

// pruneLoop 周期清理超出回溯窗口两倍的流式缓冲。
func (a *App) pruneLoop(ctx context.Context) {
	lookback := time.Duration(a.cfg.Pipeline.LookbackMinutes) * time.Minute
	ticker := time.NewTicker(lookback)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.stream.Prune(now.UTC().Add(-2 * lookback))
		}
	}
}

// Close 统一关闭持有的连接资源，需由上层在取消上下文后调用。
func (a *App) Close(ctx context.Context) error {
	var errs []error

	if a.API != nil {
		if err := a.API.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, errors.Wrap(err, "stop api"))
		}
	}
	if a.stream != nil {
		if err := a.stream.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "close stream"))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "close publisher"))
		}
	}
	if a.kbStore != nil {
		a.kbStore.Close()
	}
	if a.store != nil {
		a.store.Close()
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// noopMetricSource 未配置 Zabbix 时的指标源占位，永远返回空结果。
type noopMetricSource struct{}

func (noopMetricSource) FetchMetrics(context.Context, string, domain.TimeRange) ([]domain.MetricSeries, error) {
	return nil, nil
}
