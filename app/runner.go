package app

import (
	"context"
	"fmt"
	"time"

	"github.com/oneops-ai/incident-rca/config"
	"github.com/oneops-ai/incident-rca/core"
	"github.com/oneops-ai/incident-rca/domain"
	"github.com/oneops-ai/incident-rca/infra/cache"
	"github.com/oneops-ai/incident-rca/infra/log"
	"github.com/oneops-ai/incident-rca/module/api"
	"github.com/oneops-ai/incident-rca/module/correlate"
	"github.com/oneops-ai/incident-rca/module/enrich"
	"github.com/oneops-ai/incident-rca/module/ingest"
	"github.com/oneops-ai/incident-rca/module/input"
	"github.com/oneops-ai/incident-rca/module/kb"
	"github.com/oneops-ai/incident-rca/module/pipeline"
	"github.com/oneops-ai/incident-rca/module/report"
	"github.com/oneops-ai/incident-rca/module/scheduler"
	"github.com/oneops-ai/incident-rca/module/ticket"
	"github.com/oneops-ai/incident-rca/utils"
)

// Runner 一次分析运行的编排：拉取 → 聚类 → 逐事件簇
// （富化 → 知识库匹配 → 推理 → 报告 → 工单/通知/归档）。
// 逐事件簇路径交给有界并发的调度器执行。
type Runner struct {
	cfg        *config.Config
	ingest     *ingest.Service
	correlator *correlate.Correlator
	enricher   *enrich.Enricher
	kbProvider core.KBProvider
	pipeline   *pipeline.Pipeline
	composer   *report.Composer
	loader     *cache.Loader

	ticket   *ticket.Workflow      // 可为 nil（未启用工单自动化）
	notifier core.Notifier         // 可为 nil
	archive  core.ReportRepository // 可为 nil
}

// RunRequest 单次运行的参数。
type RunRequest struct {
	Window    domain.TimeRange
	RequestID string // SDP 工单号，非空且定位到单一事件簇时执行工单闭环
	Hostname  string // 定位过滤：只保留该主机的事件簇
	EventID   string // 定位过滤：只保留包含该事件的事件簇

	KBOverride core.KBProvider // 请求内联/按路径携带的知识库，nil 用默认
}

// RunOutput 单次运行的结果。
type RunOutput struct {
	Counts          domain.CorrelationCounts
	DegradedSources []string
	Results         []scheduler.Result
}

// Run 执行一次完整分析。
func (r *Runner) Run(ctx context.Context, req RunRequest) (RunOutput, error) {
	events, degraded := r.ingest.FetchAll(ctx, req.Window)
	incidents := r.correlator.Correlate(events)
	incidents = filterIncidents(incidents, req.Hostname, req.EventID)

	counts := domain.CorrelationCounts{
		Events:    len(events),
		Sources:   countSources(events),
		Incidents: len(incidents),
	}
	log.Infof("窗口 [%s, %s] 拉取 %d 条事件，聚类出 %d 个事件簇（降级源: %v）",
		req.Window.Start.Format(time.RFC3339), req.Window.End.Format(time.RFC3339),
		counts.Events, counts.Incidents, degraded)

	kbProvider := r.kbProvider
	if req.KBOverride != nil {
		kbProvider = req.KBOverride
	}
	matcher := kb.NewMatcher(kbProvider, r.cfg.KB.MatchMinScore)

	// 工单闭环只在请求定位到单一事件簇时执行，避免多个事件簇争抢同一工单
	ticketID := ""
	if req.RequestID != "" && r.ticket != nil && len(incidents) == 1 {
		ticketID = req.RequestID
	}

	process := func(ctx context.Context, incident domain.Incident) (domain.RCAReport, error) {
		return r.processIncident(ctx, incident, matcher, counts, degraded, ticketID)
	}
	sched := scheduler.New(process, r.loader, scheduler.Options{
		Concurrency: r.cfg.Pipeline.MaxConcurrency,
		BatchSize:   r.cfg.Pipeline.BatchSize,
		DecisionTTL: r.cfg.LLM.TTL,
	})
	results := sched.RunBatch(ctx, incidents)

	return RunOutput{Counts: counts, DegradedSources: degraded, Results: results}, nil
}

// processIncident 单个事件簇的完整路径。
func (r *Runner) processIncident(ctx context.Context, incident domain.Incident,
	matcher *kb.Matcher, counts domain.CorrelationCounts,
	degraded []string, ticketID string) (domain.RCAReport, error) {

	evidence, err := r.enricher.Enrich(ctx, incident)
	if err != nil {
		// 指标源失败按指标缺失降级，不中断该事件簇
		log.Warnf("事件簇 %d 指标富化失败，降级为无指标证据: %v", incident.IncidentID, err)
		evidence = domain.Evidence{IncidentID: incident.IncidentID, MetricsMissing: true}
	}
	match := matcher.Match(incident, evidence)

	result := r.pipeline.Run(ctx, pipeline.Input{
		Incident:        incident,
		Evidence:        evidence,
		KBMatch:         match,
		DegradedSources: degraded,
	})
	log.Debugf("事件簇 %d 决策: %s", incident.IncidentID, utils.JsonEncode(result.Decision))

	composeInput := report.Input{
		Incident:        incident,
		Evidence:        evidence,
		KBMatch:         match,
		Decision:        result.Decision,
		Counts:          counts,
		DegradedSources: degraded,
	}
	if ticketID != "" {
		preliminary := r.composer.Compose(composeInput)
		composeInput.TicketState = r.ticket.Run(ctx, ticketID, result.Decision, preliminary.SummaryMarkdown)
	}
	rcaReport := r.composer.Compose(composeInput)

	r.archiveAndNotify(ctx, rcaReport)
	return rcaReport, nil
}

// archiveAndNotify 归档与通知都是尽力而为，失败只记日志。
func (r *Runner) archiveAndNotify(ctx context.Context, rcaReport domain.RCAReport) {
	if r.archive != nil {
		archived := domain.ArchivedReport{
			IncidentID:     rcaReport.IncidentID,
			CorrelationKey: rcaReport.CorrelationKey,
			CreatedAt:      time.Now().UTC(),
			Report:         rcaReport,
		}
		if err := r.archive.Upsert(ctx, archived); err != nil {
			log.Warnf("报告 %d 归档失败: %v", rcaReport.IncidentID, err)
		}
	}
	if r.notifier != nil {
		text := fmt.Sprintf("【RCA】事件簇 %d 根因: %s（置信度 %.2f）",
			rcaReport.IncidentID, rcaReport.RCA.RootCause, rcaReport.RCA.Metadata.ConfidenceCalibrated)
		if err := r.notifier.Send(ctx, text); err != nil {
			log.Warnf("报告 %d 通知失败: %v", rcaReport.IncidentID, err)
		}
	}
}

// HandleRCA 实现 module/api 的分析入口：解析请求里的定位字段，
// 组装运行参数并执行。
func (r *Runner) HandleRCA(ctx context.Context, req api.RCARequest) (api.RCAResponse, error) {
	parsed := input.Parse(req.Text)

	hostname := firstNonEmpty(req.Hostname, parsed.Hostname, parsed.IP)
	eventID := firstNonEmpty(req.EventID, parsed.EventID)
	requestID := firstNonEmpty(req.RequestID, parsed.RequestID, input.ParseRequestID(req.Text), r.cfg.SDP.RequestID)

	lookback := req.LookbackMinutes
	if lookback <= 0 {
		lookback = r.cfg.Pipeline.LookbackMinutes
	}
	end := time.Now().UTC()
	window := domain.TimeRange{Start: end.Add(-time.Duration(lookback) * time.Minute), End: end}

	var kbOverride core.KBProvider
	switch {
	case len(req.KBEntries) > 0:
		kbOverride = kb.NewStoreFromEntries(req.KBEntries)
	case req.KBJSONPath != "":
		entries, err := kb.LoadEntries(req.KBJSONPath)
		if err != nil {
			return api.RCAResponse{}, err
		}
		kbOverride = kb.NewStoreFromEntries(entries)
	}

	out, err := r.Run(ctx, RunRequest{
		Window:     window,
		RequestID:  requestID,
		Hostname:   hostname,
		EventID:    eventID,
		KBOverride: kbOverride,
	})
	if err != nil {
		return api.RCAResponse{}, err
	}

	resp := api.RCAResponse{Counts: out.Counts}
	for _, result := range out.Results {
		slot := api.ReportSlot{
			IncidentID:     result.IncidentID,
			CorrelationKey: result.CorrelationKey,
			Report:         result.Report,
		}
		if result.Err != nil {
			slot.Error = result.Err.Error()
		}
		resp.Reports = append(resp.Reports, slot)
	}
	return resp, nil
}

// QueryReports 按事件簇 ID 查询已归档报告。
func (r *Runner) QueryReports(ctx context.Context, incidentIDs []uint64) ([]domain.ArchivedReport, error) {
	if r.archive == nil {
		return nil, core.ErrArchiveDisabled
	}
	return r.archive.QueryByIncidentIDs(ctx, incidentIDs)
}

// QueryReportHistory 按关联键查询同一事件簇的历史归档。
func (r *Runner) QueryReportHistory(ctx context.Context, correlationKey string, limit int) ([]domain.ArchivedReport, error) {
	if r.archive == nil {
		return nil, core.ErrArchiveDisabled
	}
	return r.archive.SearchByCorrelationKey(ctx, correlationKey, limit)
}

// filterIncidents 按定位字段收窄事件簇集合。两个字段都为空时不过滤。
func filterIncidents(incidents []domain.Incident, hostname, eventID string) []domain.Incident {
	if hostname == "" && eventID == "" {
		return incidents
	}
	var kept []domain.Incident
	for _, incident := range incidents {
		if incidentMatches(incident, hostname, eventID) {
			kept = append(kept, incident)
		}
	}
	return kept
}

func incidentMatches(incident domain.Incident, hostname, eventID string) bool {
	if hostname != "" && incident.PrimaryHost == hostname {
		return true
	}
	for _, event := range incident.Events {
		if hostname != "" && event.HostKey == hostname {
			return true
		}
		if eventID != "" && event.ProviderID == eventID {
			return true
		}
	}
	return false
}

func countSources(events []domain.RawEvent) int {
	seen := make(map[string]struct{})
	for _, event := range events {
		seen[event.SourceID] = struct{}{}
	}
	return len(seen)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
