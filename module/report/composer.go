package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oneops-ai/incident-rca/domain"
	"github.com/oneops-ai/incident-rca/utils/timex"
)

const displayTimeLayout = "2006-01-02 15:04:05 -07:00"

// Composer 报告装配。结构化报告和 Markdown 摘要由同一份输入
// 经单一渲染路径派生，相同输入必得相同输出。
type Composer struct {
	loc *time.Location // 展示时区（固定偏移）
}

// NewComposer 创建装配器。tzOffset 形如 "+07:00"。
func NewComposer(tzOffset string) *Composer {
	return &Composer{loc: timex.ParseFixedOffset(tzOffset)}
}

// Input 装配输入。
type Input struct {
	Incident        domain.Incident
	Evidence        domain.Evidence
	KBMatch         domain.KBMatch
	Decision        domain.Decision
	Counts          domain.CorrelationCounts
	DegradedSources []string
	TicketState     *domain.TicketState
}

// Compose 装配最终报告。
func (c *Composer) Compose(input Input) domain.RCAReport {
	decision := input.Decision
	body := domain.RCABody{
		RootCause:           decision.RootCause,
		ContributingFactors: decision.ContributingFactors,
		Impact:              decision.Impact,
		Resolution:          decision.Resolution,
		Timeline:            c.timeline(input.Incident),
		LessonsLearned:      decision.LessonsLearned,
		ActionableSteps:     decision.ActionableSteps,
		Metadata: domain.ReportMetadata{
			ConfidenceRaw:        decision.ConfidenceRaw,
			ConfidenceCalibrated: decision.ConfidenceCalibrated,
			GuardrailMode:        decision.GuardrailMode,
			KBID:                 input.KBMatch.KBID,
			KBMatchScore:         input.KBMatch.Score,
			CorrelationCounts:    input.Counts,
			TicketState:          input.TicketState,
			DegradedSources:      input.DegradedSources,
			MetricsMissing:       input.Evidence.MetricsMissing,
		},
	}

	report := domain.RCAReport{
		IncidentID:     input.Incident.IncidentID,
		CorrelationKey: input.Incident.CorrelationKey,
		RCA:            body,
	}
	report.SummaryMarkdown = renderMarkdown(report)
	return report
}

// timeline 成员事件按时间升序渲染为 {time, event}。
func (c *Composer) timeline(incident domain.Incident) []domain.TimelineEntry {
	events := make([]domain.RawEvent, len(incident.Events))
	copy(events, incident.Events)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	entries := make([]domain.TimelineEntry, 0, len(events))
	for _, event := range events {
		entries = append(entries, domain.TimelineEntry{
			Time:  event.Timestamp.In(c.loc).Format(displayTimeLayout),
			Event: fmt.Sprintf("[%s/%s] %s", event.SourceID, event.Severity, event.Message),
		})
	}
	return entries
}

// renderMarkdown 结构化报告的唯一 Markdown 渲染口。
func renderMarkdown(report domain.RCAReport) string {
	body := report.RCA
	meta := body.Metadata

	var b strings.Builder
	fmt.Fprintf(&b, "# RCA 报告 · 事件簇 %d\n\n", report.IncidentID)
	fmt.Fprintf(&b, "## 根因\n%s\n\n", body.RootCause)
	fmt.Fprintf(&b, "## 影响\n%s\n\n", body.Impact)

	if len(body.ContributingFactors) > 0 {
		b.WriteString("## 促成因素\n")
		for _, factor := range body.ContributingFactors {
			fmt.Fprintf(&b, "- %s\n", factor)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## 处置方案\n%s\n\n", body.Resolution)

	if len(body.Timeline) > 0 {
		b.WriteString("## 时间线\n")
		for _, entry := range body.Timeline {
			fmt.Fprintf(&b, "- %s — %s\n", entry.Time, entry.Event)
		}
		b.WriteString("\n")
	}

	if len(body.ActionableSteps) > 0 {
		b.WriteString("## L1 处置步骤\n")
		for i, step := range body.ActionableSteps {
			fmt.Fprintf(&b, "%d. %s\n", i+1, step)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## 经验沉淀\n%s\n\n", body.LessonsLearned)

	b.WriteString("## 元数据\n")
	fmt.Fprintf(&b, "- 置信度: %.2f（原始 %.2f）\n", meta.ConfidenceCalibrated, meta.ConfidenceRaw)
	if meta.GuardrailMode {
		b.WriteString("- 护栏模式: 证据不足，置信度已保守压低\n")
	}
	if meta.KBID != "" {
		fmt.Fprintf(&b, "- 知识库命中: %s（相似度 %.2f）\n", meta.KBID, meta.KBMatchScore)
	} else {
		fmt.Fprintf(&b, "- 知识库相似度: %.2f（未达阈值）\n", meta.KBMatchScore)
	}
	fmt.Fprintf(&b, "- 事件/数据源/事件簇: %d/%d/%d\n",
		meta.CorrelationCounts.Events, meta.CorrelationCounts.Sources, meta.CorrelationCounts.Incidents)
	if len(meta.DegradedSources) > 0 {
		fmt.Fprintf(&b, "- 降级数据源: %s\n", strings.Join(meta.DegradedSources, ", "))
	}
	if meta.MetricsMissing {
		b.WriteString("- 指标数据缺失，异常证据为空\n")
	}
	if meta.TicketState != nil {
		fmt.Fprintf(&b, "- 工单 %s 流程: %s\n", meta.TicketState.RequestID, ticketSummary(meta.TicketState))
	}
	return b.String()
}

func ticketSummary(state *domain.TicketState) string {
	parts := make([]string, 0, len(state.Steps))
	for _, step := range state.Steps {
		mark := "✓"
		if !step.Completed {
			mark = "✗"
		}
		parts = append(parts, step.Step+mark)
	}
	return strings.Join(parts, " → ")
}
