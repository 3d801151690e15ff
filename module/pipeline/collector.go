package pipeline

import (
	"sort"

	"github.com/oneops-ai/incident-rca/domain"
	"github.com/oneops-ai/incident-rca/utils/slice"
)

// 严重度从低到高的排序权重
var severityRank = map[string]int{
	"not_classified": 0,
	"information":    1,
	"warning":        2,
	"average":        3,
	"high":           4,
	"critical":       5,
	"disaster":       6,
}

// collect Collector 阶段：把事件簇、富化证据、知识库结果
// 归一化为事实集。纯函数，不访问外部资源。
func collect(input Input) domain.FactSet {
	incident := input.Incident

	var sources, messages []string
	maxSeverity := ""
	for _, event := range incident.Events {
		sources = append(sources, event.SourceID)
		if event.Message != "" {
			messages = append(messages, event.Message)
		}
		if severityRank[event.Severity] > severityRank[maxSeverity] || maxSeverity == "" {
			maxSeverity = event.Severity
		}
	}
	sources = slice.Unique(sources)
	sort.Strings(sources)
	messages = slice.Unique(messages)

	return domain.FactSet{
		IncidentID:      incident.IncidentID,
		PrimaryHost:     incident.PrimaryHost,
		EventCount:      len(incident.Events),
		SourceCount:     len(sources),
		Sources:         sources,
		MaxSeverity:     maxSeverity,
		Messages:        messages,
		Span:            incident.Span,
		Anomalies:       input.Evidence.Anomalies,
		KBMatch:         input.KBMatch,
		MetricsMissing:  input.Evidence.MetricsMissing,
		DegradedSources: input.DegradedSources,
	}
}
