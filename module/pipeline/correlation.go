package pipeline

import (
	"fmt"
	"math"
	"strings"

	"github.com/oneops-ai/incident-rca/domain"
)

// headMessages 取前 n 条事件文本进信号描述
func headMessages(messages []string, n int) []string {
	if len(messages) <= n {
		return messages
	}
	return messages[:n]
}

// 证据信号类别。类别去重后计为独立信号。
const (
	signalEventCluster  = "event-cluster"
	signalMetricAnomaly = "metric-anomaly"
	signalKBMatch       = "kb-match"
	signalMultiSource   = "multi-source"
)

// 指标异常计入信号的最小偏离
const anomalySignalMinZ = 2.0

// crossCheck Correlation 阶段：把事实集压成去重后的独立证据信号，
// 并记录事实间的不一致。同类重复信号只计一次独立性。
func crossCheck(facts domain.FactSet) domain.ConsistencyReport {
	var signals []domain.Signal
	dropped := 0

	if facts.EventCount > 0 {
		signals = append(signals, domain.Signal{
			Kind: signalEventCluster,
			Description: fmt.Sprintf("主机 %s 在窗口内聚出 %d 条事件，最高严重度 %s：%s",
				facts.PrimaryHost, facts.EventCount, facts.MaxSeverity,
				strings.Join(headMessages(facts.Messages, 3), "；")),
		})
		// 同簇多条事件是同一信号的重复表达
		dropped += facts.EventCount - 1
	}

	metricSignals := 0
	for _, anomaly := range facts.Anomalies {
		if math.Abs(anomaly.ZScore) < anomalySignalMinZ {
			continue
		}
		if metricSignals == 0 {
			signals = append(signals, domain.Signal{
				Kind: signalMetricAnomaly,
				Description: fmt.Sprintf("指标 %s 偏离基线 %.1f 个标准差（%s）",
					anomaly.MetricKey, anomaly.ZScore, anomaly.Trend),
			})
		} else {
			dropped++
		}
		metricSignals++
	}

	if facts.KBMatch.Matched {
		signals = append(signals, domain.Signal{
			Kind:        signalKBMatch,
			Description: fmt.Sprintf("知识库条目 %s 命中，相似度 %.2f", facts.KBMatch.KBID, facts.KBMatch.Score),
		})
	}

	if facts.SourceCount >= 2 {
		signals = append(signals, domain.Signal{
			Kind:        signalMultiSource,
			Description: fmt.Sprintf("%d 个独立数据源观测到同一故障", facts.SourceCount),
		})
	}

	var inconsistencies []string
	if len(facts.Anomalies) > 0 && facts.MetricsMissing {
		inconsistencies = append(inconsistencies, "指标缺失标记与异常评分同时存在")
	}
	if facts.EventCount == 0 {
		inconsistencies = append(inconsistencies, "事实集不含任何事件")
	}

	return domain.ConsistencyReport{
		Signals:            signals,
		IndependentSignals: len(signals),
		DroppedDuplicates:  dropped,
		Inconsistencies:    inconsistencies,
	}
}
