package pipeline

import (
	"fmt"
	"math"
	"strings"

	"github.com/oneops-ai/incident-rca/domain"
)

// 置信度校准参数。校准值 = 原始值 × 信号系数 × 降级惩罚，
// 两个系数都不超过 1，校准值永不高于原始值。
const (
	signalFactorBase   = 0.7  // 单信号时的系数
	signalFactorStep   = 0.15 // 每增加一个独立信号的加成
	noSignalFactor     = 0.5  // 无信号时的系数
	degradationStep    = 0.1  // 每项降级输入的惩罚
	degradationFloor   = 0.5  // 惩罚下限
	defaultLessonsText = "完善监控覆盖与告警阈值，缩短同类故障的定位时间"
)

// decide Decision 阶段：从胜出假设计算校准置信度并产出最终决策。
// 独立信号数低于下限时进入护栏模式，校准值被压到保守上限以下。
func decide(facts domain.FactSet, consistency domain.ConsistencyReport,
	winner domain.Hypothesis, verdict domain.Verdict,
	minIndependentSignals int, guardrailCeiling float64) domain.Decision {

	raw := verdict.FinalConfidence
	degradedInputs := len(facts.DegradedSources)
	if facts.MetricsMissing {
		degradedInputs++
	}
	if !facts.KBMatch.Matched {
		degradedInputs++
	}

	calibrated := raw * signalFactor(consistency.IndependentSignals) * degradationPenalty(degradedInputs)

	guardrail := consistency.IndependentSignals < minIndependentSignals
	if guardrail {
		calibrated = math.Min(calibrated, guardrailCeiling)
	}
	// 数值噪声兜底：校准值不得超过原始值
	calibrated = math.Min(calibrated, raw)

	resolution := winner.Resolution
	if facts.KBMatch.Matched && facts.KBMatch.Resolution != "" {
		resolution = facts.KBMatch.Resolution
	}
	if resolution == "" {
		resolution = "按排查建议人工处置"
	}

	actions := winner.Actions
	if len(actions) == 0 {
		actions = []string{"按事件文本人工定位根因", "处置后观察指标是否回归基线"}
	}

	return domain.Decision{
		RootCause:           winner.RootCause,
		ContributingFactors: contributingFactors(facts, consistency),
		Impact:              impactText(facts),
		Resolution:          resolution,
		LessonsLearned:      defaultLessonsText,
		ActionableSteps:     actions,
		ITSM:                buildITSM(facts, winner, resolution),

		ConfidenceRaw:        round2(raw),
		ConfidenceCalibrated: round2(calibrated),
		GuardrailMode:        guardrail,
		IndependentSignals:   consistency.IndependentSignals,
		DegradedInputs:       degradedInputs,
	}
}

func signalFactor(n int) float64 {
	if n <= 0 {
		return noSignalFactor
	}
	return math.Min(1.0, signalFactorBase+signalFactorStep*float64(n-1))
}

func degradationPenalty(n int) float64 {
	return math.Max(degradationFloor, 1.0-degradationStep*float64(n))
}

func contributingFactors(facts domain.FactSet, consistency domain.ConsistencyReport) []string {
	var factors []string
	for _, anomaly := range facts.Anomalies {
		factors = append(factors, fmt.Sprintf("指标 %s 偏离基线 %.1fσ（%s）",
			anomaly.MetricKey, anomaly.ZScore, anomaly.Trend))
	}
	for _, inconsistency := range consistency.Inconsistencies {
		factors = append(factors, "事实不一致: "+inconsistency)
	}
	for _, source := range facts.DegradedSources {
		factors = append(factors, fmt.Sprintf("数据源 %s 本次拉取失败，证据不完整", source))
	}
	return factors
}

func impactText(facts domain.FactSet) string {
	host := facts.PrimaryHost
	if host == "" {
		host = "多台主机"
	}
	return fmt.Sprintf("%s 受影响，窗口内产生 %d 条事件（最高严重度 %s，%d 个数据源观测到）",
		host, facts.EventCount, facts.MaxSeverity, facts.SourceCount)
}

// buildITSM 归档用 5W1H 块，随报告写入工单。
func buildITSM(facts domain.FactSet, winner domain.Hypothesis, resolution string) domain.ITSM5W1H {
	where := facts.PrimaryHost
	if where == "" {
		where = "未定位到单一主机"
	}
	return domain.ITSM5W1H{
		Who:   strings.Join(facts.Sources, ", ") + " 监控告警",
		What:  firstMessage(facts),
		When:  fmt.Sprintf("%s ~ %s", facts.Span.Start.UTC().Format("2006-01-02 15:04:05"), facts.Span.End.UTC().Format("2006-01-02 15:04:05")),
		Where: where,
		Why:   winner.RootCause,
		How:   resolution,
	}
}

func firstMessage(facts domain.FactSet) string {
	if len(facts.Messages) > 0 {
		return facts.Messages[0]
	}
	return "窗口内聚类出的故障事件"
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
