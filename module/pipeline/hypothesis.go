package pipeline

import (
	"context"
	"encoding/json"

	"github.com/oneops-ai/incident-rca/core"
	"github.com/oneops-ai/incident-rca/domain"
	"github.com/oneops-ai/incident-rca/infra/log"
)

// 外部推理的系统提示词。输出约束为 HypothesisSet 的 JSON 形状。
const hypothesisSystemPrompt = `你是资深 SRE，负责故障根因分析。输入是一次故障的归一化事实集（事件文本、指标异常、知识库匹配）。
请输出 JSON 对象，形如 {"hypotheses":[{"id":"h1","root_cause":"...","confidence":0.8,"evidence":["..."],"resolution":"...","actions":["..."]}]}。
confidence 取 0 到 1，evidence 必须引用输入中的具体事实，不得编造输入以外的信息。`

// hypothesize Hypothesis 阶段。确定性规则命中优先；规则只有兜底结果时
// 才调用外部推理服务；外部推理失败或未配置时退回规则结果并封顶置信度。
// 返回值中 degradedNote 非空表示本阶段降级。
func hypothesize(ctx context.Context, engine core.ReasoningEngine, rules *RuleEngine,
	facts domain.FactSet, fallbackCap float64) (domain.HypothesisSet, string) {

	ruleHyps := rules.Evaluate(facts)
	ruleMatched := len(ruleHyps) > 0 && ruleHyps[0].ID != "rule-generic"

	// 规则明确命中时不再调用外部推理，保证确定性
	if ruleMatched {
		return domain.HypothesisSet{Hypotheses: ruleHyps}, ""
	}

	if !engine.Remote() {
		// 构造期就选定了规则推理（未配置 LLM_API_KEY），封顶置信度
		return domain.HypothesisSet{Hypotheses: capConfidence(ruleHyps, fallbackCap)},
			"未配置外部推理服务，使用规则推理兜底"
	}

	raw, err := engine.Complete(ctx, hypothesisSystemPrompt, facts)
	if err != nil {
		log.Warnf("事件簇 %d 外部推理失败，退回规则推理: %v", facts.IncidentID, err)
		return domain.HypothesisSet{Hypotheses: capConfidence(ruleHyps, fallbackCap)},
			"外部推理服务失败，退回规则推理并封顶置信度"
	}

	var set domain.HypothesisSet
	if err := json.Unmarshal(raw, &set); err != nil || len(set.Hypotheses) == 0 {
		log.Warnf("事件簇 %d 外部推理输出不可用，退回规则推理", facts.IncidentID)
		return domain.HypothesisSet{Hypotheses: capConfidence(ruleHyps, fallbackCap)},
			"外部推理输出不可用，退回规则推理并封顶置信度"
	}
	set.UsedRemote = true
	for i := range set.Hypotheses {
		set.Hypotheses[i].Confidence = clamp01(set.Hypotheses[i].Confidence)
	}
	return set, ""
}

func capConfidence(hypotheses []domain.Hypothesis, cap float64) []domain.Hypothesis {
	out := make([]domain.Hypothesis, len(hypotheses))
	copy(out, hypotheses)
	for i := range out {
		if out[i].Confidence > cap {
			out[i].Confidence = cap
		}
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
