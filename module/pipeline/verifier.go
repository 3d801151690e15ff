package pipeline

import (
	"sort"
	"strings"

	"github.com/oneops-ai/incident-rca/domain"
)

// 未被任何独立信号支撑的假设的降级系数
const unsupportedPenalty = 0.5

// verify Verifier 阶段：逐条假设对照信号集，统计支撑信号数。
// 无支撑的假设降级，置信度折半；胜出者为支撑假设中置信度最高的，
// 全部无支撑时取降级后置信度最高的，保证链路总能到达 Decision。
func verify(set domain.HypothesisSet, consistency domain.ConsistencyReport) ([]domain.Verdict, domain.Hypothesis, domain.Verdict) {
	verdicts := make([]domain.Verdict, 0, len(set.Hypotheses))
	for _, hyp := range set.Hypotheses {
		support := supportCount(hyp, consistency.Signals)
		verdict := domain.Verdict{
			HypothesisID: hyp.ID,
			SupportCount: support,
		}
		if support > 0 {
			verdict.Supported = true
			verdict.FinalConfidence = hyp.Confidence
		} else {
			verdict.FinalConfidence = hyp.Confidence * unsupportedPenalty
			verdict.RejectionReason = "无独立证据信号支撑，降级处理"
		}
		verdicts = append(verdicts, verdict)
	}

	winnerIdx := pickWinner(set.Hypotheses, verdicts)
	return verdicts, set.Hypotheses[winnerIdx], verdicts[winnerIdx]
}

// pickWinner 优先在受支撑的假设里选，按 FinalConfidence 降序，
// 平局按假设 ID 保证确定性。
func pickWinner(hypotheses []domain.Hypothesis, verdicts []domain.Verdict) int {
	idx := make([]int, len(verdicts))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		va, vb := verdicts[idx[a]], verdicts[idx[b]]
		if va.Supported != vb.Supported {
			return va.Supported
		}
		if va.FinalConfidence != vb.FinalConfidence {
			return va.FinalConfidence > vb.FinalConfidence
		}
		return hypotheses[idx[a]].ID < hypotheses[idx[b]].ID
	})
	return idx[0]
}

// supportCount 统计与假设内容有词面重叠的信号数。
// 假设文本来自事实集，信号描述同样来自事实集，词面重叠即视为支撑。
func supportCount(hyp domain.Hypothesis, signals []domain.Signal) int {
	tokens := hypothesisTokens(hyp)
	count := 0
	for _, signal := range signals {
		text := strings.ToLower(signal.Kind + " " + signal.Description)
		for token := range tokens {
			if strings.Contains(text, token) {
				count++
				break
			}
		}
	}
	return count
}

// hypothesisTokens 从假设的根因与证据文本提取匹配词。
// 过短的词丢弃，避免噪声命中。
func hypothesisTokens(hyp domain.Hypothesis) map[string]struct{} {
	tokens := make(map[string]struct{})
	texts := append([]string{hyp.RootCause}, hyp.Evidence...)
	for _, text := range texts {
		for _, field := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return r == ' ' || r == '"' || r == '，' || r == '。' || r == '（' || r == '）'
		}) {
			if len([]rune(field)) < 2 {
				continue
			}
			tokens[field] = struct{}{}
		}
	}
	return tokens
}
