package kb

import (
	"regexp"
	"strings"

	"github.com/oneops-ai/incident-rca/core"
	"github.com/oneops-ai/incident-rca/domain"
)

// 分词：字母数字和 . - _ / 连续段为一个 token
var reToken = regexp.MustCompile(`[a-zA-Z0-9][a-zA-Z0-9._/-]*`)

// 常见噪声词不参与匹配
var stopwords = map[string]struct{}{
	"the": {}, "on": {}, "in": {}, "at": {}, "of": {}, "to": {}, "is": {},
	"a": {}, "an": {}, "and": {}, "or": {}, "for": {}, "with": {},
}

// Matcher 知识库匹配器。事件簇签名与条目关键词集做 Jaccard 重叠，
// 取最高分条目；Score 始终填充，Matched 仅在达到阈值时为真。
type Matcher struct {
	provider core.KBProvider
	minScore float64
}

// NewMatcher 创建匹配器。
func NewMatcher(provider core.KBProvider, minScore float64) *Matcher {
	return &Matcher{provider: provider, minScore: minScore}
}

// Match 匹配事件簇。知识库为空时返回零值结果。
func (m *Matcher) Match(incident domain.Incident, evidence domain.Evidence) domain.KBMatch {
	signature := Signature(incident, evidence)
	if len(signature) == 0 {
		return domain.KBMatch{}
	}

	var best domain.KBMatch
	for _, entry := range m.provider.Entries() {
		keywords := tokenSet(strings.Join(entry.Keywords, " "))
		score := jaccard(signature, keywords)
		if score > best.Score {
			best = domain.KBMatch{KBID: entry.ID, Score: score}
			if score >= m.minScore {
				best.Matched = true
				best.Resolution = entry.Resolution
			}
		}
	}
	// 未达阈值只保留分数，不暴露条目
	if !best.Matched {
		best.KBID = ""
		best.Resolution = ""
	}
	return best
}

// Signature 事件簇签名 token 集：主机、事件消息、异常指标键。
func Signature(incident domain.Incident, evidence domain.Evidence) map[string]struct{} {
	var parts []string
	if incident.PrimaryHost != "" {
		parts = append(parts, incident.PrimaryHost)
	}
	for _, event := range incident.Events {
		parts = append(parts, event.Message)
	}
	for _, anomaly := range evidence.Anomalies {
		parts = append(parts, anomaly.MetricKey, anomaly.MetricName)
	}
	return tokenSet(strings.Join(parts, " "))
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, token := range reToken.FindAllString(strings.ToLower(text), -1) {
		if _, noise := stopwords[token]; noise {
			continue
		}
		set[token] = struct{}{}
	}
	return set
}

// jaccard |A∩B| / |A∪B|
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for token := range a {
		if _, ok := b[token]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
