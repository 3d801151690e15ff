package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/oneops-ai/incident-rca/domain"
)

// rule 确定性根因规则。Patterns 任一命中事实文本即触发。
type rule struct {
	ID         string
	Patterns   []string
	RootCause  string
	Resolution string
	Actions    []string
	Confidence float64
}

// 规则表按特异性排序，前面的规则优先。
var ruleTable = []rule{
	{
		ID:         "rule-ssh",
		Patterns:   []string{"ssh", "sshd"},
		RootCause:  "SSH 服务不可用或认证异常",
		Resolution: "检查 sshd 进程状态与认证配置，确认防火墙未拦截 22 端口",
		Actions:    []string{"登录控制台确认 sshd 进程", "检查 /var/log/secure 认证日志", "验证安全组与防火墙规则"},
		Confidence: 0.7,
	},
	{
		ID:         "rule-memory",
		Patterns:   []string{"memory", "oom", "swap", "vm.memory"},
		RootCause:  "内存耗尽或内存泄漏",
		Resolution: "定位高内存进程并处理，必要时扩容内存",
		Actions:    []string{"top 按内存排序定位进程", "检查 dmesg 中的 OOM 记录", "评估是否需要扩容"},
		Confidence: 0.7,
	},
	{
		ID:         "rule-cpu",
		Patterns:   []string{"cpu", "load average", "system.cpu"},
		RootCause:  "CPU 负载过高",
		Resolution: "定位高 CPU 进程，确认是否为异常任务或容量不足",
		Actions:    []string{"top 定位高 CPU 进程", "检查计划任务与批处理作业", "评估横向扩容"},
		Confidence: 0.7,
	},
	{
		ID:         "rule-disk",
		Patterns:   []string{"disk", "vfs.fs", "filesystem", "space"},
		RootCause:  "磁盘空间不足或 IO 异常",
		Resolution: "清理磁盘空间，检查大文件与日志滚动配置",
		Actions:    []string{"df -h 确认分区用量", "清理过期日志和临时文件", "检查日志滚动策略"},
		Confidence: 0.7,
	},
	{
		ID:         "rule-ping",
		Patterns:   []string{"ping", "icmp", "unreachable", "不可用"},
		RootCause:  "主机失联或网络不可达",
		Resolution: "确认主机电源与网络链路，检查中间网络设备",
		Actions:    []string{"从多个探测点 ping 目标主机", "检查交换机端口状态", "确认主机是否宕机重启"},
		Confidence: 0.65,
	},
	{
		ID:         "rule-http",
		Patterns:   []string{"http", "504", "502", "timeout", "超时"},
		RootCause:  "服务响应超时或网关错误",
		Resolution: "检查后端服务健康状态与上游依赖延迟",
		Actions:    []string{"检查服务进程与健康检查接口", "查看网关错误日志", "排查上游依赖延迟"},
		Confidence: 0.6,
	},
	{
		ID:         "rule-network",
		Patterns:   []string{"network", "packet loss", "interface", "丢包"},
		RootCause:  "网络链路质量劣化",
		Resolution: "排查链路丢包与网卡错误计数",
		Actions:    []string{"检查网卡错误与丢包计数", "mtr 定位劣化链路段", "联系网络团队核查线路"},
		Confidence: 0.6,
	},
}

// RuleEngine 确定性规则推理。相同事实集永远产出相同假设，
// 作为外部推理服务缺失或失败时的兜底。
type RuleEngine struct{}

// NewRuleEngine 创建规则引擎。
func NewRuleEngine() *RuleEngine {
	return &RuleEngine{}
}

// Complete 实现 core.ReasoningEngine。载荷须为 domain.FactSet。
func (e *RuleEngine) Complete(_ context.Context, _ string, payload interface{}) (json.RawMessage, error) {
	facts, ok := payload.(domain.FactSet)
	if !ok {
		return nil, fmt.Errorf("规则引擎载荷类型错误: %T", payload)
	}
	set := domain.HypothesisSet{Hypotheses: e.Evaluate(facts)}
	return json.Marshal(set)
}

// Remote 规则引擎为本地确定性实现。
func (e *RuleEngine) Remote() bool {
	return false
}

// Evaluate 对事实集匹配规则表，按表序返回全部命中的假设。
// 无命中时返回单条低置信度的兜底假设。
func (e *RuleEngine) Evaluate(facts domain.FactSet) []domain.Hypothesis {
	text := factText(facts)

	var hypotheses []domain.Hypothesis
	for _, r := range ruleTable {
		matched := matchedPatterns(text, r.Patterns)
		if len(matched) == 0 {
			continue
		}
		evidence := make([]string, 0, len(matched))
		for _, p := range matched {
			evidence = append(evidence, fmt.Sprintf("事实文本命中模式 %q", p))
		}
		hypotheses = append(hypotheses, domain.Hypothesis{
			ID:         r.ID,
			RootCause:  r.RootCause,
			Confidence: r.Confidence,
			Evidence:   evidence,
			RuleBased:  true,
			Resolution: r.Resolution,
			Actions:    r.Actions,
		})
	}
	if len(hypotheses) == 0 {
		hypotheses = append(hypotheses, genericHypothesis(facts))
	}
	return hypotheses
}

// genericHypothesis 无规则命中时的兜底假设。
func genericHypothesis(facts domain.FactSet) domain.Hypothesis {
	rootCause := "未识别到明确根因模式，需人工排查"
	if facts.PrimaryHost != "" {
		rootCause = fmt.Sprintf("主机 %s 出现未归类异常，需人工排查", facts.PrimaryHost)
	}
	return domain.Hypothesis{
		ID:         "rule-generic",
		RootCause:  rootCause,
		Confidence: 0.3,
		Evidence:   []string{fmt.Sprintf("事件簇包含 %d 条事件", facts.EventCount)},
		RuleBased:  true,
		Resolution: "按事件文本与指标走势人工定位根因",
		Actions:    []string{"人工核对事件明细", "检查主机基础指标走势"},
	}
}

// factText 拼接参与规则匹配的事实文本（小写）。
func factText(facts domain.FactSet) string {
	parts := make([]string, 0, len(facts.Messages)+len(facts.Anomalies)+1)
	parts = append(parts, facts.Messages...)
	for _, anomaly := range facts.Anomalies {
		parts = append(parts, anomaly.MetricKey, anomaly.MetricName)
	}
	if facts.KBMatch.Matched {
		parts = append(parts, facts.KBMatch.Resolution)
	}
	return strings.ToLower(strings.Join(parts, "\n"))
}

func matchedPatterns(text string, patterns []string) []string {
	var matched []string
	for _, p := range patterns {
		if strings.Contains(text, p) {
			matched = append(matched, p)
		}
	}
	return matched
}
