package pipeline

import (
	"context"
	"encoding/json"

	"github.com/oneops-ai/incident-rca/core"
	"github.com/oneops-ai/incident-rca/domain"
	"github.com/oneops-ai/incident-rca/infra/log"
)

// Input 单个事件簇的流水线输入。
type Input struct {
	Incident        domain.Incident
	Evidence        domain.Evidence
	KBMatch         domain.KBMatch
	DegradedSources []string
}

// Result 流水线输出：每个阶段一个制品，外加最终决策。
type Result struct {
	Artifacts []domain.AgentArtifact
	Facts     domain.FactSet
	Decision  domain.Decision
}

// Options 流水线参数。
type Options struct {
	MinIndependentSignals int     // 低于该值进入护栏模式
	GuardrailCeiling      float64 // 护栏模式下校准置信度上限
	FallbackConfidenceCap float64 // 规则兜底推理的置信度上限
}

// Pipeline 五阶段顺序推理：Collector → Correlation → Hypothesis →
// Verifier → Decision。阶段严格串行，每阶段恰好产出一个制品；
// 阶段失败产出降级制品而不中断，链路总能到达 Decision。
type Pipeline struct {
	engine core.ReasoningEngine
	rules  *RuleEngine
	opts   Options
}

// New 创建流水线。engine 在构造期选定（外部推理或规则推理）。
func New(engine core.ReasoningEngine, opts Options) *Pipeline {
	if opts.MinIndependentSignals <= 0 {
		opts.MinIndependentSignals = 2
	}
	if opts.GuardrailCeiling <= 0 {
		opts.GuardrailCeiling = 0.5
	}
	if opts.FallbackConfidenceCap <= 0 {
		opts.FallbackConfidenceCap = 0.45
	}
	return &Pipeline{engine: engine, rules: NewRuleEngine(), opts: opts}
}

// Run 执行一次完整推理。
func (p *Pipeline) Run(ctx context.Context, input Input) Result {
	incidentID := input.Incident.IncidentID
	artifacts := make([]domain.AgentArtifact, 0, len(domain.StageOrder))

	// Collector
	facts := collect(input)
	artifacts = append(artifacts, artifact(domain.StageCollector, incidentID, nil, facts, 1.0, ""))

	// Correlation
	consistency := crossCheck(facts)
	artifacts = append(artifacts, artifact(domain.StageCorrelation, incidentID,
		[]domain.StageName{domain.StageCollector}, consistency, 1.0, ""))

	// Hypothesis
	hypotheses, note := hypothesize(ctx, p.engine, p.rules, facts, p.opts.FallbackConfidenceCap)
	best := maxConfidence(hypotheses.Hypotheses)
	artifacts = append(artifacts, artifact(domain.StageHypothesis, incidentID,
		[]domain.StageName{domain.StageCollector, domain.StageCorrelation}, hypotheses, best, note))

	// Verifier
	verdicts, winner, winnerVerdict := verify(hypotheses, consistency)
	verifierNote := ""
	if !winnerVerdict.Supported {
		verifierNote = "全部假设缺乏独立信号支撑，取降级后最优者"
	}
	artifacts = append(artifacts, artifact(domain.StageVerifier, incidentID,
		[]domain.StageName{domain.StageHypothesis, domain.StageCorrelation}, verdicts,
		winnerVerdict.FinalConfidence, verifierNote))

	// Decision
	decision := decide(facts, consistency, winner, winnerVerdict,
		p.opts.MinIndependentSignals, p.opts.GuardrailCeiling)
	decisionNote := ""
	if decision.GuardrailMode {
		decisionNote = "独立信号不足，护栏模式压低校准置信度"
	}
	artifacts = append(artifacts, artifact(domain.StageDecision, incidentID,
		[]domain.StageName{domain.StageVerifier, domain.StageCorrelation}, decision,
		decision.ConfidenceCalibrated, decisionNote))

	return Result{Artifacts: artifacts, Facts: facts, Decision: decision}
}

// artifact 组装单个阶段制品。note 非空即视为降级产出。
func artifact(stage domain.StageName, incidentID uint64, inputs []domain.StageName,
	output interface{}, confidence float64, note string) domain.AgentArtifact {

	raw, err := json.Marshal(output)
	if err != nil {
		// 阶段输出都是本包内的纯数据结构，序列化失败属于程序缺陷
		log.Errorf("阶段 %s 输出序列化失败: %v", stage, err)
		raw = json.RawMessage(`{}`)
		note = "阶段输出序列化失败"
	}
	return domain.AgentArtifact{
		Stage:       stage,
		IncidentID:  incidentID,
		InputStages: inputs,
		Output:      raw,
		Confidence:  confidence,
		Degraded:    note != "",
		Note:        note,
	}
}

func maxConfidence(hypotheses []domain.Hypothesis) float64 {
	best := 0.0
	for _, hyp := range hypotheses {
		if hyp.Confidence > best {
			best = hyp.Confidence
		}
	}
	return best
}
