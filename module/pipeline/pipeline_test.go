package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/oneops-ai/incident-rca/domain"
)

// fakeEngine 可控的外部推理引擎
type fakeEngine struct {
	response json.RawMessage
	err      error
	calls    int
}

func (f *fakeEngine) Complete(_ context.Context, _ string, _ interface{}) (json.RawMessage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func (f *fakeEngine) Remote() bool { return true }

func at(minute int) time.Time {
	return time.Date(2025, 1, 15, 10, minute, 0, 0, time.UTC)
}

func cpuIncident() Input {
	return Input{
		Incident: domain.Incident{
			IncidentID:  42,
			PrimaryHost: "db01",
			Span:        domain.TimeRange{Start: at(0), End: at(7)},
			Events: []domain.RawEvent{
				{SourceID: "zabbix", ProviderID: "1", HostKey: "db01", Timestamp: at(0), Severity: "high", Message: "High CPU utilization on db01"},
				{SourceID: "uptimerobot", ProviderID: "2", HostKey: "db01", Timestamp: at(7), Severity: "high", Message: "db01 service 不可用"},
			},
		},
		Evidence: domain.Evidence{Anomalies: []domain.AnomalyScore{
			{MetricKey: "system.cpu.util", MetricName: "CPU utilization", ZScore: 6.5, Trend: "↑"},
		}},
		KBMatch: domain.KBMatch{KBID: "kb-001", Score: 0.5, Matched: true, Resolution: "清理高负载进程"},
	}
}

// vagueIncident 不命中任何规则模式的事件簇
func vagueIncident() Input {
	return Input{
		Incident: domain.Incident{
			IncidentID:  43,
			PrimaryHost: "app09",
			Span:        domain.TimeRange{Start: at(0), End: at(0)},
			Events: []domain.RawEvent{
				{SourceID: "zabbix", ProviderID: "1", HostKey: "app09", Timestamp: at(0), Severity: "warning", Message: "某服务心跳丢失"},
			},
		},
		Evidence: domain.Evidence{MetricsMissing: true},
	}
}

func TestPipeline_Run(t *testing.T) {
	Convey("TestPipeline_Run", t, func() {
		opts := Options{MinIndependentSignals: 2, GuardrailCeiling: 0.5, FallbackConfidenceCap: 0.45}

		Convey("五个阶段按序各产出一个制品", func() {
			pipeline := New(NewRuleEngine(), opts)

			result := pipeline.Run(context.Background(), cpuIncident())

			So(len(result.Artifacts), ShouldEqual, 5)
			for i, stage := range domain.StageOrder {
				So(result.Artifacts[i].Stage, ShouldEqual, stage)
				So(result.Artifacts[i].IncidentID, ShouldEqual, 42)
				So(len(result.Artifacts[i].Output), ShouldBeGreaterThan, 0)
			}
		})

		Convey("规则命中时不调用外部推理", func() {
			engine := &fakeEngine{response: json.RawMessage(`{"hypotheses":[]}`)}
			pipeline := New(engine, opts)

			result := pipeline.Run(context.Background(), cpuIncident())

			So(engine.calls, ShouldEqual, 0)
			So(result.Decision.RootCause, ShouldContainSubstring, "CPU")
		})

		Convey("证据充分时不进护栏，校准值不超过原始值", func() {
			pipeline := New(NewRuleEngine(), opts)

			decision := pipeline.Run(context.Background(), cpuIncident()).Decision

			// 事件簇 + 指标异常 + KB命中 + 多源佐证 = 4 个独立信号
			So(decision.IndependentSignals, ShouldEqual, 4)
			So(decision.GuardrailMode, ShouldBeFalse)
			So(decision.ConfidenceCalibrated, ShouldBeLessThanOrEqualTo, decision.ConfidenceRaw)
			So(decision.ConfidenceCalibrated, ShouldBeGreaterThan, 0)
		})

		Convey("独立信号不足进入护栏模式，校准值被压到上限以下", func() {
			pipeline := New(NewRuleEngine(), opts)

			decision := pipeline.Run(context.Background(), vagueIncident()).Decision

			So(decision.IndependentSignals, ShouldBeLessThan, 2)
			So(decision.GuardrailMode, ShouldBeTrue)
			So(decision.ConfidenceCalibrated, ShouldBeLessThanOrEqualTo, 0.5)
			So(decision.ConfidenceCalibrated, ShouldBeLessThanOrEqualTo, decision.ConfidenceRaw)
		})

		Convey("未配置外部推理时兜底假设置信度封顶", func() {
			pipeline := New(NewRuleEngine(), opts)

			result := pipeline.Run(context.Background(), vagueIncident())

			So(result.Decision.ConfidenceRaw, ShouldBeLessThanOrEqualTo, 0.45)
			// Hypothesis 阶段标记降级
			So(result.Artifacts[2].Stage, ShouldEqual, domain.StageHypothesis)
			So(result.Artifacts[2].Degraded, ShouldBeTrue)
		})

		Convey("外部推理失败退回规则推理，链路仍到达 Decision", func() {
			engine := &fakeEngine{err: errors.New("上游超时")}
			pipeline := New(engine, opts)

			result := pipeline.Run(context.Background(), vagueIncident())

			So(engine.calls, ShouldEqual, 1)
			So(len(result.Artifacts), ShouldEqual, 5)
			So(result.Artifacts[2].Degraded, ShouldBeTrue)
			So(result.Decision.ConfidenceRaw, ShouldBeLessThanOrEqualTo, 0.45)
		})

		Convey("外部推理成功时采用其假设", func() {
			engine := &fakeEngine{response: json.RawMessage(
				`{"hypotheses":[{"id":"h1","root_cause":"app09 心跳丢失源于服务进程退出","confidence":0.8,"evidence":["某服务心跳丢失"],"resolution":"重启服务进程"}]}`)}
			pipeline := New(engine, opts)

			result := pipeline.Run(context.Background(), vagueIncident())

			So(engine.calls, ShouldEqual, 1)
			So(result.Decision.RootCause, ShouldContainSubstring, "心跳丢失")
			So(result.Artifacts[2].Degraded, ShouldBeFalse)
		})

		Convey("同一输入多次运行结果一致", func() {
			pipeline := New(NewRuleEngine(), opts)

			first := pipeline.Run(context.Background(), cpuIncident()).Decision
			second := pipeline.Run(context.Background(), cpuIncident()).Decision

			So(second, ShouldResemble, first)
		})

		Convey("KB 命中时决策采用知识库处置方案", func() {
			pipeline := New(NewRuleEngine(), opts)

			decision := pipeline.Run(context.Background(), cpuIncident()).Decision

			So(decision.Resolution, ShouldEqual, "清理高负载进程")
		})

		Convey("ITSM 5W1H 块完整填充", func() {
			pipeline := New(NewRuleEngine(), opts)

			decision := pipeline.Run(context.Background(), cpuIncident()).Decision

			So(decision.ITSM.Where, ShouldEqual, "db01")
			So(decision.ITSM.Why, ShouldNotBeEmpty)
			So(decision.ITSM.How, ShouldNotBeEmpty)
			So(decision.ITSM.When, ShouldContainSubstring, "2025-01-15")
		})
	})
}

func TestCollect(t *testing.T) {
	Convey("TestCollect", t, func() {
		Convey("数据源与消息去重，取最高严重度", func() {
			facts := collect(cpuIncident())

			So(facts.EventCount, ShouldEqual, 2)
			So(facts.SourceCount, ShouldEqual, 2)
			So(facts.Sources, ShouldResemble, []string{"uptimerobot", "zabbix"})
			So(facts.MaxSeverity, ShouldEqual, "high")
			So(len(facts.Messages), ShouldEqual, 2)
		})

		Convey("降级源透传到事实集", func() {
			input := cpuIncident()
			input.DegradedSources = []string{"uptimerobot"}

			facts := collect(input)

			So(facts.DegradedSources, ShouldResemble, []string{"uptimerobot"})
		})
	})
}

func TestCrossCheck(t *testing.T) {
	Convey("TestCrossCheck", t, func() {
		Convey("同类重复信号去重计数", func() {
			facts := collect(cpuIncident())
			facts.Anomalies = append(facts.Anomalies,
				domain.AnomalyScore{MetricKey: "system.cpu.load", ZScore: 4.0})

			report := crossCheck(facts)

			// 两条指标异常只算一个独立信号
			So(report.IndependentSignals, ShouldEqual, 4)
			So(report.DroppedDuplicates, ShouldBeGreaterThanOrEqualTo, 2)
		})

		Convey("低偏离指标不计入信号", func() {
			facts := collect(vagueIncident())
			facts.Anomalies = []domain.AnomalyScore{{MetricKey: "system.cpu.util", ZScore: 0.5}}

			report := crossCheck(facts)

			for _, signal := range report.Signals {
				So(signal.Kind, ShouldNotEqual, "metric-anomaly")
			}
		})
	})
}

func TestRuleEngine_Evaluate(t *testing.T) {
	Convey("TestRuleEngine_Evaluate", t, func() {
		rules := NewRuleEngine()

		Convey("按规则表顺序返回全部命中", func() {
			facts := domain.FactSet{
				Messages:  []string{"High CPU on db01", "disk space low"},
				Anomalies: []domain.AnomalyScore{{MetricKey: "system.cpu.util"}},
			}

			hypotheses := rules.Evaluate(facts)

			So(len(hypotheses), ShouldEqual, 2)
			So(hypotheses[0].ID, ShouldEqual, "rule-cpu")
			So(hypotheses[1].ID, ShouldEqual, "rule-disk")
			So(hypotheses[0].RuleBased, ShouldBeTrue)
		})

		Convey("无命中返回兜底假设", func() {
			hypotheses := rules.Evaluate(domain.FactSet{PrimaryHost: "app09", Messages: []string{"某服务心跳丢失"}})

			So(len(hypotheses), ShouldEqual, 1)
			So(hypotheses[0].ID, ShouldEqual, "rule-generic")
			So(hypotheses[0].Confidence, ShouldBeLessThanOrEqualTo, 0.3)
		})

		Convey("Complete 输出合法 JSON", func() {
			raw, err := rules.Complete(context.Background(), "", domain.FactSet{Messages: []string{"ping 不可用"}})

			So(err, ShouldBeNil)
			var set domain.HypothesisSet
			So(json.Unmarshal(raw, &set), ShouldBeNil)
			So(len(set.Hypotheses), ShouldBeGreaterThan, 0)
		})

		Convey("Complete 载荷类型错误返回 error", func() {
			_, err := rules.Complete(context.Background(), "", "not-a-factset")

			So(err, ShouldNotBeNil)
		})
	})
}

func TestVerify(t *testing.T) {
	Convey("TestVerify", t, func() {
		consistency := domain.ConsistencyReport{Signals: []domain.Signal{
			{Kind: "event-cluster", Description: "主机 db01 在窗口内聚出 2 条事件，最高严重度 high：high cpu utilization on db01"},
			{Kind: "metric-anomaly", Description: "指标 system.cpu.util 偏离基线 6.5 个标准差（↑）"},
		}}

		Convey("有支撑的假设保留原置信度", func() {
			set := domain.HypothesisSet{Hypotheses: []domain.Hypothesis{
				{ID: "h1", RootCause: "CPU 负载过高", Confidence: 0.7, Evidence: []string{`事实文本命中模式 "cpu"`}},
			}}

			verdicts, winner, verdict := verify(set, consistency)

			So(len(verdicts), ShouldEqual, 1)
			So(verdict.Supported, ShouldBeTrue)
			So(verdict.SupportCount, ShouldBeGreaterThanOrEqualTo, 1)
			So(verdict.FinalConfidence, ShouldEqual, 0.7)
			So(winner.ID, ShouldEqual, "h1")
		})

		Convey("无支撑的假设降级折半", func() {
			set := domain.HypothesisSet{Hypotheses: []domain.Hypothesis{
				{ID: "h1", RootCause: "与事实无关的臆测根因", Confidence: 0.8, Evidence: []string{"凭空编造的证据文本"}},
			}}

			verdicts, _, verdict := verify(set, consistency)

			So(verdicts[0].Supported, ShouldBeFalse)
			So(verdict.FinalConfidence, ShouldEqual, 0.4)
			So(verdict.RejectionReason, ShouldNotBeEmpty)
		})

		Convey("受支撑者胜出，即使置信度更低", func() {
			set := domain.HypothesisSet{Hypotheses: []domain.Hypothesis{
				{ID: "h-unsupported", RootCause: "与事实无关的臆测根因", Confidence: 0.9, Evidence: []string{"凭空编造的证据文本"}},
				{ID: "h-supported", RootCause: "CPU 负载过高", Confidence: 0.6, Evidence: []string{`事实文本命中模式 "cpu"`}},
			}}

			_, winner, verdict := verify(set, consistency)

			So(winner.ID, ShouldEqual, "h-supported")
			So(verdict.Supported, ShouldBeTrue)
		})
	})
}

func TestSignalFactorMonotone(t *testing.T) {
	Convey("TestSignalFactorMonotone", t, func() {
		Convey("信号越多系数越高，上限为 1", func() {
			So(signalFactor(0), ShouldBeLessThan, signalFactor(1))
			So(signalFactor(1), ShouldBeLessThan, signalFactor(2))
			So(signalFactor(10), ShouldEqual, 1.0)
		})

		Convey("降级越多惩罚越重，下限 0.5", func() {
			So(degradationPenalty(0), ShouldEqual, 1.0)
			So(degradationPenalty(2), ShouldBeLessThan, degradationPenalty(1))
			So(degradationPenalty(100), ShouldEqual, 0.5)
		})
	})
}
