package report

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/oneops-ai/incident-rca/domain"
)

func at(minute int) time.Time {
	return time.Date(2025, 1, 15, 3, minute, 0, 0, time.UTC)
}

func sampleInput() Input {
	return Input{
		Incident: domain.Incident{
			IncidentID:     42,
			CorrelationKey: "db01:1736900400",
			Span:           domain.TimeRange{Start: at(0), End: at(7)},
			PrimaryHost:    "db01",
			Events: []domain.RawEvent{
				{SourceID: "uptimerobot", Severity: "high", Message: "db01 不可用", Timestamp: at(7)},
				{SourceID: "zabbix", Severity: "high", Message: "High CPU on db01", Timestamp: at(0)},
			},
		},
		KBMatch: domain.KBMatch{KBID: "kb-001", Score: 0.42, Matched: true},
		Decision: domain.Decision{
			RootCause:            "CPU 负载过高",
			ContributingFactors:  []string{"指标 system.cpu.util 偏离基线 6.5σ（↑）"},
			Impact:               "db01 受影响",
			Resolution:           "清理高负载进程",
			LessonsLearned:       "完善监控覆盖",
			ActionableSteps:      []string{"top 定位高 CPU 进程"},
			ConfidenceRaw:        0.7,
			ConfidenceCalibrated: 0.63,
		},
		Counts: domain.CorrelationCounts{Events: 2, Sources: 2, Incidents: 1},
	}
}

func TestComposer_Compose(t *testing.T) {
	Convey("TestComposer_Compose", t, func() {
		composer := NewComposer("+07:00")

		Convey("结构化报告字段完整", func() {
			report := composer.Compose(sampleInput())

			So(report.IncidentID, ShouldEqual, 42)
			So(report.CorrelationKey, ShouldEqual, "db01:1736900400")
			So(report.RCA.RootCause, ShouldEqual, "CPU 负载过高")
			So(report.RCA.Metadata.ConfidenceCalibrated, ShouldEqual, 0.63)
			So(report.RCA.Metadata.KBID, ShouldEqual, "kb-001")
			So(report.RCA.Metadata.CorrelationCounts.Events, ShouldEqual, 2)
		})

		Convey("时间线按时间升序并渲染到固定偏移时区", func() {
			report := composer.Compose(sampleInput())

			So(len(report.RCA.Timeline), ShouldEqual, 2)
			// UTC 03:00 在 +07:00 显示为 10:00
			So(report.RCA.Timeline[0].Time, ShouldEqual, "2025-01-15 10:00:00 +07:00")
			So(report.RCA.Timeline[0].Event, ShouldContainSubstring, "High CPU on db01")
			So(report.RCA.Timeline[1].Event, ShouldContainSubstring, "db01 不可用")
		})

		Convey("Markdown 摘要由结构化报告派生", func() {
			report := composer.Compose(sampleInput())

			So(report.SummaryMarkdown, ShouldContainSubstring, "# RCA 报告 · 事件簇 42")
			So(report.SummaryMarkdown, ShouldContainSubstring, "CPU 负载过高")
			So(report.SummaryMarkdown, ShouldContainSubstring, "kb-001")
			So(report.SummaryMarkdown, ShouldContainSubstring, "0.63")
		})

		Convey("相同输入装配结果一致", func() {
			first := composer.Compose(sampleInput())
			second := composer.Compose(sampleInput())

			So(second, ShouldResemble, first)
		})

		Convey("工单状态渲染进摘要", func() {
			input := sampleInput()
			input.TicketState = &domain.TicketState{
				RequestID: "12345",
				Steps: []domain.TicketStepResult{
					{Step: domain.TicketStepUpdateSolution, Completed: true},
					{Step: domain.TicketStepAddTask, Completed: false, Error: "上游 500"},
				},
			}

			report := composer.Compose(input)

			So(report.RCA.Metadata.TicketState, ShouldNotBeNil)
			So(report.SummaryMarkdown, ShouldContainSubstring, "12345")
			So(report.SummaryMarkdown, ShouldContainSubstring, "update-solution✓")
			So(report.SummaryMarkdown, ShouldContainSubstring, "add-task✗")
		})

		Convey("护栏与降级标记渲染进摘要", func() {
			input := sampleInput()
			input.Decision.GuardrailMode = true
			input.DegradedSources = []string{"uptimerobot"}
			input.Evidence.MetricsMissing = true

			report := composer.Compose(input)

			So(report.RCA.Metadata.GuardrailMode, ShouldBeTrue)
			So(report.SummaryMarkdown, ShouldContainSubstring, "护栏模式")
			So(report.SummaryMarkdown, ShouldContainSubstring, "降级数据源: uptimerobot")
			So(report.SummaryMarkdown, ShouldContainSubstring, "指标数据缺失")
		})

		Convey("未命中知识库时相似度仍然上报", func() {
			input := sampleInput()
			input.KBMatch = domain.KBMatch{Score: 0.12, Matched: false}

			report := composer.Compose(input)

			So(report.RCA.Metadata.KBID, ShouldEqual, "")
			So(report.RCA.Metadata.KBMatchScore, ShouldEqual, 0.12)
			So(report.SummaryMarkdown, ShouldContainSubstring, "未达阈值")
		})
	})
}
