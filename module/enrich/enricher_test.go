package enrich

import (
	"context"
	"math"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/oneops-ai/incident-rca/domain"
)

// fakeMetricSource 固定返回预置序列
type fakeMetricSource struct {
	series []domain.MetricSeries
	err    error

	gotHost   string
	gotWindow domain.TimeRange
}

func (f *fakeMetricSource) FetchMetrics(_ context.Context, host string, window domain.TimeRange) ([]domain.MetricSeries, error) {
	f.gotHost = host
	f.gotWindow = window
	return f.series, f.err
}

func at(minute int) time.Time {
	return time.Date(2025, 1, 15, 10, minute, 0, 0, time.UTC)
}

// flatThenSpike 基线平稳、故障后突增的序列
func flatThenSpike(key string, baselineEnd time.Time, base, spike float64) domain.MetricSeries {
	var samples []domain.MetricSample
	for i := 10; i >= 1; i-- {
		samples = append(samples, domain.MetricSample{
			MetricKey: key,
			Timestamp: baselineEnd.Add(-time.Duration(i) * time.Minute),
			Value:     base + float64(i%3), // 基线有少量波动
		})
	}
	for i := 0; i < 3; i++ {
		samples = append(samples, domain.MetricSample{
			MetricKey: key,
			Timestamp: baselineEnd.Add(time.Duration(i) * time.Minute),
			Value:     spike,
		})
	}
	return domain.MetricSeries{Key: key, Name: key, Samples: samples}
}

func incidentAt(host string, startMinute int) domain.Incident {
	return domain.Incident{
		IncidentID:  42,
		PrimaryHost: host,
		Span:        domain.TimeRange{Start: at(startMinute), End: at(startMinute + 5)},
	}
}

func TestEnricher_Enrich(t *testing.T) {
	Convey("TestEnricher_Enrich", t, func() {
		incident := incidentAt("db01", 20)

		Convey("突增指标得到正向高分并标记上升趋势", func() {
			source := &fakeMetricSource{series: []domain.MetricSeries{
				flatThenSpike("system.cpu.util", at(20), 10, 95),
			}}
			enricher := NewEnricher(source, 20*time.Minute, 5)

			evidence, err := enricher.Enrich(context.Background(), incident)

			So(err, ShouldBeNil)
			So(evidence.MetricsMissing, ShouldBeFalse)
			So(len(evidence.Anomalies), ShouldEqual, 1)
			So(evidence.Anomalies[0].MetricKey, ShouldEqual, "system.cpu.util")
			So(evidence.Anomalies[0].ZScore, ShouldBeGreaterThan, 3)
			So(evidence.Anomalies[0].Trend, ShouldEqual, "↑")
			So(evidence.Anomalies[0].Latest, ShouldEqual, 95)
		})

		Convey("按 |z-score| 降序取 Top-N", func() {
			source := &fakeMetricSource{series: []domain.MetricSeries{
				flatThenSpike("metric.small", at(20), 10, 15),
				flatThenSpike("metric.big", at(20), 10, 200),
				flatThenSpike("metric.mid", at(20), 10, 60),
			}}
			enricher := NewEnricher(source, 20*time.Minute, 2)

			evidence, err := enricher.Enrich(context.Background(), incident)

			So(err, ShouldBeNil)
			So(len(evidence.Anomalies), ShouldEqual, 2)
			So(evidence.Anomalies[0].MetricKey, ShouldEqual, "metric.big")
			So(evidence.Anomalies[1].MetricKey, ShouldEqual, "metric.mid")
		})

		Convey("下降指标得到负分和下降趋势", func() {
			source := &fakeMetricSource{series: []domain.MetricSeries{
				flatThenSpike("vfs.fs.size.free", at(20), 80, 2),
			}}
			enricher := NewEnricher(source, 20*time.Minute, 5)

			evidence, _ := enricher.Enrich(context.Background(), incident)

			So(len(evidence.Anomalies), ShouldEqual, 1)
			So(evidence.Anomalies[0].ZScore, ShouldBeLessThan, -3)
			So(evidence.Anomalies[0].Trend, ShouldEqual, "↓")
		})

		Convey("无指标数据标记 MetricsMissing，不报错", func() {
			source := &fakeMetricSource{}
			enricher := NewEnricher(source, 20*time.Minute, 5)

			evidence, err := enricher.Enrich(context.Background(), incident)

			So(err, ShouldBeNil)
			So(evidence.MetricsMissing, ShouldBeTrue)
			So(evidence.Anomalies, ShouldBeEmpty)
		})

		Convey("无主机的事件簇直接标记缺失", func() {
			source := &fakeMetricSource{}
			enricher := NewEnricher(source, 20*time.Minute, 5)

			evidence, err := enricher.Enrich(context.Background(), incidentAt("", 20))

			So(err, ShouldBeNil)
			So(evidence.MetricsMissing, ShouldBeTrue)
			// 无主机不发起拉取
			So(source.gotHost, ShouldEqual, "")
		})

		Convey("拉取窗口按基线时长向前填充", func() {
			source := &fakeMetricSource{}
			enricher := NewEnricher(source, 20*time.Minute, 5)

			_, _ = enricher.Enrich(context.Background(), incident)

			So(source.gotHost, ShouldEqual, "db01")
			So(source.gotWindow.Start.Equal(at(0)), ShouldBeTrue)
			So(source.gotWindow.End.After(incident.Span.End), ShouldBeTrue)
		})

		Convey("基线采样不足的序列不参与评分", func() {
			source := &fakeMetricSource{series: []domain.MetricSeries{
				{Key: "metric.sparse", Samples: []domain.MetricSample{
					{Timestamp: at(21), Value: 99},
					{Timestamp: at(22), Value: 98},
				}},
			}}
			enricher := NewEnricher(source, 20*time.Minute, 5)

			evidence, err := enricher.Enrich(context.Background(), incident)

			So(err, ShouldBeNil)
			So(evidence.Anomalies, ShouldBeEmpty)
			So(evidence.SampleCount, ShouldEqual, 2)
		})
	})
}

func TestMeanStddev(t *testing.T) {
	Convey("TestMeanStddev", t, func() {
		Convey("常规序列", func() {
			mean, stddev := meanStddev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
			So(mean, ShouldEqual, 5)
			So(math.Abs(stddev-2), ShouldBeLessThan, 1e-9)
		})

		Convey("恒定序列标准差为零", func() {
			_, stddev := meanStddev([]float64{3, 3, 3})
			So(stddev, ShouldEqual, 0)
		})
	})
}
