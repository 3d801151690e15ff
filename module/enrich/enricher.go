package enrich

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/oneops-ai/incident-rca/core"
	"github.com/oneops-ai/incident-rca/domain"
	"github.com/oneops-ai/incident-rca/infra/log"
)

// 基线标准差过小（恒定指标）时的兜底，避免除零放大噪声
const minBaselineStddev = 1e-9

// 趋势判定阈值：窗口均值相对基线均值的偏离超过半个标准差
const trendThresholdStddev = 0.5

// Enricher 指标富化。对事件簇主机拉取扩展窗口内的指标序列，
// 用事件前基线的均值/标准差算 z-score，取绝对值 Top-N 作为异常证据。
// 无指标数据不是错误，MetricsMissing 标记进报告元数据。
type Enricher struct {
	source   core.MetricSource
	lookback time.Duration // 事件前基线时长，同时作为窗口前向填充
	topN     int
}

// NewEnricher 创建富化器。
func NewEnricher(source core.MetricSource, lookback time.Duration, topN int) *Enricher {
	if topN <= 0 {
		topN = 5
	}
	return &Enricher{source: source, lookback: lookback, topN: topN}
}

// Enrich 对单个事件簇做指标富化。
func (e *Enricher) Enrich(ctx context.Context, incident domain.Incident) (domain.Evidence, error) {
	evidence := domain.Evidence{IncidentID: incident.IncidentID}
	if incident.PrimaryHost == "" {
		evidence.MetricsMissing = true
		return evidence, nil
	}

	// 扩展窗口 = [span.Start - lookback, span.End + lookback/2]
	// 前段作基线，后段观察故障后的走势
	window := domain.TimeRange{
		Start: incident.Span.Start.Add(-e.lookback),
		End:   incident.Span.End.Add(e.lookback / 2),
	}
	series, err := e.source.FetchMetrics(ctx, incident.PrimaryHost, window)
	if err != nil {
		return evidence, err
	}
	if len(series) == 0 {
		log.Infof("事件簇 %d 主机 %s 无指标数据", incident.IncidentID, incident.PrimaryHost)
		evidence.MetricsMissing = true
		return evidence, nil
	}

	baselineEnd := incident.Span.Start
	var anomalies []domain.AnomalyScore
	for _, s := range series {
		evidence.SampleCount += len(s.Samples)
		if score, ok := scoreSeries(s, baselineEnd, window); ok {
			anomalies = append(anomalies, score)
		}
	}
	if len(anomalies) == 0 {
		evidence.MetricsMissing = evidence.SampleCount == 0
		return evidence, nil
	}

	sort.SliceStable(anomalies, func(i, j int) bool {
		zi, zj := math.Abs(anomalies[i].ZScore), math.Abs(anomalies[j].ZScore)
		if zi == zj {
			return anomalies[i].MetricKey < anomalies[j].MetricKey
		}
		return zi > zj
	})
	if len(anomalies) > e.topN {
		anomalies = anomalies[:e.topN]
	}
	evidence.Anomalies = anomalies
	return evidence, nil
}

// scoreSeries 用 baselineEnd 之前的采样作基线，之后的采样作观察窗，
// 计算观察窗均值相对基线的 z-score。任一侧无采样则无法评分。
func scoreSeries(s domain.MetricSeries, baselineEnd time.Time, window domain.TimeRange) (domain.AnomalyScore, bool) {
	var baseline, observed []float64
	var latest domain.MetricSample
	for _, sample := range s.Samples {
		if sample.Timestamp.After(latest.Timestamp) {
			latest = sample
		}
		if sample.Timestamp.Before(baselineEnd) {
			baseline = append(baseline, sample.Value)
		} else {
			observed = append(observed, sample.Value)
		}
	}
	if len(baseline) < 2 || len(observed) == 0 {
		return domain.AnomalyScore{}, false
	}

	baseMean, baseStddev := meanStddev(baseline)
	if baseStddev < minBaselineStddev {
		baseStddev = minBaselineStddev
	}
	obsMean, _ := meanStddev(observed)
	z := (obsMean - baseMean) / baseStddev

	return domain.AnomalyScore{
		MetricKey:      s.Key,
		MetricName:     s.Name,
		Units:          s.Units,
		ZScore:         z,
		BaselineMean:   baseMean,
		BaselineStddev: baseStddev,
		Latest:         latest.Value,
		Trend:          trendArrow(z),
		WindowStart:    window.Start,
		WindowEnd:      window.End,
	}, true
}

func trendArrow(z float64) string {
	switch {
	case z > trendThresholdStddev:
		return "↑"
	case z < -trendThresholdStddev:
		return "↓"
	default:
		return "→"
	}
}

func meanStddev(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}
