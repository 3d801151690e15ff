package enrich

import (
	"context"
	"net"

	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"github.com/oneops-ai/incident-rca/domain"
	"github.com/oneops-ai/incident-rca/infra/log"
	"github.com/oneops-ai/incident-rca/infra/zabbix"
	"github.com/oneops-ai/incident-rca/utils/timex"
)

// 每台主机参与评分的监控项上限，避免 history.get 过量调用
const maxItemsPerHost = 30

// ZabbixMetricSource Zabbix 指标源。主机名解析失败时按 IP 兜底，
// 主机不存在或无监控项返回空结果，不报错。
type ZabbixMetricSource struct {
	client *zabbix.Client
}

// NewZabbixMetricSource 创建 Zabbix 指标源。
func NewZabbixMetricSource(client *zabbix.Client) *ZabbixMetricSource {
	return &ZabbixMetricSource{client: client}
}

// FetchMetrics 返回主机在窗口内的数值型指标序列。
func (s *ZabbixMetricSource) FetchMetrics(ctx context.Context, host string, window domain.TimeRange) ([]domain.MetricSeries, error) {
	if host == "" {
		return nil, nil
	}

	resolved, err := s.resolveHost(ctx, host)
	if err != nil {
		return nil, errors.Wrapf(err, "解析主机 %s 失败", host)
	}
	if resolved == nil {
		log.Infof("主机 %s 在 zabbix 中不存在，跳过指标富化", host)
		return nil, nil
	}

	items, err := s.client.Items(ctx, resolved.HostID)
	if err != nil {
		return nil, errors.Wrapf(err, "拉取主机 %s 监控项失败", host)
	}
	if len(items) > maxItemsPerHost {
		items = items[:maxItemsPerHost]
	}

	var series []domain.MetricSeries
	for _, item := range items {
		points, err := s.client.History(ctx, item.ItemID, item.ValueTypeInt(), window.Start, window.End)
		if err != nil {
			// 单个监控项失败只记日志，不影响其他监控项
			log.Warnf("拉取监控项 %s(%s) 历史失败: %v", item.Name, item.ItemID, err)
			continue
		}
		if len(points) == 0 {
			continue
		}

		samples := make([]domain.MetricSample, 0, len(points))
		for _, point := range points {
			ts, ok := timex.ParseFlexible(point.Clock)
			if !ok {
				continue
			}
			samples = append(samples, domain.MetricSample{
				Host:      host,
				MetricKey: item.Key,
				Timestamp: ts,
				Value:     cast.ToFloat64(point.Value),
			})
		}
		if len(samples) == 0 {
			continue
		}
		series = append(series, domain.MetricSeries{
			Key:     item.Key,
			Name:    item.Name,
			Units:   item.Units,
			Samples: samples,
		})
	}
	return series, nil
}

// resolveHost 先按主机名查，查不到且形如 IP 时按接口地址兜底。
func (s *ZabbixMetricSource) resolveHost(ctx context.Context, host string) (*zabbix.Host, error) {
	resolved, err := s.client.HostByName(ctx, host)
	if err != nil {
		return nil, err
	}
	if resolved != nil {
		return resolved, nil
	}
	if net.ParseIP(host) != nil {
		return s.client.HostByIP(ctx, host)
	}
	return nil, nil
}
