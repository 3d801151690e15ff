package ingest

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/oneops-ai/incident-rca/domain"
	"github.com/oneops-ai/incident-rca/infra/log"
	"github.com/oneops-ai/incident-rca/infra/zabbix"
	"github.com/oneops-ai/incident-rca/utils/timex"
)

// ZabbixSource Zabbix 数据源适配。problem.get 拉取窗口内的问题，
// 再按事件查关联主机（查询结果都走 TTL 缓存）。
type ZabbixSource struct {
	client *zabbix.Client
}

// NewZabbixSource 创建 Zabbix 数据源。
func NewZabbixSource(client *zabbix.Client) *ZabbixSource {
	return &ZabbixSource{client: client}
}

// Name 数据源标识。
func (s *ZabbixSource) Name() string {
	return domain.SourceZabbix
}

// Fetch 拉取窗口内的问题事件并标准化。
func (s *ZabbixSource) Fetch(ctx context.Context, window domain.TimeRange) ([]domain.RawEvent, error) {
	problems, err := s.client.Problems(ctx, window.Start, window.End)
	if err != nil {
		return nil, errors.Wrap(err, "拉取 zabbix 问题列表失败")
	}

	events := make([]domain.RawEvent, 0, len(problems))
	for _, problem := range problems {
		ts, ok := timex.ParseFlexible(problem.Clock)
		if !ok {
			log.Warnf("zabbix 事件时间无法解析，跳过: eventid=%s clock=%s", problem.EventID, problem.Clock)
			continue
		}
		if !window.Contains(ts) {
			continue
		}

		// 主机名从事件详情取，取不到按无主机事件处理
		hostKey := ""
		if event, err := s.client.EventByID(ctx, problem.EventID); err != nil {
			log.Warnf("查询 zabbix 事件主机失败: eventid=%s err=%v", problem.EventID, err)
		} else if event != nil && len(event.Hosts) > 0 {
			hostKey = event.Hosts[0].Host
		}

		status := domain.EventStatusOpen
		if problem.RClock != "" && problem.RClock != "0" {
			status = domain.EventStatusResolved
		}

		events = append(events, domain.RawEvent{
			SourceID:   domain.SourceZabbix,
			ProviderID: problem.EventID,
			HostKey:    hostKey,
			Timestamp:  ts,
			Severity:   strings.ToLower(zabbix.SeverityName(problem.Severity)),
			Message:    problem.Name,
			Status:     status,
		})
	}
	return events, nil
}
