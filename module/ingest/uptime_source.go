package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/oneops-ai/incident-rca/domain"
	"github.com/oneops-ai/incident-rca/infra/uptimerobot"
)

// UptimeRobotSource UptimeRobot 数据源适配。
// 监控日志里窗口内的 down/up 变更标准化为事件。
type UptimeRobotSource struct {
	client *uptimerobot.Client
}

// NewUptimeRobotSource 创建 UptimeRobot 数据源。
func NewUptimeRobotSource(client *uptimerobot.Client) *UptimeRobotSource {
	return &UptimeRobotSource{client: client}
}

// Name 数据源标识。
func (s *UptimeRobotSource) Name() string {
	return domain.SourceUptimeRobot
}

// Fetch 拉取窗口内的监控状态变更并标准化。
func (s *UptimeRobotSource) Fetch(ctx context.Context, window domain.TimeRange) ([]domain.RawEvent, error) {
	monitors, err := s.client.GetMonitors(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "拉取 uptimerobot 监控列表失败")
	}

	var events []domain.RawEvent
	for _, monitor := range monitors {
		for _, entry := range monitor.Logs {
			ts := time.Unix(entry.Datetime, 0).UTC()
			if !window.Contains(ts) {
				continue
			}

			severity := "high"
			status := domain.EventStatusOpen
			message := fmt.Sprintf("%s 不可用", monitor.FriendlyName)
			if entry.Type == uptimerobot.LogTypeUp {
				severity = "information"
				status = domain.EventStatusResolved
				message = fmt.Sprintf("%s 恢复可用", monitor.FriendlyName)
			}
			if entry.Reason.Detail != "" {
				message += "（" + entry.Reason.Detail + "）"
			}

			events = append(events, domain.RawEvent{
				SourceID:   domain.SourceUptimeRobot,
				ProviderID: fmt.Sprintf("%d-%d", monitor.ID, entry.Datetime),
				HostKey:    monitor.FriendlyName,
				Timestamp:  ts,
				Severity:   severity,
				Message:    message,
				Status:     status,
			})
		}
	}
	return events, nil
}
