package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/oneops-ai/incident-rca/domain"
)

// ErrArchiveDisabled 未配置归档后端时的报告查询错误。
var ErrArchiveDisabled = errors.New("报告归档未启用")

// EventSource 统一的告警拉取接口。实现方负责把数据源原始格式
// 标准化为 domain.RawEvent；拉取失败由上层按降级策略处理。
type EventSource interface {
	// Name 数据源标识（进报告的 degraded_sources）
	Name() string
	// Fetch 拉取窗口内的事件
	Fetch(ctx context.Context, window domain.TimeRange) ([]domain.RawEvent, error)
}

// MetricSource 按主机拉取指标序列，供富化使用。
type MetricSource interface {
	// FetchMetrics 返回主机在窗口内的指标序列；主机不存在或无数据返回空切片，不报错
	FetchMetrics(ctx context.Context, host string, window domain.TimeRange) ([]domain.MetricSeries, error)
}

// ReasoningEngine 推理能力接口。两种实现：外部大模型、确定性规则。
// 构造期选定，流水线内不做运行时分支。
type ReasoningEngine interface {
	// Complete 输入系统提示词和结构化载荷，返回 JSON 结果
	Complete(ctx context.Context, systemPrompt string, payload interface{}) (json.RawMessage, error)
	// Remote 是否为外部推理服务（影响置信度上限）
	Remote() bool
}

// TicketClient 工单系统客户端。流程顺序由 module/ticket 控制，
// 客户端只暴露单步操作。
type TicketClient interface {
	UpdateSolution(ctx context.Context, requestID, text string) error
	AddTask(ctx context.Context, requestID, title string) (taskID string, err error)
	CloseTask(ctx context.Context, requestID, taskID string) error
	AddWorklog(ctx context.Context, requestID, text string) error
	CloseTicket(ctx context.Context, requestID string) error
}

// Notifier 结果通知出口（Teams Webhook 等）。
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// ReportRepository RCA 报告归档仓库。
type ReportRepository interface {
	Upsert(ctx context.Context, report domain.ArchivedReport) error
	QueryByIncidentIDs(ctx context.Context, ids []uint64) ([]domain.ArchivedReport, error)
	// SearchByCorrelationKey 按关联键查同一事件簇的历史归档，时间倒序
	SearchByCorrelationKey(ctx context.Context, key string, limit int) ([]domain.ArchivedReport, error)
}

// KBProvider 知识库读取口，支持热更新后的快照读取。
type KBProvider interface {
	Entries() []domain.KBEntry
}

// StreamMessage 从消息流消费到的一条原始告警。
type StreamMessage struct {
	Key       string
	Value     []byte
	Partition int32
	Offset    int64
	Timestamp time.Time
}

// StreamPublisher 发布原始告警到消息流（Webhook 接入路径）。
type StreamPublisher interface {
	PublishRawEvent(ctx context.Context, key string, value []byte) error
	Close() error
}

// StreamConsumer 顺序消费原始告警消息流。
type StreamConsumer interface {
	Consume(ctx context.Context, handler func(ctx context.Context, msg StreamMessage) error) error
	Close() error
}
