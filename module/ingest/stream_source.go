package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/oneops-ai/incident-rca/core"
	"github.com/oneops-ai/incident-rca/domain"
	"github.com/oneops-ai/incident-rca/infra/log"
)

// 流式缓冲的默认上限，超过后淘汰最旧的事件
const defaultStreamBufferSize = 10000

// StreamSource 消息流数据源。Webhook 接入的事件经消息流落到
// 进程内环形缓冲，Fetch 时按窗口过滤返回。消费和拉取解耦：
// serve 模式下 Run 常驻消费，批处理时 Fetch 只读缓冲。
type StreamSource struct {
	consumer core.StreamConsumer

	mu      sync.RWMutex
	buffer  []domain.RawEvent
	maxSize int
}

// NewStreamSource 创建消息流数据源。
func NewStreamSource(consumer core.StreamConsumer) *StreamSource {
	return &StreamSource{
		consumer: consumer,
		maxSize:  defaultStreamBufferSize,
	}
}

// Name 数据源标识。
func (s *StreamSource) Name() string {
	return domain.SourceWebhook
}

// Run 常驻消费消息流直到 ctx 取消。坏消息记日志丢弃，不中断消费。
func (s *StreamSource) Run(ctx context.Context) error {
	return s.consumer.Consume(ctx, func(ctx context.Context, msg core.StreamMessage) error {
		var event domain.RawEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			log.Warnf("消息流事件解析失败，丢弃: offset=%d err=%v", msg.Offset, err)
			return nil
		}
		if event.Timestamp.IsZero() {
			event.Timestamp = msg.Timestamp.UTC()
		}
		if event.SourceID == "" {
			event.SourceID = domain.SourceWebhook
		}
		s.append(event)
		return nil
	})
}

// Fetch 返回缓冲中落在窗口内的事件。
func (s *StreamSource) Fetch(_ context.Context, window domain.TimeRange) ([]domain.RawEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []domain.RawEvent
	for _, event := range s.buffer {
		if window.Contains(event.Timestamp) {
			events = append(events, event)
		}
	}
	return events, nil
}

// Close 关闭底层消费者。
func (s *StreamSource) Close() error {
	return s.consumer.Close()
}

func (s *StreamSource) append(event domain.RawEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffer = append(s.buffer, event)
	if len(s.buffer) > s.maxSize {
		s.buffer = s.buffer[len(s.buffer)-s.maxSize:]
	}
}

// Prune 丢弃早于 cutoff 的缓冲事件，serve 模式下周期调用。
func (s *StreamSource) Prune(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.buffer[:0]
	for _, event := range s.buffer {
		if !event.Timestamp.Before(cutoff) {
			kept = append(kept, event)
		}
	}
	s.buffer = kept
}
