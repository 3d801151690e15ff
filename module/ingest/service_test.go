package ingest

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/oneops-ai/incident-rca/core"
	"github.com/oneops-ai/incident-rca/domain"
)

// fakeSource 测试用数据源
type fakeSource struct {
	name      string
	events    []domain.RawEvent
	failTimes int32 // 前 N 次调用失败
	calls     int32
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(_ context.Context, window domain.TimeRange) ([]domain.RawEvent, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= atomic.LoadInt32(&f.failTimes) {
		return nil, errors.New("数据源暂时不可用")
	}
	var out []domain.RawEvent
	for _, event := range f.events {
		if window.Contains(event.Timestamp) {
			out = append(out, event)
		}
	}
	return out, nil
}

func at(minute int) time.Time {
	return time.Date(2025, 1, 15, 10, minute, 0, 0, time.UTC)
}

func TestService_FetchAll(t *testing.T) {
	Convey("TestService_FetchAll", t, func() {
		window := domain.TimeRange{Start: at(0), End: at(59)}

		Convey("多数据源合并并按时间排序", func() {
			s1 := &fakeSource{name: "zabbix", events: []domain.RawEvent{
				{SourceID: "zabbix", ProviderID: "2", Timestamp: at(20)},
				{SourceID: "zabbix", ProviderID: "1", Timestamp: at(5)},
			}}
			s2 := &fakeSource{name: "uptimerobot", events: []domain.RawEvent{
				{SourceID: "uptimerobot", ProviderID: "9", Timestamp: at(10)},
			}}

			service := NewService([]core.EventSource{s1, s2}, 3)
			events, degraded := service.FetchAll(context.Background(), window)

			So(len(events), ShouldEqual, 3)
			So(degraded, ShouldBeEmpty)
			So(events[0].ProviderID, ShouldEqual, "1")
			So(events[1].ProviderID, ShouldEqual, "9")
			So(events[2].ProviderID, ShouldEqual, "2")
		})

		Convey("瞬时失败在重试内恢复", func() {
			flaky := &fakeSource{name: "zabbix", failTimes: 2, events: []domain.RawEvent{
				{SourceID: "zabbix", ProviderID: "1", Timestamp: at(5)},
			}}

			service := NewService([]core.EventSource{flaky}, 3)
			events, degraded := service.FetchAll(context.Background(), window)

			So(len(events), ShouldEqual, 1)
			So(degraded, ShouldBeEmpty)
			So(atomic.LoadInt32(&flaky.calls), ShouldEqual, 3)
		})

		Convey("持续失败的数据源降级，其余数据源正常返回", func() {
			dead := &fakeSource{name: "uptimerobot", failTimes: 100}
			alive := &fakeSource{name: "zabbix", events: []domain.RawEvent{
				{SourceID: "zabbix", ProviderID: "1", Timestamp: at(5)},
			}}

			service := NewService([]core.EventSource{dead, alive}, 2)
			events, degraded := service.FetchAll(context.Background(), window)

			So(len(events), ShouldEqual, 1)
			So(degraded, ShouldResemble, []string{"uptimerobot"})
			// 降级源按配置尝试了 2 次
			So(atomic.LoadInt32(&dead.calls), ShouldEqual, 2)
		})

		Convey("窗口外的事件被过滤", func() {
			src := &fakeSource{name: "zabbix", events: []domain.RawEvent{
				{SourceID: "zabbix", ProviderID: "in", Timestamp: at(30)},
				{SourceID: "zabbix", ProviderID: "out", Timestamp: time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)},
			}}

			service := NewService([]core.EventSource{src}, 1)
			events, _ := service.FetchAll(context.Background(), window)

			So(len(events), ShouldEqual, 1)
			So(events[0].ProviderID, ShouldEqual, "in")
		})

		Convey("同一时刻的事件按 ProviderID 稳定排序", func() {
			src := &fakeSource{name: "zabbix", events: []domain.RawEvent{
				{SourceID: "zabbix", ProviderID: "b", Timestamp: at(5)},
				{SourceID: "zabbix", ProviderID: "a", Timestamp: at(5)},
			}}

			service := NewService([]core.EventSource{src}, 1)
			events, _ := service.FetchAll(context.Background(), window)

			So(events[0].ProviderID, ShouldEqual, "a")
			So(events[1].ProviderID, ShouldEqual, "b")
		})
	})
}
