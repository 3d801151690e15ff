package enrich

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/oneops-ai/incident-rca/domain"
	"github.com/oneops-ai/incident-rca/infra/cache"
	"github.com/oneops-ai/incident-rca/infra/zabbix"
)

// rpcDispatch 按 method 分发的 JSON-RPC 测试服务
func rpcDispatch(results map[string]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Method string `json:"method"`
		}
		_ = json.Unmarshal(body, &req)

		result, ok := results[req.Method]
		if !ok {
			result = "[]"
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","result":` + result + `,"id":1}`))
	}
}

func newZabbixSource(serverURL string) *ZabbixMetricSource {
	client := zabbix.NewClient(zabbix.Config{
		URL:     serverURL,
		Token:   "test-token",
		Timeout: 5 * time.Second,
		TTL:     time.Minute,
	}, cache.NewLoader(cache.NewMemoryStore()))
	return NewZabbixMetricSource(client)
}

func TestZabbixMetricSource_FetchMetrics(t *testing.T) {
	Convey("TestZabbixMetricSource_FetchMetrics", t, func() {
		window := domain.TimeRange{
			Start: time.Unix(1736935000, 0),
			End:   time.Unix(1736936000, 0),
		}

		Convey("主机存在时返回指标序列", func() {
			server := httptest.NewServer(rpcDispatch(map[string]string{
				"host.get": `[{"hostid":"10084","host":"db01","name":"DB Primary"}]`,
				"item.get": `[{"itemid":"301","name":"CPU utilization","key_":"system.cpu.util","units":"%","value_type":"0","lastvalue":"93.5"}]`,
				"history.get": `[
					{"itemid":"301","clock":"1736935200","value":"41.2"},
					{"itemid":"301","clock":"1736935260","value":"93.5"}
				]`,
			}))
			defer server.Close()

			series, err := newZabbixSource(server.URL).FetchMetrics(context.Background(), "db01", window)

			So(err, ShouldBeNil)
			So(len(series), ShouldEqual, 1)
			So(series[0].Key, ShouldEqual, "system.cpu.util")
			So(series[0].Units, ShouldEqual, "%")
			So(len(series[0].Samples), ShouldEqual, 2)
			So(series[0].Samples[1].Value, ShouldEqual, 93.5)
			So(series[0].Samples[0].Host, ShouldEqual, "db01")
		})

		Convey("主机不存在返回空结果不报错", func() {
			server := httptest.NewServer(rpcDispatch(nil))
			defer server.Close()

			series, err := newZabbixSource(server.URL).FetchMetrics(context.Background(), "ghost01", window)

			So(err, ShouldBeNil)
			So(series, ShouldBeEmpty)
		})

		Convey("无历史采样的监控项被跳过", func() {
			server := httptest.NewServer(rpcDispatch(map[string]string{
				"host.get": `[{"hostid":"10084","host":"db01","name":"DB Primary"}]`,
				"item.get": `[{"itemid":"301","name":"CPU utilization","key_":"system.cpu.util","units":"%","value_type":"0"}]`,
			}))
			defer server.Close()

			series, err := newZabbixSource(server.URL).FetchMetrics(context.Background(), "db01", window)

			So(err, ShouldBeNil)
			So(series, ShouldBeEmpty)
		})

		Convey("空主机直接返回空", func() {
			server := httptest.NewServer(rpcDispatch(nil))
			defer server.Close()

			series, err := newZabbixSource(server.URL).FetchMetrics(context.Background(), "", window)

			So(err, ShouldBeNil)
			So(series, ShouldBeEmpty)
		})
	})
}
