package opensearch

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
)

func newStoreWithServer(handler http.HandlerFunc) (*ReportStore, *httptest.Server) {
	server := httptest.NewServer(handler)
	store, _ := NewReportStore(Config{
		Hosts:   []string{server.URL},
		Timeout: 5 * time.Second,
	})
	return store, server
}

func TestNewReportStore(t *testing.T) {
	Convey("TestNewReportStore", t, func() {
		Convey("地址为空返回错误", func() {
			store, err := NewReportStore(Config{Hosts: []string{"", "   "}})

			So(err, ShouldNotBeNil)
			So(store, ShouldBeNil)
			So(err.Error(), ShouldContainSubstring, "归档地址列表为空")
		})

		Convey("带认证和超时的完整配置", func() {
			store, err := NewReportStore(Config{
				Hosts:    []string{"localhost:9200"},
				Username: "admin",
				Password: "admin123",
				Timeout:  30 * time.Second,
			})

			So(err, ShouldBeNil)
			So(store, ShouldNotBeNil)
		})
	})
}

func TestNormalizeHosts(t *testing.T) {
	Convey("TestNormalizeHosts", t, func() {
		Convey("补 http 前缀并去尾部斜杠", func() {
			hosts, err := normalizeHosts([]string{"  node1:9200/ ", "https://node2:9200//"})

			So(err, ShouldBeNil)
			So(hosts, ShouldResemble, []string{"http://node1:9200", "https://node2:9200"})
		})

		Convey("空白项被丢弃", func() {
			hosts, err := normalizeHosts([]string{"", "node1:9200", "\t"})

			So(err, ShouldBeNil)
			So(hosts, ShouldResemble, []string{"http://node1:9200"})
		})

		Convey("全为空返回错误", func() {
			hosts, err := normalizeHosts(nil)

			So(err, ShouldNotBeNil)
			So(hosts, ShouldBeNil)
		})
	})
}

func sampleReport(id uint64) domain.ArchivedReport {
	return domain.ArchivedReport{
		IncidentID:     id,
		CorrelationKey: "db01|2025-01-15T10:00",
		CreatedAt:      time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC),
		Report: domain.RCAReport{
			IncidentID:     id,
			CorrelationKey: "db01|2025-01-15T10:00",
			RCA: domain.RCABody{
				RootCause: "磁盘写满",
			},
		},
	}
}

func TestReportStore_Upsert(t *testing.T) {
	Convey("TestReportStore_Upsert", t, func() {
		Convey("按事件簇 ID 写入文档", func() {
			var capturedMethod, capturedPath string
			var capturedDoc domain.ArchivedReport

			store, server := newStoreWithServer(func(w http.ResponseWriter, r *http.Request) {
				capturedMethod = r.Method
				capturedPath = r.URL.Path
				body, _ := io.ReadAll(r.Body)
				_ = json.Unmarshal(body, &capturedDoc)
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"_index":"rca_report","_id":"42","result":"created"}`))
			})
			defer server.Close()

			err := store.Upsert(context.Background(), sampleReport(42))

			So(err, ShouldBeNil)
			So(capturedMethod, ShouldEqual, http.MethodPut)
			So(capturedPath, ShouldEqual, "/rca_report/_doc/42")
			So(capturedDoc.IncidentID, ShouldEqual, uint64(42))
			So(capturedDoc.Report.RCA.RootCause, ShouldEqual, "磁盘写满")
		})

		Convey("错误响应被解析为结构化错误", func() {
			store, server := newStoreWithServer(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":{"type":"mapper_parsing_exception","reason":"failed to parse"},"status":400}`))
			})
			defer server.Close()

			err := store.Upsert(context.Background(), sampleReport(42))

			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "failed to parse")
		})
	})
}

func TestReportStore_QueryByIncidentIDs(t *testing.T) {
	Convey("TestReportStore_QueryByIncidentIDs", t, func() {
		Convey("mget 查询并跳过未命中的文档", func() {
			store, server := newStoreWithServer(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"docs":[
					{"found":true,"_source":{"incident_id":42,"correlation_key":"db01|2025-01-15T10:00","report":{"incident_id":42,"rca":{"root_cause":"磁盘写满"}}}},
					{"found":false}
				]}`))
			})
			defer server.Close()

			reports, err := store.QueryByIncidentIDs(context.Background(), []uint64{42, 43})

			So(err, ShouldBeNil)
			So(len(reports), ShouldEqual, 1)
			So(reports[0].IncidentID, ShouldEqual, uint64(42))
		})

		Convey("空 ID 列表直接返回", func() {
			store, server := newStoreWithServer(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("不应该发起请求")
			})
			defer server.Close()

			reports, err := store.QueryByIncidentIDs(context.Background(), nil)

			So(err, ShouldBeNil)
			So(reports, ShouldBeNil)
		})

		Convey("索引不存在视为无归档", func() {
			store, server := newStoreWithServer(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"error":{"type":"index_not_found_exception","reason":"no such index"},"status":404}`))
			})
			defer server.Close()

			reports, err := store.QueryByIncidentIDs(context.Background(), []uint64{42})

			So(err, ShouldBeNil)
			So(reports, ShouldBeNil)
		})
	})
}

func TestReportStore_SearchByCorrelationKey(t *testing.T) {
	Convey("TestReportStore_SearchByCorrelationKey", t, func() {
		Convey("按关联键搜索", func() {
			var capturedQuery map[string]interface{}
			store, server := newStoreWithServer(func(w http.ResponseWriter, r *http.Request) {
				body, _ := io.ReadAll(r.Body)
				_ = json.Unmarshal(body, &capturedQuery)
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"hits":{"hits":[
					{"_source":{"incident_id":42,"correlation_key":"db01|2025-01-15T10:00"}}
				]}}`))
			})
			defer server.Close()

			reports, err := store.SearchByCorrelationKey(context.Background(), "db01|2025-01-15T10:00", 5)

			So(err, ShouldBeNil)
			So(len(reports), ShouldEqual, 1)
			So(capturedQuery["size"], ShouldEqual, 5)
		})

		Convey("空关联键直接返回", func() {
			store, server := newStoreWithServer(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("不应该发起请求")
			})
			defer server.Close()

			reports, err := store.SearchByCorrelationKey(context.Background(), "  ", 5)

			So(err, ShouldBeNil)
			So(reports, ShouldBeNil)
		})
	})
}
