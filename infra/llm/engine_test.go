package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/oneops-ai/incident-rca/infra/cache"
)

// chatHandler OpenAI 兼容的测试服务，content 为返回的消息内容
func chatHandler(calls *int32, content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		w.Header().Set("Content-Type", "application/json")
		body := map[string]interface{}{
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"choices": []map[string]interface{}{
				{
					"index":         0,
					"message":       map[string]string{"role": "assistant", "content": content},
					"finish_reason": "stop",
				},
			},
		}
		_ = json.NewEncoder(w).Encode(body)
	}
}

func newTestEngine(serverURL string, calls *int32, content string) (*Engine, *httptest.Server) {
	server := httptest.NewServer(chatHandler(calls, content))
	engine := NewEngine(Config{
		URL:     server.URL + "/v1",
		APIKey:  "sk-test",
		Model:   "gpt-4o-mini",
		Timeout: 5 * time.Second,
		TTL:     time.Minute,
	}, cache.NewLoader(cache.NewMemoryStore()))
	return engine, server
}

func TestEngine_Complete(t *testing.T) {
	Convey("TestEngine_Complete", t, func() {
		ctx := context.Background()

		Convey("返回模型输出的 JSON", func() {
			var calls int32
			engine, server := newTestEngine("", &calls, `{"root_cause":"磁盘写满","confidence":0.8}`)
			defer server.Close()

			out, err := engine.Complete(ctx, "你是 RCA 分析助手", map[string]string{"incident": "db01 disk full"})

			So(err, ShouldBeNil)
			var parsed map[string]interface{}
			So(json.Unmarshal(out, &parsed), ShouldBeNil)
			So(parsed["root_cause"], ShouldEqual, "磁盘写满")
		})

		Convey("请求携带 system 和 user 两条消息", func() {
			var capturedBody []byte
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				capturedBody, _ = io.ReadAll(r.Body)
				chatHandler(new(int32), `{}`)(w, r)
			}))
			defer server.Close()

			engine := NewEngine(Config{
				URL:    server.URL + "/v1",
				APIKey: "sk-test",
				Model:  "gpt-4o-mini",
				TTL:    0,
			}, cache.NewLoader(cache.NewMemoryStore()))

			_, err := engine.Complete(ctx, "system-prompt", map[string]string{"k": "v"})

			So(err, ShouldBeNil)
			var req struct {
				Model    string `json:"model"`
				Messages []struct {
					Role    string `json:"role"`
					Content string `json:"content"`
				} `json:"messages"`
				ResponseFormat struct {
					Type string `json:"type"`
				} `json:"response_format"`
			}
			So(json.Unmarshal(capturedBody, &req), ShouldBeNil)
			So(req.Model, ShouldEqual, "gpt-4o-mini")
			So(len(req.Messages), ShouldEqual, 2)
			So(req.Messages[0].Role, ShouldEqual, "system")
			So(req.Messages[0].Content, ShouldEqual, "system-prompt")
			So(req.Messages[1].Role, ShouldEqual, "user")
			So(req.Messages[1].Content, ShouldContainSubstring, `"k":"v"`)
			So(req.ResponseFormat.Type, ShouldEqual, "json_object")
		})

		Convey("相同载荷在 TTL 内只调用一次", func() {
			var calls int32
			engine, server := newTestEngine("", &calls, `{"ok":true}`)
			defer server.Close()

			payload := map[string]string{"incident": "same"}
			_, err := engine.Complete(ctx, "p", payload)
			So(err, ShouldBeNil)
			_, err = engine.Complete(ctx, "p", payload)
			So(err, ShouldBeNil)

			So(atomic.LoadInt32(&calls), ShouldEqual, 1)
		})

		Convey("不同载荷各自调用", func() {
			var calls int32
			engine, server := newTestEngine("", &calls, `{"ok":true}`)
			defer server.Close()

			_, _ = engine.Complete(ctx, "p", map[string]string{"incident": "a"})
			_, _ = engine.Complete(ctx, "p", map[string]string{"incident": "b"})

			So(atomic.LoadInt32(&calls), ShouldEqual, 2)
		})

		Convey("非 JSON 输出按失败处理", func() {
			var calls int32
			engine, server := newTestEngine("", &calls, "plain text, not json")
			defer server.Close()

			_, err := engine.Complete(ctx, "p", map[string]string{"k": "v"})

			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "不是合法 JSON")
		})

		Convey("Remote 返回 true", func() {
			engine := NewEngine(Config{APIKey: "sk", Model: "m"}, cache.NewLoader(cache.NewMemoryStore()))
			So(engine.Remote(), ShouldBeTrue)
		})
	})
}
