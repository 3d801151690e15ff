package uptimerobot

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/oneops-ai/incident-rca/infra/cache"
	httpclient "github.com/oneops-ai/incident-rca/infra/http"
)

// ========== 数据结构 ==========

// 监控日志类型
const (
	LogTypeDown = 1 // 故障
	LogTypeUp   = 2 // 恢复
)

// 监控状态
const (
	StatusPaused   = 0
	StatusNotYet   = 1
	StatusUp       = 2
	StatusSeemDown = 8
	StatusDown     = 9
)

// Monitor getMonitors 返回的监控对象。
type Monitor struct {
	ID           int64        `json:"id"`
	FriendlyName string       `json:"friendly_name"`
	URL          string       `json:"url"`
	Type         int          `json:"type"`
	Status       int          `json:"status"`
	Logs         []MonitorLog `json:"logs"`
}

// MonitorLog 监控的状态变更日志。
type MonitorLog struct {
	Type     int       `json:"type"`
	Datetime int64     `json:"datetime"` // epoch 秒
	Duration int64     `json:"duration"`
	Reason   LogReason `json:"reason"`
}

// LogReason 状态变更原因。
type LogReason struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

type getMonitorsResponse struct {
	Stat     string    `json:"stat"`
	Monitors []Monitor `json:"monitors"`
	Error    *apiError `json:"error"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ========== 客户端 ==========

// Client UptimeRobot v2 客户端。接口是表单编码的 POST，
// 读取经过 TTL 缓存，key 不包含 api_key 原文。
type Client struct {
	http   *httpclient.Client
	loader *cache.Loader
	apiKey string
	ttl    time.Duration
}

// Config 客户端配置。
type Config struct {
	BaseURL string // 默认 https://api.uptimerobot.com
	APIKey  string
	Timeout time.Duration
	TTL     time.Duration
}

// NewClient 创建 UptimeRobot 客户端。
func NewClient(cfg Config, loader *cache.Loader) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.uptimerobot.com"
	}
	hc := httpclient.NewClient(httpclient.Config{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
	}, nil)

	return &Client{
		http:   hc,
		loader: loader,
		apiKey: cfg.APIKey,
		ttl:    cfg.TTL,
	}
}

// GetMonitors 拉取全部监控对象及状态日志。
func (c *Client) GetMonitors(ctx context.Context) ([]Monitor, error) {
	key := cache.Key("uptimerobot:getMonitors", map[string]string{"logs": "1"})

	raw, err := c.loader.GetOrLoad(ctx, key, c.ttl, func(ctx context.Context) (string, error) {
		form := url.Values{
			"api_key": {c.apiKey},
			"format":  {"json"},
			"logs":    {"1"},
		}
		resp, err := c.http.PostForm(ctx, "/v2/getMonitors", form, nil)
		if err != nil {
			return "", errors.Wrap(err, "uptimerobot getMonitors 请求失败")
		}
		if respErr := resp.Error(); respErr != nil {
			return "", errors.Wrap(respErr, "uptimerobot getMonitors")
		}
		return string(resp.Body), nil
	})
	if err != nil {
		return nil, err
	}

	var parsed getMonitorsResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, errors.Wrap(err, "getMonitors 结果解析失败")
	}
	if parsed.Stat != "ok" {
		if parsed.Error != nil {
			return nil, errors.Errorf("uptimerobot 接口错误: %s %s", parsed.Error.Type, parsed.Error.Message)
		}
		return nil, errors.Errorf("uptimerobot 接口返回异常状态: %s", parsed.Stat)
	}
	return parsed.Monitors, nil
}
