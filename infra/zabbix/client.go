package zabbix

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"github.com/oneops-ai/incident-rca/infra/cache"
	httpclient "github.com/oneops-ai/incident-rca/infra/http"
)

// ========== JSON-RPC 协议 ==========

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int         `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// ========== 数据结构 ==========

// Problem problem.get 返回的未恢复问题。
// Zabbix 把数值都按字符串返回，这里保留原样，由调用方转换。
type Problem struct {
	EventID  string `json:"eventid"`
	ObjectID string `json:"objectid"`
	Clock    string `json:"clock"`
	Name     string `json:"name"`
	Severity string `json:"severity"`
	RClock   string `json:"r_clock,omitempty"` // 恢复时间，未恢复为空或 "0"
}

// Event event.get 返回的事件，带关联主机。
type Event struct {
	EventID  string      `json:"eventid"`
	Clock    string      `json:"clock"`
	Name     string      `json:"name"`
	Severity string      `json:"severity"`
	Value    string      `json:"value"` // 1=problem 0=ok
	Hosts    []EventHost `json:"hosts"`
}

// EventHost 事件关联的主机。
type EventHost struct {
	HostID string `json:"hostid"`
	Host   string `json:"host"`
	Name   string `json:"name"`
}

// Host host.get 返回的主机。
type Host struct {
	HostID     string      `json:"hostid"`
	Host       string      `json:"host"`
	Name       string      `json:"name"`
	Interfaces []Interface `json:"interfaces,omitempty"`
}

// Interface 主机的网络接口。
type Interface struct {
	IP string `json:"ip"`
}

// Item item.get 返回的监控项。
type Item struct {
	ItemID    string `json:"itemid"`
	Name      string `json:"name"`
	Key       string `json:"key_"`
	Units     string `json:"units"`
	ValueType string `json:"value_type"` // 0=float 3=uint
	LastValue string `json:"lastvalue"`
}

// HistoryPoint history.get 返回的单个采样点。
type HistoryPoint struct {
	ItemID string `json:"itemid"`
	Clock  string `json:"clock"`
	Value  string `json:"value"`
}

// ========== 客户端 ==========

// Client Zabbix JSON-RPC 客户端。
// 所有读接口经过带单飞合并的 TTL 缓存，key 由方法名和参数哈希生成。
type Client struct {
	http   *httpclient.Client
	loader *cache.Loader
	ttl    time.Duration
}

// Config 客户端配置。
type Config struct {
	URL     string // JSON-RPC 入口地址
	Token   string // API Token
	Timeout time.Duration
	TTL     time.Duration
}

// NewClient 创建 Zabbix 客户端。
func NewClient(cfg Config, loader *cache.Loader) *Client {
	hc := httpclient.NewClient(httpclient.Config{
		BaseURL: cfg.URL,
		Timeout: cfg.Timeout,
	}, func() string { return "Bearer " + cfg.Token })

	return &Client{
		http:   hc,
		loader: loader,
		ttl:    cfg.TTL,
	}
}

// api 执行一次 JSON-RPC 调用，结果经过 TTL 缓存。
func (c *Client) api(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	key := cache.Key("zabbix:"+method, params)

	raw, err := c.loader.GetOrLoad(ctx, key, c.ttl, func(ctx context.Context) (string, error) {
		resp, err := c.http.Post(ctx, "", rpcRequest{
			JSONRPC: "2.0",
			Method:  method,
			Params:  params,
			ID:      1,
		}, nil)
		if err != nil {
			return "", errors.Wrapf(err, "zabbix %s 请求失败", method)
		}
		if respErr := resp.Error(); respErr != nil {
			return "", errors.Wrapf(respErr, "zabbix %s", method)
		}

		var envelope rpcResponse
		if err := resp.DecodeJSON(&envelope); err != nil {
			return "", errors.Wrapf(err, "zabbix %s 响应解析失败", method)
		}
		if envelope.Error != nil {
			return "", errors.Errorf("zabbix %s 接口错误: [%d] %s %s",
				method, envelope.Error.Code, envelope.Error.Message, envelope.Error.Data)
		}
		return string(envelope.Result), nil
	})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

// Problems 拉取窗口内出现的问题（含已恢复的）。
func (c *Client) Problems(ctx context.Context, from, till time.Time) ([]Problem, error) {
	result, err := c.api(ctx, "problem.get", map[string]interface{}{
		"output":    []string{"eventid", "objectid", "clock", "name", "severity"},
		"time_from": from.Unix(),
		"time_till": till.Unix(),
		"recent":    true,
		"sortfield": []string{"eventid"},
		"sortorder": "ASC",
	})
	if err != nil {
		return nil, err
	}

	var problems []Problem
	if err := json.Unmarshal(result, &problems); err != nil {
		return nil, errors.Wrap(err, "problem.get 结果解析失败")
	}
	return problems, nil
}

// EventByID 按事件 ID 查询事件详情，带关联主机。
func (c *Client) EventByID(ctx context.Context, eventID string) (*Event, error) {
	result, err := c.api(ctx, "event.get", map[string]interface{}{
		"output":      []string{"eventid", "clock", "name", "severity", "value"},
		"eventids":    []string{eventID},
		"selectHosts": []string{"hostid", "host", "name"},
	})
	if err != nil {
		return nil, err
	}

	var events []Event
	if err := json.Unmarshal(result, &events); err != nil {
		return nil, errors.Wrap(err, "event.get 结果解析失败")
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

// HostByName 按主机名（技术名或可见名）查询主机。未找到返回 nil。
func (c *Client) HostByName(ctx context.Context, name string) (*Host, error) {
	result, err := c.api(ctx, "host.get", map[string]interface{}{
		"output":           []string{"hostid", "host", "name"},
		"selectInterfaces": []string{"ip"},
		"filter":           map[string]interface{}{"host": []string{name}},
	})
	if err != nil {
		return nil, err
	}

	hosts, err := decodeHosts(result)
	if err != nil {
		return nil, err
	}
	if len(hosts) > 0 {
		return &hosts[0], nil
	}

	// 技术名没命中时退回按可见名查
	result, err = c.api(ctx, "host.get", map[string]interface{}{
		"output":           []string{"hostid", "host", "name"},
		"selectInterfaces": []string{"ip"},
		"filter":           map[string]interface{}{"name": []string{name}},
	})
	if err != nil {
		return nil, err
	}
	hosts, err = decodeHosts(result)
	if err != nil {
		return nil, err
	}
	if len(hosts) == 0 {
		return nil, nil
	}
	return &hosts[0], nil
}

// HostByIP 按接口 IP 查询主机。未找到返回 nil。
func (c *Client) HostByIP(ctx context.Context, ip string) (*Host, error) {
	result, err := c.api(ctx, "host.get", map[string]interface{}{
		"output":           []string{"hostid", "host", "name"},
		"selectInterfaces": []string{"ip"},
		"filter":           map[string]interface{}{"ip": []string{ip}},
	})
	if err != nil {
		return nil, err
	}

	hosts, err := decodeHosts(result)
	if err != nil {
		return nil, err
	}
	if len(hosts) == 0 {
		return nil, nil
	}
	return &hosts[0], nil
}

// Items 查询主机的数值型监控项，按名称排序。
func (c *Client) Items(ctx context.Context, hostID string) ([]Item, error) {
	result, err := c.api(ctx, "item.get", map[string]interface{}{
		"output":    []string{"itemid", "name", "key_", "units", "value_type", "lastvalue"},
		"hostids":   []string{hostID},
		"filter":    map[string]interface{}{"value_type": []string{"0", "3"}},
		"sortfield": "name",
	})
	if err != nil {
		return nil, err
	}

	var items []Item
	if err := json.Unmarshal(result, &items); err != nil {
		return nil, errors.Wrap(err, "item.get 结果解析失败")
	}
	return items, nil
}

// History 查询监控项在窗口内的历史采样，按时间升序。
// valueType 对应 Zabbix 的 history 参数（0=float 3=uint）。
func (c *Client) History(ctx context.Context, itemID string, valueType int, from, till time.Time) ([]HistoryPoint, error) {
	result, err := c.api(ctx, "history.get", map[string]interface{}{
		"output":    "extend",
		"history":   valueType,
		"itemids":   []string{itemID},
		"time_from": from.Unix(),
		"time_till": till.Unix(),
		"sortfield": "clock",
		"sortorder": "ASC",
	})
	if err != nil {
		return nil, err
	}

	var points []HistoryPoint
	if err := json.Unmarshal(result, &points); err != nil {
		return nil, errors.Wrap(err, "history.get 结果解析失败")
	}
	return points, nil
}

func decodeHosts(raw json.RawMessage) ([]Host, error) {
	var hosts []Host
	if err := json.Unmarshal(raw, &hosts); err != nil {
		return nil, errors.Wrap(err, "host.get 结果解析失败")
	}
	return hosts, nil
}

// ========== 辅助转换 ==========

// 严重级别编号到名称的映射，与 Zabbix 前端一致
var severityNames = map[string]string{
	"0": "not_classified",
	"1": "information",
	"2": "warning",
	"3": "average",
	"4": "high",
	"5": "disaster",
}

// SeverityName 把严重级别编号转为可读名称，未知编号原样返回。
func SeverityName(code string) string {
	if name, ok := severityNames[code]; ok {
		return name
	}
	return code
}

// FirstIP 取主机第一个接口的 IP，没有接口返回空串。
func (h *Host) FirstIP() string {
	if h == nil || len(h.Interfaces) == 0 {
		return ""
	}
	return h.Interfaces[0].IP
}

// ValueTypeInt value_type 字符串转 history.get 的数值参数。
func (i Item) ValueTypeInt() int {
	return cast.ToInt(i.ValueType)
}
