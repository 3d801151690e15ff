package sdp

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"

	httpclient "github.com/oneops-ai/incident-rca/infra/http"
)

// Client ServiceDesk Plus v3 客户端。
// 接口按 SDP 约定用表单提交，业务数据放在 input_data 字段里。
type Client struct {
	http        *httpclient.Client
	closeStatus string
}

// Config 客户端配置。
type Config struct {
	URL           string // SDP 根地址
	TechnicianKey string
	CloseStatus   string // 关单状态名，默认 Closed
	Timeout       time.Duration
}

// NewClient 创建 SDP 客户端。
func NewClient(cfg Config) *Client {
	if cfg.CloseStatus == "" {
		cfg.CloseStatus = "Closed"
	}
	hc := httpclient.NewClient(httpclient.Config{
		BaseURL: cfg.URL,
		Timeout: cfg.Timeout,
		Headers: map[string]string{
			"technician_key": cfg.TechnicianKey,
		},
	}, nil)

	return &Client{http: hc, closeStatus: cfg.CloseStatus}
}

// submit 提交 input_data 表单并校验响应状态。
func (c *Client) submit(ctx context.Context, method, path string, inputData interface{}) ([]byte, error) {
	raw, err := json.Marshal(inputData)
	if err != nil {
		return nil, errors.Wrap(err, "序列化 input_data 失败")
	}

	resp, err := c.http.Do(ctx, httpclient.Request{
		Method: method,
		Path:   path,
		Form:   url.Values{"input_data": {string(raw)}},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "sdp %s %s 请求失败", method, path)
	}
	if respErr := resp.Error(); respErr != nil {
		return nil, errors.Wrapf(respErr, "sdp %s %s", method, path)
	}
	return resp.Body, nil
}

// UpdateSolution 更新工单解决方案。
func (c *Client) UpdateSolution(ctx context.Context, requestID, text string) error {
	_, err := c.submit(ctx, "PUT", "/api/v3/requests/"+requestID,
		map[string]interface{}{
			"request": map[string]interface{}{
				"resolution": map[string]interface{}{"content": text},
			},
		})
	return err
}

// AddTask 在工单下新建任务，返回任务 ID。
func (c *Client) AddTask(ctx context.Context, requestID, title string) (string, error) {
	body, err := c.submit(ctx, "POST", "/api/v3/requests/"+requestID+"/tasks",
		map[string]interface{}{
			"task": map[string]interface{}{"title": title},
		})
	if err != nil {
		return "", err
	}

	taskID := extractTaskID(body)
	if taskID == "" {
		return "", errors.New("sdp 新建任务响应中没有任务 ID")
	}
	return taskID, nil
}

// CloseTask 关闭任务。
func (c *Client) CloseTask(ctx context.Context, requestID, taskID string) error {
	_, err := c.submit(ctx, "PUT", "/api/v3/requests/"+requestID+"/tasks/"+taskID,
		map[string]interface{}{
			"task": map[string]interface{}{
				"status": map[string]interface{}{"name": c.closeStatus},
			},
		})
	return err
}

// AddWorklog 添加工作日志。
func (c *Client) AddWorklog(ctx context.Context, requestID, text string) error {
	_, err := c.submit(ctx, "POST", "/api/v3/requests/"+requestID+"/worklogs",
		map[string]interface{}{
			"worklog": map[string]interface{}{"description": text},
		})
	return err
}

// CloseTicket 关闭工单。
func (c *Client) CloseTicket(ctx context.Context, requestID string) error {
	_, err := c.submit(ctx, "PUT", "/api/v3/requests/"+requestID+"/close",
		map[string]interface{}{
			"request": map[string]interface{}{
				"closure_info": map[string]interface{}{
					"requester_ack_resolution": true,
				},
			},
		})
	return err
}

// extractTaskID 从新建任务响应里取任务 ID。
// 不同版本的 SDP 把 ID 放在 task.id 或 tasks[0].id 下，逐个兜底。
func extractTaskID(body []byte) string {
	var parsed struct {
		Task struct {
			ID interface{} `json:"id"`
		} `json:"task"`
		Tasks []struct {
			ID interface{} `json:"id"`
		} `json:"tasks"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	if id := cast.ToString(parsed.Task.ID); id != "" && id != "0" {
		return id
	}
	if len(parsed.Tasks) > 0 {
		if id := cast.ToString(parsed.Tasks[0].ID); id != "" && id != "0" {
			return id
		}
	}
	return ""
}
