package teams

import (
	"context"
	"time"

	"github.com/pkg/errors"

	httpclient "github.com/oneops-ai/incident-rca/infra/http"
)

// Notifier Teams Incoming Webhook 通知器。
// 消息体固定为 {"text": "..."}，Teams 按 Markdown 渲染。
type Notifier struct {
	http *httpclient.Client
}

// NewNotifier 创建通知器，webhookURL 为完整的 Webhook 地址。
func NewNotifier(webhookURL string, timeout time.Duration) *Notifier {
	return &Notifier{
		http: httpclient.NewClient(httpclient.Config{
			BaseURL: webhookURL,
			Timeout: timeout,
		}, nil),
	}
}

// Send 发送一条文本通知。
func (n *Notifier) Send(ctx context.Context, text string) error {
	resp, err := n.http.Post(ctx, "", map[string]string{"text": text}, nil)
	if err != nil {
		return errors.Wrap(err, "teams webhook 请求失败")
	}
	if respErr := resp.Error(); respErr != nil {
		return errors.Wrap(respErr, "teams webhook")
	}
	return nil
}
