package llm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	"github.com/oneops-ai/incident-rca/infra/cache"
)

// Engine 外部大模型推理实现，走 OpenAI 兼容接口。
// 请求强制 JSON 输出并经过 TTL 缓存，相同载荷在 TTL 内只调用一次。
type Engine struct {
	client *openai.Client
	loader *cache.Loader
	model  string
	ttl    time.Duration
}

// Config 推理服务配置。
type Config struct {
	URL     string // OpenAI 兼容端点，如 https://api.openai.com/v1
	APIKey  string
	Model   string
	Timeout time.Duration
	TTL     time.Duration
}

// NewEngine 创建远程推理引擎。
func NewEngine(cfg Config, loader *cache.Loader) *Engine {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.URL != "" {
		clientCfg.BaseURL = cfg.URL
	}

	return &Engine{
		client: openai.NewClientWithConfig(clientCfg),
		loader: loader,
		model:  cfg.Model,
		ttl:    cfg.TTL,
	}
}

// Complete 执行一次推理，返回模型输出的 JSON。
func (e *Engine) Complete(ctx context.Context, systemPrompt string, payload interface{}) (json.RawMessage, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "序列化推理载荷失败")
	}

	key := cache.Key("llm", map[string]string{
		"model":   e.model,
		"system":  systemPrompt,
		"payload": string(payloadJSON),
	})

	raw, err := e.loader.GetOrLoad(ctx, key, e.ttl, func(ctx context.Context) (string, error) {
		resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       e.model,
			Temperature: 0.2,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: string(payloadJSON)},
			},
		})
		if err != nil {
			return "", errors.Wrap(err, "推理服务调用失败")
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("推理服务返回空结果")
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return nil, err
	}

	// 输出必须是合法 JSON，坏输出当调用失败处理
	if !json.Valid([]byte(raw)) {
		return nil, errors.New("推理服务输出不是合法 JSON")
	}
	return json.RawMessage(raw), nil
}

// Remote 标识为外部推理服务。
func (e *Engine) Remote() bool {
	return true
}
