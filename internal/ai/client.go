package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"aihub/internal/config"
)

// 对话角色，与网关的 chat-completion 协议一致。
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Gateway Client 的哨兵错误，由各接口映射为固定的用户可见响应。
var (
	ErrNotConfigured    = errors.New("ai gateway credential is not configured")
	ErrRateLimited      = errors.New("ai gateway rate limited")
	ErrCreditsExhausted = errors.New("ai gateway credits exhausted")
)

// Message 是发给网关的一条对话消息。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer 抽象一次同步补全调用，便于测试替换网关。
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Client 封装对外部 AI 网关的单次往返调用。
// 无重试、无流式、无缓存；凭证在构造时注入一次。
type Client struct {
	api   *openai.Client
	model string
}

// NewClient 构造网关客户端。凭证为空时不建立底层客户端，
// 后续每次 Complete 都会在发起网络调用前返回 ErrNotConfigured。
func NewClient(cfg config.AIConfig) *Client {
	c := &Client{model: cfg.Model}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return c
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c.api = openai.NewClientWithConfig(apiCfg)
	return c
}

// Model 返回固定使用的模型标识。
func (c *Client) Model() string {
	return c.model
}

// Complete 发送一次 chat-completion 请求并返回第一条补全文本（可能为空串）。
// 429/402 映射为哨兵错误，其余非 2xx 携带网关状态码向上传播。
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	if c.api == nil {
		return "", ErrNotConfigured
	}

	reqMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		reqMessages = append(reqMessages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: reqMessages,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.HTTPStatusCode {
			case 429:
				return "", ErrRateLimited
			case 402:
				return "", ErrCreditsExhausted
			default:
				return "", fmt.Errorf("gateway status %d: %w", apiErr.HTTPStatusCode, err)
			}
		}
		return "", fmt.Errorf("gateway request: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
