// Package openai 通过 OpenAI 兼容的 Chat Completions 接口做块展开。
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"dipexpand/pkg/contract"
)

const DefaultModel = "gpt-4.1-mini"

// Options: 最小必需配置。
type Options struct {
	BaseURL        string   `json:"base_url"`        // 为空使用官方地址；可指向兼容服务
	Model          string   `json:"model"`           // 为空则使用默认
	APIKeyEnv      string   `json:"api_key_env"`     // 默认 OPENAI_API_KEY
	APIKey         string   `json:"api_key"`         // 明文传入（不推荐，按需用于测试）
	TimeoutSeconds int      `json:"timeout_seconds"` // 单次请求超时（秒），默认 60
	Temperature    *float64 `json:"temperature,omitempty"`
	// ExtraHeaders 追加/覆盖请求头（用于 OpenRouter 等兼容服务）。
	ExtraHeaders map[string]string `json:"extra_headers"`
}

type Backend struct {
	client openai.Client
	model  string
	temp   float64
}

// New 从原样 JSON 选项构造后端。SDK 自带重试关闭，重试统一由外层装饰器负责。
func New(raw json.RawMessage) (contract.Backend, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("openai options: %w", err)
		}
	}
	if o.Model == "" {
		o.Model = DefaultModel
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "OPENAI_API_KEY"
	}
	key := o.APIKey
	if key == "" {
		key = strings.TrimSpace(os.Getenv(o.APIKeyEnv))
	}
	if key == "" {
		return nil, fmt.Errorf("openai: %w: missing api key", contract.ErrInvalidInput)
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(time.Duration(o.TimeoutSeconds) * time.Second),
	}
	if o.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(o.BaseURL))
	}
	for k, v := range o.ExtraHeaders {
		if k != "" {
			opts = append(opts, option.WithHeader(k, v))
		}
	}
	temp := 0.2
	if o.Temperature != nil {
		temp = *o.Temperature
	}
	return &Backend{client: openai.NewClient(opts...), model: o.Model, temp: temp}, nil
}

// Model 返回实际使用的模型名。
func (b *Backend) Model() string { return b.model }

var _ contract.Backend = (*Backend)(nil)

func (b *Backend) Kind() contract.BackendKind { return contract.KindRemote }

func messages(req contract.Request) ([]openai.ChatCompletionMessageParamUnion, error) {
	switch p := req.Prompt.(type) {
	case contract.ChatPrompt:
		out := make([]openai.ChatCompletionMessageParamUnion, 0, len(p))
		for _, m := range p {
			switch strings.ToLower(strings.TrimSpace(m.Role)) {
			case "system":
				out = append(out, openai.SystemMessage(m.Content))
			case "assistant", "model":
				out = append(out, openai.AssistantMessage(m.Content))
			default:
				out = append(out, openai.UserMessage(m.Content))
			}
		}
		return out, nil
	case contract.TextPrompt:
		return []openai.ChatCompletionMessageParamUnion{openai.UserMessage(string(p))}, nil
	case nil:
		return []openai.ChatCompletionMessageParamUnion{openai.UserMessage(req.Text)}, nil
	}
	return nil, fmt.Errorf("openai: %w: unsupported prompt %T", contract.ErrInvalidInput, req.Prompt)
}

// Transform 单次调用，同步返回。
func (b *Backend) Transform(ctx context.Context, req contract.Request) (string, error) {
	msgs, err := messages(req)
	if err != nil {
		return "", err
	}
	resp, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(b.model),
		Messages:    msgs,
		Temperature: openai.Float(b.temp),
	})
	if err != nil {
		return "", mapError(ctx, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("openai: %w: empty response", contract.ErrResponseInvalid)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// upstreamError 实现 net.Error，用于将 HTTP 上游 5xx/408 映射为网络类错误，便于分类。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("openai upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

func mapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch s := apiErr.StatusCode; {
	case s == http.StatusTooManyRequests:
		return fmt.Errorf("openai: %s: %w", apiErr.Message, contract.ErrRateLimited)
	case s == http.StatusRequestTimeout || s/100 == 5:
		return upstreamError{status: s, msg: apiErr.Message}
	default:
		return fmt.Errorf("openai upstream %d: %s: %w", s, apiErr.Message, contract.ErrInvalidInput)
	}
}
