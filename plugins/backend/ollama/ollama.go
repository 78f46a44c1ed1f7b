// Package ollama 调用本地 Ollama 服务；服务不可用或返回空时回退规则替换。
// 无论模型是否成功，示例对都作为最终修正作用于输出。
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"dipexpand/internal/diag"
	"dipexpand/pkg/contract"
	"dipexpand/plugins/backend/rules"
)

const (
	DefaultHost = "http://localhost:11434"
	// HostEnv 未配置 host 时读取。
	HostEnv        = "OLLAMA_HOST"
	DefaultModel   = "llama3.2"
	// TimeoutEnv 覆盖单次调用超时（秒），下限 10。
	TimeoutEnv     = "OLLAMA_TIMEOUT"
	DefaultTimeout = 120 * time.Second
	minTimeout     = 10 * time.Second
)

// Options 本地推理配置。
type Options struct {
	Host  string `json:"host"`
	Model string `json:"model"`
	// HighEnd 为 true 时请求更大的上下文窗口（num_ctx=8192）。
	HighEnd        bool `json:"high_end"`
	TimeoutSeconds int  `json:"timeout_seconds,omitempty"`
}

type Backend struct {
	client  *api.Client
	model   string
	bigCtx  bool
	timeout time.Duration
	logger  *diag.Logger
}

// New 从原样 JSON 选项构造后端；不探测服务是否可达。
func New(raw json.RawMessage) (contract.Backend, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("ollama options: %w", err)
		}
	}
	if o.Host == "" {
		o.Host = strings.TrimSpace(os.Getenv(HostEnv))
	}
	if o.Host == "" {
		o.Host = DefaultHost
	}
	if !strings.Contains(o.Host, "://") {
		o.Host = "http://" + o.Host
	}
	if o.Model == "" {
		o.Model = DefaultModel
	}
	u, err := url.Parse(strings.TrimRight(o.Host, "/"))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("ollama: %w: invalid host %q", contract.ErrInvalidInput, o.Host)
	}
	timeout := time.Duration(o.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = EnvTimeout()
	}
	timeout = max(timeout, minTimeout)
	return &Backend{
		client:  api.NewClient(u, &http.Client{}),
		model:   o.Model,
		bigCtx:  o.HighEnd,
		timeout: timeout,
		logger:  diag.Nop(),
	}, nil
}

// EnvTimeout 读取 OLLAMA_TIMEOUT；非法或缺省时返回默认值，结果不低于 10 秒。
func EnvTimeout() time.Duration {
	if v := strings.TrimSpace(os.Getenv(TimeoutEnv)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return max(time.Duration(n)*time.Second, minTimeout)
		}
	}
	return DefaultTimeout
}

// SetLogger 设置回退告警的日志器；nil 忽略。
func (b *Backend) SetLogger(l *diag.Logger) {
	if l != nil {
		b.logger = l
	}
}

// Model 返回实际使用的模型名。
func (b *Backend) Model() string { return b.model }

var _ contract.Backend = (*Backend)(nil)

func (b *Backend) Kind() contract.BackendKind { return contract.KindLocal }

// Transform 先请求模型；失败或空输出回退为对原文做规则替换。
// 取消不回退，直接返回。
func (b *Backend) Transform(ctx context.Context, req contract.Request) (string, error) {
	pairs := rules.Sort(req.Examples)
	raw, err := b.generate(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		b.logger.Warn("ollama", "fallback to rules", map[string]string{"err": err.Error()})
		diag.IncOp("ollama", "fallback", "rules")
		return rules.Apply(req.Text, pairs), nil
	}
	if raw == "" {
		diag.IncOp("ollama", "fallback", "empty")
		return rules.Apply(req.Text, pairs), nil
	}
	return rules.Apply(raw, pairs), nil
}

func (b *Backend) generate(ctx context.Context, req contract.Request) (string, error) {
	gr := &api.GenerateRequest{Model: b.model, Stream: new(bool)}
	switch p := req.Prompt.(type) {
	case contract.ChatPrompt:
		gr.System, gr.Prompt = p.System(), p.User()
	case contract.TextPrompt:
		gr.Prompt = string(p)
	default:
		gr.Prompt = req.Text
	}
	if b.bigCtx {
		gr.Options = map[string]any{"num_ctx": 8192}
	}
	cctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	var sb strings.Builder
	err := b.client.Generate(cctx, gr, func(r api.GenerateResponse) error {
		sb.WriteString(r.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	return strings.TrimSpace(sb.String()), nil
}
