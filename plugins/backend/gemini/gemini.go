// Package gemini 通过 Google GenAI SDK 调用 Gemini 做块展开；支持以 Files API 上传原文件作为整遍上下文。
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"google.golang.org/genai"

	"dipexpand/pkg/contract"
)

const (
	DefaultModel = "gemini-2.5-flash"
	// DefaultTimeout 未配置且无 GEMINI_TIMEOUT 时的单次调用超时。
	DefaultTimeout = 120 * time.Second
	// ProMinTimeout pro 模型单次调用超时下限。
	ProMinTimeout = 300 * time.Second
	// TimeoutEnv 覆盖默认超时（秒）。
	TimeoutEnv = "GEMINI_TIMEOUT"
)

// sessionNote 会话附件之后的说明文本。
const sessionNote = "The attached file is the full source document. Use it as context for the block below."

// Options: Gemini 最小必需配置。
type Options struct {
	Model string `json:"model"`
	// APIKeyEnv 为空时依次尝试 GEMINI_API_KEY、GOOGLE_API_KEY。
	APIKeyEnv string `json:"api_key_env"`
	APIKey    string `json:"api_key"`
	// 单次调用超时（秒）；<=0 时取 GEMINI_TIMEOUT 或默认 120 秒。pro 模型不低于 300 秒。
	TimeoutSeconds  int      `json:"timeout_seconds,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int32    `json:"max_output_tokens,omitempty"`
}

// generator 与 fileService 对应 genai.Models / genai.Files 的子集，便于替换。
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type fileService interface {
	UploadFromPath(ctx context.Context, path string, config *genai.UploadFileConfig) (*genai.File, error)
	Delete(ctx context.Context, name string, config *genai.DeleteFileConfig) (*genai.DeleteFileResponse, error)
}

type Backend struct {
	model   string
	timeout time.Duration
	temp    float32
	maxOut  int32
	gen     generator
	files   fileService
}

// New 从原样 JSON 选项构造后端；缺少 API key 时返回 ErrInvalidInput。
func New(raw json.RawMessage) (contract.Backend, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("gemini options: %w", err)
		}
	}
	key := ResolveAPIKey(o.APIKey, o.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("gemini: %w: missing api key (GEMINI_API_KEY or GOOGLE_API_KEY)", contract.ErrInvalidInput)
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: key, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return newBackend(o, client.Models, client.Files), nil
}

func newBackend(o Options, gen generator, files fileService) *Backend {
	if o.Model == "" {
		o.Model = DefaultModel
	}
	temp := 0.2
	if o.Temperature != nil {
		temp = *o.Temperature
	}
	if o.MaxOutputTokens <= 0 {
		o.MaxOutputTokens = 8192
	}
	base := time.Duration(o.TimeoutSeconds) * time.Second
	if base <= 0 {
		base = envTimeout()
	}
	return &Backend{
		model:   o.Model,
		timeout: TimeoutForModel(o.Model, base),
		temp:    float32(temp),
		maxOut:  o.MaxOutputTokens,
		gen:     gen,
		files:   files,
	}
}

// ResolveAPIKey 显式 key 优先；其次 env 指定的变量；最后 GEMINI_API_KEY、GOOGLE_API_KEY。
func ResolveAPIKey(key, env string) string {
	if key != "" {
		return key
	}
	if env != "" {
		return strings.TrimSpace(os.Getenv(env))
	}
	for _, name := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"} {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}

func envTimeout() time.Duration {
	if v := strings.TrimSpace(os.Getenv(TimeoutEnv)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return DefaultTimeout
}

// TimeoutForModel pro 模型（名称含 "-pro"）超时不低于 ProMinTimeout。
func TimeoutForModel(model string, base time.Duration) time.Duration {
	if strings.Contains(strings.ToLower(model), "-pro") {
		return max(base, ProMinTimeout)
	}
	return base
}

// Model 返回实际使用的模型名（学习权重判定使用）。
func (b *Backend) Model() string { return b.model }

var (
	_ contract.Backend       = (*Backend)(nil)
	_ contract.SessionOpener = (*Backend)(nil)
)

func (b *Backend) Kind() contract.BackendKind { return contract.KindRemote }

// Transform 单次调用；system 消息映射为 SystemInstruction，其余合并为一条 user 内容。
func (b *Backend) Transform(ctx context.Context, req contract.Request) (string, error) {
	system, user, err := splitPrompt(req)
	if err != nil {
		return "", err
	}
	parts := make([]*genai.Part, 0, 3)
	if fs, ok := req.Session.(*fileSession); ok && fs != nil {
		parts = append(parts, genai.NewPartFromURI(fs.uri, fs.mime), genai.NewPartFromText(sessionNote))
	}
	parts = append(parts, genai.NewPartFromText(user))
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(b.temp),
		MaxOutputTokens: b.maxOut,
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	cctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	resp, err := b.gen.GenerateContent(cctx, b.model, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, cfg)
	if err != nil {
		return "", mapError(ctx, err)
	}
	text := ""
	if resp != nil {
		text = strings.TrimSpace(resp.Text())
	}
	if text == "" {
		return "", fmt.Errorf("gemini: %w: empty response", contract.ErrResponseInvalid)
	}
	return text, nil
}

func splitPrompt(req contract.Request) (system, user string, err error) {
	switch p := req.Prompt.(type) {
	case contract.ChatPrompt:
		system, user = p.System(), p.User()
	case contract.TextPrompt:
		user = string(p)
	case nil:
		user = req.Text
	default:
		return "", "", fmt.Errorf("gemini: %w: unsupported prompt %T", contract.ErrInvalidInput, req.Prompt)
	}
	if strings.TrimSpace(user) == "" {
		return "", "", fmt.Errorf("gemini: %w: empty prompt", contract.ErrInvalidInput)
	}
	return system, user, nil
}

// upstreamError 实现 net.Error，用于将上游 5xx/408 映射为网络类错误。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("gemini upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

func mapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	code, msg := 0, ""
	var ae genai.APIError
	var pae *genai.APIError
	switch {
	case errors.As(err, &ae):
		code, msg = ae.Code, ae.Message
	case errors.As(err, &pae) && pae != nil:
		code, msg = pae.Code, pae.Message
	}
	switch {
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("gemini: %s: %w", msg, contract.ErrRateLimited)
	case code == http.StatusRequestTimeout || code/100 == 5:
		return upstreamError{status: code, msg: msg}
	case code != 0:
		return fmt.Errorf("gemini upstream %d: %s: %w", code, msg, contract.ErrInvalidInput)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// 单次调用超时（父 ctx 仍有效）：按网络超时处理，可重试
		return upstreamError{status: http.StatusRequestTimeout, msg: "call timed out"}
	}
	return err
}

// fileSession 已上传的原文件；Close 时删除。
type fileSession struct {
	files fileService
	name  string
	uri   string
	mime  string
}

// OpenSession 上传 file 作为整遍共享上下文。
func (b *Backend) OpenSession(ctx context.Context, file string) (contract.Session, error) {
	if b.files == nil {
		return nil, contract.ErrSessionUnsupported
	}
	f, err := b.files.UploadFromPath(ctx, file, &genai.UploadFileConfig{MIMEType: "text/xml"})
	if err != nil {
		return nil, fmt.Errorf("gemini upload %s: %w", file, mapError(ctx, err))
	}
	mime := f.MIMEType
	if mime == "" {
		mime = "text/xml"
	}
	return &fileSession{files: b.files, name: f.Name, uri: f.URI, mime: mime}, nil
}

func (s *fileSession) Close(ctx context.Context) error {
	if s == nil || s.name == "" {
		return nil
	}
	if _, err := s.files.Delete(ctx, s.name, nil); err != nil {
		return fmt.Errorf("gemini delete %s: %w", s.name, err)
	}
	return nil
}
