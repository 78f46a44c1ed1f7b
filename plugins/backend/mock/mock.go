// Package mock 提供无网络的远端后端替身，用于联调与集成测试。
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"dipexpand/pkg/contract"
	"dipexpand/plugins/backend/rules"
)

// 响应模式。
const (
	// ModeRules 以 Request.Examples 做规则替换（默认），输出可预测。
	ModeRules = "rules"
	// ModePrefix 输出 "<Prefix>: <原文>"。
	ModePrefix = "prefix"
	// ModeEcho 回显提示词摘要，便于检查 PromptBuilder 输出。
	ModeEcho = "echo"
)

// Options: 最小调试配置（可选）。
type Options struct {
	Prefix string `json:"prefix"` // 默认 "MOCK"
	// APIKey: 仅用于限流分组，不参与任何网络请求。
	APIKey       string `json:"api_key"`
	ResponseMode string `json:"response_mode,omitempty"`
	// DelayMS 每次调用的固定延迟（毫秒），用于观察并发与取消。
	DelayMS int `json:"delay_ms,omitempty"`
}

type Backend struct {
	prefix string
	mode   string
	delay  time.Duration
}

func New(raw json.RawMessage) (contract.Backend, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("mock options: %w", err)
		}
	}
	if o.Prefix == "" {
		o.Prefix = "MOCK"
	}
	mode := strings.ToLower(strings.TrimSpace(o.ResponseMode))
	if mode == "" {
		mode = ModeRules
	}
	switch mode {
	case ModeRules, ModePrefix, ModeEcho:
	default:
		return nil, fmt.Errorf("mock: %w: unknown response_mode %q", contract.ErrInvalidInput, o.ResponseMode)
	}
	return &Backend{prefix: o.Prefix, mode: mode, delay: time.Duration(max(o.DelayMS, 0)) * time.Millisecond}, nil
}

var _ contract.Backend = (*Backend)(nil)

func (b *Backend) Kind() contract.BackendKind { return contract.KindRemote }

func (b *Backend) Transform(ctx context.Context, req contract.Request) (string, error) {
	if b.delay > 0 {
		t := time.NewTimer(b.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	switch b.mode {
	case ModePrefix:
		return b.prefix + ": " + req.Text, nil
	case ModeEcho:
		switch p := req.Prompt.(type) {
		case contract.TextPrompt:
			return fmt.Sprintf("%s(text): %s", b.prefix, string(p)), nil
		case contract.ChatPrompt:
			if len(p) == 0 {
				return fmt.Sprintf("%s(chat): <empty>", b.prefix), nil
			}
			// 仅取最后一条，避免回显过长
			last := p[len(p)-1]
			return fmt.Sprintf("%s(chat:%s): %s", b.prefix, last.Role, last.Content), nil
		default:
			return fmt.Sprintf("%s(no prompt): %s", b.prefix, req.Text), nil
		}
	}
	return rules.Expand(req.Text, req.Examples), nil
}
