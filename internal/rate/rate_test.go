package rate

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"dipexpand/pkg/contract"
)

// UT-RTE-01: 超过 RPM/TPM
func TestGateTryLimit(t *testing.T) {
	now := time.Unix(0, 0)
	clk := func() time.Time { return now }
	g := NewGate(map[Key]Limits{"k": {RPM: 1, TPM: 10, MaxTokensPerReq: 5}}, clk)
	if !g.Try(Ask{Key: "k", Requests: 1, Tokens: 3}) {
		t.Fatalf("首次应通过")
	}
	if g.Try(Ask{Key: "k", Requests: 1, Tokens: 3}) {
		t.Fatalf("应因 RPM 拒绝")
	}
	now = now.Add(time.Minute)
	if !g.Try(Ask{Key: "k", Requests: 1, Tokens: 3}) {
		t.Fatalf("一分钟后应补满")
	}
	if g.Try(Ask{Key: "k", Requests: 1, Tokens: 6}) {
		t.Fatalf("超出单请求上限应拒绝")
	}
	if !g.Try(Ask{Key: "other", Requests: 1, Tokens: 1000}) {
		t.Fatalf("未配置的键不限额")
	}
}

// UT-RTE-02: 取消上下文
func TestGateWaitCancel(t *testing.T) {
	now := time.Unix(0, 0)
	clk := func() time.Time { return now }
	g := NewGate(map[Key]Limits{"k": {RPM: 1}}, clk)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	if err := g.Wait(ctx, Ask{Key: "k", Requests: 2}); !errors.Is(err, context.Canceled) {
		t.Fatalf("应返回取消错误, got %v", err)
	}
}

func TestGateWaitValidation(t *testing.T) {
	g := NewGate(map[Key]Limits{"k": {MaxTokensPerReq: 5}}, nil)
	if err := g.Wait(context.Background(), Ask{Key: "k", Requests: 0}); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("Requests=0 应为非法输入, got %v", err)
	}
	if err := g.Wait(context.Background(), Ask{Key: "k", Requests: 1, Tokens: 6}); !errors.Is(err, contract.ErrBudgetExceeded) {
		t.Fatalf("超出单请求上限应为预算错误, got %v", err)
	}
	if err := g.Wait(context.Background(), Ask{Key: "k", Requests: 1, Tokens: 5}); err != nil {
		t.Fatalf("应放行: %v", err)
	}
}

// 补充覆盖: DeriveKey
func TestDeriveKey(t *testing.T) {
	t.Setenv("TEST_KEY", "abc")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	raw, _ := json.Marshal(map[string]any{"api_key_env": "TEST_KEY"})
	k := DeriveKey("openai", raw)
	if k == "openai" || k == "" {
		t.Fatalf("应含凭据摘要: %s", k)
	}
	if DeriveKey("openai", raw) != k {
		t.Fatalf("同一凭据应得同一键")
	}
	if got := DeriveKey("ollama", json.RawMessage(`{}`)); got != "ollama" {
		t.Fatalf("无凭据应回落为后端名: %s", got)
	}
	t.Setenv("GOOGLE_API_KEY", "g")
	if got := DeriveKey("gemini", nil); got == "gemini" {
		t.Fatalf("应读取 GOOGLE_API_KEY")
	}
}
