package mock

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"dipexpand/pkg/contract"
)

// TestRulesMode 默认模式按示例替换
func TestRulesMode(t *testing.T) {
	b, err := New(nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if b.Kind() != contract.KindRemote {
		t.Fatalf("mock 应伪装为远端后端")
	}
	out, err := b.Transform(context.Background(), contract.Request{Text: "y^e", Examples: []contract.ExamplePair{{Diplomatic: "y^e", Full: "the"}}})
	if err != nil || out != "the" {
		t.Fatalf("unexpected %q %v", out, err)
	}
}

// TestPrefixMode 前缀模式
func TestPrefixMode(t *testing.T) {
	b, _ := New(json.RawMessage(`{"response_mode":"prefix","prefix":"X"}`))
	out, _ := b.Transform(context.Background(), contract.Request{Text: "a"})
	if out != "X: a" {
		t.Fatalf("unexpected %q", out)
	}
}

// TestEchoMode 回显提示词
func TestEchoMode(t *testing.T) {
	b, _ := New(json.RawMessage(`{"response_mode":"echo"}`))
	p := contract.ChatPrompt{{Role: "system", Content: "s"}, {Role: "user", Content: "u"}}
	out, _ := b.Transform(context.Background(), contract.Request{Text: "a", Prompt: p})
	if out != "MOCK(chat:user): u" {
		t.Fatalf("unexpected %q", out)
	}
	out, _ = b.Transform(context.Background(), contract.Request{Text: "a", Prompt: contract.TextPrompt("t")})
	if out != "MOCK(text): t" {
		t.Fatalf("unexpected %q", out)
	}
}

func TestUnknownMode(t *testing.T) {
	if _, err := New(json.RawMessage(`{"response_mode":"bogus"}`)); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("未知模式应失败, got %v", err)
	}
	if _, err := New(json.RawMessage(`{`)); err == nil {
		t.Fatalf("非法 JSON 应失败")
	}
}

// TestDelay 延迟期间取消立即返回
func TestDelay(t *testing.T) {
	b, _ := New(json.RawMessage(`{"delay_ms":5000}`))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := b.Transform(ctx, contract.Request{Text: "a"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("应因超时返回, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("取消未及时生效")
	}
}
