package flaky

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dipexpand/pkg/contract"
)

// TestSequence 失败两次后成功，并记录日志
func TestSequence(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "flaky.log")
	b, err := New([]byte(`{"prefix":"F","log_path":"` + filepath.ToSlash(logPath) + `"}`))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	req := contract.Request{Text: "a"}
	if _, err := b.Transform(ctx, req); !errors.Is(err, contract.ErrRateLimited) {
		t.Fatalf("第一次应限流, got %v", err)
	}
	_, err = b.Transform(ctx, req)
	var ue contract.UpstreamError
	if !errors.As(err, &ue) || ue.UpstreamStatus() != 503 {
		t.Fatalf("第二次应为 503, got %v", err)
	}
	out, err := b.Transform(ctx, req)
	if err != nil || out != "F: a" {
		t.Fatalf("第三次应成功, got %q %v", out, err)
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if got := strings.Fields(string(data)); strings.Join(got, ",") != "rate_limited,unavailable,ok" {
		t.Fatalf("unexpected log %q", data)
	}
}

func TestFailuresOption(t *testing.T) {
	b, err := New([]byte(`{"failures":0}`))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if out, err := b.Transform(context.Background(), contract.Request{Text: "a"}); err != nil || out != "FLAKY: a" {
		t.Fatalf("failures=0 应直接成功, got %q %v", out, err)
	}
	b, _ = New([]byte(`{"failures":3}`))
	for i := 1; i <= 3; i++ {
		if _, err := b.Transform(context.Background(), contract.Request{Text: "a"}); err == nil {
			t.Fatalf("第 %d 次应失败", i)
		}
	}
	if _, err := b.Transform(context.Background(), contract.Request{Text: "a"}); err != nil {
		t.Fatalf("第 4 次应成功: %v", err)
	}
}
