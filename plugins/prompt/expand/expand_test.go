package expand

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dipexpand/pkg/contract"
)

// TestBuildDefault 测试默认模板构造
func TestBuildDefault(t *testing.T) {
	b, err := New(nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	p, err := b.Build(context.Background(), contract.PromptRequest{
		Text:     "dns noster",
		Examples: []contract.ExamplePair{{Diplomatic: "y^e", Full: "the"}, {Diplomatic: " ", Full: "x"}},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	cp, ok := p.(contract.ChatPrompt)
	if !ok || len(cp) != 2 {
		t.Fatalf("unexpected prompt %#v", p)
	}
	if cp.System() != SystemText(ModalityFull) {
		t.Fatalf("system 应为 full 风格指令: %q", cp.System())
	}
	want := "Diplomatic:\ny^e\nFull:\nthe\n\nDiplomatic:\ndns noster\nFull:"
	if cp.User() != want {
		t.Fatalf("user 不符:\n%q\nwant\n%q", cp.User(), want)
	}
}

func TestModalities(t *testing.T) {
	for _, m := range Modalities() {
		s := SystemText(m)
		if !strings.Contains(s, "in Latin") || !strings.Contains(s, "no XML") {
			t.Fatalf("%s 缺少拉丁语/输出约束: %q", m, s)
		}
	}
	if ParseModality("bogus") != ModalityFull || ParseModality(" Conservative ") != ModalityConservative {
		t.Fatalf("ParseModality 回落错误")
	}
	b, _ := New(nil)
	p, _ := b.Build(context.Background(), contract.PromptRequest{Text: "x", Modality: ModalityAggressive})
	if !strings.Contains(p.(contract.ChatPrompt).System(), "modernize") {
		t.Fatalf("aggressive 指令缺失")
	}
}

// TestTemplateAndNotes 模板覆盖与附加说明
func TestTemplateAndNotes(t *testing.T) {
	dir := t.TempDir()
	notes := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(notes, []byte("q; = que\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	b, err := New(&Options{InlineSystemTemplate: "[{{.Modality}}] {{.Instruction}}", NotesPath: notes})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	p, err := b.Build(context.Background(), contract.PromptRequest{Text: "x", Modality: "normalize"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	sys := p.(contract.ChatPrompt).System()
	if !strings.HasPrefix(sys, "[normalize] Normalize spacing") || !strings.HasSuffix(sys, "<notes>\nq; = que\n</notes>") {
		t.Fatalf("system 不符: %q", sys)
	}
	if b.EstimateOverheadTokens(func(s string) int { return len(s) }) == 0 {
		t.Fatalf("expect positive estimate")
	}
	if b.EstimateOverheadTokens(nil) != 0 {
		t.Fatalf("nil estimator 应为 0")
	}
}

func TestBuildErrors(t *testing.T) {
	if _, err := New(&Options{InlineSystemTemplate: "{{"}); err == nil {
		t.Fatalf("模板语法错误应失败")
	}
	if _, err := New(&Options{SystemTemplatePath: "/nonexistent/tpl"}); err == nil {
		t.Fatalf("模板文件缺失应失败")
	}
	b, _ := New(nil)
	if _, err := b.Build(context.Background(), contract.PromptRequest{Text: "  "}); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("空文本应为非法输入, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Build(ctx, contract.PromptRequest{Text: "x"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("应返回取消, got %v", err)
	}
}
