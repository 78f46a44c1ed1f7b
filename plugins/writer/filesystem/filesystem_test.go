package filesystem

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"dipexpand/pkg/contract"
)

func noTmpLeft(t *testing.T, dir string) {
	t.Helper()
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Fatalf("tmp file not cleaned: %s", e.Name())
		}
	}
}

// TestWriteAtomicReplace 原子写入并替换已存在文件。
func TestWriteAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	w, err := New(&Options{OutputDir: dir})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, v := range []string{"<r>v1</r>", "<r>v2</r>"} {
		if err := w.Write(context.Background(), "ms.xml", bytes.NewBufferString(v)); err != nil {
			t.Fatalf("write %s: %v", v, err)
		}
	}
	b, err := os.ReadFile(filepath.Join(dir, "ms.xml"))
	if err != nil || string(b) != "<r>v2</r>" {
		t.Fatalf("unexpected file %v %q", err, string(b))
	}
	noTmpLeft(t, dir)
}

// TestWriteSuffix 输出名带后缀：<stem>_expanded.xml。
func TestWriteSuffix(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir, Suffix: "_expanded"})
	if err := w.Write(context.Background(), "corpus/vol1/letter.xml", strings.NewReader("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "letter_expanded.xml")); err != nil {
		t.Fatalf("suffix 输出缺失: %v", err)
	}
	p, err := w.Target("a/b.xml")
	if err != nil || filepath.Base(p) != "b_expanded.xml" {
		t.Fatalf("Target 结果错误: %q %v", p, err)
	}
}

// TestWriteStdout "-" 写到标准输出。
func TestWriteStdout(t *testing.T) {
	w, _ := New(&Options{OutputDir: "-"})
	var buf bytes.Buffer
	w.stdout = &buf
	if err := w.Write(context.Background(), "ignored.xml", strings.NewReader("<r/>")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if buf.String() != "<r/>" {
		t.Fatalf("stdout 内容错误: %q", buf.String())
	}
	if p, _ := w.Target("x"); p != "-" {
		t.Fatalf("Target 应为 -")
	}
}

// TestWritePathInvalid 路径越界
func TestWritePathInvalid(t *testing.T) {
	flat := false
	w, _ := New(&Options{OutputDir: t.TempDir(), Flat: &flat})
	if err := w.Write(context.Background(), "../bad", bytes.NewBufferString("x")); !errors.Is(err, contract.ErrPathInvalid) {
		t.Fatalf("expect path invalid, got %v", err)
	}
}

// TestMapPathRejects 非扁平模式拒绝绝对路径与越界；扁平与同目录模式拒绝空主名
func TestMapPathRejects(t *testing.T) {
	abs := "/abs/a.xml"
	if runtime.GOOS == "windows" {
		abs = `C:\abs\a.xml`
	}
	flat, nested := true, false
	cases := []struct {
		name string
		opts Options
		id   string
	}{
		{"nested-abs", Options{OutputDir: t.TempDir(), Flat: &nested}, abs},
		{"nested-parent", Options{OutputDir: t.TempDir(), Flat: &nested}, ".."},
		{"nested-dot", Options{OutputDir: t.TempDir(), Flat: &nested}, "."},
		{"flat-dot", Options{OutputDir: t.TempDir(), Flat: &flat}, "."},
		{"beside-stdin", Options{Beside: true, Suffix: "_expanded"}, "stdin"},
	}
	for _, c := range cases {
		w, err := New(&c.opts)
		if err != nil {
			t.Fatalf("%s: new: %v", c.name, err)
		}
		if _, err := w.mapPath(contract.ArtifactID(c.id)); !errors.Is(err, contract.ErrPathInvalid) {
			t.Fatalf("%s: id %q 应判为非法, got %v", c.name, c.id, err)
		}
	}
}

// TestWriteNonAtomic 非原子写入保留层级
func TestWriteNonAtomic(t *testing.T) {
	dir := t.TempDir()
	flat, atomic := false, false
	w, _ := New(&Options{OutputDir: dir, Flat: &flat, Atomic: &atomic})
	if err := w.Write(context.Background(), "sub/out.xml", bytes.NewBufferString("v")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "sub", "out.xml")); err != nil {
		t.Fatalf("file not created")
	}
}

// TestWriteCtxCancel 上下文取消
func TestWriteCtxCancel(t *testing.T) {
	w, _ := New(&Options{OutputDir: t.TempDir()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Write(ctx, "a.xml", strings.NewReader("data")); err == nil {
		t.Fatalf("expect ctx error")
	}
}

// TestNewInvalid 参数缺失
func TestNewInvalid(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatalf("expect error for nil opts")
	}
	if _, err := New(&Options{}); err == nil {
		t.Fatalf("expect error for empty output dir")
	}
}

type errReader struct{}

func (errReader) Read(p []byte) (int, error) { return 0, errors.New("boom") }

// TestWriteAtomicCopyError 拷贝失败不残留临时文件
func TestWriteAtomicCopyError(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	if err := w.Write(context.Background(), "a.xml", errReader{}); err == nil {
		t.Fatalf("expect copy error")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("temp files left %v", entries)
	}
}

// TestWriteFileAtomic 单文件原子写（含父目录创建）。
func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "nested", "learned_examples.json")
	if err := WriteFileAtomic(context.Background(), p, []byte("[]")); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := os.ReadFile(p)
	if err != nil || string(b) != "[]" {
		t.Fatalf("内容错误: %q %v", b, err)
	}
	noTmpLeft(t, filepath.Dir(p))
}

// TestWriteBeside 产物写在输入文件旁，带后缀。
func TestWriteBeside(t *testing.T) {
	dir := t.TempDir()
	if _, err := New(&Options{Beside: true}); err == nil {
		t.Fatalf("beside 无后缀应失败")
	}
	w, err := New(&Options{Beside: true, Suffix: "_expanded"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	src := filepath.Join(dir, "vol1", "ms.xml")
	id := contract.ArtifactID(contract.NormalizeFileID(src))
	if err := w.Write(context.Background(), id, strings.NewReader("<r/>")); err != nil {
		t.Fatalf("write: %v", err)
	}
	want := filepath.Join(dir, "vol1", "ms_expanded.xml")
	if got, _ := w.Target(id); got != want {
		t.Fatalf("target %q want %q", got, want)
	}
	if b, err := os.ReadFile(want); err != nil || string(b) != "<r/>" {
		t.Fatalf("unexpected file %v %q", err, string(b))
	}
	if _, err := w.Target("stdin"); !errors.Is(err, contract.ErrPathInvalid) {
		t.Fatalf("stdin 无法写在旁边, got %v", err)
	}
}
