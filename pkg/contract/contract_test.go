package contract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

// TestNormalizeFileID 验证路径规范化逻辑。
func TestNormalizeFileID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"本地分隔符", filepath.Join("a", "b", "c"), "a/b/c"},
		{"相对父目录", "./x/../y", "y"},
		{"空串", "", "."},
		{"Windows路径", "C:\\corpus\\letters\\l1.xml", "C:/corpus/letters/l1.xml"},
		{"清理多余斜杠", "tei//vol1///ms.xml", "tei/vol1/ms.xml"},
		{"混合分隔符", "ms\\..\\ed/./a\\\\b.xml", "ed/a/b.xml"},
		{"中文路径", "手稿\\卷一/正文.xml", "手稿/卷一/正文.xml"},
		{"仅分隔符", "\\\\\\///", "/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeFileID(tt.input); string(got) != tt.expected {
				t.Errorf("NormalizeFileID(%q) = %q, expected %q", tt.input, got, tt.expected)
			}
		})
	}
}

// TestErrorTypes 验证错误类型与哨兵的关系。
func TestErrorTypes(t *testing.T) {
	pe := &ParseError{Err: errors.New("eof")}
	if !errors.Is(pe, ErrInvalidInput) {
		t.Fatalf("ParseError 应匹配 ErrInvalidInput")
	}
	if (&ParseError{}).Error() == "" {
		t.Fatalf("空 ParseError 消息不应为空")
	}
	cause := fmt.Errorf("upstream: %w", ErrRateLimited)
	be := &BlockTransformError{Ordinal: 3, Text: "y^e", Err: cause}
	if !errors.Is(be, ErrRateLimited) {
		t.Fatalf("BlockTransformError 应透传原因")
	}
	var got *BlockTransformError
	if !errors.As(fmt.Errorf("pass 1: %w", be), &got) || got.Ordinal != 3 || got.Text != "y^e" {
		t.Fatalf("errors.As 失败: %+v", got)
	}
}

// TestTagSet 覆盖集合构造与查询。
func TestTagSet(t *testing.T) {
	ts := NewTagSet("p", "", "seg")
	if len(ts) != 2 || !ts.Has("p") || ts.Has("div") {
		t.Fatalf("TagSet 结果错误: %v", ts)
	}
	if len(NewTagSet(DefaultTags...)) != len(DefaultTags) {
		t.Fatalf("默认标签存在重复")
	}
}

type plainBackend struct{}

func (plainBackend) Kind() BackendKind { return KindNoop }
func (plainBackend) Transform(_ context.Context, r Request) (string, error) {
	return r.Text, nil
}

type sessionBackend struct{ plainBackend }

func (sessionBackend) OpenSession(context.Context, string) (Session, error) { return nil, nil }

type wrapped struct {
	plainBackend
	inner Backend
}

func (w wrapped) Unwrap() Backend { return w.inner }

// TestAsSessionOpener 沿装饰链查找会话能力。
func TestAsSessionOpener(t *testing.T) {
	if _, ok := AsSessionOpener(plainBackend{}); ok {
		t.Fatalf("普通后端不应具备会话能力")
	}
	if _, ok := AsSessionOpener(wrapped{inner: wrapped{inner: sessionBackend{}}}); !ok {
		t.Fatalf("应穿透两层装饰器")
	}
	if _, ok := AsSessionOpener(wrapped{inner: plainBackend{}}); ok {
		t.Fatalf("链尾无会话能力")
	}
	if _, ok := AsSessionOpener(nil); ok {
		t.Fatalf("nil 后端")
	}
}

// TestChatPromptRoles 覆盖按角色拼接。
func TestChatPromptRoles(t *testing.T) {
	p := ChatPrompt{{Role: "system", Content: "a"}, {Role: "user", Content: "b"}, {Role: "system", Content: "c"}}
	if p.System() != "a\n\nc" || p.User() != "b" {
		t.Fatalf("拼接错误: %q %q", p.System(), p.User())
	}
}
