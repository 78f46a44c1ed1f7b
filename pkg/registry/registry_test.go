package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"dipexpand/pkg/contract"
)

// TestStrictUnmarshal 验证严格解码逻辑。
func TestStrictUnmarshal(t *testing.T) {
	type opt struct {
		A int `json:"a"`
	}
	var o opt
	if err := strictUnmarshal(nil, &o); err != nil || o.A != 0 {
		t.Fatalf("nil 输入失败: %v", err)
	}
	if err := strictUnmarshal(json.RawMessage(`null`), &o); err != nil {
		t.Fatalf("null 输入失败: %v", err)
	}
	if err := strictUnmarshal(json.RawMessage(`{"a":1}`), &o); err != nil || o.A != 1 {
		t.Fatalf("合法 JSON 解析失败: %v", err)
	}
	if err := strictUnmarshal(json.RawMessage(`{"a":1,"b":2}`), &o); err == nil {
		t.Fatalf("未知字段应报错")
	}
}

// TestFactories 遍历注册表入口。
func TestFactories(t *testing.T) {
	t.Run("reader", func(t *testing.T) {
		if _, err := Reader["fs"](json.RawMessage(`{"extensions":[".xml"]}`)); err != nil {
			t.Fatalf("reader: %v", err)
		}
		if _, err := Reader["fs"](json.RawMessage(`{"x":1}`)); err == nil {
			t.Fatalf("reader 未对未知字段报错")
		}
	})
	t.Run("parser", func(t *testing.T) {
		p, err := Parser["xmltree"](nil)
		if err != nil {
			t.Fatalf("parser: %v", err)
		}
		if _, err := p.Parse("<r/>"); err != nil {
			t.Fatalf("parse: %v", err)
		}
		if _, err := Parser["xmltree"](json.RawMessage(`{"x":1}`)); err == nil {
			t.Fatalf("parser 未对未知字段报错")
		}
	})
	t.Run("prompt", func(t *testing.T) {
		if _, err := PromptBuilder["expand"](json.RawMessage(`{}`)); err != nil {
			t.Fatalf("prompt: %v", err)
		}
		if _, err := PromptBuilder["expand"](json.RawMessage(`{"x":1}`)); err == nil {
			t.Fatalf("prompt 未对未知字段报错")
		}
	})
	t.Run("writer", func(t *testing.T) {
		tmp := t.TempDir()
		raw := json.RawMessage([]byte(fmt.Sprintf(`{"output_dir":%q}`, tmp)))
		if _, err := Writer["fs"](raw); err != nil {
			t.Fatalf("writer: %v", err)
		}
		bad := json.RawMessage([]byte(fmt.Sprintf(`{"output_dir":%q,"x":1}`, tmp)))
		if _, err := Writer["fs"](bad); err == nil {
			t.Fatalf("writer 未对未知字段报错")
		}
	})
	t.Run("backend-kinds", func(t *testing.T) {
		want := map[string]contract.BackendKind{
			"rules": contract.KindRules, "noop": contract.KindNoop,
			"mock": contract.KindRemote, "flaky": contract.KindRemote, "ollama": contract.KindLocal,
		}
		for name, kind := range want {
			b, err := Backend[name](nil)
			if err != nil {
				t.Fatalf("%s: %v", name, err)
			}
			if b.Kind() != kind {
				t.Fatalf("%s kind=%s want %s", name, b.Kind(), kind)
			}
		}
		if _, err := Backend["mock"](json.RawMessage(`{"bogus":1}`)); err == nil {
			t.Fatalf("mock 未对未知字段报错")
		}
	})
	t.Run("backend-keys", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		t.Setenv("GEMINI_API_KEY", "")
		t.Setenv("GOOGLE_API_KEY", "")
		if _, err := Backend["openai"](json.RawMessage(`{}`)); !errors.Is(err, contract.ErrInvalidInput) {
			t.Fatalf("openai 未按预期报错: %v", err)
		}
		if _, err := Backend["gemini"](json.RawMessage(`{}`)); !errors.Is(err, contract.ErrInvalidInput) {
			t.Fatalf("gemini 未按预期报错: %v", err)
		}
	})
	if got := BackendNames(); len(got) != 7 || got[0] != "flaky" {
		t.Fatalf("unexpected names %v", got)
	}
}
