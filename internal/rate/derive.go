package rate

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
)

// keyEnvs 各远端后端在未显式配置时读取的环境变量（按顺序）。
var keyEnvs = map[string][]string{
	"gemini": {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"openai": {"OPENAI_API_KEY"},
}

// DeriveKey 按后端名与其原样 options 构造限流分组键。
// 有凭据时为 backend:sha256(key)，同一账号共享额度；无凭据（本地/规则类）时为后端名。
func DeriveKey(backend string, raw json.RawMessage) Key {
	var obj map[string]any
	_ = json.Unmarshal(raw, &obj)
	pick := func(k string) string {
		if s, ok := obj[k].(string); ok {
			return s
		}
		return ""
	}
	key := pick("api_key")
	if key == "" {
		if env := pick("api_key_env"); env != "" {
			key = os.Getenv(env)
		}
	}
	for _, env := range keyEnvs[backend] {
		if key != "" {
			break
		}
		key = os.Getenv(env)
	}
	if key == "" {
		return Key(backend)
	}
	sum := sha256.Sum256([]byte(key))
	return Key(fmt.Sprintf("%s:%x", backend, sum[:8]))
}
