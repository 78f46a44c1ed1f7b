package examples

import (
	"regexp"
	"strings"
	"unicode"

	"dipexpand/pkg/contract"
)

// 模型回显提示词脚手架的特征。
var leakage = regexp.MustCompile(`(?i)(Diplomatic\s*:\s*|Full\s*:\s*|Output\s*:\s*|Here\s+is\s+the\s+expanded)`)

const punctRatioThreshold = 0.8

// punctRatio 非空白字符中非字母字符的比例；空文本为 0。
func punctRatio(s string) float64 {
	total, nonLetter := 0, 0
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if !unicode.IsLetter(r) {
			nonLetter++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(nonLetter) / float64(total)
}

// Filter 质量过滤候选对：
// 1) 任一侧为空或两侧相同；
// 2) 任一侧非空白内容中非字母占比 ≥ 80%；
// 3) full 含提示词回显标记（Diplomatic:/Full:/Output:/Here is the expanded）。
// 命中任一条件即丢弃；同批内按 AppearanceKey 去重，保留首个。输出已去首尾空白、不含 pro。
func Filter(pairs []contract.ExamplePair) []contract.ExamplePair {
	seen := make(map[string]struct{}, len(pairs))
	var out []contract.ExamplePair
	for _, p := range pairs {
		d := strings.TrimSpace(p.Diplomatic)
		f := strings.TrimSpace(p.Full)
		if d == "" || f == "" || d == f {
			continue
		}
		if punctRatio(d) >= punctRatioThreshold || punctRatio(f) >= punctRatioThreshold {
			continue
		}
		if leakage.MatchString(f) {
			continue
		}
		k := AppearanceKey(d)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, contract.ExamplePair{Diplomatic: d, Full: f})
	}
	return out
}
