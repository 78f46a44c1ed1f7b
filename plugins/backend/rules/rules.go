// Package rules 以示例对做确定性替换：不依赖模型与网络。
package rules

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"dipexpand/pkg/contract"
)

// Pair 已规范化（NFC）的替换对。
type Pair struct {
	From string
	To   string
}

// Sort 规范化并按 From 的字符数降序排列；任一侧为空的对被丢弃。
// 同长度保持原顺序，结果对相同输入稳定。
func Sort(examples []contract.ExamplePair) []Pair {
	out := make([]Pair, 0, len(examples))
	for _, e := range examples {
		if e.Diplomatic == "" || e.Full == "" {
			continue
		}
		out = append(out, Pair{From: norm.NFC.String(e.Diplomatic), To: e.Full})
	}
	slices.SortStableFunc(out, func(a, b Pair) int { return cmp.Compare(utf8.RuneCountInString(b.From), utf8.RuneCountInString(a.From)) })
	return out
}

// Expand 对 text 依次应用示例替换（长者优先）。
// 空白文本原样返回；文本先做 NFC，使组合/分解两种编码都能命中。
func Expand(text string, examples []contract.ExamplePair) string {
	return Apply(text, Sort(examples))
}

// Apply 与 Expand 相同，但使用预排序的替换对。
func Apply(text string, pairs []Pair) string {
	if strings.TrimSpace(text) == "" || len(pairs) == 0 {
		return text
	}
	out := norm.NFC.String(text)
	for _, p := range pairs {
		if p.From == "" || p.To == "" {
			continue
		}
		if len(p.To) > len(p.From) && strings.HasPrefix(p.To, p.From) {
			out = replaceGuarded(out, p.From, p.To, p.To[len(p.From):])
			continue
		}
		out = strings.ReplaceAll(out, p.From, p.To)
	}
	return out
}

// replaceGuarded 替换 from，但跳过其后已紧跟 suffix 的出现（已是完整形式）。
func replaceGuarded(s, from, to, suffix string) string {
	if !strings.Contains(s, from) {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); {
		if strings.HasPrefix(s[i:], from) && !strings.HasPrefix(s[i+len(from):], suffix) {
			sb.WriteString(to)
			i += len(from)
			continue
		}
		sb.WriteByte(s[i])
		i++
	}
	return sb.String()
}

// Backend 规则后端；替换表来自 Request.Examples。
type Backend struct{}

// New 不需要任何选项。
func New(json.RawMessage) (contract.Backend, error) { return Backend{}, nil }

var _ contract.Backend = Backend{}

func (Backend) Kind() contract.BackendKind { return contract.KindRules }

func (Backend) Transform(ctx context.Context, req contract.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return Expand(req.Text, req.Examples), nil
}
