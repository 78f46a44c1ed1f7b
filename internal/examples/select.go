package examples

import (
	"container/heap"
	"sort"
	"strings"
	"unicode/utf8"

	"dipexpand/pkg/contract"
)

// Strategy 示例选择策略。
type Strategy string

const (
	// LongestFirst 优先 diplomatic 更长的示例（每 token 覆盖更多缩写模式）。
	LongestFirst Strategy = "longest-first"
	// MostRecent 取存储顺序中的最后 N 个。
	MostRecent Strategy = "most-recent"
)

// ParseStrategy 未知取值回落为 LongestFirst。
func ParseStrategy(s string) Strategy {
	if Strategy(strings.TrimSpace(s)) == MostRecent {
		return MostRecent
	}
	return LongestFirst
}

// Select 返回注入提示词的示例子集。
// max < 0 表示不设上限；max >= len(pairs) 时原样返回全部。
func Select(pairs []contract.ExamplePair, max int, strategy Strategy) []contract.ExamplePair {
	if len(pairs) == 0 {
		return nil
	}
	if max < 0 || max >= len(pairs) {
		return clonePairs(pairs)
	}
	if max == 0 {
		return []contract.ExamplePair{}
	}
	if strategy == MostRecent {
		return clonePairs(pairs[len(pairs)-max:])
	}
	return longest(pairs, max)
}

type ranked struct {
	n   int // 去空白后 diplomatic 的字符数
	idx int
}

// minRank 为大小固定为 k 的小顶堆：堆顶是当前保留集合中“最差”的元素。
// 等长时原序靠后者更差，保证结果稳定（与原序一致）。
type minRank []ranked

func (h minRank) Len() int { return len(h) }
func (h minRank) Less(i, j int) bool {
	if h[i].n != h[j].n {
		return h[i].n < h[j].n
	}
	return h[i].idx > h[j].idx
}
func (h minRank) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *minRank) Push(x any)   { *h = append(*h, x.(ranked)) }
func (h *minRank) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

// longest 部分选择：O(n log k)，不对整个池排序。
func longest(pairs []contract.ExamplePair, k int) []contract.ExamplePair {
	h := make(minRank, 0, k)
	for i, p := range pairs {
		r := ranked{n: utf8.RuneCountInString(strings.TrimSpace(p.Diplomatic)), idx: i}
		if h.Len() < k {
			heap.Push(&h, r)
			continue
		}
		if top := h[0]; r.n > top.n {
			h[0] = r
			heap.Fix(&h, 0)
		}
	}
	sort.Slice(h, func(i, j int) bool {
		if h[i].n != h[j].n {
			return h[i].n > h[j].n
		}
		return h[i].idx < h[j].idx
	})
	out := make([]contract.ExamplePair, len(h))
	for i, r := range h {
		out[i] = pairs[r.idx]
	}
	return out
}
