package examples

import (
	"strings"

	"dipexpand/pkg/contract"
)

// DefaultMaxLearned 学习池默认容量。
const DefaultMaxLearned = 2000

// Pool 有界学习池：AppearanceKey → ExamplePair，保持插入顺序（覆盖不改变位置）。
// 溢出时优先保留 pro 条目，非 pro 条目按最旧优先淘汰；
// 若 pro 条目本身超过容量，仅保留最后 max 个 pro 条目。
type Pool struct {
	max     int
	order   []string
	entries map[string]contract.ExamplePair
}

// NewPool 以已有条目初始化；max <= 0 使用 DefaultMaxLearned。
func NewPool(max int, existing []contract.ExamplePair) *Pool {
	if max <= 0 {
		max = DefaultMaxLearned
	}
	p := &Pool{max: max, entries: make(map[string]contract.ExamplePair, len(existing))}
	for _, e := range existing {
		d := strings.TrimSpace(e.Diplomatic)
		if d == "" {
			continue
		}
		p.put(AppearanceKey(d), contract.ExamplePair{Diplomatic: d, Full: strings.TrimSpace(e.Full), Pro: e.Pro})
	}
	return p
}

func (p *Pool) put(k string, e contract.ExamplePair) {
	if _, ok := p.entries[k]; !ok {
		p.order = append(p.order, k)
	}
	p.entries[k] = e
}

// Len 当前条目数。
func (p *Pool) Len() int { return len(p.order) }

// Get 按原文查找（内部按 AppearanceKey）。
func (p *Pool) Get(diplomatic string) (contract.ExamplePair, bool) {
	e, ok := p.entries[AppearanceKey(diplomatic)]
	return e, ok
}

// Merge 合并候选对，返回新增条目数（新键或 pro 覆盖非 pro）。
// 规则（按 AppearanceKey）：
// 1) 键属于 authoritative（项目示例）时无条件丢弃；
// 2) pro 来源覆盖已存的非 pro；
// 3) 非 pro 来源永不覆盖已存的 pro；
// 4) 其余情况覆盖，并以本次来源标记 pro。
// 合并后若超出容量则执行淘汰。
// 返回新增条数与内容实际变化的条数（含同键改写）；changed>0 时调用方应落盘。
func (p *Pool) Merge(pairs []contract.ExamplePair, pro bool, authoritative map[string]struct{}) (added, changed int) {
	for _, c := range pairs {
		d := strings.TrimSpace(c.Diplomatic)
		f := strings.TrimSpace(c.Full)
		if d == "" || d == f {
			continue
		}
		k := AppearanceKey(d)
		if _, auth := authoritative[k]; auth {
			continue
		}
		next := contract.ExamplePair{Diplomatic: d, Full: f, Pro: pro}
		old, exists := p.entries[k]
		switch {
		case !exists:
			added++
		case pro && !old.Pro:
			added++
		case !pro && old.Pro:
			continue
		}
		if !exists || old != next {
			changed++
		}
		p.put(k, next)
	}
	p.evict()
	return added, changed
}

func (p *Pool) evict() {
	if len(p.order) <= p.max {
		return
	}
	var pros, rest []string
	for _, k := range p.order {
		if p.entries[k].Pro {
			pros = append(pros, k)
		} else {
			rest = append(rest, k)
		}
	}
	var keep []string
	if len(pros) >= p.max {
		keep = pros[len(pros)-p.max:]
	} else {
		keep = append(pros, rest[len(rest)-(p.max-len(pros)):]...)
	}
	kept := make(map[string]contract.ExamplePair, len(keep))
	for _, k := range keep {
		kept[k] = p.entries[k]
	}
	p.order = keep
	p.entries = kept
}

// Pairs 以当前顺序导出条目（淘汰后顺序：pro 在前，其余在后）。
func (p *Pool) Pairs() []contract.ExamplePair {
	out := make([]contract.ExamplePair, len(p.order))
	for i, k := range p.order {
		out[i] = p.entries[k]
	}
	return out
}

// KeySet 由示例集合构造 AppearanceKey 集合（用作 authoritative）。
func KeySet(pairs []contract.ExamplePair) map[string]struct{} {
	out := make(map[string]struct{}, len(pairs))
	for _, e := range pairs {
		if d := strings.TrimSpace(e.Diplomatic); d != "" {
			out[AppearanceKey(d)] = struct{}{}
		}
	}
	return out
}
