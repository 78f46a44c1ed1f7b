// Package rate 提供按分组键的 RPM/TPM 令牌桶闸门，供后端调用前放行。
package rate

import (
	"context"
	"math"
	"sync"
	"time"

	"dipexpand/pkg/contract"
)

// Key 限流分组键（后端名 + 凭据摘要）。
type Key string

// Limits 每分组的限额；0 表示该维度不启用。
type Limits struct {
	RPM             int `json:"rpm,omitempty"`
	TPM             int `json:"tpm,omitempty"`
	MaxTokensPerReq int `json:"max_tokens_per_req,omitempty"`
}

// Ask 一次放行申请。
type Ask struct {
	Key      Key
	Requests int
	Tokens   int
}

// Gate 限流闸门（并发安全）。
type Gate interface {
	// Wait 阻塞直到额度可用或 ctx 取消；单请求超出上限时返回 ErrBudgetExceeded。
	Wait(ctx context.Context, a Ask) error
	// Try 非阻塞尝试。
	Try(a Ask) bool
}

// NewGate 从静态配置构造闸门；clk 为空使用 time.Now。未配置的键不限额。
func NewGate(m map[Key]Limits, clk func() time.Time) Gate {
	if clk == nil {
		clk = time.Now
	}
	g := &gate{clk: clk, groups: make(map[Key]*group, len(m))}
	now := clk()
	for k, lim := range m {
		g.groups[k] = newGroup(lim, now)
	}
	return g
}

type gate struct {
	clk    func() time.Time
	mu     sync.Mutex
	groups map[Key]*group
}

type group struct {
	mu       sync.Mutex
	lim      Limits
	requests *bucket
	tokens   *bucket
}

// bucket 每分钟补满 per 个单位的连续令牌桶；nil 表示不限。
type bucket struct {
	per   float64
	level float64
	last  time.Time
}

func newBucket(perMinute int, now time.Time) *bucket {
	if perMinute <= 0 {
		return nil
	}
	return &bucket{per: float64(perMinute), level: float64(perMinute), last: now}
}

func newGroup(lim Limits, now time.Time) *group {
	return &group{lim: lim, requests: newBucket(lim.RPM, now), tokens: newBucket(lim.TPM, now)}
}

// deficit 补充后返回距离可取 n 还差的等待时长；0 表示可立即取。
func (b *bucket) deficit(now time.Time, n int) time.Duration {
	if b == nil || n <= 0 {
		return 0
	}
	if now.After(b.last) {
		b.level = math.Min(b.per, b.level+now.Sub(b.last).Minutes()*b.per)
		b.last = now
	}
	need := float64(n) - b.level
	if need <= 0 {
		return 0
	}
	return time.Duration(need / b.per * float64(time.Minute))
}

func (b *bucket) take(n int) {
	if b == nil || n <= 0 {
		return
	}
	b.level = math.Max(0, b.level-float64(n))
}

func (g *gate) lookup(k Key) *group {
	g.mu.Lock()
	defer g.mu.Unlock()
	gr := g.groups[k]
	if gr == nil {
		gr = newGroup(Limits{}, g.clk())
		g.groups[k] = gr
	}
	return gr
}

func validate(a Ask, lim Limits) error {
	if a.Requests <= 0 || a.Tokens < 0 {
		return contract.ErrInvalidInput
	}
	if lim.MaxTokensPerReq > 0 && a.Tokens > lim.MaxTokensPerReq {
		return contract.ErrBudgetExceeded
	}
	return nil
}

// reserve 可放行则扣减并返回 0，否则返回建议等待时长。
func (gr *group) reserve(now time.Time, a Ask) time.Duration {
	gr.mu.Lock()
	defer gr.mu.Unlock()
	w := max(gr.requests.deficit(now, a.Requests), gr.tokens.deficit(now, a.Tokens))
	if w > 0 {
		return w
	}
	gr.requests.take(a.Requests)
	gr.tokens.take(a.Tokens)
	return 0
}

func (g *gate) Try(a Ask) bool {
	gr := g.lookup(a.Key)
	if validate(a, gr.lim) != nil {
		return false
	}
	return gr.reserve(g.clk(), a) == 0
}

func (g *gate) Wait(ctx context.Context, a Ask) error {
	gr := g.lookup(a.Key)
	if err := validate(a, gr.lim); err != nil {
		return err
	}
	const minSleep, maxSleep = 10 * time.Millisecond, 200 * time.Millisecond
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		w := gr.reserve(g.clk(), a)
		if w == 0 {
			return nil
		}
		// 分片睡眠以及时响应取消
		w = min(max(w, minSleep), maxSleep)
		t := time.NewTimer(w)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
