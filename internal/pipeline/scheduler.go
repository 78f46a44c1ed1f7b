package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"dipexpand/internal/diag"
	"dipexpand/pkg/contract"
)

// - 单点并发：仅此层管理并发；后端调用之外不持锁。
// - 顺序门闩：结果可乱序完成，但严格按块序号应用到文档并上报进度/部分结果。
// - 协作取消：提交前与应用前各检查一次；已提交的调用允许跑完，不强制中断。
// - 首错停止：任一块失败后不再提交新块；排空后返回序号最小的块错误。

// TransformFunc 计算单块的新文本；sess 仅在会话型遍中非空。
type TransformFunc func(ctx context.Context, text string, sess contract.Session) (string, error)

// PassSettings 单遍调度参数。
type PassSettings struct {
	Concurrency int
	Cancel      contract.CancelFunc
	// Events 可选；消费者须持续排空，否则调度在发送处等待（ctx 取消除外）。
	Events chan<- contract.Event
	// Prefix 进度消息前缀，如 "Pass 1/2: "。
	Prefix string
	FileID string
	Pass   int
	// Opener 非空时整遍串行，并在调度前打开会话、任一路径退出时关闭。
	Opener      contract.SessionOpener
	SessionFile string
}

// partialEvery 块数不超过该值时每块都发出部分结果。
const partialEvery = 8

type result struct {
	idx int
	out string
	err error
}

// RunPass 对 blocks 执行 tf，并按序号把结果写回 doc。
// 空块列表直接返回；返回的 Document 与入参为同一实例。
func RunPass(ctx context.Context, doc contract.Document, blocks []contract.Block, tf TransformFunc, set PassSettings, logger *diag.Logger) (contract.Document, error) {
	if len(blocks) == 0 {
		return doc, nil
	}
	s := &scheduler{ctx: ctx, doc: doc, blocks: blocks, tf: tf, set: set, logger: logger}
	timer := logger.StartWith("scheduler", "pass", set.FileID, "")

	conc := set.Concurrency
	if set.Opener != nil {
		sess, err := set.Opener.OpenSession(ctx, set.SessionFile)
		if err != nil {
			logger.ErrorWith("scheduler", string(diag.Classify(err)), "open session failed", nil, set.FileID, "")
			return doc, fmt.Errorf("open session: %w", err)
		}
		defer func() {
			if cerr := sess.Close(context.WithoutCancel(ctx)); cerr != nil {
				logger.Warn("scheduler", "close session failed", map[string]string{"err": cerr.Error()})
			}
		}()
		s.sess = sess
		conc = 1
	}

	var err error
	if conc <= 1 {
		err = s.sequential()
	} else {
		err = s.concurrent(conc)
	}
	if err != nil {
		s.flushPartial()
		code := diag.Classify(err)
		logger.ErrorWith("scheduler", string(code), "pass failed", nil, set.FileID, "")
		diag.IncOp("scheduler", "pass", "error")
		diag.IncError("scheduler", string(code))
		return doc, err
	}
	timer.Finish("pass", s.applied)
	diag.IncOp("scheduler", "pass", "success")
	return doc, nil
}

type scheduler struct {
	ctx     context.Context
	doc     contract.Document
	blocks  []contract.Block
	tf      TransformFunc
	set     PassSettings
	logger  *diag.Logger
	sess    contract.Session
	applied int
	// partialAt 最近一次部分结果对应的已应用块数。
	partialAt int
}

func (s *scheduler) cancelled() bool {
	if s.ctx.Err() != nil {
		return true
	}
	return s.set.Cancel != nil && s.set.Cancel()
}

func (s *scheduler) cancelErr() error {
	if err := s.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", contract.ErrCancelled, err)
	}
	return fmt.Errorf("pass: %w", contract.ErrCancelled)
}

func (s *scheduler) call(i int) result {
	b := s.blocks[i]
	s.logger.DebugStart("scheduler", "transform", s.set.FileID, strconv.Itoa(b.Ordinal), nil)
	t0 := time.Now()
	out, err := s.tf(s.ctx, b.Text, s.sess)
	diag.ObserveDuration("backend", "transform", time.Since(t0).Milliseconds())
	if err != nil {
		diag.IncOp("backend", "transform", "error")
		return result{idx: i, err: &contract.BlockTransformError{Ordinal: b.Ordinal, Text: b.Text, Err: err}}
	}
	diag.IncOp("backend", "transform", "success")
	return result{idx: i, out: out}
}

func (s *scheduler) sequential() error {
	for i := range s.blocks {
		if s.cancelled() {
			return s.cancelErr()
		}
		r := s.call(i)
		if r.err != nil {
			return r.err
		}
		if s.cancelled() {
			return s.cancelErr()
		}
		s.apply(r)
	}
	return nil
}

func (s *scheduler) concurrent(n int) error {
	pool, err := ants.NewPool(n)
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	defer func() { _ = pool.ReleaseTimeout(5 * time.Second) }()

	// 容量等于块数：worker 永不阻塞在结果发送上
	results := make(chan result, len(s.blocks))
	var halt atomic.Bool
	var stoppedByCancel atomic.Bool
	var wg sync.WaitGroup

	go func() {
		defer func() {
			wg.Wait()
			close(results)
		}()
		for i := range s.blocks {
			if halt.Load() {
				return
			}
			if s.cancelled() {
				stoppedByCancel.Store(true)
				return
			}
			idx := i
			wg.Add(1)
			if err := pool.Submit(func() {
				defer wg.Done()
				r := s.call(idx)
				if r.err != nil {
					halt.Store(true)
				}
				results <- r
			}); err != nil {
				wg.Done()
				halt.Store(true)
				results <- result{idx: idx, err: fmt.Errorf("submit block %d: %w", s.blocks[idx].Ordinal, err)}
				return
			}
		}
	}()

	buf := make(map[int]result)
	expect := 0
	var errs []result
	cancelledAtApply := false
	for r := range results {
		if r.err != nil {
			errs = append(errs, r)
			continue
		}
		if cancelledAtApply || len(errs) > 0 {
			continue
		}
		buf[r.idx] = r
		for {
			next, ok := buf[expect]
			if !ok {
				break
			}
			if s.cancelled() {
				cancelledAtApply = true
				halt.Store(true)
				break
			}
			delete(buf, expect)
			s.apply(next)
			expect++
		}
	}

	if len(errs) > 0 {
		first := errs[0]
		for _, e := range errs[1:] {
			if e.idx < first.idx {
				first = e
			}
		}
		return first.err
	}
	if cancelledAtApply || stoppedByCancel.Load() || expect < len(s.blocks) {
		return s.cancelErr()
	}
	return nil
}

// apply 由协调者独占调用：写回文本并按序上报。
func (s *scheduler) apply(r result) {
	s.blocks[r.idx].Ref.SetText(r.out)
	s.applied++
	cur, total := s.applied, len(s.blocks)
	s.emit(contract.Event{
		Kind:    contract.EventProgress,
		Current: cur,
		Total:   total,
		Message: fmt.Sprintf("%sBlock %d/%d", s.set.Prefix, cur, total),
	})
	if t := diag.GetTerminal(); t != nil {
		t.FileProgress(s.set.Pass, cur, total)
	}
	if shouldEmitPartial(cur, total) {
		s.emitPartial()
	}
}

// flushPartial 提前退出时补发部分结果，使其恰好包含已应用的块。
func (s *scheduler) flushPartial() {
	if s.applied > 0 && s.applied != s.partialAt {
		s.emitPartial()
	}
}

func (s *scheduler) emitPartial() {
	if s.set.Events == nil {
		return
	}
	text, err := s.doc.Serialize()
	if err != nil {
		s.logger.Warn("scheduler", "serialize partial failed", map[string]string{"err": err.Error()})
		return
	}
	s.partialAt = s.applied
	s.emit(contract.Event{Kind: contract.EventPartial, Current: s.applied, Total: len(s.blocks), Document: text})
}

// emit 优先投递；通道已满时等待，ctx 取消后放弃。
func (s *scheduler) emit(ev contract.Event) {
	if s.set.Events == nil {
		return
	}
	select {
	case s.set.Events <- ev:
		return
	default:
	}
	select {
	case s.set.Events <- ev:
	case <-s.ctx.Done():
	}
}

// shouldEmitPartial 块数 ≤ 8 时每块发出；否则偶数次与最后一块。
func shouldEmitPartial(cur, total int) bool {
	if total <= partialEvery {
		return true
	}
	return cur%2 == 0 || cur == total
}

// IsCancelled 判断错误是否为取消信号。
func IsCancelled(err error) bool { return errors.Is(err, contract.ErrCancelled) }
