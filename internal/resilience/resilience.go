// Package resilience 为任意后端加上限流放行与指数退避重试。
package resilience

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"dipexpand/internal/diag"
	"dipexpand/internal/prompt"
	"dipexpand/internal/rate"
	"dipexpand/pkg/contract"
)

const (
	// DefaultInitialInterval 首次重试等待；远端限流通常需要数秒恢复。
	DefaultInitialInterval = 8 * time.Second
	DefaultMaxInterval     = 60 * time.Second
)

// Options 包装参数。
type Options struct {
	Gate            rate.Gate
	Key             rate.Key
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	BytesPerToken   int
	Logger          *diag.Logger
}

// Backend 装饰后的后端；Unwrap 暴露内层以便查找 SessionOpener。
type Backend struct {
	inner contract.Backend
	opts  Options
	est   contract.TokenEstimator
}

// Wrap 包装 b；MaxRetries<=0 时只调用一次（仍经过闸门）。
func Wrap(b contract.Backend, opts Options) *Backend {
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = DefaultInitialInterval
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = DefaultMaxInterval
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Backend{inner: b, opts: opts, est: prompt.MakeEstimator(opts.BytesPerToken)}
}

var (
	_ contract.Backend   = (*Backend)(nil)
	_ contract.Unwrapper = (*Backend)(nil)
)

func (b *Backend) Kind() contract.BackendKind { return b.inner.Kind() }

func (b *Backend) Unwrap() contract.Backend { return b.inner }

// Transform 先经闸门放行，再调用内层；仅对限流与网络类错误退避重试。
// 取消与闸门错误不重试。
func (b *Backend) Transform(ctx context.Context, req contract.Request) (string, error) {
	tokens := prompt.Tokens(req, b.est)
	var out string
	attempt := 0
	op := func() error {
		attempt++
		if b.opts.Gate != nil {
			if err := b.opts.Gate.Wait(ctx, rate.Ask{Key: b.opts.Key, Requests: 1, Tokens: tokens}); err != nil {
				return backoff.Permanent(err)
			}
		}
		s, err := b.inner.Transform(ctx, req)
		if err == nil {
			out = s
			return nil
		}
		if !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = b.opts.InitialInterval
	exp.MaxInterval = b.opts.MaxInterval
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(b.opts.MaxRetries)), ctx)

	notify := func(err error, wait time.Duration) {
		code := diag.Classify(err)
		kv := map[string]string{
			"attempt": strconv.Itoa(attempt),
			"wait_ms": strconv.FormatInt(wait.Milliseconds(), 10),
			"code":    string(code),
		}
		var ue contract.UpstreamError
		if errors.As(err, &ue) {
			kv["http_status"] = strconv.Itoa(ue.UpstreamStatus())
		}
		b.opts.Logger.Warn("resilience", "retry", kv)
		diag.IncOp("resilience", "retry", "retry")
		diag.IncError("resilience", string(code))
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return "", err
	}
	return out, nil
}

// Retryable 限流、网络错误与上游 5xx 可重试；取消永不重试。
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch diag.Classify(err) {
	case diag.CodeCancel:
		return false
	case diag.CodeNetwork:
		return true
	}
	if errors.Is(err, contract.ErrRateLimited) {
		return true
	}
	var ue contract.UpstreamError
	if errors.As(err, &ue) {
		s := ue.UpstreamStatus()
		return s == 429 || s >= 500
	}
	return false
}
