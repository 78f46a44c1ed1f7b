// Package flaky 模拟不稳定的远端：前 N 次调用失败，之后成功。
package flaky

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"

	"dipexpand/pkg/contract"
)

// Options 定义可选项。
type Options struct {
	Prefix string `json:"prefix"`
	// Failures 前多少次调用失败，默认 2；奇数次为限流，偶数次为上游 503。
	Failures *int `json:"failures,omitempty"`
	// LogPath: 调试用日志文件，记录每次调用结果（可选）。
	LogPath string `json:"log_path,omitempty"`
}

// Backend 是带状态的后端：
// 失败阶段的第 1、3、5… 次返回 ErrRateLimited，第 2、4… 次返回上游 503；
// 之后返回 "<Prefix>: <原文>"。
type Backend struct {
	prefix   string
	failures int32
	logPath  string
	count    atomic.Int32
}

// New 构造 Backend。
func New(raw json.RawMessage) (contract.Backend, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, err
		}
	}
	if o.Prefix == "" {
		o.Prefix = "FLAKY"
	}
	n := 2
	if o.Failures != nil {
		n = max(*o.Failures, 0)
	}
	return &Backend{prefix: o.Prefix, failures: int32(n), logPath: o.LogPath}, nil
}

// UpstreamError 模拟的上游 HTTP 错误。
type UpstreamError struct{ Status int }

func (e UpstreamError) Error() string           { return fmt.Sprintf("flaky upstream %d", e.Status) }
func (e UpstreamError) UpstreamStatus() int     { return e.Status }
func (e UpstreamError) UpstreamMessage() string { return http.StatusText(e.Status) }

func (b *Backend) log(s string) {
	if b.logPath == "" {
		return
	}
	// 追加写入，忽略错误。
	_ = appendFile(b.logPath, s+"\n")
}

// appendFile 以追加方式写入。
func appendFile(path, s string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(s)
	return err
}

func (b *Backend) Kind() contract.BackendKind { return contract.KindRemote }

// Transform 实现 contract.Backend。
func (b *Backend) Transform(ctx context.Context, req contract.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	n := b.count.Add(1)
	switch {
	case n > b.failures:
		b.log("ok")
		return b.prefix + ": " + req.Text, nil
	case n%2 == 1:
		b.log("rate_limited")
		return "", contract.ErrRateLimited
	default:
		b.log("unavailable")
		return "", UpstreamError{Status: http.StatusServiceUnavailable}
	}
}

var (
	_ contract.Backend       = (*Backend)(nil)
	_ contract.UpstreamError = UpstreamError{}
)
