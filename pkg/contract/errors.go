package contract

import (
	"errors"
	"fmt"
)

// 最小错误分类（用于上层策略判定）。
var (
	ErrRateLimited     = errors.New("rate limited")
	ErrResponseInvalid = errors.New("response invalid")
	ErrInvalidInput    = errors.New("invalid input")
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrBudgetExceeded: 预算或配额不足（如 token 预算、上游配额）。
	ErrBudgetExceeded = errors.New("budget exceeded")
	// ErrCancelled: 取消谓词为真；调用方可恢复，非崩溃条件。
	ErrCancelled = errors.New("cancelled")
	// ErrExamplesInvalid: 项目示例文件不是合法 JSON。
	ErrExamplesInvalid = errors.New("examples invalid")
	// ErrSessionUnsupported: 后端不支持会话。
	ErrSessionUnsupported = errors.New("session unsupported")
)

// ParseError: 输入无法解析为 XML 文档；当前遍致命，不重试。
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return "parse: invalid or empty XML"
	}
	return "parse: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is 使 errors.Is(err, ErrInvalidInput) 对解析错误成立。
func (e *ParseError) Is(target error) bool { return target == ErrInvalidInput }

// BlockTransformError: 单块变换失败；携带块序号与原文。
type BlockTransformError struct {
	Ordinal int
	Text    string
	Err     error
}

func (e *BlockTransformError) Error() string {
	return fmt.Sprintf("block %d: %v", e.Ordinal, e.Err)
}

func (e *BlockTransformError) Unwrap() error { return e.Err }
