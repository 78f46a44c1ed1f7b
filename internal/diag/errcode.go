package diag

import (
	"context"
	"errors"
	"net"
	"os"

	"dipexpand/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeNetwork   Code = "network"
	CodeProtocol  Code = "protocol"
	CodeInvariant Code = "invariant"
	CodeBudget    Code = "budget"
	CodeCancel    Code = "cancel"
	CodeIO        Code = "io"
	CodeParse     Code = "parse"
)

// Classify 将错误归为最小分类。
// 只看哨兵错误、上游状态码与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	// 取消/超时优先
	if errors.Is(err, contract.ErrCancelled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	if errors.Is(err, contract.ErrBudgetExceeded) || errors.Is(err, contract.ErrRateLimited) {
		return CodeBudget
	}
	if errors.Is(err, contract.ErrResponseInvalid) {
		return CodeProtocol
	}
	var perr *contract.ParseError
	if errors.As(err, &perr) || errors.Is(err, contract.ErrExamplesInvalid) {
		return CodeParse
	}
	if errors.Is(err, contract.ErrInvalidInput) ||
		errors.Is(err, contract.ErrPathInvalid) ||
		errors.Is(err, contract.ErrSessionUnsupported) {
		return CodeInvariant
	}
	var ue contract.UpstreamError
	if errors.As(err, &ue) {
		switch s := ue.UpstreamStatus(); {
		case s == 429:
			return CodeBudget
		case s >= 500:
			return CodeNetwork
		case s >= 400:
			return CodeProtocol
		}
	}
	var pe *os.PathError
	if errors.As(err, &pe) {
		return CodeIO
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	return CodeUnknown
}
