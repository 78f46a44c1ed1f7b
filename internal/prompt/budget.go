// Package prompt 估算提示词 token 规模，供限流闸门申请额度。
package prompt

import "dipexpand/pkg/contract"

// MakeEstimator 返回一个近似 token 估算器：tokens ≈ ceil(len(utf8_bytes)/bytesPerToken)。
// 当 bytesPerToken<=0 时采用默认 4。
func MakeEstimator(bytesPerToken int) contract.TokenEstimator {
	bpt := bytesPerToken
	if bpt <= 0 {
		bpt = 4
	}
	return func(s string) int {
		n := len(s)
		if n == 0 {
			return 0
		}
		return (n + bpt - 1) / bpt
	}
}

// Tokens 估算一次请求的 token 数：按 Prompt 实际内容计；Prompt 为空时按块文本计。
func Tokens(req contract.Request, est contract.TokenEstimator) int {
	if est == nil {
		est = MakeEstimator(0)
	}
	switch v := req.Prompt.(type) {
	case contract.TextPrompt:
		return est(string(v))
	case contract.ChatPrompt:
		total := 0
		for _, m := range v {
			total += est(m.Content)
		}
		return total
	}
	return est(req.Text)
}

// Overhead 与块无关的固定开销（system 部分）；pb 为空返回 0。
func Overhead(pb contract.PromptBuilder, bytesPerToken int) int {
	if pb == nil {
		return 0
	}
	return pb.EstimateOverheadTokens(MakeEstimator(bytesPerToken))
}
