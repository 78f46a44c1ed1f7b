package contract

import "context"

// Prompt: 不透明载荷，由具体 PromptBuilder/Backend 配对解释。
type Prompt any

// Message: 最小会话消息形状（可用于 ChatPrompt）。
type Message struct {
	Role    string
	Content string
}

// TextPrompt: 文本型提示词载荷。
type TextPrompt string

// ChatPrompt: 会话型提示词载荷（最小集合）。
type ChatPrompt []Message

// PromptRequest: 单块提示词输入。
type PromptRequest struct {
	Text     string
	Examples []ExamplePair
	Modality string
}

// PromptBuilder: 基于块文本与示例构造确定性的 Prompt。
// 约束：
//   - 纯计算，不做 I/O；
//   - 不隐式修改块文本；
//   - 失败快速返回错误。
type PromptBuilder interface {
	Build(ctx context.Context, req PromptRequest) (Prompt, error)
	// EstimateOverheadTokens: 估算与块无关的固定提示词开销（system 部分）。
	EstimateOverheadTokens(estimate TokenEstimator) int
}

// TokenEstimator: 文本→token 的近似估算函数。
// 典型实现：ceil(len(utf8_bytes)/BytesPerToken)。
type TokenEstimator func(s string) int

// System/User 从 ChatPrompt 中取出对应角色的拼接内容。
func (p ChatPrompt) System() string { return p.join("system") }

func (p ChatPrompt) User() string { return p.join("user") }

func (p ChatPrompt) join(role string) string {
	out := ""
	for _, m := range p {
		if m.Role != role {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += m.Content
	}
	return out
}
