package contract

import "context"

// BackendKind: 变换后端的封闭变体集合。
type BackendKind string

const (
	// KindRemote 远端 LLM（按次计费、可能限流）。
	KindRemote BackendKind = "remote"
	// KindLocal 本地推理服务（失败回退规则替换）。
	KindLocal BackendKind = "local"
	// KindRules 确定性规则替换。
	KindRules BackendKind = "rules"
	// KindNoop 原样返回（dry-run / 测试）。
	KindNoop BackendKind = "noop"
)

// Request: 单块变换请求。
type Request struct {
	Text     string
	Prompt   Prompt        // 由 PromptBuilder 构造；规则类后端忽略
	Examples []ExamplePair // 规则类后端的替换表；LLM 后端仅作参考
	Modality string
	Session  Session // 仅会话型后端的首遍非空
}

// Backend: 单块变换能力。
// 约束：
// 1) 单次调用、同步返回；尊重 ctx 取消/超时；
// 2) 不触碰文档树；仅计算文本；
// 3) 可被多个 worker 并发调用。
type Backend interface {
	Kind() BackendKind
	Transform(ctx context.Context, req Request) (string, error)
}

// Session: 后端持有的、跨整遍共享的有状态资源（如已上传的文件上下文）。
type Session interface {
	Close(ctx context.Context) error
}

// SessionOpener: 可选能力；实现者要求整遍串行执行。
type SessionOpener interface {
	OpenSession(ctx context.Context, file string) (Session, error)
}

// Unwrapper: 装饰器暴露被包装的后端。
type Unwrapper interface {
	Unwrap() Backend
}

// AsSessionOpener 沿装饰链查找 SessionOpener。
func AsSessionOpener(b Backend) (SessionOpener, bool) {
	for b != nil {
		if so, ok := b.(SessionOpener); ok {
			return so, true
		}
		u, ok := b.(Unwrapper)
		if !ok {
			return nil, false
		}
		b = u.Unwrap()
	}
	return nil, false
}
