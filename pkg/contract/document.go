package contract

// Element: 解析树中元素的最小视图。
// 约束：
// 1) LocalName 不含命名空间前缀；
// 2) Text 返回全部后代文本节点按文档序拼接；
// 3) SetText 移除全部子节点并写入单一文本节点（属性与尾随文本保持不变）；
// 4) Markup 仅用于范围映射，不得修改树。
type Element interface {
	LocalName() string
	Text() string
	SetText(text string)
	Children() []Element
	Markup() (string, error)
}

// Document: 已解析文档句柄；一遍（pass）内由单一协调者独占并原地修改。
type Document interface {
	Root() Element
	// Serialize 输出完整文档字符串（保留原有声明/注释/处理指令）。
	Serialize() (string, error)
	// SourceLen 原始输入长度（字符数）。
	SourceLen() int
}

// Parser: 文档解析协作者。
// 非 XML 输入必须返回 *ParseError，而非“合法但无块”的空文档。
type Parser interface {
	Parse(src string) (Document, error)
}
