// Package xmltree 以 etree 实现 contract.Parser：解析、元素遍历、文本替换与序列化。
package xmltree

import (
	"strings"
	"unicode/utf8"

	"github.com/beevik/etree"

	"dipexpand/pkg/contract"
)

// Options: 解析器选项。
type Options struct {
	// Strict 为 true 时关闭容错解析（默认容错：自动闭合、HTML 实体）。
	Strict bool `json:"strict"`
}

// Parser: etree 解析器。
type Parser struct {
	strict bool
}

// New 构造解析器；opts 可为 nil。
func New(opts *Options) *Parser {
	p := &Parser{}
	if opts != nil {
		p.strict = opts.Strict
	}
	return p
}

// Parse 解析 XML 文本。
// 无根元素（纯文本、JSON、空串等）视为非 XML，返回 *contract.ParseError。
func (p *Parser) Parse(src string) (contract.Document, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.Permissive = !p.strict
	doc.ReadSettings.PreserveCData = true
	doc.WriteSettings.CanonicalText = true
	doc.WriteSettings.CanonicalAttrVal = true
	if err := doc.ReadFromString(src); err != nil {
		return nil, &contract.ParseError{Err: err}
	}
	if doc.Root() == nil {
		return nil, &contract.ParseError{}
	}
	return &Document{doc: doc, srcLen: utf8.RuneCountInString(src)}, nil
}

// Document 包装 etree.Document。
type Document struct {
	doc    *etree.Document
	srcLen int
}

// Root 返回根元素。
func (d *Document) Root() contract.Element {
	r := d.doc.Root()
	if r == nil {
		return nil
	}
	return element{e: r}
}

// Serialize 输出完整文档（含原有声明、注释与处理指令）。
func (d *Document) Serialize() (string, error) { return d.doc.WriteToString() }

// SourceLen 原始输入字符数。
func (d *Document) SourceLen() int { return d.srcLen }

type element struct {
	e *etree.Element
}

func (x element) LocalName() string { return x.e.Tag }

func (x element) Text() string {
	var b strings.Builder
	collectText(x.e, &b)
	return b.String()
}

func collectText(e *etree.Element, b *strings.Builder) {
	for _, tok := range e.Child {
		switch c := tok.(type) {
		case *etree.CharData:
			b.WriteString(c.Data)
		case *etree.Element:
			collectText(c, b)
		}
	}
}

// SetText 清空全部子节点后写入单一文本节点。
func (x element) SetText(text string) {
	for i := len(x.e.Child) - 1; i >= 0; i-- {
		x.e.RemoveChildAt(i)
	}
	x.e.SetText(text)
}

func (x element) Children() []contract.Element {
	kids := x.e.ChildElements()
	if len(kids) == 0 {
		return nil
	}
	out := make([]contract.Element, len(kids))
	for i, k := range kids {
		out[i] = element{e: k}
	}
	return out
}

// Markup 序列化元素自身（脱离父节点的副本，不修改树）。
func (x element) Markup() (string, error) {
	d := etree.NewDocument()
	d.WriteSettings.CanonicalText = true
	d.WriteSettings.CanonicalAttrVal = true
	d.SetRoot(x.e.Copy())
	return d.WriteToString()
}

var _ contract.Parser = (*Parser)(nil)
var _ contract.Document = (*Document)(nil)
