package blocks

import (
	"strings"
	"unicode/utf8"

	"dipexpand/pkg/contract"
)

// Range: 原始文本中的字符区间 [Start, End)。
type Range struct {
	Start int
	End   int
}

var minimalEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

var fullEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "'", "&apos;", `"`, "&quot;")

// Ranges 返回每个块在 src 中的字符区间（按文档序，单调不回退）。
// 先按元素序列化结果精确查找（得到整个元素区间）；失败时回退为查找 ">转义文本</"（得到内容区间）。
// 均失败的块被跳过。src 无法解析时返回空列表，不返回错误。
func Ranges(p contract.Parser, src string, tags contract.TagSet) []Range {
	doc, err := p.Parse(src)
	if err != nil {
		return nil
	}
	bl := Extract(doc, tags)
	if len(bl) == 0 {
		return nil
	}
	out := make([]Range, 0, len(bl))
	cursor := 0 // 字节偏移
	runeAt := newRuneIndex(src)
	for _, b := range bl {
		start, end, ok := locate(src, cursor, b)
		if !ok {
			continue
		}
		out = append(out, Range{Start: runeAt(start), End: runeAt(end)})
		cursor = end
	}
	return out
}

func locate(src string, from int, b contract.Block) (int, int, bool) {
	if m, err := b.Ref.Markup(); err == nil && m != "" {
		if i := strings.Index(src[from:], m); i >= 0 {
			s := from + i
			return s, s + len(m), true
		}
	}
	for _, esc := range []string{minimalEscaper.Replace(b.Text), fullEscaper.Replace(b.Text)} {
		needle := ">" + esc + "</"
		if i := strings.Index(src[from:], needle); i >= 0 {
			s := from + i + 1
			return s, s + len(esc), true
		}
	}
	return 0, 0, false
}

// newRuneIndex 返回字节偏移→字符偏移的换算函数；调用方需按非递减顺序查询。
func newRuneIndex(src string) func(byteOff int) int {
	lastByte, lastRune := 0, 0
	return func(off int) int {
		if off < lastByte {
			lastByte, lastRune = 0, 0
		}
		lastRune += utf8.RuneCountInString(src[lastByte:off])
		lastByte = off
		return lastRune
	}
}
