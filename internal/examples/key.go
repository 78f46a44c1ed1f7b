// Package examples 管理上下文示例：分层加载与缓存、选择策略，以及从已接受结果中增量学习。
package examples

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// 外观等价折叠表：零宽字符删除，破折号/引号/空格变体折叠为 ASCII。
var foldReplacer = strings.NewReplacer(
	"\u200b", "", "\u200c", "", "\u200d", "", "\ufeff", "",
	"\u2010", "-", "\u2011", "-", "\u2012", "-", "\u2013", "-", "\u2014", "-", "\u2212", "-",
	"\u2018", "'", "\u2019", "'", "\u201b", "'", "\u2032", "'",
	"\u201c", `"`, "\u201d", `"`, "\u201f", `"`, "\u2033", `"`,
	"\u00a0", " ", "\u202f", " ", "\u2009", " ",
)

// AppearanceKey 返回文本的外观归一键：NFKC 兼容折叠后删除零宽字符、折叠近形字符并压缩空白。
// 人眼视为相同的两段文本（NFC/NFD、弯/直引号、NBSP/空格）映射到同一键。
func AppearanceKey(s string) string {
	if s == "" {
		return ""
	}
	s = foldReplacer.Replace(norm.NFKC.String(s))
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}
