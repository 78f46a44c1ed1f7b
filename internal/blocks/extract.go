// Package blocks 从解析树中抽取叶子文本块，并把块映射回原始文本的字符区间。
package blocks

import (
	"strings"

	"dipexpand/pkg/contract"
)

// Extract 按文档序返回块列表。
// 约束：
// 1) 元素本地名属于 tags 且其子树中不存在其他属于 tags 的元素，才视为块；
// 2) 文本为空或仅空白的块跳过，不占用序号；
// 3) 纯函数：不修改文档，不保留跨调用状态。
func Extract(doc contract.Document, tags contract.TagSet) []contract.Block {
	if doc == nil {
		return nil
	}
	root := doc.Root()
	if root == nil || len(tags) == 0 {
		return nil
	}
	var out []contract.Block
	walk(root, tags, &out)
	return out
}

// walk 返回 el 的子树（含自身）是否包含 tags 中的元素。
// 块之间互不嵌套，故“子节点先行”的收集顺序与前序一致。
func walk(el contract.Element, tags contract.TagSet, out *[]contract.Block) bool {
	below := false
	for _, c := range el.Children() {
		if walk(c, tags, out) {
			below = true
		}
	}
	self := tags.Has(el.LocalName())
	if self && !below {
		txt := el.Text()
		if strings.TrimSpace(txt) != "" {
			*out = append(*out, contract.Block{Ref: el, Ordinal: len(*out), Text: txt})
		}
	}
	return self || below
}
