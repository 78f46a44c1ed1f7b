package contract

// FileID: 逻辑文档ID（通常为路径，需规范化，跨平台一致）。
type FileID string

// Block: 单次变换的最小单元（叶子文本元素）。
// 约束：
// - Ordinal 在同一遍（pass）内自 0 严格递增，等于文档序；
// - Ref 为对 Document 的弱引用，生命周期不得超过所属 Document；
// - Text 为抽取时的原文（全部后代文本拼接），非空白。
type Block struct {
	Ref     Element
	Ordinal int
	Text    string
}

// ExamplePair: 上下文示例对（diplomatic → full）。
// Pro 仅用于合并优先级，选择阶段不读取。
type ExamplePair struct {
	Diplomatic string `json:"diplomatic"`
	Full       string `json:"full"`
	Pro        bool   `json:"pro,omitempty"`
}

// TagSet: 块标签集合（本地名，不含命名空间前缀）。
type TagSet map[string]struct{}

// NewTagSet 由名称列表构造集合；空白名称忽略。
func NewTagSet(names ...string) TagSet {
	ts := make(TagSet, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		ts[n] = struct{}{}
	}
	return ts
}

// Has 判断本地名是否属于集合。
func (t TagSet) Has(local string) bool {
	_, ok := t[local]
	return ok
}

// DefaultTags: TEI 常见文本承载元素。
var DefaultTags = []string{"p", "ab", "l", "seg", "item", "td", "th", "figDesc", "head", "Unicode"}
