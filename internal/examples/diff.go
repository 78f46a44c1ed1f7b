package examples

import (
	"strings"

	"dipexpand/internal/blocks"
	"dipexpand/pkg/contract"
)

// ExtractChangedPairs 对比输入与输出文档，按块序号配对，返回文本发生变化的 (输入, 输出) 对。
// 任一侧解析失败返回 nil；块数不一致时仅比较共同前缀。
func ExtractChangedPairs(parser contract.Parser, inputXML, outputXML string, tags contract.TagSet) []contract.ExamplePair {
	if parser == nil {
		return nil
	}
	in, err := parser.Parse(inputXML)
	if err != nil {
		return nil
	}
	out, err := parser.Parse(outputXML)
	if err != nil {
		return nil
	}
	a := blocks.Extract(in, tags)
	b := blocks.Extract(out, tags)
	n := min(len(a), len(b))
	var pairs []contract.ExamplePair
	for i := 0; i < n; i++ {
		d := strings.TrimSpace(a[i].Text)
		f := strings.TrimSpace(b[i].Text)
		if d == "" || f == "" || d == f {
			continue
		}
		pairs = append(pairs, contract.ExamplePair{Diplomatic: d, Full: f})
	}
	return pairs
}

// WordLevel 把块级对拆成词级对：两侧空白分词数相同时，逐词比较，不同者成对；
// 分词数不同则保留原块级对。
func WordLevel(pairs []contract.ExamplePair) []contract.ExamplePair {
	var out []contract.ExamplePair
	for _, p := range pairs {
		dw := strings.Fields(p.Diplomatic)
		fw := strings.Fields(p.Full)
		if len(dw) != len(fw) || len(dw) == 0 {
			out = append(out, p)
			continue
		}
		for i := range dw {
			if dw[i] != fw[i] {
				out = append(out, contract.ExamplePair{Diplomatic: dw[i], Full: fw[i], Pro: p.Pro})
			}
		}
	}
	return out
}
