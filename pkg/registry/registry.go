// Package registry 把组件名映射到工厂；选项以原样 JSON 传入，未知字段在构造期失败。
package registry

import (
	"bytes"
	"encoding/json"
	"sort"

	"dipexpand/pkg/contract"
	bflaky "dipexpand/plugins/backend/flaky"
	bgem "dipexpand/plugins/backend/gemini"
	bmock "dipexpand/plugins/backend/mock"
	bnoop "dipexpand/plugins/backend/noop"
	bollama "dipexpand/plugins/backend/ollama"
	boai "dipexpand/plugins/backend/openai"
	brules "dipexpand/plugins/backend/rules"
	xmltree "dipexpand/plugins/document/xmltree"
	pexp "dipexpand/plugins/prompt/expand"
	rfs "dipexpand/plugins/reader/filesystem"
	wfs "dipexpand/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// strict 先严格校验字段，再交给后端自己的解码（后端各自定义 Options）。
func strict[T any](newFn func(json.RawMessage) (contract.Backend, error)) NewBackend {
	return func(raw json.RawMessage) (contract.Backend, error) {
		var probe T
		if err := strictUnmarshal(raw, &probe); err != nil {
			return nil, err
		}
		return newFn(raw)
	}
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewParser 工厂签名：接收原样 JSON Options。
type NewParser func(raw json.RawMessage) (contract.Parser, error)

// NewPromptBuilder 工厂签名：接收原样 JSON Options。
type NewPromptBuilder func(raw json.RawMessage) (contract.PromptBuilder, error)

// NewBackend 工厂签名：接收原样 JSON Options。
type NewBackend func(raw json.RawMessage) (contract.Backend, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 文件系统/STDIN Reader
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Parser 工厂注册表。
var Parser = map[string]NewParser{
	// xmltree: etree 文档模型，保留声明与命名空间前缀
	"xmltree": func(raw json.RawMessage) (contract.Parser, error) {
		var opts xmltree.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return xmltree.New(&opts), nil
	},
}

// PromptBuilder 工厂注册表。
var PromptBuilder = map[string]NewPromptBuilder{
	// expand: few-shot 展开提示词（system + user）
	"expand": func(raw json.RawMessage) (contract.PromptBuilder, error) {
		var opts pexp.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return pexp.New(&opts)
	},
}

// Backend 工厂注册表。
var Backend = map[string]NewBackend{
	"rules":  brules.New,
	"noop":   bnoop.New,
	"gemini": strict[bgem.Options](bgem.New),
	"ollama": strict[bollama.Options](bollama.New),
	"openai": strict[boai.Options](boai.New),
	"mock":   strict[bmock.Options](bmock.New),
	"flaky":  strict[bflaky.Options](bflaky.New),
}

// BackendNames 返回已注册后端名（有序）。
func BackendNames() []string {
	out := make([]string, 0, len(Backend))
	for k := range Backend {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（覆盖写/原子替换可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}
