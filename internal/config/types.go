package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON 使用 snake_case；未知字段在解析期失败。
type Config struct {
	Inputs      []string `json:"inputs"`
	Concurrency int      `json:"concurrency"`
	// Passes: 每个文件的展开遍数，钳制到 [1,5]。
	Passes int `json:"passes"`
	// MaxRetries: 后端最大重试次数（>=0）。0 表示不重试；覆盖层中 <0 表示未设置。
	MaxRetries int `json:"max_retries"`
	// RetryInitialMS: 首次重试等待（毫秒）；0 使用默认。
	RetryInitialMS int `json:"retry_initial_ms,omitempty"`
	// Modality: full | conservative | normalize | aggressive；未知值按 full。
	Modality string `json:"modality"`
	// Tags: 块元素本地名；为空使用内置 TEI 集合。
	Tags    []string `json:"tags"`
	Logging Logging  `json:"logging"`

	Examples Examples `json:"examples"`
	Learn    Learn    `json:"learn"`
	// SessionFile: 首遍把原始输入文件作为后端会话上下文（后端支持时）。
	SessionFile bool `json:"session_file"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`

	// Backend: provider 名称；Provider 中定义其实现与限额。
	Backend  string              `json:"backend"`
	Provider map[string]Provider `json:"provider"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Logging: 仅保留日志等级可配置；输出路径与轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
}

// Examples: 示例来源与选择。
type Examples struct {
	// Path: 项目示例文件；学习文件位于同目录。
	Path            string `json:"path"`
	IncludeLearned  *bool  `json:"include_learned,omitempty"`
	IncludePersonal *bool  `json:"include_personal,omitempty"`
	// MaxExamples: <0 表示全部，0 表示不注入示例。
	MaxExamples *int   `json:"max_examples,omitempty"`
	Strategy    string `json:"strategy"`
}

// Learn: 接受结果后的示例沉淀。
type Learn struct {
	Enabled    bool `json:"enabled"`
	WordLevel  bool `json:"word_level"`
	MaxLearned int  `json:"max_learned"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader        string `json:"reader"`
	Parser        string `json:"parser"`
	Writer        string `json:"writer"`
	PromptBuilder string `json:"prompt_builder"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader        json.RawMessage `json:"reader"`
	Parser        json.RawMessage `json:"parser"`
	Writer        json.RawMessage `json:"writer"`
	PromptBuilder json.RawMessage `json:"prompt_builder"`
}

// Provider: 命名 provider 定义（backend 实现 + options + 限额）。
type Provider struct {
	Client  string          `json:"client"`
	Options json.RawMessage `json:"options"`
	Limits  Limits          `json:"limits"`
}

// Limits: 限流配置（仅承载；执行位于 rate.Gate）。
type Limits struct {
	RPM             int `json:"rpm"`
	TPM             int `json:"tpm"`
	MaxTokensPerReq int `json:"max_tokens_per_req"`
}

// BoolOr 返回 *b，nil 时返回 def。
func BoolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
