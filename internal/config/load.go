package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"dipexpand/internal/examples"
	"dipexpand/plugins/prompt/expand"
)

// EnvPrefix 环境变量覆盖层前缀。
const EnvPrefix = "DIPEXPAND_"

// MaxConcurrency 并发上限；超出时钳制。
const MaxConcurrency = 16

// Defaults 返回带有安全默认值的 Config 雏形。
// 默认后端为 rules：无需凭据即可运行。
func Defaults() Config {
	return Config{
		Concurrency: 1,
		Passes:      1,
		MaxRetries:  3,
		Modality:    expand.ModalityFull,
		Examples: Examples{
			Strategy: string(examples.LongestFirst),
		},
		Learn: Learn{MaxLearned: examples.DefaultMaxLearned},
		Components: Components{
			Reader:        "fs",
			Parser:        "xmltree",
			Writer:        "fs",
			PromptBuilder: "expand",
		},
		Backend: "rules",
		Provider: map[string]Provider{
			"rules": {Client: "rules"},
		},
		Options: Options{
			// 默认与输入同目录写出 <stem>_expanded.xml
			Writer: json.RawMessage(`{"beside":true,"suffix":"_expanded"}`),
		},
	}
}

// Load 从文件路径或原始内容解析 Config（严格拒绝未知字段）。
// .yaml/.yml 先转为 JSON 再走同一严格解码。
func Load(path string, raw []byte) (Config, error) {
	var cfg Config
	b := raw
	if len(b) == 0 {
		if path == "" {
			return cfg, errors.New("no config source provided")
		}
		var err error
		if b, err = os.ReadFile(path); err != nil {
			return cfg, err
		}
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		j, err := yamlToJSON(b)
		if err != nil {
			return cfg, fmt.Errorf("yaml: %w", err)
		}
		b = j
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func yamlToJSON(b []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if len(over.Inputs) > 0 {
		out.Inputs = cloneStrings(over.Inputs)
	}
	if over.Concurrency != 0 {
		out.Concurrency = over.Concurrency
	}
	if over.Passes != 0 {
		out.Passes = over.Passes
	}
	// 0 表示禁用重试；覆盖层以 <0 表示未设置
	if over.MaxRetries >= 0 {
		out.MaxRetries = over.MaxRetries
	}
	if over.RetryInitialMS > 0 {
		out.RetryInitialMS = over.RetryInitialMS
	}
	if s := strings.TrimSpace(over.Modality); s != "" {
		out.Modality = s
	}
	if len(over.Tags) > 0 {
		out.Tags = cloneStrings(over.Tags)
	}
	if s := strings.TrimSpace(over.Logging.Level); s != "" {
		out.Logging.Level = s
	}

	if over.Examples.Path != "" {
		out.Examples.Path = over.Examples.Path
	}
	if over.Examples.IncludeLearned != nil {
		out.Examples.IncludeLearned = over.Examples.IncludeLearned
	}
	if over.Examples.IncludePersonal != nil {
		out.Examples.IncludePersonal = over.Examples.IncludePersonal
	}
	if over.Examples.MaxExamples != nil {
		out.Examples.MaxExamples = over.Examples.MaxExamples
	}
	if over.Examples.Strategy != "" {
		out.Examples.Strategy = over.Examples.Strategy
	}

	if over.Learn.Enabled {
		out.Learn.Enabled = true
	}
	if over.Learn.WordLevel {
		out.Learn.WordLevel = true
	}
	if over.Learn.MaxLearned != 0 {
		out.Learn.MaxLearned = over.Learn.MaxLearned
	}
	if over.SessionFile {
		out.SessionFile = true
	}

	// 组件名（空不覆盖）
	if over.Components.Reader != "" {
		out.Components.Reader = over.Components.Reader
	}
	if over.Components.Parser != "" {
		out.Components.Parser = over.Components.Parser
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}
	if over.Components.PromptBuilder != "" {
		out.Components.PromptBuilder = over.Components.PromptBuilder
	}

	// Provider（完整替换对应键）
	if len(over.Provider) > 0 {
		merged := make(map[string]Provider, len(out.Provider)+len(over.Provider))
		for k, v := range out.Provider {
			merged[k] = v
		}
		for k, v := range over.Provider {
			merged[k] = v
		}
		out.Provider = merged
	}

	// Options（完整替换对应键）
	if len(over.Options.Reader) > 0 {
		out.Options.Reader = cloneRaw(over.Options.Reader)
	}
	if len(over.Options.Parser) > 0 {
		out.Options.Parser = cloneRaw(over.Options.Parser)
	}
	if len(over.Options.Writer) > 0 {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}
	if len(over.Options.PromptBuilder) > 0 {
		out.Options.PromptBuilder = cloneRaw(over.Options.PromptBuilder)
	}

	if s := strings.TrimSpace(over.Backend); s != "" {
		out.Backend = s
	}
	return out
}

// Normalize 钳制数值并把未知枚举值回落到默认；结构性问题留给 Validate。
func Normalize(cfg Config) Config {
	out := cfg
	out.Concurrency = min(max(out.Concurrency, 1), MaxConcurrency)
	out.Passes = min(max(out.Passes, 1), 5)
	if out.MaxRetries < 0 {
		out.MaxRetries = 0
	}
	if out.Examples.MaxExamples != nil && *out.Examples.MaxExamples < 0 {
		out.Examples.MaxExamples = nil
	}
	out.Examples.Strategy = string(examples.ParseStrategy(out.Examples.Strategy))
	out.Modality = expand.ParseModality(out.Modality)
	if out.Learn.MaxLearned <= 0 {
		out.Learn.MaxLearned = examples.DefaultMaxLearned
	}
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 支持：INPUTS, CONCURRENCY, PASSES, MAX_RETRIES, RETRY_INITIAL_MS, MODALITY, TAGS, BACKEND, LOG_LEVEL,
// EXAMPLES_*, LEARN_*, SESSION_FILE, COMPONENTS_*，
// 以及 PROVIDER__<name>__CLIENT / PROVIDER__<name>__LIMITS_{RPM,TPM,MAX_TOKENS_PER_REQ} / PROVIDER__<name>__OPTIONS_JSON
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	over.MaxRetries = -1
	prov := map[string]Provider{}
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		nk := strings.TrimPrefix(kv[:eq], EnvPrefix)
		val := kv[eq+1:]
		tv := strings.TrimSpace(val)
		switch nk {
		case "INPUTS":
			over.Inputs = splitComma(val)
		case "CONCURRENCY":
			if v, err := atoi(val); err == nil {
				over.Concurrency = v
			}
		case "PASSES":
			if v, err := atoi(val); err == nil {
				over.Passes = v
			}
		case "MAX_RETRIES":
			if v, err := atoi(val); err == nil {
				over.MaxRetries = v
			}
		case "RETRY_INITIAL_MS":
			if v, err := atoi(val); err == nil {
				over.RetryInitialMS = v
			}
		case "MODALITY":
			over.Modality = tv
		case "TAGS":
			over.Tags = splitComma(val)
		case "BACKEND":
			over.Backend = tv
		case "LOG_LEVEL":
			over.Logging.Level = tv
		case "EXAMPLES_PATH":
			over.Examples.Path = tv
		case "EXAMPLES_INCLUDE_LEARNED":
			if b, err := strconv.ParseBool(tv); err == nil {
				over.Examples.IncludeLearned = &b
			}
		case "EXAMPLES_INCLUDE_PERSONAL":
			if b, err := strconv.ParseBool(tv); err == nil {
				over.Examples.IncludePersonal = &b
			}
		case "EXAMPLES_MAX":
			if v, err := atoi(val); err == nil {
				over.Examples.MaxExamples = &v
			}
		case "EXAMPLES_STRATEGY":
			over.Examples.Strategy = tv
		case "LEARN_ENABLED":
			over.Learn.Enabled, _ = strconv.ParseBool(tv)
		case "LEARN_WORD_LEVEL":
			over.Learn.WordLevel, _ = strconv.ParseBool(tv)
		case "LEARN_MAX_LEARNED":
			if v, err := atoi(val); err == nil {
				over.Learn.MaxLearned = v
			}
		case "SESSION_FILE":
			over.SessionFile, _ = strconv.ParseBool(tv)
		case "COMPONENTS_READER":
			over.Components.Reader = tv
		case "COMPONENTS_PARSER":
			over.Components.Parser = tv
		case "COMPONENTS_WRITER":
			over.Components.Writer = tv
		case "COMPONENTS_PROMPT_BUILDER":
			over.Components.PromptBuilder = tv
		default:
			if !strings.HasPrefix(nk, "PROVIDER__") {
				continue
			}
			parts := strings.Split(nk, "__")
			if len(parts) < 3 {
				continue
			}
			name := strings.ToLower(strings.TrimSpace(parts[1]))
			field := strings.Join(parts[2:], "__")
			p, ok := prov[name]
			if !ok {
				p = Provider{}
			}
			changed := false
			switch field {
			case "CLIENT":
				if tv != "" {
					p.Client = tv
					changed = true
				}
			case "LIMITS_RPM":
				if v, err := atoi(val); err == nil {
					p.Limits.RPM = v
					changed = true
				}
			case "LIMITS_TPM":
				if v, err := atoi(val); err == nil {
					p.Limits.TPM = v
					changed = true
				}
			case "LIMITS_MAX_TOKENS_PER_REQ":
				if v, err := atoi(val); err == nil {
					p.Limits.MaxTokensPerReq = v
					changed = true
				}
			case "OPTIONS_JSON":
				// 空值视为未设置，避免清空现有配置
				if tv != "" {
					if !json.Valid([]byte(tv)) {
						return over, fmt.Errorf("env %s: invalid json", kv[:eq])
					}
					p.Options = json.RawMessage(tv)
					changed = true
				}
			}
			if changed {
				prov[name] = p
			}
		}
	}
	if len(prov) > 0 {
		over.Provider = prov
	}
	return over, nil
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
