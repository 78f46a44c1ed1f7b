package config

import "encoding/json"

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// 默认使用 rules 后端（无需凭据）；其余 provider 给出全部选项键，切换 backend 即可启用。
func DefaultTemplateConfig() Config {
	d := Defaults()
	learned, personal, maxEx := true, true, 40
	cfg := Config{
		Inputs:      []string{"."},
		Concurrency: 4,
		Passes:      d.Passes,
		MaxRetries:  d.MaxRetries,
		Modality:    d.Modality,
		Logging:     Logging{Level: "info"},
		Examples: Examples{
			Path:            "examples.json",
			IncludeLearned:  &learned,
			IncludePersonal: &personal,
			MaxExamples:     &maxEx,
			Strategy:        d.Examples.Strategy,
		},
		Learn:      Learn{Enabled: false, WordLevel: false, MaxLearned: d.Learn.MaxLearned},
		Components: d.Components,
		Backend:    "rules",
		Provider: map[string]Provider{
			"rules": {Client: "rules"},
			"mock": {
				Client:  "mock",
				Options: json.RawMessage(`{"prefix":"","api_key":"","response_mode":"rules","delay_ms":0}`),
				Limits:  Limits{RPM: 600, TPM: 100000},
			},
			"gemini": {
				Client: "gemini",
				Options: json.RawMessage(`{
  "model": "gemini-2.5-flash",
  "api_key_env": "GEMINI_API_KEY",
  "api_key": "",
  "timeout_seconds": 120,
  "temperature": 0.2,
  "max_output_tokens": 8192
}`),
				Limits: Limits{RPM: 10, TPM: 250000},
			},
			"ollama": {
				Client: "ollama",
				Options: json.RawMessage(`{
  "host": "",
  "model": "llama3.2",
  "high_end": false,
  "timeout_seconds": 120
}`),
			},
			"openai": {
				Client: "openai",
				Options: json.RawMessage(`{
  "base_url": "",
  "model": "gpt-4.1-mini",
  "api_key_env": "OPENAI_API_KEY",
  "api_key": "",
  "timeout_seconds": 60,
  "temperature": 0.2,
  "extra_headers": {}
}`),
				Limits: Limits{RPM: 60, TPM: 200000},
			},
		},
	}
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 65536,
  "exclude_dir_names": [".git", "node_modules", "vendor"],
  "extensions": [".xml"],
  "exclude_suffixes": ["_expanded.xml"]
}`)
	cfg.Options.Parser = json.RawMessage(`{"strict": false}`)
	cfg.Options.Writer = json.RawMessage(`{
  "output_dir": "",
  "beside": true,
  "suffix": "_expanded",
  "atomic": true
}`)
	cfg.Options.PromptBuilder = json.RawMessage(`{
  "inline_system_template": "",
  "system_template_path": "",
  "inline_notes": "",
  "notes_path": ""
}`)
	return cfg
}
