package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dipexpand/internal/diag"
	"dipexpand/internal/examples"
	"dipexpand/pkg/contract"
)

// 解析完整 config.json
func TestLoadJSON(t *testing.T) {
	cfg, err := Load("../../testdata/config/basic.json", nil)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.Backend != "gemini" {
		t.Fatalf("backend 期望 gemini 实得 %s", cfg.Backend)
	}
	if len(cfg.Inputs) != 1 || cfg.Components.Reader != "fs" || cfg.Passes != 2 {
		t.Fatalf("字段映射错误: %+v", cfg)
	}
	require.NotNil(t, cfg.Examples.MaxExamples)
	assert.Equal(t, 20, *cfg.Examples.MaxExamples)
	assert.True(t, cfg.Learn.WordLevel)
	if err := Validate(cfg); err != nil {
		t.Fatalf("校验失败: %v", err)
	}
}

// YAML 经 JSON 严格解码，字段与 JSON 一致
func TestLoadYAML(t *testing.T) {
	cfg, err := Load("../../testdata/config/basic.yaml", nil)
	require.NoError(t, err)
	assert.Equal(t, "mock", cfg.Backend)
	assert.Equal(t, 60, cfg.Provider["mock"].Limits.RPM)
	assert.JSONEq(t, `{"response_mode":"prefix","prefix":"X"}`, string(cfg.Provider["mock"].Options))
	require.NoError(t, Validate(cfg))
}

func TestLoadYAMLUnknown(t *testing.T) {
	p := filepath.Join(t.TempDir(), "c.yml")
	require.NoError(t, os.WriteFile(p, []byte("bogus: 1\n"), 0o644))
	_, err := Load(p, nil)
	assert.Error(t, err, "YAML 未知字段同样应失败")
}

// 含非法字段
func TestLoadJSONUnknown(t *testing.T) {
	raw := []byte(`{"unknown":1}`)
	if _, err := Load("", raw); err == nil {
		t.Fatalf("应当返回错误")
	}
	if _, err := Load("", nil); err == nil {
		t.Fatalf("无来源应当返回错误")
	}
}

// ENV 覆盖部分字段
func TestEnvOverlay(t *testing.T) {
	env := []string{
		"DIPEXPAND_INPUTS=a,b",
		"DIPEXPAND_CONCURRENCY=3",
		"DIPEXPAND_PASSES=2",
		"DIPEXPAND_BACKEND=mock",
		"DIPEXPAND_EXAMPLES_MAX=0",
		"DIPEXPAND_EXAMPLES_INCLUDE_PERSONAL=false",
		"DIPEXPAND_LEARN_ENABLED=true",
		"DIPEXPAND_COMPONENTS_READER=fs",
		"DIPEXPAND_PROVIDER__mock__CLIENT=mock",
		"DIPEXPAND_PROVIDER__mock__LIMITS_RPM=30",
		"DIPEXPAND_PROVIDER__mock__OPTIONS_JSON=",
		"OTHER_VAR=1",
	}
	over, err := EnvOverlay(env)
	if err != nil {
		t.Fatalf("EnvOverlay 错误: %v", err)
	}
	if over.Backend != "mock" || over.Concurrency != 3 || len(over.Inputs) != 2 || over.Passes != 2 {
		t.Fatalf("覆盖结果不正确: %+v", over)
	}
	assert.Equal(t, -1, over.MaxRetries, "未设置的 MAX_RETRIES 应为 -1")
	require.NotNil(t, over.Examples.MaxExamples)
	assert.Equal(t, 0, *over.Examples.MaxExamples)
	require.NotNil(t, over.Examples.IncludePersonal)
	assert.False(t, *over.Examples.IncludePersonal)
	assert.True(t, over.Learn.Enabled)
	p := over.Provider["mock"]
	assert.Equal(t, "mock", p.Client)
	assert.Equal(t, 30, p.Limits.RPM)
	assert.Empty(t, p.Options, "空 OPTIONS_JSON 不应写入")
}

func TestEnvOverlayInvalidJSON(t *testing.T) {
	_, err := EnvOverlay([]string{"DIPEXPAND_PROVIDER__x__OPTIONS_JSON={bad"})
	assert.Error(t, err)
}

func TestMergePrecedence(t *testing.T) {
	base := Defaults()
	over := Config{MaxRetries: -1, Backend: "mock", Provider: map[string]Provider{"mock": {Client: "mock"}}}
	got := Merge(base, over)
	assert.Equal(t, 3, got.MaxRetries, "-1 不应覆盖")
	assert.Equal(t, "mock", got.Backend)
	assert.Contains(t, got.Provider, "rules", "provider 按键合并，保留已有键")
	assert.Contains(t, got.Provider, "mock")
	_, present := base.Provider["mock"]
	assert.False(t, present, "Merge 不应修改 base 的 map")

	zero := Merge(base, Config{MaxRetries: 0})
	assert.Equal(t, 0, zero.MaxRetries, "显式 0 应覆盖")
}

func TestNormalizeClamps(t *testing.T) {
	neg := -5
	cfg := Config{
		Concurrency: 100,
		Passes:      9,
		MaxRetries:  -2,
		Modality:    "bogus",
		Examples:    Examples{Strategy: "random", MaxExamples: &neg},
	}
	n := Normalize(cfg)
	assert.Equal(t, MaxConcurrency, n.Concurrency)
	assert.Equal(t, 5, n.Passes)
	assert.Equal(t, 0, n.MaxRetries)
	assert.Equal(t, "full", n.Modality)
	assert.Equal(t, string(examples.LongestFirst), n.Examples.Strategy)
	assert.Nil(t, n.Examples.MaxExamples, "负数 max_examples 视为未设置")
	assert.Equal(t, examples.DefaultMaxLearned, n.Learn.MaxLearned)

	n = Normalize(Config{Concurrency: 0, Passes: 0})
	assert.Equal(t, 1, n.Concurrency)
	assert.Equal(t, 1, n.Passes)
}

// 补充覆盖: splitComma 与 atoi
func TestSplitCommaAtoi(t *testing.T) {
	parts := splitComma("a, b , ,c")
	if len(parts) != 3 || parts[1] != "b" {
		t.Fatalf("splitComma 结果错误: %v", parts)
	}
	if v, err := atoi(" 10 "); err != nil || v != 10 {
		t.Fatalf("atoi 失败: %v %d", err, v)
	}
	if _, err := atoi("x"); err == nil {
		t.Fatal("非数字应失败")
	}
}

// 补充覆盖: Defaults 与 cloneRaw
func TestDefaultsClone(t *testing.T) {
	d := Defaults()
	if d.Components.Reader != "fs" || d.Components.Parser != "xmltree" {
		t.Fatalf("默认组件错误: %+v", d.Components)
	}
	src := []byte("abc")
	dst := cloneRaw(src)
	src[0] = 'x'
	if string(dst) != "abc" {
		t.Fatalf("cloneRaw 未复制")
	}
}

// 补充覆盖: Validate 错误分支
func TestValidateErrors(t *testing.T) {
	require.NoError(t, Validate(Defaults()), "默认配置应通过")

	cfg := DefaultTemplateConfig()
	cfg.Inputs = []string{"-", "a"}
	if err := Validate(cfg); err == nil {
		t.Fatal("混用 '-' 应失败")
	}
	cfg = DefaultTemplateConfig()
	cfg.Inputs = []string{" "}
	if err := Validate(cfg); err == nil {
		t.Fatal("空输入路径应失败")
	}
	cfg = DefaultTemplateConfig()
	cfg.Backend = "missing"
	if err := Validate(cfg); err == nil {
		t.Fatal("provider 不存在应失败")
	}
	cfg = DefaultTemplateConfig()
	cfg.Provider = map[string]Provider{"rules": {Client: ""}}
	if err := Validate(cfg); err == nil {
		t.Fatal("client 为空应失败")
	}
	cfg = DefaultTemplateConfig()
	cfg.Provider = map[string]Provider{"rules": {Client: "nope"}}
	if err := Validate(cfg); err == nil {
		t.Fatal("未注册 client 应失败")
	}
	cfg = DefaultTemplateConfig()
	cfg.Components.Parser = "html"
	if err := Validate(cfg); err == nil {
		t.Fatal("未注册 parser 应失败")
	}
}

// 模板配置可以直接装配
func TestTemplateAssembles(t *testing.T) {
	cfg := DefaultTemplateConfig()
	cfg.Examples.Path = ""
	b, err := json.Marshal(cfg)
	require.NoError(t, err)
	back, err := Load("", b)
	require.NoError(t, err, "模板经 JSON 往返后应仍可严格解析")

	rt, err := Assemble(back, examples.NewStore(examples.WithPersonalPath("")), diag.Nop())
	require.NoError(t, err)
	assert.Equal(t, contract.KindRules, rt.Components.Backend.Kind())
	assert.Nil(t, rt.Learner)
}

func TestAssembleLoadsExamples(t *testing.T) {
	dir := t.TempDir()
	ex := filepath.Join(dir, "examples.json")
	require.NoError(t, os.WriteFile(ex, []byte(`[{"diplomatic":"y^e","full":"the"},{"diplomatic":"w^t","full":"that"}]`), 0o644))

	one := 1
	cfg := Defaults()
	cfg.Examples.Path = ex
	cfg.Examples.MaxExamples = &one
	cfg.Learn.Enabled = true
	cfg.Passes = 7
	cfg.Backend = "mock"
	cfg.Provider["mock"] = Provider{Client: "mock", Options: json.RawMessage(`{"response_mode":"prefix","prefix":"M"}`)}

	rt, err := Assemble(cfg, examples.NewStore(examples.WithPersonalPath("")), nil)
	require.NoError(t, err)
	assert.Len(t, rt.Settings.Examples, 2, "Settings 持有完整示例池")
	assert.Equal(t, 1, rt.Settings.MaxExamples)
	assert.Equal(t, 5, rt.Settings.Passes, "遍数应被钳制")
	assert.Equal(t, "mock", string(rt.Key))
	require.NotNil(t, rt.Learner)
	assert.Equal(t, ex, rt.ExamplesPath())

	out, err := rt.Components.Backend.Transform(t.Context(), contract.Request{Text: "abc"})
	require.NoError(t, err)
	assert.Equal(t, "M: abc", out)

	// 示例文件变化后重新加载
	require.NoError(t, os.WriteFile(ex, []byte(`[{"diplomatic":"q^d","full":"quod"}]`), 0o644))
	rt.Store.Invalidate(ex)
	require.NoError(t, rt.LoadExamples())
	assert.Len(t, rt.Settings.Examples, 1)
}

func TestAssembleBadOptions(t *testing.T) {
	cfg := Defaults()
	cfg.Options.Reader = json.RawMessage(`{"nope":1}`)
	_, err := Assemble(cfg, examples.NewStore(examples.WithPersonalPath("")), nil)
	assert.Error(t, err)

	cfg = Defaults()
	cfg.Examples.Path = filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(cfg.Examples.Path, []byte(`[{`), 0o644))
	_, err = Assemble(cfg, examples.NewStore(examples.WithPersonalPath("")), nil)
	assert.ErrorIs(t, err, contract.ErrExamplesInvalid)
}
