package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"dipexpand/internal/diag"
	"dipexpand/internal/examples"
	"dipexpand/internal/pipeline"
	"dipexpand/internal/prompt"
	"dipexpand/internal/rate"
	"dipexpand/internal/resilience"
	"dipexpand/pkg/contract"
	"dipexpand/pkg/registry"
)

// Runtime 装配结果：一次运行所需的全部协作者。
type Runtime struct {
	Components pipeline.Components
	Settings   pipeline.Settings
	Gate       rate.Gate
	Key        rate.Key
	Store      *examples.Store
	Learner    *examples.Learner
	// BackendName provider 名；Model 为后端模型名（无模型的后端为空）。
	BackendName string
	Model       string

	examples Examples
}

// Validate 对结构性边界做静态校验；数值越界由 Normalize 钳制，不在此拒绝。
func Validate(cfg Config) error {
	// 输入路径不得为空字符串；"-" 不能与其他根混用
	dash := false
	for _, r := range cfg.Inputs {
		if strings.TrimSpace(r) == "" {
			return errors.New("config: input path cannot be empty")
		}
		if strings.TrimSpace(r) == "-" {
			dash = true
		}
	}
	if dash && len(cfg.Inputs) > 1 {
		return errors.New("config: '-' cannot be mixed with other roots")
	}
	if cfg.Backend == "" {
		return errors.New("config: backend not set")
	}
	prov, ok := cfg.Provider[cfg.Backend]
	if !ok {
		return fmt.Errorf("config: provider %q not found", cfg.Backend)
	}
	if prov.Client == "" {
		return fmt.Errorf("config: provider %q missing client", cfg.Backend)
	}
	if registry.Backend[prov.Client] == nil {
		return fmt.Errorf("config: backend client %q not registered (known: %s)", prov.Client, strings.Join(registry.BackendNames(), ", "))
	}
	if prov.Limits.RPM < 0 || prov.Limits.TPM < 0 || prov.Limits.MaxTokensPerReq < 0 {
		return fmt.Errorf("config: provider %q limits must be >= 0", cfg.Backend)
	}
	d := Defaults()
	if name := effName(cfg.Components.Reader, d.Components.Reader); registry.Reader[name] == nil {
		return fmt.Errorf("config: reader %q not registered", name)
	}
	if name := effName(cfg.Components.Parser, d.Components.Parser); registry.Parser[name] == nil {
		return fmt.Errorf("config: parser %q not registered", name)
	}
	if name := effName(cfg.Components.PromptBuilder, d.Components.PromptBuilder); registry.PromptBuilder[name] == nil {
		return fmt.Errorf("config: prompt_builder %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, d.Components.Writer); registry.Writer[name] == nil {
		return fmt.Errorf("config: writer %q not registered", name)
	}
	return nil
}

// Assemble 校验并构造组件；后端外包一层限流与重试。
// 严格 Options 解析在 registry （工厂）层进行；此处只传 raw JSON。
// store 为 nil 时新建；示例在此加载一次。
func Assemble(cfg Config, store *examples.Store, logger *diag.Logger) (*Runtime, error) {
	cfg = Normalize(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = diag.Nop()
	}

	d := Defaults()
	r, err := registry.Reader[effName(cfg.Components.Reader, d.Components.Reader)](cfg.Options.Reader)
	if err != nil {
		return nil, fmt.Errorf("config: reader options: %w", err)
	}
	ps, err := registry.Parser[effName(cfg.Components.Parser, d.Components.Parser)](cfg.Options.Parser)
	if err != nil {
		return nil, fmt.Errorf("config: parser options: %w", err)
	}
	pb, err := registry.PromptBuilder[effName(cfg.Components.PromptBuilder, d.Components.PromptBuilder)](cfg.Options.PromptBuilder)
	if err != nil {
		return nil, fmt.Errorf("config: prompt_builder options: %w", err)
	}
	wopts := cfg.Options.Writer
	if len(wopts) == 0 {
		wopts = d.Options.Writer
	}
	w, err := registry.Writer[effName(cfg.Components.Writer, d.Components.Writer)](wopts)
	if err != nil {
		return nil, fmt.Errorf("config: writer options: %w", err)
	}

	prov := cfg.Provider[cfg.Backend]
	inner, err := registry.Backend[prov.Client](prov.Options)
	if err != nil {
		return nil, fmt.Errorf("config: backend %q: %w", cfg.Backend, err)
	}

	// 分组键从 options 中派生 API Key；无凭据时退化为 client 名
	key := rate.DeriveKey(prov.Client, prov.Options)
	gate := rate.NewGate(map[rate.Key]rate.Limits{
		key: {RPM: prov.Limits.RPM, TPM: prov.Limits.TPM, MaxTokensPerReq: prov.Limits.MaxTokensPerReq},
	}, nil)
	if lim := prov.Limits.MaxTokensPerReq; lim > 0 && inner.Kind() == contract.KindRemote {
		if oh := prompt.Overhead(pb, 0); oh >= lim {
			logger.Warn("config", "prompt overhead exceeds max_tokens_per_req", map[string]string{
				"overhead": strconv.Itoa(oh),
				"limit":    strconv.Itoa(lim),
			})
		}
	}
	backend := resilience.Wrap(inner, resilience.Options{
		Gate:            gate,
		Key:             key,
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: time.Duration(cfg.RetryInitialMS) * time.Millisecond,
		Logger:          logger,
	})

	if store == nil {
		store = examples.NewStore(examples.WithLogger(logger))
	}
	var tags contract.TagSet
	if len(cfg.Tags) > 0 {
		tags = contract.NewTagSet(cfg.Tags...)
	}
	maxEx := -1
	if cfg.Examples.MaxExamples != nil {
		maxEx = *cfg.Examples.MaxExamples
	}

	rt := &Runtime{
		Components: pipeline.Components{
			Reader:        r,
			Parser:        ps,
			PromptBuilder: pb,
			Backend:       backend,
			Writer:        w,
		},
		Settings: pipeline.Settings{
			Inputs:      cloneStrings(cfg.Inputs),
			Tags:        tags,
			Modality:    cfg.Modality,
			Concurrency: cfg.Concurrency,
			Passes:      cfg.Passes,
			MaxExamples: maxEx,
			Strategy:    examples.ParseStrategy(cfg.Examples.Strategy),
			UseSession:  cfg.SessionFile,
		},
		Gate:        gate,
		Key:         key,
		Store:       store,
		BackendName: cfg.Backend,
		Model:       modelOf(inner),
		examples:    cfg.Examples,
	}
	if err := rt.LoadExamples(); err != nil {
		return nil, err
	}
	if cfg.Learn.Enabled {
		rt.Learner = &examples.Learner{
			Store:      store,
			Parser:     ps,
			Tags:       tags,
			MaxLearned: cfg.Learn.MaxLearned,
			WordLevel:  cfg.Learn.WordLevel,
			Logger:     logger,
		}
	}
	return rt, nil
}

// LoadExamples 按配置（重新）加载示例池到 Settings；缓存失效后调用即可取到新内容。
func (rt *Runtime) LoadExamples() error {
	pairs, err := rt.Store.Load(rt.examples.Path, BoolOr(rt.examples.IncludeLearned, true), BoolOr(rt.examples.IncludePersonal, true))
	if err != nil {
		return fmt.Errorf("config: examples %q: %w", rt.examples.Path, err)
	}
	rt.Settings.Examples = pairs
	return nil
}

// ExamplesPath 项目示例文件路径（可能为空）。
func (rt *Runtime) ExamplesPath() string { return rt.examples.Path }

func modelOf(b contract.Backend) string {
	if m, ok := b.(interface{ Model() string }); ok {
		return m.Model()
	}
	return ""
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
