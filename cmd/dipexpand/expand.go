package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	cfgpkg "dipexpand/internal/config"
	"dipexpand/internal/diag"
	"dipexpand/internal/pipeline"
	"dipexpand/pkg/registry"
	wfs "dipexpand/plugins/writer/filesystem"
)

type expandFlags struct {
	text        string
	examples    string
	backend     string
	model       string
	modality    string
	strategy    string
	maxExamples int
	concurrency int
	passes      int
	maxRetries  int
	out         string
	outDir      string
	sessionFile bool
	dryRun      bool
	learn       bool
	wordLevel   bool
}

func (a *app) expandCmd() *cobra.Command {
	f := &expandFlags{}
	cmd := &cobra.Command{
		Use:   "expand [roots...]",
		Short: "Expand XML files or directories (default command)",
		Long: "Expand every text block of the given XML files or directories.\n" +
			"Outputs are written as <stem>_expanded.xml beside each input unless --out or --out-dir is given.\n" +
			"Use \"-\" to read a single document from stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runExpand(cmd.Context(), f, args)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.text, "text", "", "直接处理的 XML 字符串（结果写到 stdout 或 --out）")
	fl.StringVar(&f.examples, "examples", "", "项目示例 JSON 路径")
	fl.StringVar(&f.backend, "backend", "", "provider 名称（未在配置中定义时按同名后端创建）")
	fl.StringVar(&f.model, "model", "", "模型名（写入当前 provider 的 options.model）")
	fl.StringVar(&f.modality, "modality", "", "展开风格 full|conservative|normalize|aggressive")
	fl.StringVar(&f.strategy, "strategy", "", "示例选择策略 longest-first|most-recent")
	fl.IntVar(&f.maxExamples, "max-examples", -1, "注入提示词的示例上限（<0 不覆盖配置）")
	fl.IntVar(&f.concurrency, "concurrency", 0, "每遍并发块数（1-16）")
	fl.IntVar(&f.passes, "passes", 0, "展开遍数（1-5）")
	// 允许显式设置为 0；默认 -1 表示未覆盖
	fl.IntVar(&f.maxRetries, "max-retries", -1, "后端最大重试次数（0 表示不重试）")
	fl.StringVar(&f.out, "out", "", "输出路径（单文件或 --text）")
	fl.StringVar(&f.outDir, "out-dir", "", "批量输出目录")
	fl.BoolVar(&f.sessionFile, "session-file", false, "首遍把输入文件作为后端会话上下文（gemini Files API）")
	fl.BoolVar(&f.dryRun, "dry-run", false, "不调用后端；块文本保持不变（仅验证流水线）")
	fl.BoolVar(&f.learn, "learn", false, "接受结果后沉淀学习示例")
	fl.BoolVar(&f.wordLevel, "word-level", false, "学习时按词拆分变化对")
	return cmd
}

// overlay 由旗标构造 CLI 覆盖层。
func (f *expandFlags) overlay(roots []string) cfgpkg.Config {
	over := cfgpkg.Config{MaxRetries: f.maxRetries}
	if len(roots) > 0 {
		over.Inputs = roots
	}
	over.Concurrency = f.concurrency
	over.Passes = f.passes
	over.Modality = f.modality
	over.Examples.Path = f.examples
	over.Examples.Strategy = f.strategy
	if f.maxExamples >= 0 {
		n := f.maxExamples
		over.Examples.MaxExamples = &n
	}
	over.SessionFile = f.sessionFile
	over.Learn.Enabled = f.learn
	over.Learn.WordLevel = f.wordLevel
	if f.outDir != "" {
		over.Options.Writer = json.RawMessage(fmt.Sprintf(`{"output_dir":%s,"suffix":"_expanded","flat":true}`, strconv.Quote(f.outDir)))
	}
	return over
}

// adjust 在合并后处理依赖已有 provider 的旗标。
func (f *expandFlags) adjust(c *cfgpkg.Config) {
	switch {
	case f.dryRun:
		selectBackend(c, "noop", "")
	case f.backend != "" || f.model != "":
		selectBackend(c, f.backend, f.model)
	}
}

// selectBackend 切换 provider；未定义但已注册的名字按同名 client 创建。model 非空时写入 options.model。
func selectBackend(c *cfgpkg.Config, name, model string) {
	prov := make(map[string]cfgpkg.Provider, len(c.Provider)+1)
	for k, v := range c.Provider {
		prov[k] = v
	}
	if name != "" {
		c.Backend = name
		if _, ok := prov[name]; !ok && registry.Backend[name] != nil {
			prov[name] = cfgpkg.Provider{Client: name}
		}
	}
	if model != "" {
		if p, ok := prov[c.Backend]; ok {
			p.Options = setOption(p.Options, "model", model)
			prov[c.Backend] = p
		}
	}
	c.Provider = prov
}

func setOption(raw json.RawMessage, key string, val any) json.RawMessage {
	m := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &m)
	}
	m[key] = val
	b, err := json.Marshal(m)
	if err != nil {
		return raw
	}
	return b
}

func (a *app) runExpand(ctx context.Context, f *expandFlags, roots []string) error {
	if f.text != "" && len(roots) > 0 {
		return configErr("--text 不能与输入路径同时使用")
	}
	over := f.overlay(roots)
	cfg, err := a.loadConfigWith(over, f.adjust)
	if err != nil {
		return err
	}
	if f.text == "" && len(cfg.Inputs) == 0 {
		return configErr("未提供输入：给出文件/目录、\"-\" 或 --text")
	}
	if f.out != "" && f.text == "" && !singleFile(cfg.Inputs) {
		return configErr("--out 只适用于单个输入文件或 --text")
	}
	rt, err := a.assembleConfig(cfg)
	if err != nil {
		return err
	}
	set := rt.Settings
	if rt.Learner != nil {
		set.OnAccepted = func(ctx context.Context, fileID, in, out string) {
			n := rt.Learner.Learn(ctx, rt.ExamplesPath(), in, out, rt.Model)
			if n > 0 {
				fprintf(a.stderr, "学习: %s 新增 %d 条示例\n", fileID, n)
			}
		}
	}

	start := time.Now()
	if a.term != nil {
		a.term.RunStart(cfg.Concurrency, cfg.Backend)
	}
	timer := a.logger.StartWithKV("pipeline", "run", "", "", map[string]string{"backend": cfg.Backend})
	switch {
	case f.text != "":
		err = a.expandOne(ctx, f.text, "text", "", f.out, rt, set)
	case f.out != "":
		var b []byte
		if b, err = os.ReadFile(cfg.Inputs[0]); err == nil {
			err = a.expandOne(ctx, string(b), cfg.Inputs[0], cfg.Inputs[0], f.out, rt, set)
		}
	default:
		err = pipeline.RunBatch(ctx, rt.Components, set, a.logger)
	}
	if a.term != nil {
		a.term.RunFinish(err == nil, time.Since(start))
	}
	if err != nil {
		diag.IncOp("pipeline", "run", "error")
		return err
	}
	timer.Finish("run", len(cfg.Inputs))
	diag.IncOp("pipeline", "run", "success")
	diag.ObserveDuration("pipeline", "run", time.Since(start).Milliseconds())
	return nil
}

// expandOne 展开单个文档；out 为空时写到 stdout。
func (a *app) expandOne(ctx context.Context, src, fileID, sessionFile, out string, rt *cfgpkg.Runtime, set pipeline.Settings) error {
	res, err := pipeline.Run(ctx, src, fileID, sessionFile, rt.Components, set, a.logger)
	if err != nil {
		return err
	}
	if out == "" {
		_, err = fmt.Fprintln(a.stdout, res)
	} else {
		err = wfs.WriteFileAtomic(ctx, out, []byte(res))
		if err == nil {
			fprintf(a.stderr, "已写出 %s\n", out)
		}
	}
	if err != nil {
		return err
	}
	if set.OnAccepted != nil {
		set.OnAccepted(ctx, fileID, src, res)
	}
	return nil
}

func singleFile(inputs []string) bool {
	if len(inputs) != 1 || inputs[0] == "-" {
		return false
	}
	st, err := os.Stat(inputs[0])
	return err == nil && st.Mode().IsRegular()
}
