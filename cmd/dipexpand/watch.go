package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"dipexpand/internal/examples"
	"dipexpand/internal/pipeline"
	"dipexpand/internal/watch"
)

func (a *app) watchCmd() *cobra.Command {
	f := &expandFlags{maxExamples: -1, maxRetries: -1}
	var (
		debounce time.Duration
		initial  bool
	)
	cmd := &cobra.Command{
		Use:   "watch DIR...",
		Short: "Expand new or changed XML files as they appear",
		Long: "Watch directories and expand every new or changed *.xml (except *_expanded.xml).\n" +
			"Changes to the example files reload the example pool without restarting.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, dirs []string) error {
			cfg, err := a.loadConfigWith(f.overlay(dirs), f.adjust)
			if err != nil {
				return err
			}
			rt, err := a.assembleConfig(cfg)
			if err != nil {
				return err
			}
			onAccepted := func(ctx context.Context, fileID, in, out string) {
				if rt.Learner != nil {
					rt.Learner.Learn(ctx, rt.ExamplesPath(), in, out, rt.Model)
				}
			}
			expandFile := func(ctx context.Context, path string) error {
				set := rt.Settings
				set.Inputs = []string{path}
				set.OnAccepted = onAccepted
				return pipeline.RunBatch(ctx, rt.Components, set, a.logger)
			}
			var exampleFiles []string
			if p := rt.ExamplesPath(); p != "" {
				exampleFiles = append(exampleFiles, p, examples.LearnedPath(p))
			}
			if p := rt.Store.PersonalPath(); p != "" {
				exampleFiles = append(exampleFiles, p)
			}
			w, err := watch.New(watch.Options{
				Dirs:         dirs,
				ExampleFiles: exampleFiles,
				Debounce:     debounce,
				OnFile:       expandFile,
				OnExamples: func(path string) {
					rt.Store.Invalidate(path)
					if err := rt.LoadExamples(); err != nil {
						a.logger.Warn("watch", "examples reload failed", map[string]string{"path": path, "err": err.Error()})
						return
					}
					fprintf(a.stderr, "示例已重新加载（%d 条）\n", len(rt.Settings.Examples))
				},
				Logger: a.logger,
			})
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if initial {
				set := rt.Settings
				set.OnAccepted = onAccepted
				if err := pipeline.RunBatch(ctx, rt.Components, set, a.logger); err != nil && !pipeline.IsCancelled(err) {
					a.logger.Warn("watch", "initial run failed", map[string]string{"err": err.Error()})
				}
			}
			fprintf(a.stderr, "监视中: %v（Ctrl-C 退出）\n", dirs)
			return w.Run(ctx)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.examples, "examples", "", "项目示例 JSON 路径")
	fl.StringVar(&f.backend, "backend", "", "provider 名称")
	fl.StringVar(&f.model, "model", "", "模型名")
	fl.StringVar(&f.modality, "modality", "", "展开风格")
	fl.IntVar(&f.concurrency, "concurrency", 0, "每遍并发块数（1-16）")
	fl.IntVar(&f.passes, "passes", 0, "展开遍数（1-5）")
	fl.StringVar(&f.outDir, "out-dir", "", "输出目录（默认与输入同目录）")
	fl.BoolVar(&f.learn, "learn", false, "接受结果后沉淀学习示例")
	fl.DurationVar(&debounce, "debounce", watch.DefaultDebounce, "变化合并窗口")
	fl.BoolVar(&initial, "initial", false, "启动时先展开目录中已有文件")
	return cmd
}
