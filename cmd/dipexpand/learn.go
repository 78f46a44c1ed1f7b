package main

import (
	"os"

	"github.com/spf13/cobra"

	cfgpkg "dipexpand/internal/config"
	"dipexpand/internal/examples"
)

func (a *app) learnCmd() *cobra.Command {
	var (
		path      string
		model     string
		wordLevel bool
	)
	cmd := &cobra.Command{
		Use:   "learn INPUT OUTPUT",
		Short: "Learn example pairs from an accepted expansion",
		Long: "Compare INPUT with its accepted expansion OUTPUT block by block and merge the changed pairs\n" +
			"into learned_examples.json next to the project examples (or the personal file when none is configured).",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			over := cfgpkg.Config{MaxRetries: -1, Examples: cfgpkg.Examples{Path: path}}
			over.Learn.WordLevel = wordLevel
			cfg, err := a.loadConfigWith(over)
			if err != nil {
				return err
			}
			parser, err := parserFor(cfg)
			if err != nil {
				return err
			}
			in, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			out, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			l := &examples.Learner{
				Store:      examples.NewStore(examples.WithLogger(a.logger)),
				Parser:     parser,
				Tags:       tagsFor(cfg),
				MaxLearned: cfg.Learn.MaxLearned,
				WordLevel:  cfg.Learn.WordLevel,
				Logger:     a.logger,
			}
			n := l.Learn(cmd.Context(), cfg.Examples.Path, string(in), string(out), model)
			fprintf(a.stdout, "%d\n", n)
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&path, "examples", "", "项目示例 JSON 路径；为空时写入个人学习文件")
	fl.StringVar(&model, "model", "", "产出该结果的模型名（含 pro 时条目优先保留）")
	fl.BoolVar(&wordLevel, "word-level", false, "按词拆分变化对")
	return cmd
}
