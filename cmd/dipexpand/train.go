package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	cfgpkg "dipexpand/internal/config"
	"dipexpand/internal/examples"
	"dipexpand/pkg/contract"
)

// defaultExamplesPath 未配置时使用的项目示例文件。
const defaultExamplesPath = "examples.json"

func (a *app) trainCmd() *cobra.Command {
	var (
		path       string
		list       bool
		add        string
		diplomatic string
		full       string
	)
	cmd := &cobra.Command{
		Use:   "train",
		Short: "List or add project example pairs",
		Example: "  dipexpand train --list\n" +
			"  dipexpand train --add 'y^e=the'\n" +
			"  dipexpand train --diplomatic 'w^t' --full 'that'",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfigWith(cfgpkg.Config{MaxRetries: -1, Examples: cfgpkg.Examples{Path: path}})
			if err != nil {
				return err
			}
			p := cfg.Examples.Path
			if p == "" {
				p = defaultExamplesPath
			}
			store := examples.NewStore(examples.WithLogger(a.logger))
			existing, err := store.LoadProject(p)
			if err != nil {
				return err
			}
			if add != "" {
				d, f, ok := strings.Cut(add, "=")
				if !ok {
					return configErr("--add 需要 DIPLOMATIC=FULL 形式")
				}
				diplomatic, full = d, f
			}
			diplomatic, full = strings.TrimSpace(diplomatic), strings.TrimSpace(full)
			switch {
			case diplomatic != "" || full != "":
				if diplomatic == "" || full == "" {
					return configErr("添加示例需要同时提供 diplomatic 与 full")
				}
				existing = append(existing, contract.ExamplePair{Diplomatic: diplomatic, Full: full})
				if err := store.Save(cmd.Context(), p, existing); err != nil {
					return err
				}
				fprintf(a.stderr, "已添加 1 条 → %s（共 %d 条）\n", p, len(existing))
				return nil
			case list:
				fprintf(a.stderr, "%s 中的示例（%d 条）:\n", p, len(existing))
				for i, e := range existing {
					fprintf(a.stdout, "%4d. %q → %q\n", i+1, e.Diplomatic, e.Full)
				}
				return nil
			}
			return fmt.Errorf("train: 需要 --list 或 --add")
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&path, "examples", "", "项目示例 JSON 路径（默认取配置或 examples.json）")
	fl.BoolVarP(&list, "list", "l", false, "列出当前示例")
	fl.StringVar(&add, "add", "", "添加一条示例，形如 DIPLOMATIC=FULL")
	fl.StringVarP(&diplomatic, "diplomatic", "d", "", "diplomatic 文本（与 --full 一起添加）")
	fl.StringVarP(&full, "full", "f", "", "full 文本（与 --diplomatic 一起添加）")
	return cmd
}
