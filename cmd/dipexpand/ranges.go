package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dipexpand/internal/blocks"
	cfgpkg "dipexpand/internal/config"
	"dipexpand/pkg/contract"
	"dipexpand/pkg/registry"
)

func (a *app) rangesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ranges FILE",
		Short: "Print the character range of every block as \"start end\"",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfigWith(cfgpkg.Config{MaxRetries: -1})
			if err != nil {
				return err
			}
			parser, err := parserFor(cfg)
			if err != nil {
				return err
			}
			b, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			for _, r := range blocks.Ranges(parser, string(b), tagsFor(cfg)) {
				if _, err := fmt.Fprintf(a.stdout, "%d %d\n", r.Start, r.End); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// parserFor 按配置构造解析器（不装配后端）。
func parserFor(cfg cfgpkg.Config) (contract.Parser, error) {
	name := cfg.Components.Parser
	if name == "" {
		name = cfgpkg.Defaults().Components.Parser
	}
	p, err := registry.Parser[name](cfg.Options.Parser)
	if err != nil {
		return nil, configErr("parser options: %w", err)
	}
	return p, nil
}

func tagsFor(cfg cfgpkg.Config) contract.TagSet {
	if len(cfg.Tags) == 0 {
		return contract.NewTagSet(contract.DefaultTags...)
	}
	return contract.NewTagSet(cfg.Tags...)
}
