package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	cfgpkg "dipexpand/internal/config"
	"dipexpand/internal/examples"
	"dipexpand/pkg/contract"
)

func (a *app) pingCmd() *cobra.Command {
	f := &expandFlags{maxExamples: -1, maxRetries: 0}
	var (
		text    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Send one sample block to the configured backend and print the answer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfigWith(f.overlay(nil), f.adjust)
			if err != nil {
				return err
			}
			rt, err := a.assembleConfig(cfg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			out, err := transformOnce(ctx, rt, text)
			if err != nil {
				return err
			}
			fprintf(a.stdout, "%s\n", out)
			fprintf(a.stderr, "OK (%s)\n", rt.BackendName)
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.backend, "backend", "", "provider 名称")
	fl.StringVar(&f.model, "model", "", "模型名")
	fl.StringVar(&f.examples, "examples", "", "项目示例 JSON 路径")
	fl.StringVar(&text, "text", "y^e", "发送的样例文本")
	fl.DurationVar(&timeout, "timeout", 15*time.Second, "超时")
	return cmd
}

// transformOnce 以已选示例构造提示词并调用一次后端。
func transformOnce(ctx context.Context, rt *cfgpkg.Runtime, text string) (string, error) {
	set := rt.Settings
	selected := examples.Select(set.Examples, set.MaxExamples, set.Strategy)
	req := contract.Request{Text: text, Modality: set.Modality, Examples: set.Examples}
	if rt.Components.PromptBuilder != nil {
		p, err := rt.Components.PromptBuilder.Build(ctx, contract.PromptRequest{Text: text, Examples: selected, Modality: set.Modality})
		if err != nil {
			return "", err
		}
		req.Prompt = p
	}
	return rt.Components.Backend.Transform(ctx, req)
}
