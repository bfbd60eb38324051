package main

import (
	"fmt"

	"github.com/dushixiang/warden/pkg/agent/service"
	"github.com/spf13/cobra"
)

func newCleanCmd(opts *rootOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "clean [目录...]",
		Short: "立即清理配置的目录，或命令行指定的目录",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("dry-run") {
				cfg.Cleanup.DryRun = dryRun
			}
			ctx, cancel := commandContext()
			defer cancel()

			c, targets := service.NewCleaner(cfg, logger)
			if len(args) > 0 {
				targets = args
			}

			result, err := c.CleanTargets(ctx, targets)
			if opts.jsonOutput() {
				if jsonErr := printJSON(result); jsonErr != nil {
					return jsonErr
				}
				return err
			}

			verb := "删除"
			if cfg.Cleanup.DryRun {
				verb = "可删除"
			}
			fmt.Printf("%s %d 项，跳过 %d 项（其中失败 %d 项）\n", verb, result.Removed, result.Skipped, result.Errors)
			return err
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "只统计不删除")
	return cmd
}
