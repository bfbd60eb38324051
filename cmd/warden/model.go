package main

import (
	"fmt"
	"time"

	"github.com/dushixiang/warden/pkg/agent/service"
	"github.com/spf13/cobra"
)

func newTrainCmd(opts *rootOptions) *cobra.Command {
	var contamination float64

	cmd := &cobra.Command{
		Use:   "train",
		Short: "用全部历史数据重新训练异常检测模型",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext()
			defer cancel()

			st, err := service.OpenStore(cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			det, err := service.NewDetector(cfg, logger, st)
			if err != nil {
				return err
			}
			defer det.Close()

			var trained bool
			if cmd.Flags().Changed("contamination") {
				trained, err = det.UpdateHyperparameters(ctx, &contamination, nil)
			} else {
				trained, err = det.Train(ctx)
			}
			if err != nil {
				return err
			}
			if !trained {
				fmt.Println("暂无训练数据，跳过训练")
				return nil
			}

			m := det.Current()
			if opts.jsonOutput() {
				return printJSON(map[string]any{
					"version":   m.Version,
					"trainedAt": m.TrainedAt.Format(time.RFC3339),
					"samples":   m.Samples,
					"threshold": m.Threshold,
					"params":    m.Params,
				})
			}
			fmt.Printf("训练完成: 版本 %s，样本 %d，阈值 %.4f\n", m.Version, m.Samples, m.Threshold)
			return nil
		},
	}

	cmd.Flags().Float64Var(&contamination, "contamination", 0.05, "预期异常比例 (0, 0.5]")
	return cmd
}

func newEvaluateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "以 error_count>0 为真值评估当前模型",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext()
			defer cancel()

			st, err := service.OpenStore(cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			det, err := service.NewDetector(cfg, logger, st)
			if err != nil {
				return err
			}
			defer det.Close()

			if err := det.LoadOrTrain(ctx); err != nil {
				return err
			}
			evaluation, err := det.Evaluate(ctx)
			if err != nil {
				return err
			}
			if evaluation == nil {
				fmt.Println("模型或数据不可用")
				return nil
			}

			if opts.jsonOutput() {
				return printJSON(evaluation)
			}
			fmt.Printf("precision: %.3f\nrecall:    %.3f\n样本: %d，真值异常: %d，判定异常: %d\n",
				evaluation.Precision, evaluation.Recall,
				evaluation.Samples, evaluation.Positives, evaluation.Flagged)
			return nil
		},
	}
}
