package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dushixiang/warden/internal/models"
	"github.com/dushixiang/warden/pkg/agent/service"
	"github.com/spf13/cobra"
)

func newAlertsCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "查看最近的告警",
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

			alerts, err := st.RecentAlerts(ctx, limit)
			if err != nil {
				return err
			}
			if opts.jsonOutput() {
				return printJSON(alerts)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\t时间\t级别\t消息")
			for _, a := range alerts {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", a.ID, a.Timestamp.Local().Format(time.DateTime), a.Severity, a.Message)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "最多显示的条数")
	return cmd
}

// usageStats 一段时间内的资源使用统计
type usageStats struct {
	Days    int        `json:"days"`
	Samples int        `json:"samples"`
	Avg     [3]float64 `json:"avg"`
	Max     [3]float64 `json:"max"`
	Errors  int        `json:"errors"`
}

func (s *usageStats) add(stat models.SystemStat) {
	values := [3]float64{stat.CPU, stat.RAM, stat.Disk}
	for i, v := range values {
		s.Avg[i] += v
		s.Max[i] = max(s.Max[i], v)
	}
	s.Errors += stat.ErrorCount
	s.Samples++
}

func (s *usageStats) finish() {
	if s.Samples == 0 {
		return
	}
	for i := range s.Avg {
		s.Avg[i] /= float64(s.Samples)
	}
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "统计最近几天的资源使用情况",
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

			stats := usageStats{Days: days}
			for stat, err := range st.HistoricalSamples(ctx, days) {
				if err != nil {
					return err
				}
				stats.add(stat)
			}
			stats.finish()

			if opts.jsonOutput() {
				return printJSON(stats)
			}
			if stats.Samples == 0 {
				fmt.Printf("最近 %d 天没有采样数据\n", days)
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "最近 %d 天，共 %d 个样本\n", days, stats.Samples)
			fmt.Fprintln(w, "\t平均\t最高")
			for i, name := range []string{"CPU", "内存", "磁盘"} {
				fmt.Fprintf(w, "%s\t%.1f%%\t%.1f%%\n", name, stats.Avg[i], stats.Max[i])
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&days, "days", "d", 7, "统计的天数")
	return cmd
}
