package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dushixiang/warden/internal/config"
	"github.com/dushixiang/warden/pkg/agent"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type rootOptions struct {
	configPath string
	output     string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "warden",
		Short:         "Warden 主机维护代理",
		Long:          "Warden 定时采集 CPU、内存和磁盘使用率，用隔离森林检测异常，并在用户空闲时清理临时文件。",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "配置文件路径（默认读取 WARDEN_CONFIG）")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "table", "输出格式: table, json")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newServiceCmds(opts)...)
	cmd.AddCommand(newTrainCmd(opts))
	cmd.AddCommand(newEvaluateCmd(opts))
	cmd.AddCommand(newCleanCmd(opts))
	cmd.AddCommand(newAlertsCmd(opts))
	cmd.AddCommand(newStatsCmd(opts))
	return cmd
}

// load 读取配置并初始化日志
func (o *rootOptions) load() (*config.AppConfig, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, agent.InitLogger(cfg.Log), nil
}

func (o *rootOptions) jsonOutput() bool {
	return o.output == "json"
}

// commandContext 收到中断信号时取消
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("输出 JSON 失败: %w", err)
	}
	return nil
}
