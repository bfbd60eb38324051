package main

import (
	"fmt"

	"github.com/dushixiang/warden/pkg/agent/service"
	"github.com/spf13/cobra"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "前台运行（或由系统服务管理器启动）",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := newManager(opts)
			if err != nil {
				return err
			}
			return mgr.Run()
		},
	}
}

func newServiceCmds(opts *rootOptions) []*cobra.Command {
	action := func(use, short, done string, fn func(*service.ServiceManager) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				mgr, err := newManager(opts)
				if err != nil {
					return err
				}
				if err := fn(mgr); err != nil {
					return fmt.Errorf("%s失败: %w", short, err)
				}
				fmt.Println(done)
				return nil
			},
		}
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "查看服务状态",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := newManager(opts)
			if err != nil {
				return err
			}
			text, err := mgr.Status()
			if err != nil {
				return fmt.Errorf("获取服务状态失败: %w", err)
			}
			fmt.Println(text)
			return nil
		},
	}

	return []*cobra.Command{
		action("install", "安装服务", "服务已安装", (*service.ServiceManager).Install),
		action("uninstall", "卸载服务", "服务已卸载", (*service.ServiceManager).Uninstall),
		action("start", "启动服务", "服务已启动", (*service.ServiceManager).Start),
		action("stop", "停止服务", "服务已停止", (*service.ServiceManager).Stop),
		action("restart", "重启服务", "服务已重启", (*service.ServiceManager).Restart),
		status,
	}
}

func newManager(opts *rootOptions) (*service.ServiceManager, error) {
	cfg, _, err := opts.load()
	if err != nil {
		return nil, err
	}
	return service.NewServiceManager(cfg)
}
