package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dushixiang/warden/internal/config"
	"github.com/dushixiang/warden/pkg/agent"
	"github.com/kardianos/service"
	"go.uber.org/zap"
)

const serviceName = "warden"

// program 实现 service.Interface
type program struct {
	cfg    *config.AppConfig
	logger *zap.Logger
	agent  *Agent
	ctx    context.Context
	cancel context.CancelFunc
}

// startAgent 创建并启动 Agent
func startAgent(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Agent, error) {
	a, err := New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化失败: %w", err)
	}
	if err := a.Start(ctx); err != nil {
		a.Stop()
		return nil, fmt.Errorf("启动失败: %w", err)
	}
	return a, nil
}

// Start 启动服务
func (p *program) Start(s service.Service) error {
	p.logger = agent.InitLogger(p.cfg.Log)
	p.logger.Info("Warden 服务启动中...")

	p.ctx, p.cancel = context.WithCancel(context.Background())

	a, err := startAgent(p.ctx, p.cfg, p.logger)
	if err != nil {
		p.cancel()
		return err
	}
	p.agent = a
	return nil
}

// Stop 停止服务
func (p *program) Stop(s service.Service) error {
	p.logger.Info("Warden 服务停止中...")

	if p.cancel != nil {
		p.cancel()
	}

	if p.agent != nil {
		p.agent.Stop()
	}

	p.logger.Info("Warden 服务已停止")
	_ = p.logger.Sync()
	return nil
}

// ServiceManager 服务管理器
type ServiceManager struct {
	cfg     *config.AppConfig
	service service.Service
}

// NewServiceManager 创建服务管理器
func NewServiceManager(cfg *config.AppConfig) (*ServiceManager, error) {
	// 获取可执行文件路径
	execPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("获取可执行文件路径失败: %w", err)
	}

	arguments := []string{"run"}
	if cfg.Path != "" {
		abs, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("解析配置路径失败: %w", err)
		}
		arguments = append(arguments, "--config", abs)
	}

	// 配置服务
	svcConfig := &service.Config{
		Name:        serviceName,
		DisplayName: "Warden",
		Description: "Warden 主机维护代理 - 采集资源使用率、检测异常并在空闲时清理临时文件",
		Arguments:   arguments,
		Executable:  execPath,
		Option: service.KeyValue{
			// Linux systemd 配置
			"Restart":            "always",
			"RestartSec":         "10",
			"StartLimitInterval": "0",
			"KillMode":           "process",

			// Windows 配置
			"OnFailure":    "restart",
			"ResetPeriod":  86400,
			"RestartDelay": 10000,

			// 其他 Unix 系统 (upstart/launchd)
			"KeepAlive": true,
			"RunAtLoad": true,
		},
	}

	prg := &program{
		cfg: cfg,
	}

	s, err := service.New(prg, svcConfig)
	if err != nil {
		return nil, fmt.Errorf("创建服务失败: %w", err)
	}

	return &ServiceManager{
		cfg:     cfg,
		service: s,
	}, nil
}

// Install 安装服务
func (m *ServiceManager) Install() error {
	return m.service.Install()
}

// Uninstall 卸载服务
func (m *ServiceManager) Uninstall() error {
	// 先停止服务
	_ = m.service.Stop()

	return m.service.Uninstall()
}

// Start 启动服务
func (m *ServiceManager) Start() error {
	return m.service.Start()
}

// Stop 停止服务
func (m *ServiceManager) Stop() error {
	return m.service.Stop()
}

// Restart 重启服务
func (m *ServiceManager) Restart() error {
	return m.service.Restart()
}

// Status 查看服务状态
func (m *ServiceManager) Status() (string, error) {
	status, err := m.service.Status()
	if err != nil {
		return "", err
	}
	return StatusText(status), nil
}

// StatusText 服务状态的显示文本
func StatusText(status service.Status) string {
	switch status {
	case service.StatusRunning:
		return "运行中 (Running)"
	case service.StatusStopped:
		return "已停止 (Stopped)"
	case service.StatusUnknown:
		return "未知 (Unknown)"
	default:
		return fmt.Sprintf("状态: %d", status)
	}
}

// Run 运行服务（用于 run 命令）
func (m *ServiceManager) Run() error {
	if !service.Interactive() {
		// 在服务管理器控制下运行
		return m.service.Run()
	}

	// 交互模式（前台运行）
	logger := agent.InitLogger(m.cfg.Log)
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("配置加载成功",
		zap.String("config", m.cfg.Path),
		zap.Duration("sampleInterval", m.cfg.Schedule.SampleInterval),
		zap.Duration("idleThreshold", m.cfg.Schedule.IdleThreshold))

	// 监听系统信号
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := startAgent(ctx, m.cfg, logger)
	if err != nil {
		return err
	}

	// 等待中断信号
	<-ctx.Done()
	logger.Info("收到中断信号，正在关闭...")

	// 等待 Agent 停止，进行中的维护会先完成
	a.Stop()
	logger.Info("Warden 已停止")
	return nil
}
