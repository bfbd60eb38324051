package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dushixiang/warden/internal/validate"
	"gopkg.in/yaml.v3"
)

const envConfigPath = "WARDEN_CONFIG"

// AppConfig 应用配置
type AppConfig struct {
	Database DatabaseConfig `yaml:"Database"`
	Model    ModelConfig    `yaml:"Model"`
	Cleanup  CleanupConfig  `yaml:"Cleanup"`
	Schedule ScheduleConfig `yaml:"Schedule"`
	Alert    AlertConfig    `yaml:"Alert"`
	Log      LogConfig      `yaml:"Log"`
	Mail     *MailConfig    `yaml:"Mail"` // 邮件通知（可选）
	HTTP     HTTPConfig     `yaml:"HTTP"`

	// Path 配置文件路径（不序列化）
	Path string `yaml:"-"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Path string `yaml:"Path" validate:"required"` // sqlite 文件路径
}

// ModelConfig 异常检测模型配置
type ModelConfig struct {
	Path            string        `yaml:"Path" validate:"required"`              // 模型文件路径
	Contamination   float64       `yaml:"Contamination" validate:"gt=0,lte=0.5"` // 预期异常比例
	Estimators      int           `yaml:"Estimators" validate:"gte=1,lte=1000"`  // 树的数量
	SampleSize      int           `yaml:"SampleSize" validate:"gte=2"`           // 每棵树的子采样大小
	Seed            int64         `yaml:"Seed"`                                  // 随机种子
	RetrainDebounce time.Duration `yaml:"RetrainDebounce" validate:"gte=0"`      // 超参数变更的重训合并窗口
}

// CleanupConfig 清理配置
type CleanupConfig struct {
	Targets           []string `yaml:"Targets"`           // 额外的清理目录
	IncludeSystemTemp bool     `yaml:"IncludeSystemTemp"` // 清理系统临时目录
	IncludePrefetch   bool     `yaml:"IncludePrefetch"`   // 清理 Prefetch（仅 Windows）
	IncludeLogs       bool     `yaml:"IncludeLogs"`       // 清理系统日志目录
	UseDefaultPolicy  bool     `yaml:"UseDefaultPolicy"`  // 在默认排除规则基础上追加
	ExcludedPrefixes  []string `yaml:"ExcludedPrefixes"`  // 排除路径（不区分大小写的子串匹配）
	ExcludedPatterns  []string `yaml:"ExcludedPatterns"`  // 排除文件名通配符
	ScanOpenFiles     bool     `yaml:"ScanOpenFiles"`     // 额外扫描进程打开的文件
	DryRun            bool     `yaml:"DryRun"`            // 只统计不删除
}

// ScheduleConfig 调度配置
type ScheduleConfig struct {
	SampleInterval    time.Duration `yaml:"SampleInterval" validate:"gte=1s"`    // 采样间隔
	IdleCheckInterval time.Duration `yaml:"IdleCheckInterval" validate:"gte=1s"` // 空闲检测间隔
	IdleThreshold     time.Duration `yaml:"IdleThreshold" validate:"gt=0"`       // 空闲多久触发维护
	DiskPath          string        `yaml:"DiskPath"`                            // 统计磁盘使用率的挂载点
}

// AlertConfig 阈值告警配置
type AlertConfig struct {
	Enabled           bool    `yaml:"Enabled"`
	CPUThreshold      float64 `yaml:"CPUThreshold" validate:"gte=0,lte=100"`
	RAMThreshold      float64 `yaml:"RAMThreshold" validate:"gte=0,lte=100"`
	DiskThreshold     float64 `yaml:"DiskThreshold" validate:"gte=0,lte=100"`
	HighThreshold     float64 `yaml:"HighThreshold" validate:"gte=0,lte=100"` // CPU/内存超过该值时为 HIGH
	CPUMessage        string  `yaml:"CPUMessage"`                             // 消息模板，支持 {{value}}
	RAMMessage        string  `yaml:"RAMMessage"`
	DiskMessage       string  `yaml:"DiskMessage"`
	AnomalyMessage    string  `yaml:"AnomalyMessage"`
	NotifyMinSeverity string  `yaml:"NotifyMinSeverity" validate:"omitempty,oneof=LOW MEDIUM HIGH low medium high"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"Level"`
	File       string `yaml:"File"`
	MaxSize    int    `yaml:"MaxSize"`
	MaxBackups int    `yaml:"MaxBackups"`
	MaxAge     int    `yaml:"MaxAge"`
	Compress   bool   `yaml:"Compress"`
}

// MailConfig 邮件通知配置
type MailConfig struct {
	Enabled     bool     `yaml:"Enabled"`
	Host        string   `yaml:"Host" validate:"required_if=Enabled true"`
	Port        int      `yaml:"Port" validate:"omitempty,gte=1,lte=65535"`
	Username    string   `yaml:"Username"`
	Password    string   `yaml:"Password"`
	From        string   `yaml:"From" validate:"required_if=Enabled true"`
	To          []string `yaml:"To" validate:"required_if=Enabled true,dive,email"`
	MinSeverity string   `yaml:"MinSeverity" validate:"omitempty,oneof=LOW MEDIUM HIGH low medium high"`
}

// HTTPConfig 本地管理接口配置
type HTTPConfig struct {
	Enabled bool   `yaml:"Enabled"`
	Address string `yaml:"Address" validate:"required_if=Enabled true"`
}

// Default 默认配置
func Default() AppConfig {
	return AppConfig{
		Database: DatabaseConfig{Path: "data/system_monitor.db"},
		Model: ModelConfig{
			Path:            "data/model.db",
			Contamination:   0.05,
			Estimators:      100,
			SampleSize:      256,
			Seed:            42,
			RetrainDebounce: 2 * time.Second,
		},
		Cleanup: CleanupConfig{
			IncludeSystemTemp: true,
			IncludePrefetch:   true,
			IncludeLogs:       false,
			UseDefaultPolicy:  true,
			ScanOpenFiles:     false,
		},
		Schedule: ScheduleConfig{
			SampleInterval:    time.Minute,
			IdleCheckInterval: 10 * time.Minute,
			IdleThreshold:     2 * time.Hour,
		},
		Alert: AlertConfig{
			Enabled:           true,
			CPUThreshold:      80,
			RAMThreshold:      85,
			DiskThreshold:     90,
			HighThreshold:     90,
			CPUMessage:        "CPU 使用率过高 ({{value}}%)",
			RAMMessage:        "内存使用率过高 ({{value}}%)",
			DiskMessage:       "磁盘空间不足 ({{value}}%)",
			AnomalyMessage:    "检测到系统行为异常 (CPU: {{cpu}}%, 内存: {{ram}}%)",
			NotifyMinSeverity: "LOW",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		},
		HTTP: HTTPConfig{
			Enabled: false,
			Address: "127.0.0.1:7788",
		},
	}
}

// Load 读取 YAML 配置并应用环境变量覆盖
// path 为空时读取 WARDEN_CONFIG；都为空则只使用默认值
func Load(path string) (*AppConfig, error) {
	if path == "" {
		path = os.Getenv(envConfigPath)
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("配置文件 %s 不存在: %w", path, err)
			}
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	cfg.Path = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("配置不合法: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := os.Getenv("WARDEN_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("WARDEN_MODEL_PATH"); v != "" {
		cfg.Model.Path = v
	}
	if v := os.Getenv("WARDEN_CONTAMINATION"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Model.Contamination = f
		}
	}
	if v := os.Getenv("WARDEN_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("WARDEN_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
	if v := os.Getenv("WARDEN_SAMPLE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Schedule.SampleInterval = d
		}
	}
	if v := os.Getenv("WARDEN_IDLE_THRESHOLD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Schedule.IdleThreshold = d
		}
	}
	if v := os.Getenv("WARDEN_HTTP_ENABLED"); v != "" {
		cfg.HTTP.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("WARDEN_HTTP_ADDRESS"); v != "" {
		cfg.HTTP.Address = v
	}
	if v := os.Getenv("WARDEN_CLEANUP_DRY_RUN"); v != "" {
		cfg.Cleanup.DryRun = strings.EqualFold(v, "true") || v == "1"
	}
}
