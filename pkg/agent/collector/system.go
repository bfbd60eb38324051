package collector

import (
	"context"
	"fmt"
	"math"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// Usage 一次资源占用快照，均为百分比
type Usage struct {
	CPU  float64 `json:"cpu"`
	RAM  float64 `json:"ram"`
	Disk float64 `json:"disk"`
}

// Sampler 资源采样
type Sampler interface {
	Sample(ctx context.Context) (Usage, error)
}

// SystemCollector 基于 gopsutil 的资源采集器
type SystemCollector struct {
	diskPath    string
	cpuInterval time.Duration
}

// NewSystemCollector 创建采集器，diskPath 为空时使用系统盘
func NewSystemCollector(diskPath string) *SystemCollector {
	if diskPath == "" {
		diskPath = DefaultDiskPath()
	}
	return &SystemCollector{
		diskPath:    diskPath,
		cpuInterval: time.Second,
	}
}

// DefaultDiskPath 系统盘挂载点
func DefaultDiskPath() string {
	if runtime.GOOS == "windows" {
		if drive := os.Getenv("SystemDrive"); drive != "" {
			return drive + `\`
		}
		return `C:\`
	}
	return "/"
}

// Sample 采集 CPU、内存、磁盘使用率，CPU 需要阻塞 cpuInterval 计算
func (c *SystemCollector) Sample(ctx context.Context) (Usage, error) {
	percents, err := cpu.PercentWithContext(ctx, c.cpuInterval, false)
	if err != nil {
		return Usage{}, fmt.Errorf("采集 CPU 使用率失败: %w", err)
	}
	if len(percents) == 0 {
		return Usage{}, fmt.Errorf("采集 CPU 使用率失败: 无数据")
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("采集内存使用率失败: %w", err)
	}

	du, err := disk.UsageWithContext(ctx, c.diskPath)
	if err != nil {
		return Usage{}, fmt.Errorf("采集磁盘使用率失败 %s: %w", c.diskPath, err)
	}

	return Usage{
		CPU:  clampPercent(percents[0]),
		RAM:  clampPercent(vm.UsedPercent),
		Disk: clampPercent(du.UsedPercent),
	}, nil
}

// clampPercent 把采集误差限制在 [0,100]
func clampPercent(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(100, math.Max(0, v))
}
