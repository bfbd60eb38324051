package cleaner

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"slices"

	"go.uber.org/zap"
)

// SystemTempDirs 系统临时目录
func SystemTempDirs() []string {
	dirs := []string{os.TempDir()}
	if runtime.GOOS == "windows" {
		dirs = append(dirs, filepath.Join(envOr("SystemRoot", `C:\Windows`), "Temp"))
	} else {
		dirs = append(dirs, "/var/tmp")
	}
	return dedupe(dirs)
}

// PrefetchDir Windows 预读取目录，其他平台返回空
func PrefetchDir() string {
	if runtime.GOOS != "windows" {
		return ""
	}
	return filepath.Join(envOr("SystemRoot", `C:\Windows`), "Prefetch")
}

// LogDirs 系统日志目录
func LogDirs() []string {
	if runtime.GOOS == "windows" {
		return []string{filepath.Join(envOr("SystemRoot", `C:\Windows`), "Logs")}
	}
	return []string{"/var/log"}
}

// TargetSet 要清理的目标类别
type TargetSet struct {
	SystemTemp bool
	Prefetch   bool
	Logs       bool
	Extra      []string
}

// Resolve 解析为去重后的目录列表
func (t TargetSet) Resolve() []string {
	var dirs []string
	if t.SystemTemp {
		dirs = append(dirs, SystemTempDirs()...)
	}
	if t.Prefetch {
		if dir := PrefetchDir(); dir != "" {
			dirs = append(dirs, dir)
		}
	}
	if t.Logs {
		dirs = append(dirs, LogDirs()...)
	}
	dirs = append(dirs, t.Extra...)
	return dedupe(dirs)
}

// CleanSystemTemp 清理系统临时目录
func (c *Cleaner) CleanSystemTemp(ctx context.Context) (Result, error) {
	return c.CleanTargets(ctx, SystemTempDirs())
}

// CleanTargets 依次清理多个目录并汇总结果
func (c *Cleaner) CleanTargets(ctx context.Context, targets []string) (Result, error) {
	var total Result
	for _, target := range targets {
		r, err := c.Clean(ctx, target)
		total = total.Add(r)
		if err != nil {
			return total, err
		}
		c.logger.Debug("目录清理结束", zap.String("target", target), zap.Int("removed", r.Removed))
	}
	return total, nil
}

func dedupe(dirs []string) []string {
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if d == "" {
			continue
		}
		d = filepath.Clean(d)
		if !slices.Contains(out, d) {
			out = append(out, d)
		}
	}
	return out
}
