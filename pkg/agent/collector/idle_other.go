//go:build !linux && !windows

package collector

import (
	"os"
	"time"
)

func newPlatformIdle() IdleProvider {
	return newTerminalIdle(ttyModTime)
}

// ttyModTime 各平台 atime 字段不统一，这里退而使用修改时间
func ttyModTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
