//go:build linux

package collector

import (
	"time"

	"golang.org/x/sys/unix"
)

func newPlatformIdle() IdleProvider {
	return newTerminalIdle(ttyAccessTime)
}

// ttyAccessTime 终端的 atime 在用户输入时更新
func ttyAccessTime(path string) (time.Time, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return time.Time{}, err
	}
	return time.Unix(st.Atim.Unix()), nil
}
