//go:build windows

package collector

import (
	"context"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32               = windows.NewLazySystemDLL("user32.dll")
	procGetLastInputInfo = user32.NewProc("GetLastInputInfo")
)

type lastInputInfo struct {
	cbSize uint32
	dwTime uint32
}

// inputIdle 通过 GetLastInputInfo 获取最后一次键鼠输入
type inputIdle struct{}

func newPlatformIdle() IdleProvider {
	return inputIdle{}
}

func (inputIdle) IdleDuration(ctx context.Context) (time.Duration, error) {
	info := lastInputInfo{cbSize: uint32(unsafe.Sizeof(lastInputInfo{}))}
	ret, _, err := procGetLastInputInfo.Call(uintptr(unsafe.Pointer(&info)))
	if ret == 0 {
		return 0, fmt.Errorf("GetLastInputInfo 调用失败: %w", err)
	}
	// dwTime 是 32 位毫秒计数，约 49.7 天回绕一次，用无符号减法处理回绕
	elapsed := uint32(windows.GetTickCount64()) - info.dwTime
	return time.Duration(elapsed) * time.Millisecond, nil
}
