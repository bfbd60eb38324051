//go:build windows

package cleaner

import (
	"errors"
	"fmt"
	"io/fs"

	"golang.org/x/sys/windows"
)

// platformProbe 以共享模式 0 打开文件，其他句柄存在时会返回共享冲突
type platformProbe struct{}

func (platformProbe) Locked(path string) (bool, error) {
	name, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return true, err
	}

	h, err := windows.CreateFile(name,
		windows.GENERIC_READ,
		0,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_ATTRIBUTE_NORMAL|windows.FILE_FLAG_OPEN_REPARSE_POINT,
		0)
	if err != nil {
		switch {
		case errors.Is(err, windows.ERROR_FILE_NOT_FOUND), errors.Is(err, windows.ERROR_PATH_NOT_FOUND):
			return false, fmt.Errorf("%s: %w", path, fs.ErrNotExist)
		case errors.Is(err, windows.ERROR_SHARING_VIOLATION),
			errors.Is(err, windows.ERROR_LOCK_VIOLATION),
			errors.Is(err, windows.ERROR_ACCESS_DENIED):
			return true, nil
		}
		return true, err
	}
	_ = windows.CloseHandle(h)
	return false, nil
}
