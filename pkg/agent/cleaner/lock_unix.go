//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package cleaner

import (
	"errors"
	"fmt"
	"io/fs"

	"golang.org/x/sys/unix"
)

// platformProbe 尝试对文件加非阻塞排他 flock，加不上说明有人持有锁
type platformProbe struct{}

func (platformProbe) Locked(path string) (bool, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NOFOLLOW|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		switch {
		case errors.Is(err, unix.ENOENT):
			return false, fmt.Errorf("%s: %w", path, fs.ErrNotExist)
		case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM), errors.Is(err, unix.ELOOP):
			return true, nil
		}
		return true, err
	}
	defer unix.Close(fd)

	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return true, nil
		}
		return true, err
	}
	_ = unix.Flock(fd, unix.LOCK_UN)
	return false, nil
}
