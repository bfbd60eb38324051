//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly || windows)

package cleaner

// platformProbe 平台不支持 flock，只依赖 OpenFileProbe 判断占用
type platformProbe struct{}

func (platformProbe) Locked(string) (bool, error) {
	return false, nil
}
