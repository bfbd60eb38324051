package cleaner

// LockProbe 判断文件是否正被其他进程占用
type LockProbe interface {
	Locked(path string) (bool, error)
}

// LockProbeFunc 函数形式的 LockProbe
type LockProbeFunc func(path string) (bool, error)

func (f LockProbeFunc) Locked(path string) (bool, error) {
	return f(path)
}

// NewLockProbe 当前平台的独占打开探测
func NewLockProbe() LockProbe {
	return platformProbe{}
}
