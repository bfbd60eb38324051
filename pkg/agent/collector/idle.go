package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/host"
)

// IdleProvider 用户空闲时长
type IdleProvider interface {
	IdleDuration(ctx context.Context) (time.Duration, error)
}

// NewIdleProvider 当前平台的空闲检测
func NewIdleProvider() IdleProvider {
	return newPlatformIdle()
}

// terminalIdle 以登录终端设备的最近访问时间计算空闲（w 命令的算法）
// 没有登录用户时以开机时间为准
type terminalIdle struct {
	now        func() time.Time
	terminals  func(ctx context.Context) []string
	bootTime   func(ctx context.Context) (time.Time, error)
	accessTime func(path string) (time.Time, error)
}

func newTerminalIdle(accessTime func(string) (time.Time, error)) *terminalIdle {
	return &terminalIdle{
		now:        time.Now,
		terminals:  loggedInTerminals,
		bootTime:   bootTime,
		accessTime: accessTime,
	}
}

func (p *terminalIdle) IdleDuration(ctx context.Context) (time.Duration, error) {
	now := p.now()

	var (
		latest time.Time
		found  bool
	)
	for _, tty := range p.terminals(ctx) {
		at, err := p.accessTime("/dev/" + tty)
		if err != nil {
			continue
		}
		if !found || at.After(latest) {
			latest, found = at, true
		}
	}

	if !found {
		boot, err := p.bootTime(ctx)
		if err != nil {
			return 0, fmt.Errorf("获取开机时间失败: %w", err)
		}
		latest = boot
	}

	if idle := now.Sub(latest); idle > 0 {
		return idle, nil
	}
	return 0, nil
}

// loggedInTerminals 登录用户的终端；容器等环境可能没有 utmp，按无登录用户处理
func loggedInTerminals(ctx context.Context) []string {
	users, err := host.UsersWithContext(ctx)
	if err != nil {
		return nil
	}
	terminals := make([]string, 0, len(users))
	for _, u := range users {
		if u.Terminal != "" {
			terminals = append(terminals, u.Terminal)
		}
	}
	return terminals
}

func bootTime(ctx context.Context) (time.Time, error) {
	boot, err := host.BootTimeWithContext(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(boot), 0), nil
}
