package cleaner

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dushixiang/warden/internal/errs"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Result 一次清理的统计
type Result struct {
	Removed int `json:"removed"` // 删除（dry run 时为可删除）的文件和目录数
	Skipped int `json:"skipped"` // 不满足条件或删除失败而保留的条目数
	Errors  int `json:"errors"`  // 其中因错误保留的条目数
}

// Count 删除的条目数
func (r Result) Count() int {
	return r.Removed
}

// Add 累加统计
func (r Result) Add(other Result) Result {
	return Result{
		Removed: r.Removed + other.Removed,
		Skipped: r.Skipped + other.Skipped,
		Errors:  r.Errors + other.Errors,
	}
}

// Options 清理器配置
type Options struct {
	Fs     afero.Fs  // 默认 afero.NewOsFs()
	Probe  LockProbe // 默认当前平台的独占打开探测
	DryRun bool      // 只统计不删除
}

// Cleaner 按排除规则递归清理目录下的文件和空目录
type Cleaner struct {
	logger *zap.Logger
	policy Policy
	fs     afero.Fs
	probe  LockProbe
	dryRun bool
}

// New 创建清理器
func New(logger *zap.Logger, policy Policy, opts Options) *Cleaner {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Probe == nil {
		if _, ok := opts.Fs.(*afero.OsFs); ok {
			opts.Probe = NewLockProbe()
		} else {
			// 非本地文件系统没有其他进程会占用
			opts.Probe = LockProbeFunc(func(string) (bool, error) { return false, nil })
		}
	}
	return &Cleaner{
		logger: logger,
		policy: policy,
		fs:     opts.Fs,
		probe:  opts.Probe,
		dryRun: opts.DryRun,
	}
}

// Policy 当前排除规则
func (c *Cleaner) Policy() Policy {
	return c.policy
}

// dirState 目录处理状态；kept 为保留下来的子项数，为 0 时目录可删除
type dirState struct {
	kept       int
	listFailed bool
}

type item struct {
	path     string
	info     os.FileInfo
	parent   *dirState
	dir      *dirState // 非 nil 表示目录
	expanded bool
}

// Clean 清理 root 下满足条件的文件和空目录，root 本身不会被删除
// root 不存在或命中排除规则时直接返回零值；单个条目失败只记录并计数
// ctx 取消后不再处理新的条目，返回已完成部分的统计
func (c *Cleaner) Clean(ctx context.Context, root string) (Result, error) {
	var result Result

	root = filepath.Clean(root)
	info, err := c.fs.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("清理目录不存在", zap.String("path", root))
		} else {
			c.logger.Warn("无法访问清理目录", zap.String("path", root), zap.Error(err))
		}
		return result, nil
	}
	if c.policy.Excluded(root) {
		c.logger.Warn("清理目录命中排除规则", zap.String("path", root))
		return result, nil
	}
	if !info.IsDir() {
		c.logger.Warn("清理目标不是目录", zap.String("path", root))
		return result, nil
	}

	stack := []*item{{path: root, info: info, dir: &dirState{}}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			c.logger.Info("清理已中断", zap.String("root", root), zap.Int("removed", result.Removed))
			return result, err
		}

		top := stack[len(stack)-1]

		// 目录第一次出栈前先展开子项，子项处理完后再回到目录本身
		if top.dir != nil && !top.expanded {
			top.expanded = true
			stack = append(stack, c.expand(top, &result)...)
			continue
		}
		stack = stack[:len(stack)-1]

		if top.path == root {
			continue
		}

		var removed bool
		if top.dir != nil {
			removed = c.removeDir(top, &result)
		} else {
			removed = c.removeFile(top, &result)
		}
		if !removed {
			top.parent.kept++
		}
	}

	c.logger.Info("清理完成",
		zap.String("root", root),
		zap.Bool("dryRun", c.dryRun),
		zap.Int("removed", result.Removed),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", result.Errors))
	return result, nil
}

// expand 列出目录子项，发现阶段即过滤不满足条件的条目
func (c *Cleaner) expand(dir *item, result *Result) []*item {
	entries, err := afero.ReadDir(c.fs, dir.path)
	if err != nil {
		dir.dir.listFailed = true
		c.skip(result, &errs.FilesystemSkip{Path: dir.path, Err: err})
		return nil
	}

	children := make([]*item, 0, len(entries))
	for _, entry := range entries {
		path := filepath.Join(dir.path, entry.Name())
		child := &item{path: path, info: entry, parent: dir.dir}

		if c.policy.Excluded(path) {
			result.Skipped++
			dir.dir.kept++
			continue
		}

		mode := entry.Mode()
		switch {
		case mode.IsDir():
			child.dir = &dirState{}
		case mode.IsRegular():
			if ok, err := c.eligible(path); !ok {
				if err != nil && errors.Is(err, fs.ErrNotExist) {
					continue
				}
				if err != nil {
					c.skip(result, &errs.FilesystemSkip{Path: path, Err: err})
				} else {
					result.Skipped++
				}
				dir.dir.kept++
				continue
			}
		case mode&fs.ModeSymlink != 0:
			// 链接只删除链接本身
		default:
			// 套接字、管道、设备文件一律保留
			result.Skipped++
			dir.dir.kept++
			continue
		}
		children = append(children, child)
	}
	return children
}

// eligible 对普通文件做占用检查
func (c *Cleaner) eligible(path string) (bool, error) {
	if c.policy.Excluded(path) {
		return false, nil
	}
	locked, err := c.probe.Locked(path)
	if err != nil {
		return false, err
	}
	return !locked, nil
}

func (c *Cleaner) removeFile(it *item, result *Result) bool {
	// 删除前重新检查，发现之后文件可能已被打开
	if it.info.Mode().IsRegular() {
		ok, err := c.eligible(it.path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				result.Skipped++
				return true
			}
			c.skip(result, &errs.FilesystemSkip{Path: it.path, Err: err})
			return false
		}
		if !ok {
			c.logger.Debug("文件正在使用，跳过", zap.String("path", it.path))
			result.Skipped++
			return false
		}
	}

	if c.dryRun {
		result.Removed++
		return true
	}

	if err := c.fs.Remove(it.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			result.Skipped++
			return true
		}
		c.skip(result, &errs.FilesystemSkip{Path: it.path, Err: err})
		return false
	}
	c.logger.Debug("已删除文件", zap.String("path", it.path))
	result.Removed++
	return true
}

func (c *Cleaner) removeDir(it *item, result *Result) bool {
	if it.dir.listFailed || it.dir.kept > 0 {
		return false
	}
	if c.policy.Excluded(it.path) {
		result.Skipped++
		return false
	}

	if c.dryRun {
		result.Removed++
		return true
	}

	// Remove 只会删除空目录，期间新出现的文件会让删除失败
	if err := c.fs.Remove(it.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			result.Skipped++
			return true
		}
		c.skip(result, &errs.FilesystemSkip{Path: it.path, Err: err})
		return false
	}
	c.logger.Debug("已删除空目录", zap.String("path", it.path))
	result.Removed++
	return true
}

func (c *Cleaner) skip(result *Result, err *errs.FilesystemSkip) {
	c.logger.Warn("跳过无法清理的条目", zap.String("path", err.Path), zap.Error(err.Err))
	result.Skipped++
	result.Errors++
}
