package cleaner

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// OpenFileProbe 在底层探测之外，再检查文件是否出现在任一进程的打开文件表中
// 进程打开文件表的扫描开销较大，结果按 TTL 缓存
type OpenFileProbe struct {
	next  LockProbe
	cache *openFileCache
}

// NewOpenFileProbe 创建探测器，next 为 nil 时只查打开文件表
func NewOpenFileProbe(logger *zap.Logger, next LockProbe, ttl time.Duration) *OpenFileProbe {
	return &OpenFileProbe{
		next:  next,
		cache: newOpenFileCache(logger, ttl, scanOpenFiles),
	}
}

func (p *OpenFileProbe) Locked(path string) (bool, error) {
	if p.next != nil {
		locked, err := p.next.Locked(path)
		if locked || err != nil {
			return locked, err
		}
	}

	files, err := p.cache.Get()
	if err != nil {
		// 扫描失败时无法确认文件未被占用
		return true, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return true, err
	}
	_, open := files[filepath.Clean(abs)]
	return open, nil
}

// Refresh 丢弃缓存，下次探测时重新扫描
func (p *OpenFileProbe) Refresh() {
	p.cache.Clear()
}

type scanFunc func(ctx context.Context) (map[string]struct{}, error)

// openFileCache 打开文件表缓存（双重检查的读写锁）
type openFileCache struct {
	logger    *zap.Logger
	scan      scanFunc
	files     map[string]struct{}
	timestamp time.Time
	mu        sync.RWMutex
	ttl       time.Duration
}

func newOpenFileCache(logger *zap.Logger, ttl time.Duration, scan scanFunc) *openFileCache {
	return &openFileCache{
		logger: logger,
		scan:   scan,
		ttl:    ttl,
	}
}

// Get 获取打开文件集合（带缓存）
func (c *openFileCache) Get() (map[string]struct{}, error) {
	c.mu.RLock()
	if time.Since(c.timestamp) < c.ttl && c.files != nil {
		files := c.files
		c.mu.RUnlock()
		return files, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.timestamp) < c.ttl && c.files != nil {
		return c.files, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	files, err := c.scan(ctx)
	if err != nil {
		return nil, err
	}

	c.files = files
	c.timestamp = time.Now()
	c.logger.Debug("打开文件表已更新", zap.Int("files", len(files)))
	return files, nil
}

// Clear 清除缓存
func (c *openFileCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files = nil
	c.timestamp = time.Time{}
}

// scanOpenFiles 遍历所有进程的打开文件，无权限访问的进程直接忽略
func scanOpenFiles(ctx context.Context) (map[string]struct{}, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	files := make(map[string]struct{})
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		opened, err := p.OpenFilesWithContext(ctx)
		if err != nil {
			continue
		}
		for _, f := range opened {
			if f.Path == "" {
				continue
			}
			files[filepath.Clean(f.Path)] = struct{}{}
		}
	}
	return files, nil
}
