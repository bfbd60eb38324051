package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 500 * time.Millisecond

// Watcher 监听配置文件变化并重新加载
// 监听的是所在目录，编辑器"写临时文件再改名"的保存方式也能感知
type Watcher struct {
	path     string
	logger   *zap.Logger
	onChange func(*AppConfig)
	watcher  *fsnotify.Watcher
}

// NewWatcher 创建配置监听器
func NewWatcher(path string, logger *zap.Logger, onChange func(*AppConfig)) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("未指定配置文件，无法监听")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析配置路径失败: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监听失败: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("监听配置目录失败: %w", err)
	}

	return &Watcher{
		path:     abs,
		logger:   logger,
		onChange: onChange,
		watcher:  w,
	}, nil
}

// Run 处理文件事件直到 ctx 取消
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// 合并短时间内的多次写入
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(reloadDebounce)
			pending = timer.C
		case <-pending:
			pending = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("配置文件监听出错", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("重新加载配置失败，保留当前配置", zap.Error(err))
		return
	}
	w.logger.Info("配置已重新加载", zap.String("path", w.path))
	w.onChange(cfg)
}
