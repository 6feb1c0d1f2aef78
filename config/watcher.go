// 配置文件变更监听器。
//
// 以轮询方式检测文件的修改时间与大小，变化时回调。
package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 文件监听器类型定义 ---

// FileEvent 文件变更事件
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// FileOp 文件操作类型
type FileOp int

const (
	FileOpCreate FileOp = iota
	FileOpWrite
	FileOpRemove
)

// String 返回操作名
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

type fileState struct {
	modTime time.Time
	size    int64
}

// FileWatcher 轮询单个配置文件
type FileWatcher struct {
	path     string
	interval time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	callbacks []func(FileEvent)
	last      *fileState
	running   bool
	stop      chan struct{}
	done      chan struct{}
}

// --- 文件监听器选项 ---

// WatcherOption 监听器选项
type WatcherOption func(*FileWatcher)

// WithPollInterval 设置轮询间隔
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger 设置日志
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// --- 文件监听器实现 ---

// NewFileWatcher 创建监听器；文件暂不存在时等待其被创建
func NewFileWatcher(path string, opts ...WatcherOption) (*FileWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("watch path is required")
	}
	w := &FileWatcher{
		path:     path,
		interval: time.Second,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "config_watcher"), zap.String("path", path))

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat path %s: %w", path, err)
		}
		w.logger.Warn("config file does not exist, will watch for creation")
	}
	return w, nil
}

// OnChange 注册变更回调；回调在轮询 goroutine 中顺序执行
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start 开始轮询，ctx 结束或 Stop 时退出
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	w.last = w.stat()
	w.mu.Unlock()

	go w.pollLoop(ctx)
	w.logger.Info("config watcher started", zap.Duration("interval", w.interval))
	return nil
}

// Stop 停止轮询并等待 goroutine 退出
func (w *FileWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stop)
	done := w.done
	w.mu.Unlock()

	<-done
	w.logger.Info("config watcher stopped")
}

// IsRunning 是否正在轮询
func (w *FileWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *FileWatcher) pollLoop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
			return
		case <-w.stop:
			return
		case <-ticker.C:
			if evt, ok := w.check(); ok {
				w.dispatch(evt)
			}
		}
	}
}

func (w *FileWatcher) stat() *fileState {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil
	}
	return &fileState{modTime: info.ModTime(), size: info.Size()}
}

// check 比较当前状态与上次记录
func (w *FileWatcher) check() (FileEvent, bool) {
	current := w.stat()

	w.mu.Lock()
	defer w.mu.Unlock()

	prev := w.last
	w.last = current

	evt := FileEvent{Path: w.path, Timestamp: time.Now()}
	switch {
	case prev == nil && current == nil:
		return evt, false
	case prev == nil:
		evt.Op = FileOpCreate
	case current == nil:
		evt.Op = FileOpRemove
	case !current.modTime.Equal(prev.modTime) || current.size != prev.size:
		evt.Op = FileOpWrite
	default:
		return evt, false
	}
	return evt, true
}

func (w *FileWatcher) dispatch(evt FileEvent) {
	w.mu.Lock()
	callbacks := make([]func(FileEvent), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logger.Debug("config file changed", zap.String("op", evt.Op.String()))
	for _, cb := range callbacks {
		cb(evt)
	}
}
