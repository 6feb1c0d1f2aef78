package config

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// =============================================================================
// 🔄 配置热重载
// =============================================================================

// 运行中可以直接生效的字段；其余字段变更只记录日志，重启后生效
var hotReloadableFields = map[string]bool{
	"log.level": true,
}

// ReloadCallback 新配置通过校验后回调
type ReloadCallback func(oldConfig, newConfig *Config, changed []string)

// Reloader 监听配置文件，变化时重新加载并通知订阅者
type Reloader struct {
	loader  *Loader
	watcher *FileWatcher
	logger  *zap.Logger

	mu        sync.RWMutex
	current   *Config
	callbacks []ReloadCallback
}

// NewReloader 创建热重载器；loader 必须配置了文件路径
func NewReloader(loader *Loader, current *Config, logger *zap.Logger, opts ...WatcherOption) (*Reloader, error) {
	if loader == nil || loader.ConfigPath() == "" {
		return nil, fmt.Errorf("reloader needs a loader with a config path")
	}
	if current == nil {
		return nil, fmt.Errorf("current config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := NewFileWatcher(loader.ConfigPath(), append([]WatcherOption{WithWatcherLogger(logger)}, opts...)...)
	if err != nil {
		return nil, err
	}

	r := &Reloader{
		loader:  loader,
		watcher: watcher,
		logger:  logger.With(zap.String("component", "config_reloader")),
		current: current,
	}
	watcher.OnChange(r.handleFileChange)
	return r, nil
}

// OnReload 注册回调
func (r *Reloader) OnReload(cb ReloadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Current 返回当前生效的配置
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Start 启动文件监听
func (r *Reloader) Start(ctx context.Context) error {
	return r.watcher.Start(ctx)
}

// Stop 停止文件监听
func (r *Reloader) Stop() {
	r.watcher.Stop()
}

func (r *Reloader) handleFileChange(evt FileEvent) {
	if evt.Op == FileOpRemove {
		r.logger.Warn("config file removed, keeping current config")
		return
	}
	if err := r.Reload(); err != nil {
		r.logger.Error("config reload failed", zap.Error(err))
	}
}

// Reload 重新加载配置；校验失败时保留旧配置
func (r *Reloader) Reload() error {
	next, err := r.loader.Load()
	if err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	prev := r.current
	changed := diffFields("", reflect.ValueOf(*prev), reflect.ValueOf(*next))
	if len(changed) == 0 {
		r.mu.Unlock()
		return nil
	}
	r.current = next
	callbacks := make([]ReloadCallback, len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	for _, field := range changed {
		if hotReloadableFields[field] {
			r.logger.Info("config field reloaded", zap.String("field", field))
		} else {
			r.logger.Warn("config field changed, restart required", zap.String("field", field))
		}
	}
	for _, cb := range callbacks {
		cb(prev, next, changed)
	}
	return nil
}

// IsHotReloadable 字段是否可运行时生效
func IsHotReloadable(field string) bool {
	return hotReloadableFields[field]
}

// diffFields 按 yaml 路径列出值不同的叶子字段
func diffFields(prefix string, oldVal, newVal reflect.Value) []string {
	if oldVal.Kind() != reflect.Struct {
		if reflect.DeepEqual(oldVal.Interface(), newVal.Interface()) {
			return nil
		}
		return []string{prefix}
	}

	var changed []string
	t := oldVal.Type()
	for i := 0; i < t.NumField(); i++ {
		name := t.Field(i).Tag.Get("yaml")
		if name == "" || name == "-" {
			name = t.Field(i).Name
		}
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		changed = append(changed, diffFields(path, oldVal.Field(i), newVal.Field(i))...)
	}
	sort.Strings(changed)
	return changed
}
