package manager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// TickFunc is one iteration of a periodic loop. It returns false when there
// is no work left and the loop should deactivate.
type TickFunc func(ctx context.Context) bool

// TickObserver is told about every finished tick.
type TickObserver func(loop string, d time.Duration, keep bool)

// PeriodicLoop is a cancellable periodic task that deactivates itself when
// its tick reports no work, and is reactivated on demand.
//
// An activation that races with a tick reporting "no work" is never lost:
// the loop keeps running instead of deactivating.
type PeriodicLoop struct {
	name    string
	period  time.Duration
	tick    TickFunc
	observe TickObserver
	logger  *zap.Logger

	active atomic.Bool
	kicked atomic.Bool

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	stopped bool
	wg      sync.WaitGroup
}

// NewPeriodicLoop 创建周期循环；Start 之前的激活只记录状态，不启动 goroutine
func NewPeriodicLoop(name string, period time.Duration, tick TickFunc, logger *zap.Logger) *PeriodicLoop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PeriodicLoop{
		name:   name,
		period: period,
		tick:   tick,
		logger: logger.With(zap.String("loop", name)),
	}
}

// SetObserver installs a tick observer. Call before Start.
func (l *PeriodicLoop) SetObserver(o TickObserver) {
	l.observe = o
}

// Name returns the loop name.
func (l *PeriodicLoop) Name() string { return l.name }

// Active reports whether the loop is activated.
func (l *PeriodicLoop) Active() bool {
	return l.active.Load()
}

// Start binds the loop to ctx. If the loop was activated before, it begins
// ticking right away.
func (l *PeriodicLoop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.ctx != nil || l.stopped {
		l.mu.Unlock()
		return
	}
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.mu.Unlock()

	if l.active.Load() {
		l.spawn()
	}
}

// Activate makes sure the loop is running. It is idempotent and safe for
// concurrent use; the first tick after activation runs immediately.
func (l *PeriodicLoop) Activate() {
	l.kicked.Store(true)
	l.active.Store(true)
	l.spawn()
}

// Stop cancels the loop and waits for the running tick to return.
func (l *PeriodicLoop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	if l.cancel != nil {
		l.cancel()
	}
	l.mu.Unlock()
	l.wg.Wait()
	l.active.Store(false)
}

// RunOnce executes a single tick and applies the deactivation rule. The
// background goroutine uses it too; tests may call it directly on a loop
// that was never started.
func (l *PeriodicLoop) RunOnce(ctx context.Context) bool {
	l.kicked.Store(false)
	start := time.Now()
	keep := l.safeTick(ctx)
	if l.observe != nil {
		l.observe(l.name, time.Since(start), keep)
	}
	if keep {
		l.active.Store(true)
		return true
	}
	if l.kicked.Load() {
		return true
	}
	l.active.Store(false)
	if l.kicked.Load() {
		// 与 Activate 竞争：保持激活
		l.active.Store(true)
		return true
	}
	l.logger.Debug("loop deactivated")
	return false
}

func (l *PeriodicLoop) spawn() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx == nil || l.stopped || l.running {
		return
	}
	l.running = true
	l.wg.Add(1)
	go l.run(l.ctx)
	l.logger.Debug("loop activated")
}

func (l *PeriodicLoop) run(ctx context.Context) {
	defer l.wg.Done()

	timer := time.NewTimer(l.period)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			l.exit()
			return
		}
		if !l.RunOnce(ctx) {
			l.mu.Lock()
			if l.active.Load() && !l.stopped {
				// 在 tick 结束后被重新激活
				l.mu.Unlock()
				continue
			}
			l.running = false
			l.mu.Unlock()
			return
		}

		timer.Reset(l.period)
		select {
		case <-ctx.Done():
			l.exit()
			return
		case <-timer.C:
		}
	}
}

func (l *PeriodicLoop) exit() {
	l.mu.Lock()
	l.running = false
	l.mu.Unlock()
}

func (l *PeriodicLoop) safeTick(ctx context.Context) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop tick panicked", zap.Any("panic", r), zap.Stack("stack"))
			keep = true
		}
	}()
	if l.tick == nil {
		return false
	}
	return l.tick(ctx)
}

// String implements fmt.Stringer.
func (l *PeriodicLoop) String() string {
	return fmt.Sprintf("%s(period=%s, active=%t)", l.name, l.period, l.Active())
}
