package accounting

import (
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/fgan1/fogbow-manager/plugins"
)

// FCUBenchmarker computes a static "Fogbow Compute Unit" power from the
// instance's core and memory attributes:
//
//	power = ((vcpu / 8) + (memGB / 16)) / 2
//
// Instances lacking either attribute get plugins.UndefinedPower.
type FCUBenchmarker struct {
	mu     sync.RWMutex
	powers map[string]float64
	logger *zap.Logger
}

var _ plugins.Benchmarker = (*FCUBenchmarker)(nil)

// NewFCUBenchmarker 创建静态 FCU 基准器
func NewFCUBenchmarker(logger *zap.Logger) *FCUBenchmarker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FCUBenchmarker{
		powers: make(map[string]float64),
		logger: logger.With(zap.String("component", "fcu_benchmarker")),
	}
}

// Run benchmarks inst and remembers its power. A nil instance is ignored.
func (b *FCUBenchmarker) Run(inst *plugins.Instance) {
	if inst == nil {
		return
	}
	power := plugins.UndefinedPower
	vcpu, errCPU := strconv.ParseFloat(inst.Attributes[plugins.AttrCores], 64)
	mem, errMem := strconv.ParseFloat(inst.Attributes[plugins.AttrMemory], 64)
	if errCPU == nil && errMem == nil {
		power = ((vcpu / 8) + (mem / 16)) / 2
	} else {
		b.logger.Debug("instance lacks sizing attributes",
			zap.String("instance_id", inst.ID))
	}

	b.mu.Lock()
	b.powers[inst.ID] = power
	b.mu.Unlock()
}

// Power returns the remembered power, or plugins.UndefinedPower.
func (b *FCUBenchmarker) Power(instanceID string) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if p, ok := b.powers[instanceID]; ok {
		return p
	}
	return plugins.UndefinedPower
}

// Known reports whether instanceID has been benchmarked.
func (b *FCUBenchmarker) Known(instanceID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.powers[instanceID]
	return ok
}

// Forget drops the power of instances that are no longer accounted.
func (b *FCUBenchmarker) Forget(instanceID string) {
	b.mu.Lock()
	delete(b.powers, instanceID)
	b.mu.Unlock()
}
