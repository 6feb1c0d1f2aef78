// Package mocks 提供 plugins 与 federation 接口的测试模拟实现。
//
// 所有 Mock 都是并发安全的，支持错误注入与调用记录。
package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/fgan1/fogbow-manager/plugins"
	"github.com/fgan1/fogbow-manager/request"
	"github.com/fgan1/fogbow-manager/types"
)

// RequestInstanceFunc 自定义 RequestInstance 行为
type RequestInstanceFunc func(ctx context.Context, accessID string, categories []request.Category, attrs map[string]string) (string, error)

// MockCompute 是 plugins.Compute 的模拟实现
type MockCompute struct {
	mu sync.Mutex

	requestFunc RequestInstanceFunc
	getErr      map[string]error
	removeErr   error
	resources   *plugins.ResourcesInfo

	instances map[string]*plugins.Instance
	nextID    int

	// 调用记录
	requestCalls []map[string]string
	accessIDs    []string
	removed      []string
}

var _ plugins.Compute = (*MockCompute)(nil)

// NewMockCompute 创建默认总是成功的 MockCompute
func NewMockCompute() *MockCompute {
	return &MockCompute{
		getErr:    make(map[string]error),
		instances: make(map[string]*plugins.Instance),
		resources: &plugins.ResourcesInfo{CPUIdle: 8, MemIdle: 8192, InstancesIdle: 4},
	}
}

// WithCapacityExhausted 让所有 RequestInstance 返回容量耗尽
func (m *MockCompute) WithCapacityExhausted() *MockCompute {
	return m.WithRequestFunc(func(context.Context, string, []request.Category, map[string]string) (string, error) {
		return "", types.NewCapacityExhaustedError("no capacity")
	})
}

// WithProvisioningError 让所有 RequestInstance 返回永久错误
func (m *MockCompute) WithProvisioningError() *MockCompute {
	return m.WithRequestFunc(func(context.Context, string, []request.Category, map[string]string) (string, error) {
		return "", types.NewProvisioningError("image not found", nil)
	})
}

// WithRequestFunc 设置自定义 RequestInstance 行为；返回的 id 会被登记为实例
func (m *MockCompute) WithRequestFunc(fn RequestInstanceFunc) *MockCompute {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestFunc = fn
	return m
}

// WithRemoveError 设置 RemoveInstance 返回的错误
func (m *MockCompute) WithRemoveError(err error) *MockCompute {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeErr = err
	return m
}

// FailGet 让指定实例的 GetInstance 返回 err
func (m *MockCompute) FailGet(instanceID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getErr[instanceID] = err
}

// Forget 模拟实例在后端消失
func (m *MockCompute) Forget(instanceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.instances, instanceID)
}

// RequestInstance implements plugins.Compute.
func (m *MockCompute) RequestInstance(ctx context.Context, accessID string, categories []request.Category, attrs map[string]string) (string, error) {
	m.mu.Lock()
	fn := m.requestFunc
	m.requestCalls = append(m.requestCalls, copyMap(attrs))
	m.accessIDs = append(m.accessIDs, accessID)
	m.mu.Unlock()

	var (
		id  string
		err error
	)
	if fn != nil {
		id, err = fn(ctx, accessID, categories, attrs)
		if err != nil {
			return "", err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if id == "" {
		m.nextID++
		id = fmt.Sprintf("local-%d", m.nextID)
	}
	m.instances[id] = &plugins.Instance{
		ID:    id,
		State: plugins.InstanceStateRunning,
		Attributes: map[string]string{
			plugins.AttrCores:  "2",
			plugins.AttrMemory: "2",
		},
	}
	return id, nil
}

// GetInstance implements plugins.Compute.
func (m *MockCompute) GetInstance(_ context.Context, _ string, instanceID string) (*plugins.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.getErr[instanceID]; ok {
		return nil, err
	}
	inst, ok := m.instances[instanceID]
	if !ok {
		return nil, types.NewNotFoundError("instance", instanceID)
	}
	return inst.Clone(), nil
}

// RemoveInstance implements plugins.Compute.
func (m *MockCompute) RemoveInstance(_ context.Context, _ string, instanceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removeErr != nil {
		return m.removeErr
	}
	if _, ok := m.instances[instanceID]; !ok {
		return types.NewNotFoundError("instance", instanceID)
	}
	delete(m.instances, instanceID)
	m.removed = append(m.removed, instanceID)
	return nil
}

// ResourcesInfo implements plugins.Compute.
func (m *MockCompute) ResourcesInfo(context.Context, string) (*plugins.ResourcesInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := *m.resources
	info.InstancesInUse = len(m.instances)
	return &info, nil
}

// RequestCalls 返回 RequestInstance 调用次数
func (m *MockCompute) RequestCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requestCalls)
}

// RequestAttributes 返回第 i 次 RequestInstance 收到的属性
func (m *MockCompute) RequestAttributes(i int) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyMap(m.requestCalls[i])
}

// AccessIDs 返回 RequestInstance 收到的凭证
func (m *MockCompute) AccessIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.accessIDs...)
}

// Removed 返回被删除的实例
func (m *MockCompute) Removed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.removed...)
}

// InstanceCount 返回当前实例数
func (m *MockCompute) InstanceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.instances)
}

// Has 报告实例是否存在
func (m *MockCompute) Has(instanceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.instances[instanceID]
	return ok
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
