package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/fgan1/fogbow-manager/federation"
	"github.com/fgan1/fogbow-manager/plugins"
	"github.com/fgan1/fogbow-manager/request"
	"github.com/fgan1/fogbow-manager/types"
)

// SubmitFunc 自定义 Submit 行为
type SubmitFunc func(req *request.Request, member federation.Member) (string, error)

// MockPeer 是 federation.Peer 的模拟实现
type MockPeer struct {
	mu         sync.Mutex
	submitFunc SubmitFunc
	releaseErr error
	fetchErr   error
	instances  map[string]string // instance id -> member id
	submits    []string          // member ids
	released   []string
	nextID     int
}

var _ federation.Peer = (*MockPeer)(nil)

// NewMockPeer 创建默认接受所有请求的 MockPeer
func NewMockPeer() *MockPeer {
	return &MockPeer{instances: make(map[string]string)}
}

// WithSubmitFunc 设置自定义 Submit 行为
func (m *MockPeer) WithSubmitFunc(fn SubmitFunc) *MockPeer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitFunc = fn
	return m
}

// Declining 让所有成员拒绝请求
func (m *MockPeer) Declining() *MockPeer {
	return m.WithSubmitFunc(func(*request.Request, federation.Member) (string, error) {
		return "", nil
	})
}

// WithReleaseError 设置 Release 返回的错误
func (m *MockPeer) WithReleaseError(err error) *MockPeer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseErr = err
	return m
}

// WithFetchError 设置 FetchInstance 对存在实例返回的错误
func (m *MockPeer) WithFetchError(err error) *MockPeer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErr = err
	return m
}

// Forget 模拟远程实例消失
func (m *MockPeer) Forget(instanceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.instances, instanceID)
}

// Submit implements federation.Peer.
func (m *MockPeer) Submit(_ context.Context, req *request.Request, member federation.Member) (string, error) {
	m.mu.Lock()
	m.submits = append(m.submits, member.ID)
	fn := m.submitFunc
	m.mu.Unlock()

	if fn != nil {
		id, err := fn(req, member)
		if err != nil || id == "" {
			return id, err
		}
		m.mu.Lock()
		m.instances[id] = member.ID
		m.mu.Unlock()
		return id, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("%s-instance-%d", member.ID, m.nextID)
	m.instances[id] = member.ID
	return id, nil
}

// FetchInstance implements federation.Peer.
func (m *MockPeer) FetchInstance(_ context.Context, req *request.Request) (*plugins.Instance, error) {
	instanceID, memberID := req.InstanceHandle()
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, ok := m.instances[instanceID]
	if !ok || owner != memberID {
		return nil, types.NewNotFoundError("instance", instanceID)
	}
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	return &plugins.Instance{
		ID:    instanceID,
		State: plugins.InstanceStateRunning,
		Attributes: map[string]string{
			plugins.AttrCores:  "4",
			plugins.AttrMemory: "8",
		},
	}, nil
}

// Release implements federation.Peer.
func (m *MockPeer) Release(_ context.Context, req *request.Request) error {
	instanceID, _ := req.InstanceHandle()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.releaseErr != nil {
		return m.releaseErr
	}
	delete(m.instances, instanceID)
	m.released = append(m.released, instanceID)
	return nil
}

// Submits 返回 Submit 选中的成员
func (m *MockPeer) Submits() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.submits...)
}

// Released 返回被释放的远程实例
func (m *MockPeer) Released() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.released...)
}

// Has 报告远程实例是否存在
func (m *MockPeer) Has(instanceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.instances[instanceID]
	return ok
}
