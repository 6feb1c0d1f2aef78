package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/fgan1/fogbow-manager/plugins"
	"github.com/fgan1/fogbow-manager/request"
)

// MockTunnel 是 plugins.Tunnel 的模拟实现
type MockTunnel struct {
	mu         sync.Mutex
	acquireErr error
	next       int
	acquired   map[string]string
	released   []string
}

var _ plugins.Tunnel = (*MockTunnel)(nil)

// NewMockTunnel 创建 MockTunnel
func NewMockTunnel() *MockTunnel {
	return &MockTunnel{acquired: make(map[string]string)}
}

// WithAcquireError 让 Acquire 失败
func (m *MockTunnel) WithAcquireError(err error) *MockTunnel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquireErr = err
	return m
}

// Acquire implements plugins.Tunnel.
func (m *MockTunnel) Acquire(_ context.Context, req *request.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acquireErr != nil {
		return "", m.acquireErr
	}
	m.next++
	addr := fmt.Sprintf("tunnel.example:%d", 50000+m.next)
	m.acquired[req.ID] = addr
	return addr, nil
}

// Release implements plugins.Tunnel.
func (m *MockTunnel) Release(_ context.Context, req *request.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.acquired, req.ID)
	m.released = append(m.released, req.ID)
	return nil
}

// Released 返回被释放的请求 id
func (m *MockTunnel) Released() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.released...)
}
