// Package tunnel implements a port-range tunnel allocator. Each request is
// mapped to a public host:port pair taken from a fixed range; the pair is
// released when the request's instance is removed.
package tunnel

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/fgan1/fogbow-manager/plugins"
	"github.com/fgan1/fogbow-manager/request"
	"github.com/fgan1/fogbow-manager/types"
)

// Config 隧道端口范围配置
type Config struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Host      string `yaml:"host" json:"host"`
	PortStart int    `yaml:"port_start" json:"port_start"`
	PortEnd   int    `yaml:"port_end" json:"port_end"`
}

// DefaultConfig 返回默认隧道配置
func DefaultConfig() Config {
	return Config{
		Enabled:   false,
		Host:      "127.0.0.1",
		PortStart: 50000,
		PortEnd:   50099,
	}
}

// Validate checks the port range.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("tunnel host is required")
	}
	if c.PortStart <= 0 || c.PortEnd > 65535 || c.PortStart > c.PortEnd {
		return fmt.Errorf("invalid tunnel port range %d-%d", c.PortStart, c.PortEnd)
	}
	return nil
}

// PortAllocator hands out ports from [PortStart, PortEnd].
type PortAllocator struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	byReq  map[string]int
	inUse  map[int]string
	cursor int
}

var _ plugins.Tunnel = (*PortAllocator)(nil)

// NewPortAllocator 创建端口分配器
func NewPortAllocator(cfg Config, logger *zap.Logger) (*PortAllocator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PortAllocator{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "tunnel")),
		byReq:  make(map[string]int),
		inUse:  make(map[int]string),
		cursor: cfg.PortStart,
	}, nil
}

// Acquire returns the address assigned to req, allocating one if needed.
// Acquire is idempotent per request id.
func (a *PortAllocator) Acquire(_ context.Context, req *request.Request) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if port, ok := a.byReq[req.ID]; ok {
		return a.address(port), nil
	}

	size := a.cfg.PortEnd - a.cfg.PortStart + 1
	for i := 0; i < size; i++ {
		port := a.cursor
		a.cursor++
		if a.cursor > a.cfg.PortEnd {
			a.cursor = a.cfg.PortStart
		}
		if _, taken := a.inUse[port]; taken {
			continue
		}
		a.inUse[port] = req.ID
		a.byReq[req.ID] = port
		a.logger.Debug("tunnel port acquired",
			zap.String("request_id", req.ID),
			zap.Int("port", port))
		return a.address(port), nil
	}
	return "", types.NewError(types.ErrCapacityExhausted, "no tunnel port available")
}

// Release frees the port held by req. Releasing an unknown request is a no-op.
func (a *PortAllocator) Release(_ context.Context, req *request.Request) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	port, ok := a.byReq[req.ID]
	if !ok {
		return nil
	}
	delete(a.byReq, req.ID)
	delete(a.inUse, port)
	a.logger.Debug("tunnel port released",
		zap.String("request_id", req.ID),
		zap.Int("port", port))
	return nil
}

// Restore marks the ports of already-tunnelled requests as taken, so that a
// restarted manager does not hand them out twice.
func (a *PortAllocator) Restore(reqs []*request.Request) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	restored := 0
	for _, req := range reqs {
		if req.TunnelAddress == "" {
			continue
		}
		host, portStr, err := net.SplitHostPort(req.TunnelAddress)
		if err != nil || host != a.cfg.Host {
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port < a.cfg.PortStart || port > a.cfg.PortEnd {
			continue
		}
		a.inUse[port] = req.ID
		a.byReq[req.ID] = port
		restored++
	}
	return restored
}

// InUse returns the number of allocated ports.
func (a *PortAllocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inUse)
}

func (a *PortAllocator) address(port int) string {
	return net.JoinHostPort(a.cfg.Host, strconv.Itoa(port))
}
