// Package compute provides an in-memory compute backend that models a site
// with a fixed set of flavors and a cpu/memory/instance quota.
package compute

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fgan1/fogbow-manager/plugins"
	"github.com/fgan1/fogbow-manager/request"
	"github.com/fgan1/fogbow-manager/types"
)

// Flavor is an instance size offered by the site.
type Flavor struct {
	Name  string `yaml:"name" json:"name"`
	CPU   int    `yaml:"cpu" json:"cpu"`
	MemMB int    `yaml:"mem_mb" json:"mem_mb"`
}

// Config 计算后端配置
type Config struct {
	// 本站点成员 ID（ResourcesInfo.ID）
	MemberID string `yaml:"member_id" json:"member_id"`
	// 可用规格
	Flavors []Flavor `yaml:"flavors" json:"flavors"`
	// 未指定规格时使用
	DefaultFlavor string `yaml:"default_flavor" json:"default_flavor"`
	// 配额
	MaxCPU       int `yaml:"max_cpu" json:"max_cpu"`
	MaxMemMB     int `yaml:"max_mem_mb" json:"max_mem_mb"`
	MaxInstances int `yaml:"max_instances" json:"max_instances"`
}

// DefaultConfig 返回默认计算后端配置
func DefaultConfig() Config {
	return Config{
		MemberID: "manager.local",
		Flavors: []Flavor{
			{Name: "small", CPU: 1, MemMB: 1024},
			{Name: "medium", CPU: 2, MemMB: 2048},
			{Name: "large", CPU: 4, MemMB: 4096},
		},
		DefaultFlavor: "small",
		MaxCPU:        16,
		MaxMemMB:      16384,
		MaxInstances:  8,
	}
}

type instance struct {
	id       string
	owner    string
	flavor   Flavor
	hostname string
}

// OwnerResolver maps an access id onto the user holding it. plugins.Identity
// satisfies it.
type OwnerResolver interface {
	GetToken(ctx context.Context, accessID string) (*types.Token, error)
}

// MemoryCompute is a plugins.Compute backed by process memory. Instances
// belong to the user behind the access id that created them; other users
// get NOT_FOUND.
type MemoryCompute struct {
	cfg       Config
	flavors   map[string]Flavor
	owners    OwnerResolver
	mu        sync.RWMutex
	instances map[string]*instance
	logger    *zap.Logger
}

var _ plugins.Compute = (*MemoryCompute)(nil)

// Option configures a MemoryCompute.
type Option func(*MemoryCompute)

// WithOwnerResolver resolves instance owners through an identity provider.
// Without it the access id itself is the owner.
func WithOwnerResolver(r OwnerResolver) Option {
	return func(c *MemoryCompute) {
		c.owners = r
	}
}

// NewMemoryCompute creates the backend. Invalid configuration is rejected.
func NewMemoryCompute(cfg Config, logger *zap.Logger, opts ...Option) (*MemoryCompute, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Flavors) == 0 {
		return nil, fmt.Errorf("at least one flavor is required")
	}
	flavors := make(map[string]Flavor, len(cfg.Flavors))
	for _, f := range cfg.Flavors {
		if f.Name == "" || f.CPU <= 0 || f.MemMB <= 0 {
			return nil, fmt.Errorf("invalid flavor %+v", f)
		}
		flavors[strings.ToLower(f.Name)] = f
	}
	if cfg.DefaultFlavor == "" {
		cfg.DefaultFlavor = cfg.Flavors[0].Name
	}
	if _, ok := flavors[strings.ToLower(cfg.DefaultFlavor)]; !ok {
		return nil, fmt.Errorf("default flavor %q is not defined", cfg.DefaultFlavor)
	}
	c := &MemoryCompute{
		cfg:       cfg,
		flavors:   flavors,
		instances: make(map[string]*instance),
		logger:    logger.With(zap.String("component", "memory_compute")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RequestInstance implements plugins.Compute.
func (c *MemoryCompute) RequestInstance(ctx context.Context, accessID string, categories []request.Category, attrs map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", types.NewProvisioningError("request cancelled", err)
	}
	owner, err := c.owner(ctx, accessID)
	if err != nil {
		return "", err
	}
	flavor, err := c.resolveFlavor(categories)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cpu, mem, count := c.usageLocked()
	if count+1 > c.cfg.MaxInstances || cpu+flavor.CPU > c.cfg.MaxCPU || mem+flavor.MemMB > c.cfg.MaxMemMB {
		return "", types.NewCapacityExhaustedError(
			fmt.Sprintf("quota exceeded for flavor %s", flavor.Name))
	}

	id := uuid.New().String()
	hostname := attrs[plugins.AttrHostname]
	if hostname == "" {
		hostname = "vm-" + id[:8]
	}
	c.instances[id] = &instance{id: id, owner: owner, flavor: flavor, hostname: hostname}
	c.logger.Info("instance created",
		zap.String("instance_id", id),
		zap.String("flavor", flavor.Name),
	)
	return id, nil
}

// GetInstance implements plugins.Compute.
func (c *MemoryCompute) GetInstance(ctx context.Context, accessID string, instanceID string) (*plugins.Instance, error) {
	owner, err := c.owner(ctx, accessID)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	inst, ok := c.instances[instanceID]
	if !ok || inst.owner != owner {
		return nil, types.NewNotFoundError("instance", instanceID)
	}
	return toInstance(inst), nil
}

// RemoveInstance implements plugins.Compute.
func (c *MemoryCompute) RemoveInstance(ctx context.Context, accessID string, instanceID string) error {
	owner, err := c.owner(ctx, accessID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	inst, ok := c.instances[instanceID]
	if !ok || inst.owner != owner {
		return types.NewNotFoundError("instance", instanceID)
	}
	delete(c.instances, instanceID)
	c.logger.Info("instance removed", zap.String("instance_id", instanceID))
	return nil
}

// ResourcesInfo implements plugins.Compute.
func (c *MemoryCompute) ResourcesInfo(context.Context, string) (*plugins.ResourcesInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cpu, mem, count := c.usageLocked()
	return &plugins.ResourcesInfo{
		ID:             c.cfg.MemberID,
		CPUIdle:        c.cfg.MaxCPU - cpu,
		CPUInUse:       cpu,
		MemIdle:        c.cfg.MaxMemMB - mem,
		MemInUse:       mem,
		InstancesIdle:  c.cfg.MaxInstances - count,
		InstancesInUse: count,
	}, nil
}

// owner returns the user an access id stands for.
func (c *MemoryCompute) owner(ctx context.Context, accessID string) (string, error) {
	if accessID == "" {
		return "", types.NewAuthError()
	}
	if c.owners == nil {
		return accessID, nil
	}
	tok, err := c.owners.GetToken(ctx, accessID)
	if err != nil {
		return "", err
	}
	return tok.User, nil
}

func (c *MemoryCompute) resolveFlavor(categories []request.Category) (Flavor, error) {
	for _, cat := range categories {
		if f, ok := c.flavors[strings.ToLower(cat.Term)]; ok {
			return f, nil
		}
	}
	return c.flavors[strings.ToLower(c.cfg.DefaultFlavor)], nil
}

func (c *MemoryCompute) usageLocked() (cpu, mem, count int) {
	for _, inst := range c.instances {
		cpu += inst.flavor.CPU
		mem += inst.flavor.MemMB
	}
	return cpu, mem, len(c.instances)
}

func toInstance(inst *instance) *plugins.Instance {
	return &plugins.Instance{
		ID:    inst.id,
		State: plugins.InstanceStateRunning,
		Attributes: map[string]string{
			plugins.AttrCores:    strconv.Itoa(inst.flavor.CPU),
			plugins.AttrMemory:   strconv.FormatFloat(float64(inst.flavor.MemMB)/1024, 'f', -1, 64),
			plugins.AttrHostname: inst.hostname,
			"flavor":             inst.flavor.Name,
		},
	}
}
