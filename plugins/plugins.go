// Package plugins defines the capability interfaces the manager consumes:
// compute backends, identity providers, tunnel allocators and benchmarkers.
// Concrete backends live in sub-packages and are injected into the manager.
package plugins

import (
	"context"

	"github.com/fgan1/fogbow-manager/request"
	"github.com/fgan1/fogbow-manager/types"
)

// Instance attribute keys shared by backends and the front end.
const (
	AttrCores            = "occi.compute.core"
	AttrMemory           = "occi.compute.memory" // GB
	AttrHostname         = "occi.compute.hostname"
	AttrSSHPublicAddress = "org.fogbowcloud.request.ssh-public-address"
)

// Credential keys understood by identity providers.
const (
	CredentialUsername = "username"
	CredentialPassword = "password"
	CredentialTenant   = "tenant"
)

// InstanceState is the coarse state reported by a backend.
type InstanceState string

const (
	InstanceStatePending InstanceState = "pending"
	InstanceStateRunning InstanceState = "running"
	InstanceStateFailed  InstanceState = "failed"
	InstanceStateUnknown InstanceState = "unknown"
)

// Instance is a point-in-time snapshot of a provisioned instance.
type Instance struct {
	ID         string            `json:"id"`
	State      InstanceState     `json:"state"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Clone returns a deep copy of the instance.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	cp := *i
	if i.Attributes != nil {
		cp.Attributes = make(map[string]string, len(i.Attributes))
		for k, v := range i.Attributes {
			cp.Attributes[k] = v
		}
	}
	return &cp
}

// ResourcesInfo is a quota/usage snapshot of a site.
type ResourcesInfo struct {
	ID             string `json:"id"`
	CPUIdle        int    `json:"cpu_idle"`
	CPUInUse       int    `json:"cpu_in_use"`
	MemIdle        int    `json:"mem_idle"` // MB
	MemInUse       int    `json:"mem_in_use"`
	InstancesIdle  int    `json:"instances_idle"`
	InstancesInUse int    `json:"instances_in_use"`
}

// Compute is the local provisioning backend.
type Compute interface {
	// RequestInstance provisions an instance. It fails with a
	// CAPACITY_EXHAUSTED error when the site is out of quota and with
	// PROVISIONING_FAILED for anything permanent.
	RequestInstance(ctx context.Context, accessID string, categories []request.Category, attrs map[string]string) (string, error)

	// GetInstance fails with NOT_FOUND when the instance is gone.
	GetInstance(ctx context.Context, accessID, instanceID string) (*Instance, error)

	RemoveInstance(ctx context.Context, accessID, instanceID string) error

	ResourcesInfo(ctx context.Context, accessID string) (*ResourcesInfo, error)
}

// Identity resolves and issues credentials.
type Identity interface {
	CreateToken(ctx context.Context, credentials map[string]string) (*types.Token, error)
	IsValid(ctx context.Context, accessID string) bool
	// GetToken resolves owner and expiration of an opaque access id. It
	// fails with AUTHENTICATION when the access id is unknown or invalid.
	GetToken(ctx context.Context, accessID string) (*types.Token, error)
	// Reissue returns a fresh token for the same user.
	Reissue(ctx context.Context, token *types.Token) (*types.Token, error)
}

// Tunnel allocates side-band access (e.g. a public ssh endpoint) for requests.
type Tunnel interface {
	// Acquire returns the public address assigned to the request.
	Acquire(ctx context.Context, req *request.Request) (string, error)
	Release(ctx context.Context, req *request.Request) error
}

// Benchmarker estimates the computing power of instances.
type Benchmarker interface {
	Run(inst *Instance)
	Power(instanceID string) float64
}

// UndefinedPower is returned when an instance could not be benchmarked.
const UndefinedPower = -1.0
