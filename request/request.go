package request

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fgan1/fogbow-manager/types"
)

// State is the lifecycle state of a request.
type State string

const (
	StateOpen      State = "open"
	StateFulfilled State = "fulfilled"
	StateClosed    State = "closed"
	StateFailed    State = "failed"
	// StateDeleted marks a request whose remotely served instance was removed
	// by the user but whose teardown has not been confirmed yet.
	StateDeleted State = "deleted"
)

// AllStates lists every state in a stable order.
var AllStates = []State{StateOpen, StateFulfilled, StateClosed, StateFailed, StateDeleted}

// Terminal reports whether the scheduler never revisits the state.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	for _, st := range AllStates {
		if st == s {
			return true
		}
	}
	return false
}

// Type is the lifecycle type of a request.
type Type string

const (
	TypeOneTime    Type = "one-time"
	TypePersistent Type = "persistent"
)

// ParseType parses a request type. Empty input yields TypeOneTime.
func ParseType(s string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case "", TypeOneTime:
		return TypeOneTime, nil
	case TypePersistent:
		return TypePersistent, nil
	default:
		return "", fmt.Errorf("unknown request type %q", s)
	}
}

// Orchestration attribute keys. They drive the manager and are never passed
// to a compute backend.
const (
	AttrInstanceCount = "org.fogbowcloud.request.instance-count"
	AttrType          = "org.fogbowcloud.request.type"
	AttrValidFrom     = "org.fogbowcloud.request.valid-from"
	AttrValidUntil    = "org.fogbowcloud.request.valid-until"
)

var orchestrationAttributes = []string{AttrInstanceCount, AttrType, AttrValidFrom, AttrValidUntil}

// IsOrchestrationAttribute reports whether key is consumed by the manager itself.
func IsOrchestrationAttribute(key string) bool {
	for _, k := range orchestrationAttributes {
		if k == key {
			return true
		}
	}
	return false
}

// Category is an opaque provisioning category (image, flavor, ...).
type Category struct {
	Term   string `json:"term"`
	Scheme string `json:"scheme,omitempty"`
	Class  string `json:"class,omitempty"`
}

// Request is a user's demand for one compute instance.
type Request struct {
	ID                string            `json:"id"`
	Owner             string            `json:"owner"`
	Token             *types.Token      `json:"token,omitempty"`
	Categories        []Category        `json:"categories,omitempty"`
	Attributes        map[string]string `json:"attributes,omitempty"`
	Type              Type              `json:"type"`
	ValidFrom         *time.Time        `json:"valid_from,omitempty"`
	ValidUntil        *time.Time        `json:"valid_until,omitempty"`
	State             State             `json:"state"`
	InstanceID        string            `json:"instance_id,omitempty"`
	ProvidingMemberID string            `json:"providing_member_id,omitempty"`
	TunnelAddress     string            `json:"tunnel_address,omitempty"`

	// Teardown handle kept while the request is DELETED.
	TeardownInstanceID string `json:"teardown_instance_id,omitempty"`
	TeardownMemberID   string `json:"teardown_member_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New builds an OPEN request, reading the type and validity window from the
// orchestration attributes.
func New(id string, token *types.Token, categories []Category, attrs map[string]string, now time.Time) (*Request, error) {
	if id == "" {
		return nil, fmt.Errorf("request id is required")
	}
	if token == nil || token.User == "" {
		return nil, fmt.Errorf("request token with a user is required")
	}

	typ, err := ParseType(attrs[AttrType])
	if err != nil {
		return nil, err
	}
	validFrom, err := parseTimeAttr(attrs, AttrValidFrom)
	if err != nil {
		return nil, err
	}
	validUntil, err := parseTimeAttr(attrs, AttrValidUntil)
	if err != nil {
		return nil, err
	}
	if validFrom != nil && validUntil != nil && validUntil.Before(*validFrom) {
		return nil, fmt.Errorf("%s must not precede %s", AttrValidUntil, AttrValidFrom)
	}

	r := &Request{
		ID:         id,
		Owner:      token.User,
		Token:      token.Clone(),
		Categories: append([]Category(nil), categories...),
		Attributes: copyAttrs(attrs),
		Type:       typ,
		ValidFrom:  validFrom,
		ValidUntil: validUntil,
		State:      StateOpen,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return r, nil
}

// InstanceCount reads the requested number of instances; absent means 1.
func InstanceCount(attrs map[string]string) (int, error) {
	raw, ok := attrs[AttrInstanceCount]
	if !ok || strings.TrimSpace(raw) == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", AttrInstanceCount)
	}
	return n, nil
}

// ParseTime accepts RFC 3339 timestamps or plain dates (YYYY-MM-DD, UTC).
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func parseTimeAttr(attrs map[string]string, key string) (*time.Time, error) {
	raw, ok := attrs[key]
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	t, err := ParseTime(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return &t, nil
}

// IsPersistent reports whether the request is requeued when its instance goes away.
func (r *Request) IsPersistent() bool {
	return r.Type == TypePersistent
}

// IsLocal reports whether the request is (or would be) served by this member.
func (r *Request) IsLocal() bool {
	return r.ProvidingMemberID == ""
}

// InstanceHandle returns the instance and providing member to address. For
// a DELETED request these are the retained teardown handle.
func (r *Request) InstanceHandle() (instanceID, memberID string) {
	if r.State == StateDeleted {
		return r.TeardownInstanceID, r.TeardownMemberID
	}
	return r.InstanceID, r.ProvidingMemberID
}

// NotYetValid reports whether the validity window has not opened yet.
func (r *Request) NotYetValid(now time.Time) bool {
	return r.ValidFrom != nil && now.Before(*r.ValidFrom)
}

// Expired reports whether the validity window has closed.
func (r *Request) Expired(now time.Time) bool {
	return r.ValidUntil != nil && now.After(*r.ValidUntil)
}

// IntoValidPeriod reports whether now falls inside the validity window.
func (r *Request) IntoValidPeriod(now time.Time) bool {
	return !r.NotYetValid(now) && !r.Expired(now)
}

// ProvisioningAttributes returns a copy of the attributes with orchestration
// keys stripped, ready to be handed to a compute backend or a peer.
func (r *Request) ProvisioningAttributes() map[string]string {
	out := make(map[string]string, len(r.Attributes))
	for k, v := range r.Attributes {
		if IsOrchestrationAttribute(k) {
			continue
		}
		out[k] = v
	}
	return out
}

// CheckInvariants verifies the instance id / state coupling.
func (r *Request) CheckInvariants() error {
	if !r.State.Valid() {
		return fmt.Errorf("request %s: unknown state %q", r.ID, r.State)
	}
	if (r.InstanceID != "") != (r.State == StateFulfilled) {
		return fmt.Errorf("request %s: instance id %q inconsistent with state %s", r.ID, r.InstanceID, r.State)
	}
	if r.ProvidingMemberID != "" && r.State != StateFulfilled {
		return fmt.Errorf("request %s: providing member set outside %s", r.ID, StateFulfilled)
	}
	return nil
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Token = r.Token.Clone()
	cp.Categories = append([]Category(nil), r.Categories...)
	cp.Attributes = copyAttrs(r.Attributes)
	if r.ValidFrom != nil {
		t := *r.ValidFrom
		cp.ValidFrom = &t
	}
	if r.ValidUntil != nil {
		t := *r.ValidUntil
		cp.ValidUntil = &t
	}
	return &cp
}

func copyAttrs(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
