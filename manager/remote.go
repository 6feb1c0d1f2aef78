package manager

import (
	"context"

	"go.uber.org/zap"

	"github.com/fgan1/fogbow-manager/federation"
	"github.com/fgan1/fogbow-manager/plugins"
	"github.com/fgan1/fogbow-manager/request"
	"github.com/fgan1/fogbow-manager/types"
)

// =============================================================================
// Serving side of the federation
// =============================================================================

// CreateInstanceForRemoteMember provisions an instance on behalf of another
// member using the federation service token. An empty id with a nil error
// means the local site is out of capacity and the order is declined.
func (m *Manager) CreateInstanceForRemoteMember(ctx context.Context, memberID string, order federation.InstanceOrder) (string, error) {
	svc, err := m.serviceToken.ValidOrRefresh(ctx)
	if err != nil {
		return "", err
	}

	attrs := make(map[string]string, len(order.Attributes))
	for k, v := range order.Attributes {
		if !request.IsOrchestrationAttribute(k) {
			attrs[k] = v
		}
	}

	callCtx, cancel := m.callContext(ctx)
	defer cancel()
	instanceID, err := m.compute.RequestInstance(callCtx, svc.AccessID, order.Categories, attrs)
	switch {
	case err == nil:
	case types.IsCapacityExhausted(err):
		m.recordProvisioning(targetServed, outcomeDeclined)
		m.logger.Info("declined remote order, no local capacity",
			zap.String("member_id", memberID),
			zap.String("request_id", order.RequestID))
		return "", nil
	default:
		m.recordProvisioning(targetServed, outcomeFailed)
		return "", err
	}

	m.servedMu.Lock()
	m.served[instanceID] = memberID
	m.servedMu.Unlock()

	m.recordProvisioning(targetServed, outcomeFulfilled)
	m.logger.Info("served remote order",
		zap.String("member_id", memberID),
		zap.String("request_id", order.RequestID),
		zap.String("user", order.User),
		zap.String("instance_id", instanceID))
	return instanceID, nil
}

// GetInstanceForRemoteMember returns an instance provisioned for a member,
// or nil when the instance no longer exists or was created for someone else.
func (m *Manager) GetInstanceForRemoteMember(ctx context.Context, memberID, instanceID string) (*plugins.Instance, error) {
	if !m.servedFor(memberID, instanceID) {
		m.logger.Debug("remote member asked for unknown instance",
			zap.String("member_id", memberID),
			zap.String("instance_id", instanceID))
		return nil, nil
	}
	svc, err := m.serviceToken.ValidOrRefresh(ctx)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := m.callContext(ctx)
	defer cancel()
	inst, err := m.compute.GetInstance(callCtx, svc.AccessID, instanceID)
	if types.IsNotFound(err) {
		m.forgetServed(instanceID)
		return nil, nil
	}
	return inst, err
}

// RemoveInstanceForRemoteMember removes an instance provisioned for a
// member. Removing an unknown instance, or one served to another member,
// succeeds without touching anything.
func (m *Manager) RemoveInstanceForRemoteMember(ctx context.Context, memberID, instanceID string) error {
	if !m.servedFor(memberID, instanceID) {
		m.logger.Debug("remote member released unknown instance",
			zap.String("member_id", memberID),
			zap.String("instance_id", instanceID))
		return nil
	}
	svc, err := m.serviceToken.ValidOrRefresh(ctx)
	if err != nil {
		return err
	}
	callCtx, cancel := m.callContext(ctx)
	defer cancel()
	if err := m.compute.RemoveInstance(callCtx, svc.AccessID, instanceID); err != nil && !types.IsNotFound(err) {
		return err
	}
	m.forgetServed(instanceID)
	m.logger.Info("removed instance for remote member",
		zap.String("member_id", memberID),
		zap.String("instance_id", instanceID))
	return nil
}

func (m *Manager) servedFor(memberID, instanceID string) bool {
	m.servedMu.Lock()
	defer m.servedMu.Unlock()
	owner, ok := m.served[instanceID]
	return ok && owner == memberID
}

func (m *Manager) forgetServed(instanceID string) {
	m.servedMu.Lock()
	delete(m.served, instanceID)
	m.servedMu.Unlock()
}

// =============================================================================
// Membership
// =============================================================================

// RegisterMember records a heartbeat received from another member. A member
// may only announce itself.
func (m *Manager) RegisterMember(callerID string, member federation.Member) error {
	if m.registry == nil {
		return types.NewError(types.ErrInvalidRequest, "membership is disabled on this member")
	}
	if member.ID == "" {
		member.ID = callerID
	}
	if member.ID != callerID {
		return types.NewOwnershipError()
	}
	m.registry.Upsert(member)
	return nil
}

// Members returns the live members known to this manager, self included.
func (m *Manager) Members(ctx context.Context) []federation.Member {
	self := federation.Member{ID: m.cfg.MemberID, Address: m.selfAddr, LastSeen: m.now()}
	if info, err := m.localResources(ctx); err == nil {
		self.Resources = info
	}
	out := []federation.Member{self}
	if m.registry != nil {
		out = append(out, m.registry.Members()...)
	}
	return out
}

// heartbeatTick announces this member to the rendezvous and refreshes the
// registry from its answer. It stays active as long as membership is on.
func (m *Manager) heartbeatTick(ctx context.Context) bool {
	if m.rendezvous == nil || m.registry == nil {
		return false
	}
	ctx, span := m.tracer.Start(ctx, "manager.heartbeat.tick")
	defer span.End()

	self := federation.Member{ID: m.cfg.MemberID, Address: m.selfAddr}
	if info, err := m.localResources(ctx); err == nil {
		self.Resources = info
	} else {
		m.logger.Warn("failed to read local resources for heartbeat", zap.Error(err))
	}

	callCtx, cancel := m.callContext(ctx)
	err := m.rendezvous.IAmAlive(callCtx, self)
	cancel()
	m.recordPeerCall("i_am_alive", err)
	if err != nil {
		m.logger.Warn("rendezvous heartbeat failed", zap.Error(err))
	}

	callCtx, cancel = m.callContext(ctx)
	members, err := m.rendezvous.WhoIsAlive(callCtx)
	cancel()
	m.recordPeerCall("who_is_alive", err)
	if err != nil {
		m.logger.Warn("rendezvous lookup failed", zap.Error(err))
		return true
	}
	m.registry.Replace(members)
	m.logger.Debug("federation members refreshed", zap.Int("members", m.registry.Len()))
	return true
}
