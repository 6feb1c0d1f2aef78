package manager

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fgan1/fogbow-manager/request"
	"github.com/fgan1/fogbow-manager/types"
)

// Provisioning targets and outcomes reported to Metrics.
const (
	targetLocal  = "local"
	targetRemote = "remote"
	targetServed = "served"

	outcomeFulfilled = "fulfilled"
	outcomeExhausted = "capacity_exhausted"
	outcomeFailed    = "failed"
	outcomeDeclined  = "declined"
	outcomeDiscarded = "discarded"
)

// scheduleTick walks the OPEN requests. It keeps the scheduler active while
// at least one OPEN request could not be settled in this tick.
func (m *Manager) scheduleTick(ctx context.Context) bool {
	ctx, span := m.tracer.Start(ctx, "manager.scheduler.tick")
	defer span.End()

	open := m.repo.ByState(request.StateOpen)
	span.SetAttributes(attribute.Int("requests.open", len(open)))
	if len(open) == 0 {
		return false
	}

	settled := 0
	for _, req := range open {
		if ctx.Err() != nil {
			return true
		}
		if m.processOpen(ctx, req) {
			settled++
		}
	}
	span.SetAttributes(attribute.Int("requests.settled", settled))
	return settled < len(open)
}

// processOpen tries to settle one OPEN request and reports whether it no
// longer needs the scheduler. A panic while processing leaves the request
// OPEN.
func (m *Manager) processOpen(ctx context.Context, req *request.Request) (settled bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic while scheduling request",
				zap.String("request_id", req.ID),
				zap.Any("panic", r),
				zap.Stack("stack"))
			settled = false
		}
	}()

	now := m.now()
	if req.Expired(now) {
		m.closeExpired(req)
		return true
	}
	if req.NotYetValid(now) {
		return false
	}

	instanceID, err := m.provisionLocally(ctx, req)
	switch {
	case err == nil:
		return m.fulfill(ctx, req, instanceID, "")
	case types.IsCapacityExhausted(err):
		return m.provisionRemotely(ctx, req)
	default:
		m.fail(req, err)
		return true
	}
}

func (m *Manager) provisionLocally(ctx context.Context, req *request.Request) (string, error) {
	callCtx, cancel := m.callContext(ctx)
	defer cancel()

	instanceID, err := m.compute.RequestInstance(callCtx, accessIDOf(req), req.Categories, req.ProvisioningAttributes())
	switch {
	case err == nil:
		m.recordProvisioning(targetLocal, outcomeFulfilled)
	case types.IsCapacityExhausted(err):
		m.recordProvisioning(targetLocal, outcomeExhausted)
	default:
		m.recordProvisioning(targetLocal, outcomeFailed)
	}
	return instanceID, err
}

// provisionRemotely hands req to the member chosen by the picker. A decline
// or an unreachable member leaves the request OPEN for the next tick.
func (m *Manager) provisionRemotely(ctx context.Context, req *request.Request) bool {
	if m.peer == nil || m.registry == nil {
		return false
	}
	member, ok := m.picker.Pick(m.registry.Members())
	if !ok {
		m.logger.Debug("no federation member available", zap.String("request_id", req.ID))
		return false
	}

	ctx, span := m.tracer.Start(ctx, "manager.scheduler.submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.id", req.ID),
		attribute.String("member.id", member.ID),
	)

	callCtx, cancel := m.callContext(ctx)
	instanceID, err := m.peer.Submit(callCtx, req, member)
	cancel()
	m.recordPeerCall("submit", err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.recordProvisioning(targetRemote, outcomeFailed)
		m.logger.Warn("remote provisioning failed",
			zap.String("request_id", req.ID),
			zap.String("member_id", member.ID),
			zap.Error(err))
		return false
	}
	if instanceID == "" {
		m.recordProvisioning(targetRemote, outcomeDeclined)
		m.logger.Debug("member declined request",
			zap.String("request_id", req.ID),
			zap.String("member_id", member.ID))
		return false
	}
	m.recordProvisioning(targetRemote, outcomeFulfilled)
	return m.fulfill(ctx, req, instanceID, member.ID)
}

// fulfill records the new instance on req. When req left OPEN meanwhile the
// instance is an orphan and is removed again.
func (m *Manager) fulfill(ctx context.Context, req *request.Request, instanceID, memberID string) bool {
	_, err := m.repo.Transition(req.ID, []request.State{request.StateOpen}, func(r *request.Request) error {
		r.State = request.StateFulfilled
		r.InstanceID = instanceID
		r.ProvidingMemberID = memberID
		return nil
	})
	if err != nil {
		m.logger.Warn("request changed during provisioning, discarding instance",
			zap.String("request_id", req.ID),
			zap.String("instance_id", instanceID),
			zap.String("member_id", memberID),
			zap.Error(err))
		m.discardOrphan(ctx, req, instanceID, memberID)
		return true
	}

	m.monitor.Activate()
	m.logger.Info("request fulfilled",
		zap.String("request_id", req.ID),
		zap.String("instance_id", instanceID),
		zap.String("member_id", memberID))
	return true
}

func (m *Manager) discardOrphan(ctx context.Context, req *request.Request, instanceID, memberID string) {
	target := targetLocal
	if memberID != "" {
		target = targetRemote
	}
	m.recordProvisioning(target, outcomeDiscarded)

	callCtx, cancel := m.callContext(ctx)
	defer cancel()

	var err error
	if memberID == "" {
		err = m.compute.RemoveInstance(callCtx, accessIDOf(req), instanceID)
	} else {
		orphan := req.Clone()
		orphan.State = request.StateFulfilled
		orphan.InstanceID = instanceID
		orphan.ProvidingMemberID = memberID
		err = m.peer.Release(callCtx, orphan)
		m.recordPeerCall("release", err)
	}
	if err != nil && !types.IsNotFound(err) {
		m.logger.Error("failed to remove orphan instance",
			zap.String("request_id", req.ID),
			zap.String("instance_id", instanceID),
			zap.String("member_id", memberID),
			zap.Error(err))
	}
}

func (m *Manager) closeExpired(req *request.Request) {
	_, err := m.repo.Transition(req.ID, []request.State{request.StateOpen}, func(r *request.Request) error {
		r.State = request.StateClosed
		return nil
	})
	if err != nil {
		m.logger.Debug("expired request already left OPEN", zap.String("request_id", req.ID), zap.Error(err))
		return
	}
	m.logger.Info("request expired", zap.String("request_id", req.ID))
}

func (m *Manager) fail(req *request.Request, cause error) {
	_, err := m.repo.Transition(req.ID, []request.State{request.StateOpen}, func(r *request.Request) error {
		r.State = request.StateFailed
		return nil
	})
	if err != nil {
		m.logger.Debug("failed request already left OPEN", zap.String("request_id", req.ID), zap.Error(err))
		return
	}
	m.logger.Warn("request failed",
		zap.String("request_id", req.ID),
		zap.Error(cause))
}
