package manager

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/fgan1/fogbow-manager/request"
	"github.com/fgan1/fogbow-manager/types"
)

var errInstanceChanged = errors.New("request holds a different instance")

// removeInstance tears down the instance of a FULFILLED request. Persistent
// requests go back to OPEN, one-time requests are CLOSED. When the providing
// member cannot be reached the request becomes DELETED and the monitor keeps
// retrying the release. The tunnel is kept while the instance may still be up.
func (m *Manager) removeInstance(ctx context.Context, req *request.Request) error {
	instanceID, memberID := req.InstanceID, req.ProvidingMemberID

	if memberID == "" {
		callCtx, cancel := m.callContext(ctx)
		err := m.compute.RemoveInstance(callCtx, accessIDOf(req), instanceID)
		cancel()
		if err != nil && !types.IsNotFound(err) {
			m.logger.Warn("failed to remove local instance",
				zap.String("request_id", req.ID),
				zap.String("instance_id", instanceID),
				zap.Error(err))
			return err
		}
		m.releaseTunnel(ctx, req)
		return m.instanceRemoved(req.ID, instanceID, true)
	}

	if err := m.releaseRemote(ctx, req); err != nil {
		m.logger.Warn("remote release failed, request marked deleted",
			zap.String("request_id", req.ID),
			zap.String("instance_id", instanceID),
			zap.String("member_id", memberID),
			zap.Error(err))
		_, terr := m.repo.Transition(req.ID, []request.State{request.StateFulfilled}, func(r *request.Request) error {
			if r.InstanceID != instanceID {
				return errInstanceChanged
			}
			r.State = request.StateDeleted
			r.TeardownInstanceID = instanceID
			r.TeardownMemberID = memberID
			r.InstanceID = ""
			r.ProvidingMemberID = ""
			r.TunnelAddress = ""
			return nil
		})
		if terr != nil {
			return repositoryError(req.ID, terr)
		}
		m.releaseTunnel(ctx, req)
		m.monitor.Activate()
		return nil
	}
	m.releaseTunnel(ctx, req)
	return m.instanceRemoved(req.ID, instanceID, true)
}

// instanceRemoved moves a FULFILLED request out of FULFILLED once its
// instance is gone. tunnelReleased clears the tunnel address.
func (m *Manager) instanceRemoved(id, instanceID string, tunnelReleased bool) error {
	updated, err := m.repo.Transition(id, []request.State{request.StateFulfilled}, func(r *request.Request) error {
		if r.InstanceID != instanceID {
			return errInstanceChanged
		}
		r.InstanceID = ""
		r.ProvidingMemberID = ""
		if tunnelReleased {
			r.TunnelAddress = ""
		}
		if r.IsPersistent() {
			r.State = request.StateOpen
		} else {
			r.State = request.StateClosed
		}
		return nil
	})
	if err != nil {
		return repositoryError(id, err)
	}
	if updated.State == request.StateOpen {
		m.scheduler.Activate()
	}
	m.logger.Info("instance removed",
		zap.String("request_id", id),
		zap.String("instance_id", instanceID),
		zap.String("state", string(updated.State)))
	return nil
}

func (m *Manager) releaseRemote(ctx context.Context, req *request.Request) error {
	if m.peer == nil {
		return types.NewRemoteUnavailableError(req.ProvidingMemberID, errors.New("federation is disabled"))
	}
	callCtx, cancel := m.callContext(ctx)
	defer cancel()
	err := m.peer.Release(callCtx, req)
	m.recordPeerCall("release", err)
	if types.IsNotFound(err) {
		return nil
	}
	return err
}

// discardRequest tears down whatever req still holds and drops it from the
// history. Teardown failures are logged, the request is removed anyway.
func (m *Manager) discardRequest(ctx context.Context, req *request.Request) error {
	switch req.State {
	case request.StateFulfilled:
		var err error
		if req.IsLocal() {
			callCtx, cancel := m.callContext(ctx)
			err = m.compute.RemoveInstance(callCtx, accessIDOf(req), req.InstanceID)
			cancel()
		} else {
			err = m.releaseRemote(ctx, req)
		}
		if err != nil && !types.IsNotFound(err) {
			m.logger.Warn("instance teardown failed while removing request",
				zap.String("request_id", req.ID),
				zap.String("instance_id", req.InstanceID),
				zap.Error(err))
		}
	case request.StateDeleted:
		if err := m.releaseRemote(ctx, req); err != nil {
			m.logger.Warn("pending release abandoned with request",
				zap.String("request_id", req.ID),
				zap.String("instance_id", req.TeardownInstanceID),
				zap.String("member_id", req.TeardownMemberID),
				zap.Error(err))
		}
	}

	if _, err := m.repo.Remove(req.ID); err != nil {
		return repositoryError(req.ID, err)
	}
	m.releaseTunnel(ctx, req)
	m.logger.Info("request removed",
		zap.String("request_id", req.ID),
		zap.String("owner", req.Owner))
	return nil
}

// repositoryError maps repository failures onto the public error model.
func repositoryError(id string, err error) error {
	switch {
	case errors.Is(err, request.ErrNotFound):
		return types.NewNotFoundError("request", id)
	case errors.Is(err, request.ErrStateConflict), errors.Is(err, errInstanceChanged):
		return types.NewError(types.ErrInvalidRequest, "request changed concurrently").WithCause(err)
	default:
		return types.NewError(types.ErrInternalError, "request repository failure").WithCause(err)
	}
}
