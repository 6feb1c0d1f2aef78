package manager

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fgan1/fogbow-manager/plugins"
	"github.com/fgan1/fogbow-manager/request"
	"github.com/fgan1/fogbow-manager/types"
)

func newRequestID() string {
	return uuid.New().String()
}

// =============================================================================
// Requests
// =============================================================================

// CreateRequests creates one OPEN request per requested instance. It never
// waits for provisioning; callers poll the request state.
func (m *Manager) CreateRequests(ctx context.Context, accessID string, categories []request.Category, attrs map[string]string) ([]*request.Request, error) {
	token, err := m.authenticate(ctx, accessID)
	if err != nil {
		return nil, err
	}
	count, err := request.InstanceCount(attrs)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, err.Error())
	}

	now := m.now()
	reqs := make([]*request.Request, 0, count)
	for i := 0; i < count; i++ {
		req, err := request.New(m.newID(), token, categories, attrs, now)
		if err != nil {
			return nil, types.NewError(types.ErrInvalidRequest, err.Error())
		}
		reqs = append(reqs, req)
	}

	created := make([]*request.Request, 0, count)
	var storeErr error
	for _, req := range reqs {
		m.acquireTunnel(ctx, req)
		if err := m.repo.Add(req); err != nil {
			m.releaseTunnel(ctx, req)
			storeErr = types.NewError(types.ErrInternalError, "failed to store request").WithCause(err)
			break
		}
		created = append(created, req.Clone())
	}

	if len(created) > 0 {
		m.scheduler.Activate()
		m.tokenUpdater.Activate()
	}
	if storeErr != nil {
		m.logger.Warn("request creation stopped early",
			zap.String("owner", token.User),
			zap.Int("stored", len(created)),
			zap.Int("requested", count),
			zap.Error(storeErr))
		return created, storeErr
	}
	m.logger.Info("requests created",
		zap.String("owner", token.User),
		zap.Int("count", len(created)))
	return created, nil
}

// GetRequest returns one of the caller's requests.
func (m *Manager) GetRequest(ctx context.Context, accessID, id string) (*request.Request, error) {
	token, err := m.authenticate(ctx, accessID)
	if err != nil {
		return nil, err
	}
	return m.ownedRequest(token, id)
}

// GetRequestsFromUser returns every request of the caller.
func (m *Manager) GetRequestsFromUser(ctx context.Context, accessID string) ([]*request.Request, error) {
	token, err := m.authenticate(ctx, accessID)
	if err != nil {
		return nil, err
	}
	return m.repo.ByOwner(token.User), nil
}

// RemoveRequest deletes one of the caller's requests from the history,
// tearing down its instance first.
func (m *Manager) RemoveRequest(ctx context.Context, accessID, id string) error {
	token, err := m.authenticate(ctx, accessID)
	if err != nil {
		return err
	}
	req, err := m.ownedRequest(token, id)
	if err != nil {
		return err
	}
	return m.discardRequest(ctx, req)
}

// RemoveAllRequests deletes every request of the caller.
func (m *Manager) RemoveAllRequests(ctx context.Context, accessID string) error {
	token, err := m.authenticate(ctx, accessID)
	if err != nil {
		return err
	}
	var errs []error
	for _, req := range m.repo.ByOwner(token.User) {
		if err := m.discardRequest(ctx, req); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// Instances
// =============================================================================

// GetInstance returns a live snapshot of one of the caller's instances.
func (m *Manager) GetInstance(ctx context.Context, accessID, instanceID string) (*plugins.Instance, error) {
	token, err := m.authenticate(ctx, accessID)
	if err != nil {
		return nil, err
	}
	req, err := m.requestForInstance(token, instanceID)
	if err != nil {
		return nil, err
	}
	inst, err := m.fetchInstance(ctx, req)
	if err != nil {
		return nil, err
	}
	return decorate(inst, req), nil
}

// GetInstances returns the caller's instances. Instances that cannot be
// fetched are skipped.
func (m *Manager) GetInstances(ctx context.Context, accessID string) ([]*plugins.Instance, error) {
	token, err := m.authenticate(ctx, accessID)
	if err != nil {
		return nil, err
	}
	var out []*plugins.Instance
	for _, req := range m.repo.ByOwner(token.User) {
		if req.State != request.StateFulfilled {
			continue
		}
		inst, err := m.fetchInstance(ctx, req)
		if err != nil {
			m.logger.Warn("failed to fetch instance",
				zap.String("request_id", req.ID),
				zap.String("instance_id", req.InstanceID),
				zap.Error(err))
			continue
		}
		out = append(out, decorate(inst, req))
	}
	return out, nil
}

// RemoveInstance removes one of the caller's instances.
func (m *Manager) RemoveInstance(ctx context.Context, accessID, instanceID string) error {
	token, err := m.authenticate(ctx, accessID)
	if err != nil {
		return err
	}
	req, err := m.requestForInstance(token, instanceID)
	if err != nil {
		return err
	}
	return m.removeInstance(ctx, req)
}

// RemoveInstances removes every instance of the caller.
func (m *Manager) RemoveInstances(ctx context.Context, accessID string) error {
	token, err := m.authenticate(ctx, accessID)
	if err != nil {
		return err
	}
	var errs []error
	for _, req := range m.repo.ByOwner(token.User) {
		if req.State != request.StateFulfilled {
			continue
		}
		if err := m.removeInstance(ctx, req); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GetResourcesInfo returns the local quota/usage snapshot.
func (m *Manager) GetResourcesInfo(ctx context.Context, accessID string) (*plugins.ResourcesInfo, error) {
	if _, err := m.authenticate(ctx, accessID); err != nil {
		return nil, err
	}
	return m.localResources(ctx)
}

// =============================================================================
// Helpers
// =============================================================================

func (m *Manager) authenticate(ctx context.Context, accessID string) (*types.Token, error) {
	if accessID == "" {
		return nil, types.NewAuthError()
	}
	callCtx, cancel := m.callContext(ctx)
	defer cancel()
	token, err := m.identity.GetToken(callCtx, accessID)
	if err != nil || token == nil || token.User == "" {
		return nil, types.NewAuthError().WithCause(err)
	}
	return token, nil
}

func (m *Manager) ownedRequest(token *types.Token, id string) (*request.Request, error) {
	req, ok := m.repo.Get(id)
	if !ok {
		return nil, types.NewNotFoundError("request", id)
	}
	if req.Owner != token.User {
		return nil, types.NewOwnershipError()
	}
	return req, nil
}

func (m *Manager) requestForInstance(token *types.Token, instanceID string) (*request.Request, error) {
	req, ok := m.repo.FindByInstance(instanceID)
	if !ok {
		return nil, types.NewNotFoundError("instance", instanceID)
	}
	if req.Owner != token.User {
		return nil, types.NewOwnershipError()
	}
	return req, nil
}

func (m *Manager) localResources(ctx context.Context) (*plugins.ResourcesInfo, error) {
	svc, err := m.serviceToken.ValidOrRefresh(ctx)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := m.callContext(ctx)
	defer cancel()
	info, err := m.compute.ResourcesInfo(callCtx, svc.AccessID)
	if err != nil {
		return nil, err
	}
	info.ID = m.cfg.MemberID
	return info, nil
}

// fetchInstance looks the request's instance up locally or at the providing
// member. DELETED requests are looked up by their teardown handle.
func (m *Manager) fetchInstance(ctx context.Context, req *request.Request) (*plugins.Instance, error) {
	instanceID, memberID := req.InstanceHandle()
	callCtx, cancel := m.callContext(ctx)
	defer cancel()

	if memberID == "" {
		return m.compute.GetInstance(callCtx, accessIDOf(req), instanceID)
	}
	if m.peer == nil {
		return nil, types.NewRemoteUnavailableError(memberID, errors.New("federation is disabled"))
	}
	inst, err := m.peer.FetchInstance(callCtx, req)
	m.recordPeerCall("fetch", err)
	return inst, err
}

func (m *Manager) acquireTunnel(ctx context.Context, req *request.Request) {
	if m.tunnel == nil {
		return
	}
	callCtx, cancel := m.callContext(ctx)
	defer cancel()
	addr, err := m.tunnel.Acquire(callCtx, req)
	if err != nil {
		m.logger.Warn("tunnel acquisition failed, request marked failed",
			zap.String("request_id", req.ID),
			zap.Error(err))
		req.State = request.StateFailed
		return
	}
	req.TunnelAddress = addr
}

func (m *Manager) releaseTunnel(ctx context.Context, req *request.Request) {
	if m.tunnel == nil || req.TunnelAddress == "" {
		return
	}
	callCtx, cancel := m.callContext(ctx)
	defer cancel()
	if err := m.tunnel.Release(callCtx, req); err != nil {
		m.logger.Warn("tunnel release failed",
			zap.String("request_id", req.ID),
			zap.Error(err))
	}
}

func accessIDOf(req *request.Request) string {
	if req.Token == nil {
		return ""
	}
	return req.Token.AccessID
}

func decorate(inst *plugins.Instance, req *request.Request) *plugins.Instance {
	out := inst.Clone()
	if req.TunnelAddress != "" {
		if out.Attributes == nil {
			out.Attributes = make(map[string]string, 1)
		}
		out.Attributes[plugins.AttrSSHPublicAddress] = req.TunnelAddress
	}
	return out
}
