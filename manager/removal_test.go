package manager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fgan1/fogbow-manager/request"
	"github.com/fgan1/fogbow-manager/types"
)

func TestRemoveInstance_PersistentRequeues(t *testing.T) {
	h := newHarness(t)
	req := h.fulfilled(request.TypePersistent)
	require.False(t, h.mgr.LoopActive(LoopScheduler))

	require.NoError(t, h.mgr.RemoveInstance(h.ctx, aliceToken, req.InstanceID))

	got := h.get(req.ID)
	assert.Equal(t, request.StateOpen, got.State)
	assert.Empty(t, got.InstanceID)
	assert.Empty(t, got.ProvidingMemberID)
	assert.Empty(t, got.TunnelAddress)
	assert.True(t, h.mgr.LoopActive(LoopScheduler))
	assert.Equal(t, []string{"local-1"}, h.compute.Removed())
	assert.Equal(t, []string{req.ID}, h.tunnel.Released())

	// 下一次调度重新供给
	h.schedule()
	assert.Equal(t, "local-2", h.get(req.ID).InstanceID)
}

func TestRemoveInstance_OneTimeCloses(t *testing.T) {
	h := newHarness(t)
	req := h.fulfilled(request.TypeOneTime)

	require.NoError(t, h.mgr.RemoveInstance(h.ctx, aliceToken, req.InstanceID))

	got := h.get(req.ID)
	assert.Equal(t, request.StateClosed, got.State)
	assert.Empty(t, got.InstanceID)
	assert.False(t, h.mgr.LoopActive(LoopScheduler))
}

func TestRemoveInstance_LocalFailureKeepsRequest(t *testing.T) {
	h := newHarness(t)
	req := h.fulfilled(request.TypeOneTime)
	h.compute.WithRemoveError(types.NewError(types.ErrInternalError, "cloud down"))

	err := h.mgr.RemoveInstance(h.ctx, aliceToken, req.InstanceID)
	assert.Error(t, err)

	got := h.get(req.ID)
	assert.Equal(t, request.StateFulfilled, got.State)
	assert.Equal(t, req.TunnelAddress, got.TunnelAddress)
	assert.NotEmpty(t, got.TunnelAddress)
	assert.Empty(t, h.tunnel.Released())
}

func TestRemoveInstance_AlreadyGoneLocally(t *testing.T) {
	h := newHarness(t)
	req := h.fulfilled(request.TypeOneTime)
	h.compute.Forget(req.InstanceID)

	require.NoError(t, h.mgr.RemoveInstance(h.ctx, aliceToken, req.InstanceID))
	assert.Equal(t, request.StateClosed, h.get(req.ID).State)
}

func TestRemoveInstance_Remote(t *testing.T) {
	h := newHarness(t, withMembers("site-b"))
	h.compute.WithCapacityExhausted()
	req := h.fulfilled(request.TypeOneTime)

	require.NoError(t, h.mgr.RemoveInstance(h.ctx, aliceToken, req.InstanceID))

	assert.Equal(t, []string{"site-b-instance-1"}, h.peer.Released())
	got := h.get(req.ID)
	assert.Equal(t, request.StateClosed, got.State)
	assert.Empty(t, got.ProvidingMemberID)
}

func TestRemoveInstance_RemoteFailureMarksDeleted(t *testing.T) {
	h := newHarness(t, withMembers("site-b"))
	h.compute.WithCapacityExhausted()
	req := h.fulfilled(request.TypeOneTime)
	h.peer.WithReleaseError(types.NewRemoteUnavailableError("site-b", context.DeadlineExceeded))

	require.NoError(t, h.mgr.RemoveInstance(h.ctx, aliceToken, req.InstanceID))

	got := h.get(req.ID)
	assert.Equal(t, request.StateDeleted, got.State)
	assert.Empty(t, got.InstanceID)
	assert.Empty(t, got.ProvidingMemberID)
	assert.Empty(t, got.TunnelAddress)
	assert.Equal(t, "site-b-instance-1", got.TeardownInstanceID)
	assert.Equal(t, "site-b", got.TeardownMemberID)
	assert.Equal(t, []string{req.ID}, h.tunnel.Released())
	assert.True(t, h.mgr.LoopActive(LoopMonitor))

	// 实例已不再属于任何 FULFILLED 请求
	_, err := h.mgr.GetInstance(h.ctx, aliceToken, "site-b-instance-1")
	assert.True(t, types.IsNotFound(err))

	// release keeps failing: the request waits
	assert.True(t, h.monitor())
	assert.Equal(t, request.StateDeleted, h.get(req.ID).State)

	// release succeeds: the one-time request is purged
	h.peer.WithReleaseError(nil)
	assert.False(t, h.monitor())
	assert.False(t, h.peer.Has("site-b-instance-1"))
	_, ok := h.repo.Get(req.ID)
	assert.False(t, ok)
	assert.False(t, h.mgr.LoopActive(LoopMonitor))
}

func TestRemoveInstance_RemoteFailurePersistentRequeues(t *testing.T) {
	h := newHarness(t, withMembers("site-b"))
	h.compute.WithCapacityExhausted()
	req := h.fulfilled(request.TypePersistent)
	h.peer.WithReleaseError(types.NewRemoteUnavailableError("site-b", context.DeadlineExceeded))

	require.NoError(t, h.mgr.RemoveInstance(h.ctx, aliceToken, req.InstanceID))
	require.Equal(t, request.StateDeleted, h.get(req.ID).State)

	h.peer.WithReleaseError(nil)
	assert.False(t, h.monitor())

	got := h.get(req.ID)
	assert.Equal(t, request.StateOpen, got.State)
	assert.Empty(t, got.TeardownInstanceID)
	assert.Empty(t, got.TeardownMemberID)
	assert.Equal(t, []string{"site-b-instance-1"}, h.peer.Released())
	assert.True(t, h.mgr.LoopActive(LoopScheduler))

	h.schedule()
	got = h.get(req.ID)
	assert.Equal(t, request.StateFulfilled, got.State)
	assert.Equal(t, "site-b-instance-2", got.InstanceID)
}

func TestRemoveInstance_DeletedPersistentGoneRequeues(t *testing.T) {
	h := newHarness(t, withMembers("site-b"))
	h.compute.WithCapacityExhausted()
	req := h.fulfilled(request.TypePersistent)
	h.peer.WithReleaseError(types.NewRemoteUnavailableError("site-b", context.DeadlineExceeded))
	require.NoError(t, h.mgr.RemoveInstance(h.ctx, aliceToken, req.InstanceID))

	h.peer.Forget("site-b-instance-1")
	assert.False(t, h.monitor())

	assert.Equal(t, request.StateOpen, h.get(req.ID).State)
	assert.Equal(t, 1, h.repo.Len())
}

func TestRemoveInstance_Ownership(t *testing.T) {
	h := newHarness(t)
	req := h.fulfilled(request.TypeOneTime)

	err := h.mgr.RemoveInstance(h.ctx, bobToken, req.InstanceID)
	assert.Equal(t, types.ErrUnauthorized, types.GetErrorCode(err))
	assert.Equal(t, request.StateFulfilled, h.get(req.ID).State)

	err = h.mgr.RemoveInstance(h.ctx, aliceToken, "unknown")
	assert.True(t, types.IsNotFound(err))
}

func TestRemoveInstances(t *testing.T) {
	h := newHarness(t)
	h.create(aliceToken, 2, request.TypeOneTime)
	h.create(bobToken, 1, request.TypeOneTime)
	h.schedule()

	require.NoError(t, h.mgr.RemoveInstances(h.ctx, aliceToken))

	counts := h.repo.CountByState()
	assert.Equal(t, 2, counts[request.StateClosed])
	assert.Equal(t, 1, counts[request.StateFulfilled])
}

func TestRemoveRequest_DeletedAbandonsRelease(t *testing.T) {
	h := newHarness(t, withMembers("site-b"))
	h.compute.WithCapacityExhausted()
	req := h.fulfilled(request.TypeOneTime)
	h.peer.WithReleaseError(types.NewRemoteUnavailableError("site-b", context.DeadlineExceeded))
	require.NoError(t, h.mgr.RemoveInstance(h.ctx, aliceToken, req.InstanceID))
	require.Equal(t, request.StateDeleted, h.get(req.ID).State)

	require.NoError(t, h.mgr.RemoveRequest(h.ctx, aliceToken, req.ID))
	assert.Equal(t, 0, h.repo.Len())
}
