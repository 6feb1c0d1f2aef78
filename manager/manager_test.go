package manager

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fgan1/fogbow-manager/accounting"
	"github.com/fgan1/fogbow-manager/federation"
	"github.com/fgan1/fogbow-manager/plugins"
	"github.com/fgan1/fogbow-manager/request"
	"github.com/fgan1/fogbow-manager/testutil"
	"github.com/fgan1/fogbow-manager/testutil/fixtures"
	"github.com/fgan1/fogbow-manager/testutil/mocks"
	"github.com/fgan1/fogbow-manager/types"
)

var testStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const (
	aliceToken = "alice-token"
	bobToken   = "bob-token"
)

// =============================================================================
// Harness
// =============================================================================

type recordingUsage struct {
	mu      sync.Mutex
	updates [][]accounting.Sample
}

func (r *recordingUsage) Update(_ context.Context, samples []accounting.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, samples)
	return nil
}

func (r *recordingUsage) last() []accounting.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.updates) == 0 {
		return nil
	}
	return r.updates[len(r.updates)-1]
}

func (r *recordingUsage) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

type recordingMetrics struct {
	mu           sync.Mutex
	transitions  []string
	provisioning []string
	ticks        map[string]int
	renewals     []bool
	peerCalls    []string
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{ticks: make(map[string]int)}
}

func (r *recordingMetrics) RecordTransition(from, to request.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, string(from)+"->"+string(to))
}

func (r *recordingMetrics) RecordProvisioning(target, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.provisioning = append(r.provisioning, target+":"+outcome)
}

func (r *recordingMetrics) RecordLoopTick(loop string, _ time.Duration, _ bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks[loop]++
}

func (r *recordingMetrics) RecordTokenRenewal(success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renewals = append(r.renewals, success)
}

func (r *recordingMetrics) RecordPeerCall(op, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peerCalls = append(r.peerCalls, op+":"+outcome)
}

type harnessSetup struct {
	members    []federation.Member
	rendezvous Rendezvous
	metrics    Metrics
	noPeer     bool
}

type harnessOption func(*harnessSetup)

func withMembers(ids ...string) harnessOption {
	return func(s *harnessSetup) {
		for _, id := range ids {
			s.members = append(s.members, federation.Member{ID: id, Address: id + ".example:8080"})
		}
	}
}

func withRendezvous(r Rendezvous) harnessOption {
	return func(s *harnessSetup) { s.rendezvous = r }
}

func withMetrics(m Metrics) harnessOption {
	return func(s *harnessSetup) { s.metrics = m }
}

func withoutFederation() harnessOption {
	return func(s *harnessSetup) { s.noPeer = true }
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	clock    *testutil.Clock
	repo     *request.Repository
	compute  *mocks.MockCompute
	identity *mocks.MockIdentity
	peer     *mocks.MockPeer
	registry *federation.Registry
	tunnel   *mocks.MockTunnel
	usage    *recordingUsage
	mgr      *Manager
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MemberID = "site-a"
	cfg.CallTimeout = time.Second
	cfg.MonitorConcurrency = 2
	cfg.FederationUser = "fogbow"
	cfg.FederationPassword = "fogbow-secret"
	return cfg
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	var setup harnessSetup
	for _, opt := range opts {
		opt(&setup)
	}

	clock := testutil.NewClock(testStart)
	h := &harness{
		t:        t,
		ctx:      testutil.TestContext(t),
		clock:    clock,
		repo:     request.NewRepository(zap.NewNop(), request.WithClock(clock.Now)),
		compute:  mocks.NewMockCompute(),
		identity: mocks.NewMockIdentity(clock.Now).WithUser("fogbow", "fogbow-secret"),
		peer:     mocks.NewMockPeer(),
		registry: federation.NewRegistry("site-a", time.Hour, setup.members),
		tunnel:   mocks.NewMockTunnel(),
		usage:    &recordingUsage{},
	}
	t.Cleanup(func() { _ = h.repo.Close() })
	h.identity.AddToken(aliceToken, "alice", testStart.Add(time.Hour))
	h.identity.AddToken(bobToken, "bob", testStart.Add(time.Hour))

	deps := Dependencies{
		Repository: h.repo,
		Compute:    h.compute,
		Identity:   h.identity,
		Peer:       h.peer,
		Registry:   h.registry,
		Rendezvous: setup.rendezvous,
		Tunnel:     h.tunnel,
		Accounting: h.usage,
		Metrics:    setup.metrics,
	}
	deps.SelfAddress = "site-a.example:8080"
	if setup.noPeer {
		deps.Peer = nil
		deps.Registry = nil
	}

	var seq int
	mgr, err := New(testConfig(), deps, zap.NewNop(),
		WithClock(clock.Now),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("req-%d", seq)
		}))
	require.NoError(t, err)
	h.mgr = mgr
	return h
}

func (h *harness) create(accessID string, count int, typ request.Type) []*request.Request {
	h.t.Helper()
	reqs, err := h.mgr.CreateRequests(h.ctx, accessID, fixtures.SmallFlavor(), fixtures.Attributes(count, typ))
	require.NoError(h.t, err)
	require.Len(h.t, reqs, count)
	return reqs
}

func (h *harness) get(id string) *request.Request {
	h.t.Helper()
	req, ok := h.repo.Get(id)
	require.True(h.t, ok, "request %s missing", id)
	return req
}

func (h *harness) schedule() bool {
	return h.mgr.scheduler.RunOnce(h.ctx)
}

func (h *harness) monitor() bool {
	return h.mgr.monitor.RunOnce(h.ctx)
}

// fulfilled creates one request and provisions it with a single tick.
func (h *harness) fulfilled(typ request.Type) *request.Request {
	h.t.Helper()
	req := h.create(aliceToken, 1, typ)[0]
	h.schedule()
	got := h.get(req.ID)
	require.Equal(h.t, request.StateFulfilled, got.State)
	return got
}

// =============================================================================
// Construction
// =============================================================================

func TestNew_RequiresCoreDependencies(t *testing.T) {
	_, err := New(testConfig(), Dependencies{}, nil)
	assert.Error(t, err)

	cfg := testConfig()
	cfg.SchedulerPeriod = 0
	_, err = New(cfg, Dependencies{
		Repository: request.NewRepository(nil),
		Compute:    mocks.NewMockCompute(),
		Identity:   mocks.NewMockIdentity(nil),
	}, nil)
	assert.Error(t, err)
}

func TestManager_LoopsIdleUntilWork(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, map[string]bool{
		LoopScheduler:    false,
		LoopTokenUpdater: false,
		LoopMonitor:      false,
		LoopHeartbeat:    false,
	}, h.mgr.LoopStates())
	assert.Equal(t, "site-a", h.mgr.MemberID())
	assert.Equal(t, "manager(site-a)", h.mgr.String())
}

// =============================================================================
// Scheduling scenarios
// =============================================================================

func TestScheduler_AllCapacityExhaustedStaysOpen(t *testing.T) {
	h := newHarness(t)
	h.compute.WithCapacityExhausted()

	reqs := h.create(aliceToken, 3, request.TypeOneTime)
	require.True(t, h.mgr.LoopActive(LoopScheduler))

	assert.True(t, h.schedule())
	for _, req := range reqs {
		got := h.get(req.ID)
		assert.Equal(t, request.StateOpen, got.State)
		assert.Empty(t, got.InstanceID)
	}
	assert.True(t, h.mgr.LoopActive(LoopScheduler))
	assert.False(t, h.mgr.LoopActive(LoopMonitor))
	assert.Equal(t, 3, h.compute.RequestCalls())
	assert.Empty(t, h.peer.Submits())
}

func TestScheduler_LocalSuccessFulfills(t *testing.T) {
	h := newHarness(t)
	req := h.create(aliceToken, 1, request.TypeOneTime)[0]

	assert.False(t, h.schedule())

	got := h.get(req.ID)
	assert.Equal(t, request.StateFulfilled, got.State)
	assert.Equal(t, "local-1", got.InstanceID)
	assert.Empty(t, got.ProvidingMemberID)
	assert.True(t, h.mgr.LoopActive(LoopMonitor))
	assert.False(t, h.mgr.LoopActive(LoopScheduler))

	// user token and stripped attributes reach the backend
	assert.Equal(t, []string{aliceToken}, h.compute.AccessIDs())
	attrs := h.compute.RequestAttributes(0)
	assert.NotContains(t, attrs, request.AttrType)
	assert.NotContains(t, attrs, request.AttrInstanceCount)
}

func TestScheduler_ExpiredRequestCloses(t *testing.T) {
	h := newHarness(t)
	attrs := fixtures.Attributes(1, request.TypeOneTime)
	attrs[request.AttrValidUntil] = testStart.Add(-time.Minute).Format(time.RFC3339)
	reqs, err := h.mgr.CreateRequests(h.ctx, aliceToken, fixtures.SmallFlavor(), attrs)
	require.NoError(t, err)

	assert.False(t, h.schedule())
	assert.Equal(t, request.StateClosed, h.get(reqs[0].ID).State)
	assert.Equal(t, 0, h.compute.RequestCalls())
}

func TestScheduler_ProvisioningErrorFailsForGood(t *testing.T) {
	h := newHarness(t)
	h.compute.WithProvisioningError()
	req := h.create(aliceToken, 1, request.TypeOneTime)[0]

	assert.False(t, h.schedule())
	assert.Equal(t, request.StateFailed, h.get(req.ID).State)
	assert.False(t, h.mgr.LoopActive(LoopScheduler))

	h.mgr.scheduler.Activate()
	h.schedule()
	assert.Equal(t, 1, h.compute.RequestCalls())
	assert.Equal(t, request.StateFailed, h.get(req.ID).State)
}

func TestScheduler_CapacityExhaustedGoesRemote(t *testing.T) {
	h := newHarness(t, withMembers("site-b"))
	h.compute.WithCapacityExhausted()
	req := h.create(aliceToken, 1, request.TypeOneTime)[0]

	assert.False(t, h.schedule())

	got := h.get(req.ID)
	assert.Equal(t, request.StateFulfilled, got.State)
	assert.Equal(t, "site-b", got.ProvidingMemberID)
	assert.Equal(t, "site-b-instance-1", got.InstanceID)
	assert.Equal(t, []string{"site-b"}, h.peer.Submits())
	assert.True(t, h.mgr.LoopActive(LoopMonitor))
}

func TestScheduler_DeclinedStaysOpen(t *testing.T) {
	h := newHarness(t, withMembers("site-b"))
	h.compute.WithCapacityExhausted()
	h.peer.Declining()
	req := h.create(aliceToken, 1, request.TypeOneTime)[0]

	assert.True(t, h.schedule())
	assert.Equal(t, request.StateOpen, h.get(req.ID).State)
	assert.True(t, h.mgr.LoopActive(LoopScheduler))
}

func TestScheduler_UnreachableMemberStaysOpen(t *testing.T) {
	h := newHarness(t, withMembers("site-b"))
	h.compute.WithCapacityExhausted()
	h.peer.WithSubmitFunc(func(*request.Request, federation.Member) (string, error) {
		return "", types.NewRemoteUnavailableError("site-b", context.DeadlineExceeded)
	})
	req := h.create(aliceToken, 1, request.TypeOneTime)[0]

	assert.True(t, h.schedule())
	assert.Equal(t, request.StateOpen, h.get(req.ID).State)
}

func TestScheduler_RoundRobinAcrossMembers(t *testing.T) {
	h := newHarness(t, withMembers("site-c", "site-b"))
	h.compute.WithCapacityExhausted()
	h.create(aliceToken, 2, request.TypeOneTime)

	assert.False(t, h.schedule())
	assert.Equal(t, []string{"site-b", "site-c"}, h.peer.Submits())
}

func TestScheduler_NotYetValidWaits(t *testing.T) {
	h := newHarness(t)
	attrs := fixtures.Attributes(1, request.TypeOneTime)
	attrs[request.AttrValidFrom] = testStart.Add(time.Hour).Format(time.RFC3339)
	reqs, err := h.mgr.CreateRequests(h.ctx, aliceToken, fixtures.SmallFlavor(), attrs)
	require.NoError(t, err)

	assert.True(t, h.schedule())
	assert.Equal(t, request.StateOpen, h.get(reqs[0].ID).State)
	assert.Equal(t, 0, h.compute.RequestCalls())

	h.clock.Advance(2 * time.Hour)
	assert.False(t, h.schedule())
	assert.Equal(t, request.StateFulfilled, h.get(reqs[0].ID).State)
}

func TestScheduler_PanicIsolatedPerRequest(t *testing.T) {
	h := newHarness(t)
	var calls int
	h.compute.WithRequestFunc(func(context.Context, string, []request.Category, map[string]string) (string, error) {
		calls++
		if calls == 1 {
			panic("backend exploded")
		}
		return "", nil
	})
	h.create(aliceToken, 2, request.TypeOneTime)

	assert.NotPanics(t, func() { assert.True(t, h.schedule()) })
	counts := h.repo.CountByState()
	assert.Equal(t, 1, counts[request.StateOpen])
	assert.Equal(t, 1, counts[request.StateFulfilled])
}

func TestScheduler_OrphanRemovedWhenRequestVanishes(t *testing.T) {
	h := newHarness(t)
	h.compute.WithRequestFunc(func(context.Context, string, []request.Category, map[string]string) (string, error) {
		_, err := h.repo.Remove("req-1")
		require.NoError(t, err)
		return "", nil
	})
	h.create(aliceToken, 1, request.TypeOneTime)

	assert.False(t, h.schedule())
	assert.Equal(t, []string{"local-1"}, h.compute.Removed())
	assert.Equal(t, 0, h.compute.InstanceCount())
	assert.False(t, h.mgr.LoopActive(LoopMonitor))
}

func TestScheduler_NoFederationStaysOpen(t *testing.T) {
	h := newHarness(t, withoutFederation())
	h.compute.WithCapacityExhausted()
	req := h.create(aliceToken, 1, request.TypeOneTime)[0]

	assert.True(t, h.schedule())
	assert.Equal(t, request.StateOpen, h.get(req.ID).State)
}

func TestScheduler_ReportsMetrics(t *testing.T) {
	metrics := newRecordingMetrics()
	h := newHarness(t, withMetrics(metrics))
	h.create(aliceToken, 1, request.TypeOneTime)
	h.schedule()

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.Equal(t, []string{"open->fulfilled"}, metrics.transitions)
	assert.Equal(t, []string{"local:fulfilled"}, metrics.provisioning)
	assert.Equal(t, 1, metrics.ticks[LoopScheduler])
}

// =============================================================================
// Front end
// =============================================================================

func TestCreateRequests(t *testing.T) {
	h := newHarness(t)
	reqs := h.create(aliceToken, 3, request.TypePersistent)

	seen := map[string]bool{}
	for i, req := range reqs {
		assert.Equal(t, fmt.Sprintf("req-%d", i+1), req.ID)
		assert.Equal(t, "alice", req.Owner)
		assert.Equal(t, request.StateOpen, req.State)
		assert.Equal(t, request.TypePersistent, req.Type)
		assert.NotEmpty(t, req.TunnelAddress)
		assert.False(t, seen[req.TunnelAddress])
		seen[req.TunnelAddress] = true
	}
	assert.True(t, h.mgr.LoopActive(LoopScheduler))
	assert.True(t, h.mgr.LoopActive(LoopTokenUpdater))
	assert.Equal(t, 3, h.repo.Len())
}

func TestCreateRequests_Rejections(t *testing.T) {
	h := newHarness(t)

	_, err := h.mgr.CreateRequests(h.ctx, "forged", nil, nil)
	assert.Equal(t, types.ErrAuthentication, types.GetErrorCode(err))

	_, err = h.mgr.CreateRequests(h.ctx, "", nil, nil)
	assert.Equal(t, types.ErrAuthentication, types.GetErrorCode(err))

	_, err = h.mgr.CreateRequests(h.ctx, aliceToken, nil, map[string]string{request.AttrInstanceCount: "zero"})
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))

	_, err = h.mgr.CreateRequests(h.ctx, aliceToken, nil, map[string]string{request.AttrType: "forever"})
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))

	assert.Equal(t, 0, h.repo.Len())
	assert.False(t, h.mgr.LoopActive(LoopScheduler))
}

func TestCreateRequests_TunnelFailureMarksFailed(t *testing.T) {
	h := newHarness(t)
	h.tunnel.WithAcquireError(types.NewCapacityExhaustedError("no free port"))

	req := h.create(aliceToken, 1, request.TypeOneTime)[0]
	assert.Equal(t, request.StateFailed, req.State)

	assert.False(t, h.schedule())
	assert.Equal(t, 0, h.compute.RequestCalls())
}

func TestCreateRequests_StoreFailureReleasesTunnel(t *testing.T) {
	h := newHarness(t)
	taken, err := request.New("req-2", &types.Token{AccessID: bobToken, User: "bob"}, nil, nil, testStart)
	require.NoError(t, err)
	require.NoError(t, h.repo.Add(taken))

	created, err := h.mgr.CreateRequests(h.ctx, aliceToken, fixtures.SmallFlavor(), fixtures.Attributes(3, request.TypeOneTime))
	assert.Equal(t, types.ErrInternalError, types.GetErrorCode(err))
	require.Len(t, created, 1)
	assert.Equal(t, "req-1", created[0].ID)

	assert.Equal(t, []string{"req-2"}, h.tunnel.Released())
	assert.Equal(t, 2, h.repo.Len())
	assert.True(t, h.mgr.LoopActive(LoopScheduler))
}

func TestGetRequest_Ownership(t *testing.T) {
	h := newHarness(t)
	req := h.create(aliceToken, 1, request.TypeOneTime)[0]

	got, err := h.mgr.GetRequest(h.ctx, aliceToken, req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)

	_, err = h.mgr.GetRequest(h.ctx, bobToken, req.ID)
	assert.Equal(t, types.ErrUnauthorized, types.GetErrorCode(err))

	_, err = h.mgr.GetRequest(h.ctx, aliceToken, "missing")
	assert.True(t, types.IsNotFound(err))
}

func TestGetRequestsFromUser(t *testing.T) {
	h := newHarness(t)
	h.create(aliceToken, 2, request.TypeOneTime)
	h.create(bobToken, 1, request.TypeOneTime)

	alice, err := h.mgr.GetRequestsFromUser(h.ctx, aliceToken)
	require.NoError(t, err)
	assert.Len(t, alice, 2)

	bob, err := h.mgr.GetRequestsFromUser(h.ctx, bobToken)
	require.NoError(t, err)
	require.Len(t, bob, 1)
	assert.Equal(t, "bob", bob[0].Owner)
}

func TestRemoveRequest_TearsDownInstance(t *testing.T) {
	h := newHarness(t)
	req := h.fulfilled(request.TypePersistent)

	require.NoError(t, h.mgr.RemoveRequest(h.ctx, aliceToken, req.ID))

	_, ok := h.repo.Get(req.ID)
	assert.False(t, ok)
	assert.Equal(t, []string{"local-1"}, h.compute.Removed())
	assert.Equal(t, []string{req.ID}, h.tunnel.Released())

	err := h.mgr.RemoveRequest(h.ctx, aliceToken, req.ID)
	assert.True(t, types.IsNotFound(err))
}

func TestRemoveRequest_OtherOwner(t *testing.T) {
	h := newHarness(t)
	req := h.create(aliceToken, 1, request.TypeOneTime)[0]

	err := h.mgr.RemoveRequest(h.ctx, bobToken, req.ID)
	assert.Equal(t, types.ErrUnauthorized, types.GetErrorCode(err))
	assert.Equal(t, 1, h.repo.Len())
}

func TestRemoveAllRequests(t *testing.T) {
	h := newHarness(t)
	h.create(aliceToken, 2, request.TypeOneTime)
	h.create(bobToken, 1, request.TypeOneTime)
	h.schedule()

	require.NoError(t, h.mgr.RemoveAllRequests(h.ctx, aliceToken))
	assert.Equal(t, 1, h.repo.Len())
	assert.Len(t, h.compute.Removed(), 2)
}

func TestGetInstance_DecoratesTunnelAddress(t *testing.T) {
	h := newHarness(t)
	req := h.fulfilled(request.TypeOneTime)

	inst, err := h.mgr.GetInstance(h.ctx, aliceToken, req.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, req.InstanceID, inst.ID)
	assert.Equal(t, req.TunnelAddress, inst.Attributes[plugins.AttrSSHPublicAddress])

	_, err = h.mgr.GetInstance(h.ctx, bobToken, req.InstanceID)
	assert.Equal(t, types.ErrUnauthorized, types.GetErrorCode(err))

	_, err = h.mgr.GetInstance(h.ctx, aliceToken, "unknown")
	assert.True(t, types.IsNotFound(err))
}

func TestGetInstances_SkipsUnreachable(t *testing.T) {
	h := newHarness(t)
	h.create(aliceToken, 2, request.TypeOneTime)
	h.schedule()
	h.compute.FailGet("local-2", types.NewRemoteUnavailableError("cloud", context.DeadlineExceeded))

	insts, err := h.mgr.GetInstances(h.ctx, aliceToken)
	require.NoError(t, err)
	require.Len(t, insts, 1)
	assert.Equal(t, "local-1", insts[0].ID)

	none, err := h.mgr.GetInstances(h.ctx, bobToken)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGetResourcesInfo(t *testing.T) {
	h := newHarness(t)
	h.fulfilled(request.TypeOneTime)

	info, err := h.mgr.GetResourcesInfo(h.ctx, aliceToken)
	require.NoError(t, err)
	assert.Equal(t, "site-a", info.ID)
	assert.Equal(t, 1, info.InstancesInUse)

	_, err = h.mgr.GetResourcesInfo(h.ctx, "forged")
	assert.Equal(t, types.ErrAuthentication, types.GetErrorCode(err))
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestManager_StartResumesRestoredWork(t *testing.T) {
	h := newHarness(t)
	h.fulfilled(request.TypeOneTime)

	h.mgr.Start(h.ctx)
	testutil.AssertEventuallyTrue(t, func() bool { return h.usage.calls() > 0 }, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, h.mgr.Shutdown(ctx))
	assert.False(t, h.mgr.LoopActive(LoopMonitor))
}
