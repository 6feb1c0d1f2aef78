package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fgan1/fogbow-manager/accounting"
	"github.com/fgan1/fogbow-manager/federation"
	"github.com/fgan1/fogbow-manager/plugins"
	"github.com/fgan1/fogbow-manager/request"
)

const instrumentationName = "github.com/fgan1/fogbow-manager/manager"

// Loop names.
const (
	LoopScheduler    = "scheduler"
	LoopTokenUpdater = "token_updater"
	LoopMonitor      = "instance_monitor"
	LoopHeartbeat    = "heartbeat"
)

// Metrics receives orchestration events. internal/metrics.Collector
// implements it.
type Metrics interface {
	RecordTransition(from, to request.State)
	RecordProvisioning(target, outcome string)
	RecordLoopTick(loop string, d time.Duration, keep bool)
	RecordTokenRenewal(success bool)
	RecordPeerCall(op, outcome string)
}

// UsageRecorder is fed the fulfilled requests on every monitor tick.
type UsageRecorder interface {
	Update(ctx context.Context, samples []accounting.Sample) error
}

// Rendezvous announces this member and discovers the others.
type Rendezvous interface {
	IAmAlive(ctx context.Context, self federation.Member) error
	WhoIsAlive(ctx context.Context) ([]federation.Member, error)
}

// Dependencies are the collaborators injected into the Manager. Repository,
// Compute and Identity are required; the rest are optional.
type Dependencies struct {
	Repository *request.Repository
	Compute    plugins.Compute
	Identity   plugins.Identity

	Peer       federation.Peer
	Registry   *federation.Registry
	Picker     federation.Picker
	Rendezvous Rendezvous
	// 本成员对外公布的地址（rendezvous 心跳使用）
	SelfAddress string

	Tunnel     plugins.Tunnel
	Accounting UsageRecorder
	Metrics    Metrics
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides request id generation.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) { m.newID = gen }
}

// Manager is the request-lifecycle orchestrator.
type Manager struct {
	cfg Config

	repo       *request.Repository
	compute    plugins.Compute
	identity   plugins.Identity
	peer       federation.Peer
	registry   *federation.Registry
	picker     federation.Picker
	rendezvous Rendezvous
	selfAddr   string
	tunnel     plugins.Tunnel
	usage      UsageRecorder
	metrics    Metrics

	serviceToken *ServiceTokenCell

	// 为其他成员创建的实例: instance id -> member id
	servedMu sync.Mutex
	served   map[string]string

	scheduler    *PeriodicLoop
	tokenUpdater *PeriodicLoop
	monitor      *PeriodicLoop
	heartbeat    *PeriodicLoop

	now    func() time.Time
	newID  func() string
	tracer trace.Tracer
	logger *zap.Logger

	startOnce sync.Once
	stopOnce  sync.Once
}

// New 创建编排器
func New(cfg Config, deps Dependencies, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Repository == nil || deps.Compute == nil || deps.Identity == nil {
		return nil, errors.New("manager requires a repository, a compute backend and an identity provider")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		cfg:        cfg,
		repo:       deps.Repository,
		compute:    deps.Compute,
		identity:   deps.Identity,
		peer:       deps.Peer,
		registry:   deps.Registry,
		picker:     deps.Picker,
		rendezvous: deps.Rendezvous,
		selfAddr:   deps.SelfAddress,
		tunnel:     deps.Tunnel,
		usage:      deps.Accounting,
		metrics:    deps.Metrics,
		served:     make(map[string]string),
		now:        time.Now,
		newID:      newRequestID,
		tracer:     otel.Tracer(instrumentationName),
		logger:     logger.With(zap.String("component", "manager")),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.picker == nil {
		m.picker = federation.NewRoundRobin(nil)
	}
	m.serviceToken = NewServiceTokenCell(m.identity, cfg.federationCredentials(), cfg.CallTimeout, m.logger)

	m.scheduler = NewPeriodicLoop(LoopScheduler, cfg.SchedulerPeriod, m.scheduleTick, m.logger)
	m.tokenUpdater = NewPeriodicLoop(LoopTokenUpdater, cfg.TokenUpdatePeriod, m.updateTokensTick, m.logger)
	m.monitor = NewPeriodicLoop(LoopMonitor, cfg.InstanceMonitoringPeriod, m.monitorTick, m.logger)
	m.heartbeat = NewPeriodicLoop(LoopHeartbeat, cfg.HeartbeatPeriod, m.heartbeatTick, m.logger)
	if m.metrics != nil {
		for _, l := range m.loops() {
			l.SetObserver(m.metrics.RecordLoopTick)
		}
		m.repo.Observe(func(c request.Change) {
			if c.Kind == request.ChangeUpdated && c.Before.State != c.After.State {
				m.metrics.RecordTransition(c.Before.State, c.After.State)
			}
		})
	}
	return m, nil
}

// Start binds the loops to ctx and activates those that have work, e.g.
// after a restore from the journal.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		if m.repo.Len() > 0 {
			counts := m.repo.CountByState()
			if counts[request.StateOpen] > 0 {
				m.scheduler.Activate()
			}
			if counts[request.StateOpen]+counts[request.StateFulfilled]+counts[request.StateDeleted] > 0 {
				m.tokenUpdater.Activate()
			}
			if counts[request.StateFulfilled]+counts[request.StateDeleted] > 0 {
				m.monitor.Activate()
			}
		}
		if m.rendezvous != nil && m.registry != nil {
			m.heartbeat.Activate()
		}
		for _, l := range m.loops() {
			l.Start(ctx)
		}
		m.logger.Info("manager started",
			zap.String("member_id", m.cfg.MemberID),
			zap.Int("requests", m.repo.Len()))
	})
}

// Shutdown stops every loop and waits for running ticks.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopOnce.Do(func() {
		done := make(chan struct{})
		go func() {
			defer close(done)
			for _, l := range m.loops() {
				l.Stop()
			}
		}()
		select {
		case <-done:
		case <-ctx.Done():
		}
		m.logger.Info("manager stopped")
	})
	return ctx.Err()
}

// LoopActive reports whether the named loop is active.
func (m *Manager) LoopActive(name string) bool {
	for _, l := range m.loops() {
		if l.Name() == name {
			return l.Active()
		}
	}
	return false
}

// LoopStates returns the activation state of every loop.
func (m *Manager) LoopStates() map[string]bool {
	out := make(map[string]bool, 4)
	for _, l := range m.loops() {
		out[l.Name()] = l.Active()
	}
	return out
}

// Repository exposes the request repository.
func (m *Manager) Repository() *request.Repository {
	return m.repo
}

// MemberID returns this member's id.
func (m *Manager) MemberID() string {
	return m.cfg.MemberID
}

func (m *Manager) loops() []*PeriodicLoop {
	return []*PeriodicLoop{m.scheduler, m.tokenUpdater, m.monitor, m.heartbeat}
}

// callContext bounds a single external call.
func (m *Manager) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.cfg.CallTimeout)
}

func (m *Manager) recordProvisioning(target, outcome string) {
	if m.metrics != nil {
		m.metrics.RecordProvisioning(target, outcome)
	}
}

func (m *Manager) recordPeerCall(op string, err error) {
	if m.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.metrics.RecordPeerCall(op, outcome)
}

func (m *Manager) recordTokenRenewal(success bool) {
	if m.metrics != nil {
		m.metrics.RecordTokenRenewal(success)
	}
}

// String implements fmt.Stringer.
func (m *Manager) String() string {
	return fmt.Sprintf("manager(%s)", m.cfg.MemberID)
}
