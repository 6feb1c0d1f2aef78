package accounting

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fgan1/fogbow-manager/plugins"
	"github.com/fgan1/fogbow-manager/request"
)

// Key identifies an accounting bucket.
type Key struct {
	User   string
	Member string
}

// Sample is one fulfilled request observed by the monitor, with the
// instance snapshot it fetched (nil when the lookup failed).
type Sample struct {
	Request  *request.Request
	Instance *plugins.Instance
}

// Usage is the report returned to users.
type Usage struct {
	User     string             `json:"user"`
	ByMember map[string]float64 `json:"by_member"`
	Total    float64            `json:"total"`
}

// Service accrues usage from monitor samples.
type Service struct {
	store         *Store
	benchmarker   plugins.Benchmarker
	localMemberID string
	now           func() time.Time
	logger        *zap.Logger

	mu       sync.Mutex
	lastSeen map[string]time.Time // request id -> last accounted time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock overrides the clock.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService 创建记账服务
func NewService(store *Store, benchmarker plugins.Benchmarker, localMemberID string, logger *zap.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if benchmarker == nil {
		benchmarker = NewFCUBenchmarker(logger)
	}
	s := &Service{
		store:         store,
		benchmarker:   benchmarker,
		localMemberID: localMemberID,
		now:           time.Now,
		logger:        logger.With(zap.String("component", "accounting")),
		lastSeen:      make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Update accounts every sample since the previous call. A request seen for
// the first time starts its meter and accrues nothing. Requests missing from
// samples stop being metered.
func (s *Service) Update(ctx context.Context, samples []Sample) error {
	now := s.now()
	deltas := make(map[Key]float64)

	s.mu.Lock()
	seen := make(map[string]struct{}, len(samples))
	for _, sample := range samples {
		req := sample.Request
		if req == nil || req.InstanceID == "" {
			continue
		}
		seen[req.ID] = struct{}{}

		if sample.Instance != nil && s.benchmarker.Power(req.InstanceID) == plugins.UndefinedPower {
			inst := sample.Instance.Clone()
			inst.ID = req.InstanceID
			s.benchmarker.Run(inst)
		}

		last, ok := s.lastSeen[req.ID]
		s.lastSeen[req.ID] = now
		if !ok {
			continue
		}
		power := s.benchmarker.Power(req.InstanceID)
		if power == plugins.UndefinedPower {
			continue
		}
		minutes := now.Sub(last).Minutes()
		if minutes <= 0 {
			continue
		}
		deltas[Key{User: req.Owner, Member: s.memberOf(req)}] += power * minutes
	}
	for id := range s.lastSeen {
		if _, ok := seen[id]; !ok {
			delete(s.lastSeen, id)
		}
	}
	s.mu.Unlock()

	if err := s.store.Add(ctx, deltas); err != nil {
		s.logger.Error("failed to persist usage", zap.Error(err))
		return err
	}
	if len(deltas) > 0 {
		s.logger.Debug("usage accounted", zap.Int("buckets", len(deltas)))
	}
	return nil
}

// UserUsage reports a user's consumption per providing member.
func (s *Service) UserUsage(ctx context.Context, user string) (*Usage, error) {
	recs, err := s.store.ByUser(ctx, user)
	if err != nil {
		return nil, err
	}
	u := &Usage{User: user, ByMember: make(map[string]float64, len(recs))}
	for _, rec := range recs {
		u.ByMember[rec.MemberID] = rec.Consumption
		u.Total += rec.Consumption
	}
	return u, nil
}

// MembersUsage reports the consumption served by each member.
func (s *Service) MembersUsage(ctx context.Context) (map[string]float64, error) {
	return s.store.MemberTotals(ctx)
}

// UsersUsage reports the consumption of each user.
func (s *Service) UsersUsage(ctx context.Context) (map[string]float64, error) {
	return s.store.UserTotals(ctx)
}

func (s *Service) memberOf(req *request.Request) string {
	if req.ProvidingMemberID != "" {
		return req.ProvidingMemberID
	}
	return s.localMemberID
}
