package manager

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fgan1/fogbow-manager/accounting"
	"github.com/fgan1/fogbow-manager/plugins"
	"github.com/fgan1/fogbow-manager/request"
	"github.com/fgan1/fogbow-manager/types"
)

type lookup struct {
	instance *plugins.Instance
	err      error
}

// monitorTick checks every FULFILLED and DELETED request against its
// backend. Only a NOT_FOUND answer counts as a lost instance; any other
// failure is retried on the next tick.
func (m *Manager) monitorTick(ctx context.Context) bool {
	ctx, span := m.tracer.Start(ctx, "manager.monitor.tick")
	defer span.End()

	reqs := m.repo.ByState(request.StateFulfilled, request.StateDeleted)
	span.SetAttributes(attribute.Int("requests.watched", len(reqs)))

	results := make([]lookup, len(reqs))
	var g errgroup.Group
	g.SetLimit(m.cfg.MonitorConcurrency)
	for i, req := range reqs {
		g.Go(func() error {
			inst, err := m.fetchInstance(ctx, req)
			results[i] = lookup{instance: inst, err: err}
			return nil
		})
	}
	_ = g.Wait()

	samples := make([]accounting.Sample, 0, len(reqs))
	for i, req := range reqs {
		res := results[i]
		switch req.State {
		case request.StateFulfilled:
			switch {
			case res.err == nil:
				samples = append(samples, accounting.Sample{Request: req, Instance: res.instance})
			case types.IsNotFound(res.err):
				m.instanceLost(ctx, req)
			default:
				samples = append(samples, accounting.Sample{Request: req})
				m.logger.Warn("instance lookup failed",
					zap.String("request_id", req.ID),
					zap.String("instance_id", req.InstanceID),
					zap.Error(res.err))
			}
		case request.StateDeleted:
			switch {
			case types.IsNotFound(res.err):
				m.teardownConfirmed(req)
			case res.err == nil:
				m.retryRelease(ctx, req)
			default:
				m.logger.Debug("deleted instance still unreachable",
					zap.String("request_id", req.ID),
					zap.String("member_id", req.TeardownMemberID),
					zap.Error(res.err))
			}
		}
	}

	if m.usage != nil {
		if err := m.usage.Update(ctx, samples); err != nil {
			m.logger.Warn("usage accounting update failed", zap.Error(err))
		}
	}

	counts := m.repo.CountByState()
	return counts[request.StateFulfilled]+counts[request.StateDeleted] > 0
}

// instanceLost handles an instance that vanished without the user asking.
// Persistent requests keep their tunnel for the replacement instance.
func (m *Manager) instanceLost(ctx context.Context, req *request.Request) {
	m.logger.Warn("instance lost",
		zap.String("request_id", req.ID),
		zap.String("instance_id", req.InstanceID),
		zap.String("member_id", req.ProvidingMemberID))

	release := !req.IsPersistent()
	if release {
		m.releaseTunnel(ctx, req)
	}
	if err := m.instanceRemoved(req.ID, req.InstanceID, release); err != nil {
		m.logger.Debug("lost instance already handled", zap.String("request_id", req.ID), zap.Error(err))
	}
}

// teardownConfirmed settles a DELETED request whose remote instance is gone.
// Persistent requests are requeued, one-time requests are purged.
func (m *Manager) teardownConfirmed(req *request.Request) {
	if !req.IsPersistent() {
		m.purgeDeleted(req)
		return
	}
	_, err := m.repo.Transition(req.ID, []request.State{request.StateDeleted}, func(r *request.Request) error {
		r.State = request.StateOpen
		r.TeardownInstanceID = ""
		r.TeardownMemberID = ""
		return nil
	})
	if err != nil {
		m.logger.Debug("deleted request already settled", zap.String("request_id", req.ID), zap.Error(err))
		return
	}
	m.scheduler.Activate()
	m.logger.Info("deleted request requeued",
		zap.String("request_id", req.ID),
		zap.String("instance_id", req.TeardownInstanceID))
}

func (m *Manager) purgeDeleted(req *request.Request) {
	if _, err := m.repo.Remove(req.ID, request.StateDeleted); err != nil {
		m.logger.Debug("deleted request already purged", zap.String("request_id", req.ID), zap.Error(err))
		return
	}
	m.logger.Info("deleted request purged",
		zap.String("request_id", req.ID),
		zap.String("instance_id", req.TeardownInstanceID))
}

func (m *Manager) retryRelease(ctx context.Context, req *request.Request) {
	if err := m.releaseRemote(ctx, req); err != nil {
		m.logger.Warn("release retry failed",
			zap.String("request_id", req.ID),
			zap.String("instance_id", req.TeardownInstanceID),
			zap.String("member_id", req.TeardownMemberID),
			zap.Error(err))
		return
	}
	m.teardownConfirmed(req)
}
