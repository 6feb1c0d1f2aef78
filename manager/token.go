package manager

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fgan1/fogbow-manager/plugins"
	"github.com/fgan1/fogbow-manager/request"
	"github.com/fgan1/fogbow-manager/types"
)

// ServiceTokenCell caches the federation service token, the credential the
// manager uses when acting on its own behalf.
type ServiceTokenCell struct {
	identity    plugins.Identity
	credentials map[string]string
	timeout     time.Duration
	logger      *zap.Logger

	mu    sync.Mutex
	token *types.Token
}

// NewServiceTokenCell 创建服务 token 缓存
func NewServiceTokenCell(identity plugins.Identity, credentials map[string]string, timeout time.Duration, logger *zap.Logger) *ServiceTokenCell {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ServiceTokenCell{
		identity:    identity,
		credentials: credentials,
		timeout:     timeout,
		logger:      logger.With(zap.String("component", "service_token")),
	}
}

// ValidOrRefresh returns the cached token if the identity provider still
// accepts it, otherwise creates a new one from the federation credentials.
// Concurrent callers share a single refresh.
func (c *ServiceTokenCell) ValidOrRefresh(ctx context.Context) (*types.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.token != nil && c.identity.IsValid(callCtx, c.token.AccessID) {
		return c.token.Clone(), nil
	}

	tok, err := c.identity.CreateToken(callCtx, c.credentials)
	if err != nil {
		c.logger.Error("failed to create federation service token", zap.Error(err))
		return nil, types.NewAuthError().WithCause(err)
	}
	c.token = tok.Clone()
	c.logger.Info("federation service token refreshed", zap.Time("expires_at", tok.ExpiresAt))
	return tok, nil
}

// Invalidate drops the cached token.
func (c *ServiceTokenCell) Invalidate() {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
}

// =============================================================================
// Token updater
// =============================================================================

var tokenHolderStates = []request.State{request.StateOpen, request.StateFulfilled, request.StateDeleted}

// updateTokensTick renews every request token that would expire before the
// tick after next. CLOSED and FAILED requests are never renewed.
func (m *Manager) updateTokensTick(ctx context.Context) bool {
	ctx, span := m.tracer.Start(ctx, "manager.token_updater.tick")
	defer span.End()

	reqs := m.repo.ByState(tokenHolderStates...)
	if len(reqs) == 0 {
		return false
	}

	now := m.now()
	threshold := 2 * m.cfg.TokenUpdatePeriod
	renewed := 0
	for _, req := range reqs {
		if req.Token == nil || req.Token.Remaining(now) >= threshold {
			continue
		}
		if m.renewToken(ctx, req) {
			renewed++
		}
	}
	if renewed > 0 {
		m.logger.Debug("request tokens renewed", zap.Int("count", renewed))
	}
	return true
}

func (m *Manager) renewToken(ctx context.Context, req *request.Request) bool {
	callCtx, cancel := m.callContext(ctx)
	fresh, err := m.identity.Reissue(callCtx, req.Token)
	cancel()
	if err != nil || fresh == nil {
		m.recordTokenRenewal(false)
		m.logger.Warn("failed to renew request token",
			zap.String("request_id", req.ID),
			zap.String("owner", req.Owner),
			zap.Error(err))
		return false
	}

	_, err = m.repo.Transition(req.ID, tokenHolderStates, func(r *request.Request) error {
		r.Token = fresh.Clone()
		return nil
	})
	if err != nil {
		// 请求已结束或被删除
		m.logger.Debug("renewed token discarded", zap.String("request_id", req.ID), zap.Error(err))
		return false
	}
	m.recordTokenRenewal(true)
	return true
}
