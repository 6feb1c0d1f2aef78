package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fgan1/fogbow-manager/plugins"
	"github.com/fgan1/fogbow-manager/types"
)

// MockIdentity 是 plugins.Identity 的模拟实现，token 保存在内存中
type MockIdentity struct {
	mu       sync.Mutex
	now      func() time.Time
	ttl      time.Duration
	tokens   map[string]*types.Token
	users    map[string]string
	seq      int
	reissued []string
	created  int

	reissueErr error
}

var _ plugins.Identity = (*MockIdentity)(nil)

// NewMockIdentity 创建 MockIdentity；now 为 nil 时使用 time.Now
func NewMockIdentity(now func() time.Time) *MockIdentity {
	if now == nil {
		now = time.Now
	}
	return &MockIdentity{
		now:    now,
		ttl:    time.Hour,
		tokens: make(map[string]*types.Token),
		users:  make(map[string]string),
	}
}

// WithUser 注册用户名与密码
func (m *MockIdentity) WithUser(user, password string) *MockIdentity {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user] = password
	return m
}

// WithTTL 设置新签发 token 的有效期
func (m *MockIdentity) WithTTL(ttl time.Duration) *MockIdentity {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ttl = ttl
	return m
}

// WithReissueError 让 Reissue 失败
func (m *MockIdentity) WithReissueError(err error) *MockIdentity {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reissueErr = err
	return m
}

// AddToken 登记一个 token
func (m *MockIdentity) AddToken(accessID, user string, expiresAt time.Time) *types.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok := &types.Token{AccessID: accessID, User: user, ExpiresAt: expiresAt}
	m.tokens[accessID] = tok
	return tok.Clone()
}

// Revoke 使 token 失效
func (m *MockIdentity) Revoke(accessID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, accessID)
}

// CreateToken implements plugins.Identity.
func (m *MockIdentity) CreateToken(_ context.Context, credentials map[string]string) (*types.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user := credentials[plugins.CredentialUsername]
	if pw, ok := m.users[user]; !ok || pw != credentials[plugins.CredentialPassword] {
		return nil, types.NewAuthError()
	}
	m.created++
	return m.issueLocked(user), nil
}

// IsValid implements plugins.Identity.
func (m *MockIdentity) IsValid(_ context.Context, accessID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[accessID]
	return ok && !tok.Expired(m.now())
}

// GetToken implements plugins.Identity.
func (m *MockIdentity) GetToken(_ context.Context, accessID string) (*types.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[accessID]
	if !ok || tok.Expired(m.now()) {
		return nil, types.NewAuthError()
	}
	return tok.Clone(), nil
}

// Reissue implements plugins.Identity.
func (m *MockIdentity) Reissue(_ context.Context, token *types.Token) (*types.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reissueErr != nil {
		return nil, m.reissueErr
	}
	m.reissued = append(m.reissued, token.AccessID)
	return m.issueLocked(token.User), nil
}

// Reissued 返回被续签的 access id
func (m *MockIdentity) Reissued() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.reissued...)
}

// CreatedTokens 返回 CreateToken 成功次数
func (m *MockIdentity) CreatedTokens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created
}

func (m *MockIdentity) issueLocked(user string) *types.Token {
	m.seq++
	tok := &types.Token{
		AccessID:  fmt.Sprintf("%s-token-%d", user, m.seq),
		User:      user,
		ExpiresAt: m.now().Add(m.ttl),
	}
	m.tokens[tok.AccessID] = tok
	return tok.Clone()
}
