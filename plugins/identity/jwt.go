// Package identity provides a JWT based identity provider. Access ids are
// HS256-signed tokens whose subject is the user and whose expiry is the
// credential expiration.
package identity

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fgan1/fogbow-manager/plugins"
	"github.com/fgan1/fogbow-manager/types"
)

// Config 身份提供方配置
type Config struct {
	// HMAC 签名密钥
	Secret string `yaml:"secret" json:"-"`
	// 签发者
	Issuer string `yaml:"issuer" json:"issuer"`
	// Token 有效期
	TokenTTL time.Duration `yaml:"token_ttl" json:"token_ttl"`
	// 过期后仍允许续签的时长
	RenewalGrace time.Duration `yaml:"renewal_grace" json:"renewal_grace"`
	// 用户名 -> 密码
	Users map[string]string `yaml:"users" json:"-"`
}

// DefaultConfig 返回默认身份配置
func DefaultConfig() Config {
	return Config{
		Issuer:       "fogbow-manager",
		TokenTTL:     time.Hour,
		RenewalGrace: 10 * time.Minute,
		Users:        map[string]string{},
	}
}

type tokenClaims struct {
	Tenant string `json:"tenant,omitempty"`
	jwt.RegisteredClaims
}

// JWTIdentity implements plugins.Identity with self-contained JWTs.
type JWTIdentity struct {
	cfg    Config
	secret []byte
	now    func() time.Time
	logger *zap.Logger
}

var _ plugins.Identity = (*JWTIdentity)(nil)

// Option configures a JWTIdentity.
type Option func(*JWTIdentity)

// WithClock overrides the clock, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(i *JWTIdentity) { i.now = now }
}

// NewJWTIdentity creates the provider.
func NewJWTIdentity(cfg Config, logger *zap.Logger, opts ...Option) (*JWTIdentity, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("identity secret is required")
	}
	if cfg.TokenTTL <= 0 {
		return nil, fmt.Errorf("token ttl must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	i := &JWTIdentity{
		cfg:    cfg,
		secret: []byte(cfg.Secret),
		now:    time.Now,
		logger: logger.With(zap.String("component", "jwt_identity")),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// CreateToken authenticates username/password credentials.
func (i *JWTIdentity) CreateToken(_ context.Context, credentials map[string]string) (*types.Token, error) {
	user := credentials[plugins.CredentialUsername]
	password, known := i.cfg.Users[user]
	if user == "" || !known ||
		subtle.ConstantTimeCompare([]byte(password), []byte(credentials[plugins.CredentialPassword])) != 1 {
		i.logger.Debug("authentication failed", zap.String("user", user))
		return nil, types.NewAuthError()
	}
	return i.issue(user, credentials[plugins.CredentialTenant])
}

// IsValid implements plugins.Identity.
func (i *JWTIdentity) IsValid(ctx context.Context, accessID string) bool {
	_, err := i.GetToken(ctx, accessID)
	return err == nil
}

// GetToken implements plugins.Identity.
func (i *JWTIdentity) GetToken(_ context.Context, accessID string) (*types.Token, error) {
	claims, err := i.parse(accessID, true)
	if err != nil {
		return nil, types.NewAuthError().WithCause(err)
	}
	return toToken(accessID, claims), nil
}

// Reissue returns a fresh token for the token's user. Tokens that expired
// less than RenewalGrace ago are still renewable.
func (i *JWTIdentity) Reissue(_ context.Context, token *types.Token) (*types.Token, error) {
	if token == nil {
		return nil, types.NewAuthError()
	}
	claims, err := i.parse(token.AccessID, false)
	if err != nil {
		return nil, types.NewAuthError().WithCause(err)
	}
	if claims.ExpiresAt != nil && i.now().Sub(claims.ExpiresAt.Time) > i.cfg.RenewalGrace {
		return nil, types.NewAuthError().WithCause(fmt.Errorf("token expired beyond renewal grace"))
	}
	return i.issue(claims.Subject, claims.Tenant)
}

func (i *JWTIdentity) issue(user, tenant string) (*types.Token, error) {
	now := i.now()
	claims := tokenClaims{
		Tenant: tenant,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   user,
			Issuer:    i.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.cfg.TokenTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to sign token").WithCause(err)
	}
	return toToken(signed, &claims), nil
}

func (i *JWTIdentity) parse(accessID string, validateClaims bool) (*tokenClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	}
	if i.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.cfg.Issuer))
	}
	if !validateClaims {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(accessID, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}

func toToken(accessID string, claims *tokenClaims) *types.Token {
	tok := &types.Token{AccessID: accessID, User: claims.Subject}
	if claims.ExpiresAt != nil {
		tok.ExpiresAt = claims.ExpiresAt.Time
	}
	if claims.Tenant != "" {
		tok.Attributes = map[string]string{plugins.CredentialTenant: claims.Tenant}
	}
	return tok
}
