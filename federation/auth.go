package federation

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MemberHeader carries the calling member id next to the bearer token.
const MemberHeader = "X-Fogbow-Member"

type peerClaims struct {
	Member string `json:"member"`
	jwt.RegisteredClaims
}

// PeerAuth signs and verifies the bearer tokens members present to each
// other. All members of a federation share the secret.
type PeerAuth struct {
	selfID string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewPeerAuth 创建成员间认证器
func NewPeerAuth(selfID, secret string, ttl time.Duration) (*PeerAuth, error) {
	if secret == "" {
		return nil, fmt.Errorf("federation secret is required")
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &PeerAuth{selfID: selfID, secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Sign returns a short-lived token asserting this member's identity.
func (a *PeerAuth) Sign() (string, error) {
	now := a.now()
	claims := peerClaims{
		Member: a.selfID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.selfID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify checks a token and returns the calling member id.
func (a *PeerAuth) Verify(token string) (string, error) {
	claims := &peerClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", err
	}
	if claims.Member == "" {
		return "", fmt.Errorf("token has no member claim")
	}
	return claims.Member, nil
}
