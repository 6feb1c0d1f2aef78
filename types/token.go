package types

import "time"

// Token is a credential resolved by an identity provider.
type Token struct {
	AccessID   string            `json:"access_id"`
	User       string            `json:"user"`
	ExpiresAt  time.Time         `json:"expires_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Remaining returns how long the token stays valid after now.
func (t *Token) Remaining(now time.Time) time.Duration {
	if t == nil {
		return 0
	}
	return t.ExpiresAt.Sub(now)
}

// Expired reports whether the token is past its expiration.
func (t *Token) Expired(now time.Time) bool {
	return t.Remaining(now) <= 0
}

// Clone returns a deep copy of the token.
func (t *Token) Clone() *Token {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Attributes != nil {
		cp.Attributes = make(map[string]string, len(t.Attributes))
		for k, v := range t.Attributes {
			cp.Attributes[k] = v
		}
	}
	return &cp
}
