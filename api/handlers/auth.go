package handlers

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/fgan1/fogbow-manager/federation"
	"github.com/fgan1/fogbow-manager/types"
)

// AuthTokenHeader 用户访问令牌所在的请求头
const AuthTokenHeader = "X-Auth-Token"

// accessID 返回调用者的访问令牌；中间件已写入 context 时优先使用
func accessID(r *http.Request) string {
	if id, ok := types.AccessID(r.Context()); ok {
		return id
	}
	return strings.TrimSpace(r.Header.Get(AuthTokenHeader))
}

// requireAccessID 缺少令牌时写 401 并返回 false
func requireAccessID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (string, bool) {
	id := accessID(r)
	if id == "" {
		WriteError(w, types.NewAuthError(), logger)
		return "", false
	}
	return id, true
}

// Authenticator 解析访问令牌
type Authenticator interface {
	GetToken(ctx context.Context, accessID string) (*types.Token, error)
}

// PeerVerifier 校验成员间 bearer token 并返回调用方成员 id
type PeerVerifier interface {
	Verify(token string) (string, error)
}

// RequirePeer 联邦端点的认证中间件。
// 校验通过后调用方成员 id 写入 context（types.MemberID）。
func RequirePeer(verifier PeerVerifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(raw, "Bearer ")
			if !ok || token == "" {
				WriteError(w, types.NewAuthError(), logger)
				return
			}
			memberID, err := verifier.Verify(token)
			if err != nil {
				WriteError(w, types.NewAuthError().WithCause(err), logger)
				return
			}
			if claimed := r.Header.Get(federation.MemberHeader); claimed != "" && claimed != memberID {
				WriteError(w, types.NewOwnershipError(), logger)
				return
			}
			next.ServeHTTP(w, r.WithContext(types.WithMemberID(r.Context(), memberID)))
		})
	}
}
