package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/fgan1/fogbow-manager/accounting"
	"github.com/fgan1/fogbow-manager/api"
	"github.com/fgan1/fogbow-manager/federation"
	"github.com/fgan1/fogbow-manager/plugins"
	"github.com/fgan1/fogbow-manager/types"
)

// =============================================================================
// 📊 用量 / 成员 / 令牌
// =============================================================================

// UsageService 用量查询
type UsageService interface {
	UserUsage(ctx context.Context, user string) (*accounting.Usage, error)
	MembersUsage(ctx context.Context) (map[string]float64, error)
}

// MemberLister 成员列表
type MemberLister interface {
	Members(ctx context.Context) []federation.Member
}

// TokenIssuer 签发访问令牌
type TokenIssuer interface {
	CreateToken(ctx context.Context, credentials map[string]string) (*types.Token, error)
}

// AccountHandler 用户账户相关端点
type AccountHandler struct {
	auth    Authenticator
	issuer  TokenIssuer
	usage   UsageService
	members MemberLister
	logger  *zap.Logger
}

// NewAccountHandler 创建账户处理器；usage 为 nil 时不注册用量端点
func NewAccountHandler(auth Authenticator, issuer TokenIssuer, usage UsageService, members MemberLister, logger *zap.Logger) *AccountHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountHandler{
		auth:    auth,
		issuer:  issuer,
		usage:   usage,
		members: members,
		logger:  logger.With(zap.String("handler", "account")),
	}
}

// Register 注册路由
func (h *AccountHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/tokens", h.HandleCreateToken)
	mux.HandleFunc("GET /api/v1/members", h.HandleMembers)
	if h.usage != nil {
		mux.HandleFunc("GET /api/v1/usage", h.HandleUsage)
	}
}

// HandleCreateToken 用用户名密码换取访问令牌
// @Summary 签发令牌
// @Tags tokens
// @Accept json
// @Produce json
// @Param body body api.TokenRequest true "凭据"
// @Success 201 {object} Response{data=api.TokenResponse}
// @Failure 401 {object} Response
// @Router /api/v1/tokens [post]
func (h *AccountHandler) HandleCreateToken(w http.ResponseWriter, r *http.Request) {
	var body api.TokenRequest
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}
	if body.Username == "" || body.Password == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "username and password are required"), h.logger)
		return
	}

	creds := map[string]string{
		plugins.CredentialUsername: body.Username,
		plugins.CredentialPassword: body.Password,
	}
	if body.Tenant != "" {
		creds[plugins.CredentialTenant] = body.Tenant
	}
	tok, err := h.issuer.CreateToken(r.Context(), creds)
	if err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	WriteCreated(w, api.TokenResponse{AccessID: tok.AccessID, User: tok.User, ExpiresAt: tok.ExpiresAt})
}

// HandleMembers 列出联邦成员（含本成员）
// @Summary 成员列表
// @Tags members
// @Produce json
// @Success 200 {object} Response{data=[]api.Member}
// @Router /api/v1/members [get]
func (h *AccountHandler) HandleMembers(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}
	WriteSuccess(w, h.members.Members(r.Context()))
}

// HandleUsage 调用者的用量以及各成员的提供量
// @Summary 用量
// @Tags usage
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/usage [get]
func (h *AccountHandler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	tok, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	user, err := h.usage.UserUsage(r.Context(), tok.User)
	if err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	members, err := h.usage.MembersUsage(r.Context())
	if err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{
		"user":    user,
		"members": api.MembersUsage{Members: members},
	})
}

func (h *AccountHandler) authenticate(w http.ResponseWriter, r *http.Request) (*types.Token, bool) {
	id, ok := requireAccessID(w, r, h.logger)
	if !ok {
		return nil, false
	}
	tok, err := h.auth.GetToken(r.Context(), id)
	if err != nil {
		WriteFailure(w, err, h.logger)
		return nil, false
	}
	return tok, true
}
