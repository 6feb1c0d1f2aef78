package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/fgan1/fogbow-manager/federation"
	"github.com/fgan1/fogbow-manager/plugins"
	"github.com/fgan1/fogbow-manager/types"
)

// =============================================================================
// 🌐 联邦端点（成员间调用）
// =============================================================================

// FederationService 为其他成员提供服务的一侧
type FederationService interface {
	CreateInstanceForRemoteMember(ctx context.Context, memberID string, order federation.InstanceOrder) (string, error)
	GetInstanceForRemoteMember(ctx context.Context, memberID, instanceID string) (*plugins.Instance, error)
	RemoveInstanceForRemoteMember(ctx context.Context, memberID, instanceID string) error
	RegisterMember(callerID string, member federation.Member) error
	Members(ctx context.Context) []federation.Member
}

// FederationHandler 联邦端点处理器。
// 所有路由都挂在 RequirePeer 之后，调用方成员 id 从 context 读取。
type FederationHandler struct {
	svc      FederationService
	verifier PeerVerifier
	logger   *zap.Logger
}

// NewFederationHandler 创建联邦处理器
func NewFederationHandler(svc FederationService, verifier PeerVerifier, logger *zap.Logger) *FederationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FederationHandler{
		svc:      svc,
		verifier: verifier,
		logger:   logger.With(zap.String("handler", "federation")),
	}
}

// Register 注册路由，统一包上 peer 认证
func (h *FederationHandler) Register(mux *http.ServeMux) {
	auth := RequirePeer(h.verifier, h.logger)
	mux.Handle("POST "+federation.InstancesPath, auth(http.HandlerFunc(h.HandleCreateInstance)))
	mux.Handle("GET "+federation.InstancesPath+"/{id}", auth(http.HandlerFunc(h.HandleGetInstance)))
	mux.Handle("DELETE "+federation.InstancesPath+"/{id}", auth(http.HandlerFunc(h.HandleRemoveInstance)))
	mux.Handle("POST "+federation.MembersPath, auth(http.HandlerFunc(h.HandleRegisterMember)))
	mux.Handle("GET "+federation.MembersPath, auth(http.HandlerFunc(h.HandleListMembers)))
}

func callerID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (string, bool) {
	id, ok := types.MemberID(r.Context())
	if !ok || id == "" {
		WriteError(w, types.NewAuthError(), logger)
		return "", false
	}
	return id, true
}

// HandleCreateInstance 为远端成员的用户创建实例。
// 容量不足时返回空 instance_id，由调用方换一个成员重试。
// @Summary 远端创建实例
// @Tags federation
// @Accept json
// @Produce json
// @Param body body federation.InstanceOrder true "订单"
// @Success 200 {object} Response{data=federation.InstanceOrderResult}
// @Router /federation/v1/instances [post]
func (h *FederationHandler) HandleCreateInstance(w http.ResponseWriter, r *http.Request) {
	member, ok := callerID(w, r, h.logger)
	if !ok {
		return
	}
	var order federation.InstanceOrder
	if err := DecodeJSONBody(w, r, &order, h.logger); err != nil {
		return
	}
	if order.User == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "order user is required"), h.logger)
		return
	}

	instanceID, err := h.svc.CreateInstanceForRemoteMember(r.Context(), member, order)
	if err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	WriteSuccess(w, federation.InstanceOrderResult{InstanceID: instanceID})
}

// HandleGetInstance 查询为远端成员创建的实例
func (h *FederationHandler) HandleGetInstance(w http.ResponseWriter, r *http.Request) {
	member, ok := callerID(w, r, h.logger)
	if !ok {
		return
	}
	id := r.PathValue("id")
	inst, err := h.svc.GetInstanceForRemoteMember(r.Context(), member, id)
	if err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	if inst == nil {
		WriteError(w, types.NewNotFoundError("instance", id), h.logger)
		return
	}
	WriteSuccess(w, inst)
}

// HandleRemoveInstance 删除为远端成员创建的实例
func (h *FederationHandler) HandleRemoveInstance(w http.ResponseWriter, r *http.Request) {
	member, ok := callerID(w, r, h.logger)
	if !ok {
		return
	}
	if err := h.svc.RemoveInstanceForRemoteMember(r.Context(), member, r.PathValue("id")); err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	WriteSuccess(w, nil)
}

// HandleRegisterMember 接收成员心跳
// @Summary 成员心跳
// @Tags federation
// @Accept json
// @Param body body federation.Member true "成员"
// @Success 200 {object} Response{data=[]federation.Member}
// @Router /federation/v1/members [post]
func (h *FederationHandler) HandleRegisterMember(w http.ResponseWriter, r *http.Request) {
	member, ok := callerID(w, r, h.logger)
	if !ok {
		return
	}
	var m federation.Member
	if err := DecodeJSONBody(w, r, &m, h.logger); err != nil {
		return
	}
	if err := h.svc.RegisterMember(member, m); err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	WriteSuccess(w, h.svc.Members(r.Context()))
}

// HandleListMembers 列出已知成员
func (h *FederationHandler) HandleListMembers(w http.ResponseWriter, r *http.Request) {
	if _, ok := callerID(w, r, h.logger); !ok {
		return
	}
	WriteSuccess(w, h.svc.Members(r.Context()))
}
