package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/fgan1/fogbow-manager/plugins"
)

// =============================================================================
// 💻 实例 Handler
// =============================================================================

// InstanceService 实例与资源查询
type InstanceService interface {
	GetInstance(ctx context.Context, accessID, instanceID string) (*plugins.Instance, error)
	GetInstances(ctx context.Context, accessID string) ([]*plugins.Instance, error)
	RemoveInstance(ctx context.Context, accessID, instanceID string) error
	RemoveInstances(ctx context.Context, accessID string) error
	GetResourcesInfo(ctx context.Context, accessID string) (*plugins.ResourcesInfo, error)
}

// InstanceHandler 实例端点
type InstanceHandler struct {
	svc    InstanceService
	logger *zap.Logger
}

// NewInstanceHandler 创建实例处理器
func NewInstanceHandler(svc InstanceService, logger *zap.Logger) *InstanceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InstanceHandler{svc: svc, logger: logger.With(zap.String("handler", "instances"))}
}

// Register 注册路由
func (h *InstanceHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/instances", h.HandleList)
	mux.HandleFunc("DELETE /api/v1/instances", h.HandleDeleteAll)
	mux.HandleFunc("GET /api/v1/instances/{id}", h.HandleGet)
	mux.HandleFunc("DELETE /api/v1/instances/{id}", h.HandleDelete)
	mux.HandleFunc("GET /api/v1/resources", h.HandleResources)
}

// HandleList 列出调用者已分配的实例
// @Summary 列出实例
// @Tags instances
// @Produce json
// @Success 200 {object} Response{data=[]api.Instance}
// @Router /api/v1/instances [get]
func (h *InstanceHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	id, ok := requireAccessID(w, r, h.logger)
	if !ok {
		return
	}
	instances, err := h.svc.GetInstances(r.Context(), id)
	if err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	if instances == nil {
		instances = []*plugins.Instance{}
	}
	WriteSuccess(w, instances)
}

// HandleGet 查询单个实例，属性中带隧道地址
// @Summary 查询实例
// @Tags instances
// @Produce json
// @Param id path string true "实例 ID"
// @Success 200 {object} Response{data=api.Instance}
// @Failure 404 {object} Response
// @Router /api/v1/instances/{id} [get]
func (h *InstanceHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := requireAccessID(w, r, h.logger)
	if !ok {
		return
	}
	inst, err := h.svc.GetInstance(r.Context(), id, r.PathValue("id"))
	if err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	WriteSuccess(w, inst)
}

// HandleDelete 删除实例；持久请求会重新排队
func (h *InstanceHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := requireAccessID(w, r, h.logger)
	if !ok {
		return
	}
	if err := h.svc.RemoveInstance(r.Context(), id, r.PathValue("id")); err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	WriteSuccess(w, nil)
}

// HandleDeleteAll 删除调用者的全部实例
func (h *InstanceHandler) HandleDeleteAll(w http.ResponseWriter, r *http.Request) {
	id, ok := requireAccessID(w, r, h.logger)
	if !ok {
		return
	}
	if err := h.svc.RemoveInstances(r.Context(), id); err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	WriteSuccess(w, nil)
}

// HandleResources 本站点资源快照
// @Summary 资源信息
// @Tags resources
// @Produce json
// @Success 200 {object} Response{data=api.ResourcesInfo}
// @Router /api/v1/resources [get]
func (h *InstanceHandler) HandleResources(w http.ResponseWriter, r *http.Request) {
	id, ok := requireAccessID(w, r, h.logger)
	if !ok {
		return
	}
	info, err := h.svc.GetResourcesInfo(r.Context(), id)
	if err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	WriteSuccess(w, info)
}
