package handlers

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/fgan1/fogbow-manager/api"
	"github.com/fgan1/fogbow-manager/request"
	"github.com/fgan1/fogbow-manager/types"
)

// =============================================================================
// 📝 请求管理 Handler
// =============================================================================

// RequestService 请求生命周期操作
type RequestService interface {
	CreateRequests(ctx context.Context, accessID string, categories []request.Category, attrs map[string]string) ([]*request.Request, error)
	GetRequest(ctx context.Context, accessID, id string) (*request.Request, error)
	GetRequestsFromUser(ctx context.Context, accessID string) ([]*request.Request, error)
	RemoveRequest(ctx context.Context, accessID, id string) error
	RemoveAllRequests(ctx context.Context, accessID string) error
}

// RequestHandler 请求端点
type RequestHandler struct {
	svc    RequestService
	logger *zap.Logger
}

// NewRequestHandler 创建请求处理器
func NewRequestHandler(svc RequestService, logger *zap.Logger) *RequestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestHandler{svc: svc, logger: logger.With(zap.String("handler", "requests"))}
}

// Register 注册路由
func (h *RequestHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/requests", h.HandleCreate)
	mux.HandleFunc("GET /api/v1/requests", h.HandleList)
	mux.HandleFunc("DELETE /api/v1/requests", h.HandleDeleteAll)
	mux.HandleFunc("GET /api/v1/requests/{id}", h.HandleGet)
	mux.HandleFunc("DELETE /api/v1/requests/{id}", h.HandleDelete)
}

// HandleCreate 创建请求
// @Summary 创建请求
// @Description 按 instance_count 创建若干个相同的请求，调度器异步处理
// @Tags requests
// @Accept json
// @Produce json
// @Param body body api.CreateRequestsBody true "请求"
// @Success 201 {object} Response{data=[]api.RequestView}
// @Failure 400 {object} Response
// @Failure 401 {object} Response
// @Router /api/v1/requests [post]
func (h *RequestHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	id, ok := requireAccessID(w, r, h.logger)
	if !ok {
		return
	}

	var body api.CreateRequestsBody
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}
	if len(body.Categories) == 0 {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "at least one category is required"), h.logger)
		return
	}
	if body.InstanceCount < 0 {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "instance_count must be positive"), h.logger)
		return
	}

	reqs, err := h.svc.CreateRequests(r.Context(), id, body.Categories, orchestrationAttributes(body))
	if err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	WriteCreated(w, toRequestViews(reqs))
}

// orchestrationAttributes 把请求体中的编排字段并入属性，显式字段优先
func orchestrationAttributes(body api.CreateRequestsBody) map[string]string {
	attrs := make(map[string]string, len(body.Attributes)+4)
	for k, v := range body.Attributes {
		attrs[k] = v
	}
	if body.InstanceCount > 0 {
		attrs[request.AttrInstanceCount] = strconv.Itoa(body.InstanceCount)
	}
	if body.Type != "" {
		attrs[request.AttrType] = body.Type
	}
	if body.ValidFrom != "" {
		attrs[request.AttrValidFrom] = body.ValidFrom
	}
	if body.ValidUntil != "" {
		attrs[request.AttrValidUntil] = body.ValidUntil
	}
	return attrs
}

// HandleList 列出调用者的请求
// @Summary 列出请求
// @Tags requests
// @Produce json
// @Success 200 {object} Response{data=[]api.RequestView}
// @Router /api/v1/requests [get]
func (h *RequestHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	id, ok := requireAccessID(w, r, h.logger)
	if !ok {
		return
	}
	reqs, err := h.svc.GetRequestsFromUser(r.Context(), id)
	if err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	WriteSuccess(w, toRequestViews(reqs))
}

// HandleGet 查询单个请求
func (h *RequestHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := requireAccessID(w, r, h.logger)
	if !ok {
		return
	}
	req, err := h.svc.GetRequest(r.Context(), id, r.PathValue("id"))
	if err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.NewRequestView(req))
}

// HandleDelete 删除请求并释放其实例
func (h *RequestHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := requireAccessID(w, r, h.logger)
	if !ok {
		return
	}
	if err := h.svc.RemoveRequest(r.Context(), id, r.PathValue("id")); err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	WriteSuccess(w, nil)
}

// HandleDeleteAll 删除调用者的全部请求
func (h *RequestHandler) HandleDeleteAll(w http.ResponseWriter, r *http.Request) {
	id, ok := requireAccessID(w, r, h.logger)
	if !ok {
		return
	}
	if err := h.svc.RemoveAllRequests(r.Context(), id); err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	WriteSuccess(w, nil)
}

func toRequestViews(reqs []*request.Request) []api.RequestView {
	views := make([]api.RequestView, 0, len(reqs))
	for _, req := range reqs {
		views = append(views, api.NewRequestView(req))
	}
	return views
}
