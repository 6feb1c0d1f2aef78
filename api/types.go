package api

import (
	"time"

	"github.com/fgan1/fogbow-manager/accounting"
	"github.com/fgan1/fogbow-manager/federation"
	"github.com/fgan1/fogbow-manager/plugins"
	"github.com/fgan1/fogbow-manager/request"
)

// =============================================================================
// 请求类型
// =============================================================================

// CreateRequestsBody 创建请求的请求体。
// @Description 一次可创建多个相同的请求
type CreateRequestsBody struct {
	// 资源类别（镜像、规格等）
	Categories []request.Category `json:"categories"`
	// 透传给计算后端的属性
	Attributes map[string]string `json:"attributes,omitempty"`
	// 实例数量，缺省为 1
	InstanceCount int `json:"instance_count,omitempty" example:"2"`
	// one-time 或 persistent
	Type string `json:"type,omitempty" example:"one-time"`
	// 有效期（RFC 3339 或 YYYY-MM-DD）
	ValidFrom  string `json:"valid_from,omitempty" example:"2026-03-02T09:00:00Z"`
	ValidUntil string `json:"valid_until,omitempty" example:"2026-03-03"`
}

// RequestView 返回给用户的请求视图，不包含令牌。
// @Description 请求状态
type RequestView struct {
	ID                string             `json:"id"`
	Owner             string             `json:"owner"`
	State             request.State      `json:"state"`
	Type              request.Type       `json:"type"`
	Categories        []request.Category `json:"categories,omitempty"`
	Attributes        map[string]string  `json:"attributes,omitempty"`
	ValidFrom         *time.Time         `json:"valid_from,omitempty"`
	ValidUntil        *time.Time         `json:"valid_until,omitempty"`
	InstanceID        string             `json:"instance_id,omitempty"`
	ProvidingMemberID string             `json:"providing_member_id,omitempty"`
	TunnelAddress     string             `json:"tunnel_address,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// NewRequestView 从请求构建视图
func NewRequestView(r *request.Request) RequestView {
	return RequestView{
		ID:                r.ID,
		Owner:             r.Owner,
		State:             r.State,
		Type:              r.Type,
		Categories:        r.Categories,
		Attributes:        r.Attributes,
		ValidFrom:         r.ValidFrom,
		ValidUntil:        r.ValidUntil,
		InstanceID:        r.InstanceID,
		ProvidingMemberID: r.ProvidingMemberID,
		TunnelAddress:     r.TunnelAddress,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

// =============================================================================
// 实例与资源
// =============================================================================

// Instance 实例快照
type Instance = plugins.Instance

// ResourcesInfo 站点资源快照
type ResourcesInfo = plugins.ResourcesInfo

// Member 联邦成员
type Member = federation.Member

// Usage 用户用量
type Usage = accounting.Usage

// MembersUsage 各成员提供的用量
// @Description 按成员汇总的用量
type MembersUsage struct {
	Members map[string]float64 `json:"members"`
}

// =============================================================================
// 令牌
// =============================================================================

// TokenRequest 签发令牌的请求体
type TokenRequest struct {
	Username string `json:"username" example:"alice"`
	Password string `json:"password"`
	Tenant   string `json:"tenant,omitempty"`
}

// TokenResponse 签发的令牌
type TokenResponse struct {
	AccessID  string    `json:"access_id"`
	User      string    `json:"user"`
	ExpiresAt time.Time `json:"expires_at"`
}
