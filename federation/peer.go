package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fgan1/fogbow-manager/internal/tlsutil"
	"github.com/fgan1/fogbow-manager/plugins"
	"github.com/fgan1/fogbow-manager/request"
	"github.com/fgan1/fogbow-manager/types"
)

// Peer protocol paths, served by every manager.
const (
	InstancesPath = "/federation/v1/instances"
	MembersPath   = "/federation/v1/members"
)

// Peer is the remote peer protocol used to offload requests.
type Peer interface {
	// Submit asks member to provision an instance for req. An empty id with
	// a nil error means the member declined.
	Submit(ctx context.Context, req *request.Request, member Member) (string, error)

	// FetchInstance returns the remote instance of req, or a NOT_FOUND
	// error when the providing member no longer knows it.
	FetchInstance(ctx context.Context, req *request.Request) (*plugins.Instance, error)

	// Release removes the remote instance of req.
	Release(ctx context.Context, req *request.Request) error
}

// InstanceOrder is the body of a remote provisioning call.
type InstanceOrder struct {
	RequestID  string             `json:"request_id"`
	User       string             `json:"user"`
	Categories []request.Category `json:"categories"`
	Attributes map[string]string  `json:"attributes,omitempty"`
}

// InstanceOrderResult is the reply to an InstanceOrder.
type InstanceOrderResult struct {
	InstanceID string `json:"instance_id"`
}

// envelope mirrors the JSON response wrapper of the HTTP front end.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// AddressBook resolves member ids to members.
type AddressBook interface {
	Get(id string) (Member, bool)
}

// HTTPPeerConfig 成员间 HTTP 客户端配置
type HTTPPeerConfig struct {
	Timeout time.Duration
	// 私有 CA 证书（PEM），为空时使用系统根证书
	CAFile string
	// 仅用于测试环境的自签名证书
	InsecureSkipVerify bool
}

// NewHTTPClient builds the client used for peer and rendezvous calls.
func NewHTTPClient(cfg HTTPPeerConfig) (*http.Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	switch {
	case cfg.InsecureSkipVerify:
		return tlsutil.InsecureHTTPClient(cfg.Timeout), nil
	case cfg.CAFile != "":
		tlsCfg, err := tlsutil.WithCAFile(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		return &http.Client{Timeout: cfg.Timeout, Transport: tlsutil.Transport(tlsCfg)}, nil
	default:
		return tlsutil.SecureHTTPClient(cfg.Timeout), nil
	}
}

// HTTPPeer implements Peer over the JSON peer endpoints.
type HTTPPeer struct {
	book   AddressBook
	auth   *PeerAuth
	client *http.Client
	logger *zap.Logger
}

var _ Peer = (*HTTPPeer)(nil)

// NewHTTPPeer 创建 HTTP 成员客户端；client 为 nil 时使用默认安全客户端
func NewHTTPPeer(client *http.Client, book AddressBook, auth *PeerAuth, logger *zap.Logger) *HTTPPeer {
	if client == nil {
		client = tlsutil.SecureHTTPClient(30 * time.Second)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPPeer{
		book:   book,
		auth:   auth,
		client: client,
		logger: logger.With(zap.String("component", "http_peer")),
	}
}

// Submit implements Peer.
func (p *HTTPPeer) Submit(ctx context.Context, req *request.Request, member Member) (string, error) {
	order := InstanceOrder{
		RequestID:  req.ID,
		User:       req.Owner,
		Categories: req.Categories,
		Attributes: req.ProvisioningAttributes(),
	}
	var result InstanceOrderResult
	if err := p.do(ctx, member, http.MethodPost, InstancesPath, order, &result); err != nil {
		return "", err
	}
	p.logger.Debug("remote order answered",
		zap.String("member", member.ID),
		zap.String("request_id", req.ID),
		zap.String("instance_id", result.InstanceID))
	return result.InstanceID, nil
}

// FetchInstance implements Peer.
func (p *HTTPPeer) FetchInstance(ctx context.Context, req *request.Request) (*plugins.Instance, error) {
	instanceID, memberID := req.InstanceHandle()
	member, err := p.resolve(memberID)
	if err != nil {
		return nil, err
	}
	var inst plugins.Instance
	if err := p.do(ctx, member, http.MethodGet, instancePath(instanceID), nil, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// Release implements Peer.
func (p *HTTPPeer) Release(ctx context.Context, req *request.Request) error {
	instanceID, memberID := req.InstanceHandle()
	member, err := p.resolve(memberID)
	if err != nil {
		return err
	}
	return p.do(ctx, member, http.MethodDelete, instancePath(instanceID), nil, nil)
}

func (p *HTTPPeer) resolve(memberID string) (Member, error) {
	member, ok := p.book.Get(memberID)
	if !ok || member.Address == "" {
		return Member{}, types.NewRemoteUnavailableError(memberID, fmt.Errorf("unknown member"))
	}
	return member, nil
}

func (p *HTTPPeer) do(ctx context.Context, member Member, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal peer request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint(member.Address, path), body)
	if err != nil {
		return types.NewRemoteUnavailableError(member.ID, err)
	}
	token, err := p.auth.Sign()
	if err != nil {
		return fmt.Errorf("failed to sign peer token: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set(MemberHeader, p.auth.selfID)
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return types.NewRemoteUnavailableError(member.ID, err)
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env)

	if resp.StatusCode == http.StatusNotFound && decodeErr == nil &&
		env.Error != nil && env.Error.Code == string(types.ErrNotFound) {
		return types.NewError(types.ErrNotFound, "instance not found on member").WithMember(member.ID)
	}
	if resp.StatusCode >= 300 || decodeErr != nil || !env.Success {
		msg := http.StatusText(resp.StatusCode)
		if env.Error != nil && env.Error.Message != "" {
			msg = env.Error.Message
		}
		cause := fmt.Errorf("status=%d msg=%s", resp.StatusCode, msg)
		if decodeErr != nil && resp.StatusCode < 300 {
			cause = fmt.Errorf("decode peer response: %w", decodeErr)
		}
		return types.NewRemoteUnavailableError(member.ID, cause)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return types.NewRemoteUnavailableError(member.ID, fmt.Errorf("decode peer data: %w", err))
		}
	}
	return nil
}

func endpoint(address, path string) string {
	address = strings.TrimRight(address, "/")
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}
	return address + path
}

func instancePath(instanceID string) string {
	return InstancesPath + "/" + url.PathEscape(instanceID)
}
