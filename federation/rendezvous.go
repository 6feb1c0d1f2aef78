package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fgan1/fogbow-manager/internal/tlsutil"
)

// RendezvousClient announces this member to a rendezvous manager and
// fetches the live member list from it.
type RendezvousClient struct {
	address string
	auth    *PeerAuth
	client  *http.Client
	logger  *zap.Logger
}

// NewRendezvousClient 创建 rendezvous 客户端；client 为 nil 时使用默认安全客户端
func NewRendezvousClient(address string, client *http.Client, auth *PeerAuth, logger *zap.Logger) *RendezvousClient {
	if client == nil {
		client = tlsutil.SecureHTTPClient(30 * time.Second)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RendezvousClient{
		address: address,
		auth:    auth,
		client:  client,
		logger:  logger.With(zap.String("component", "rendezvous_client")),
	}
}

// IAmAlive posts self (address and resources snapshot).
func (c *RendezvousClient) IAmAlive(ctx context.Context, self Member) error {
	payload, err := json.Marshal(self)
	if err != nil {
		return fmt.Errorf("failed to marshal member: %w", err)
	}
	_, err = c.call(ctx, http.MethodPost, bytes.NewReader(payload))
	return err
}

// WhoIsAlive returns the members the rendezvous currently knows.
func (c *RendezvousClient) WhoIsAlive(ctx context.Context) ([]Member, error) {
	data, err := c.call(ctx, http.MethodGet, nil)
	if err != nil {
		return nil, err
	}
	var members []Member
	if len(data) > 0 {
		if err := json.Unmarshal(data, &members); err != nil {
			return nil, fmt.Errorf("decode member list: %w", err)
		}
	}
	c.logger.Debug("members fetched", zap.Int("count", len(members)))
	return members, nil
}

func (c *RendezvousClient) call(ctx context.Context, method string, body io.Reader) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint(c.address, MembersPath), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	token, err := c.auth.Sign()
	if err != nil {
		return nil, fmt.Errorf("failed to sign peer token: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set(MemberHeader, c.auth.selfID)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rendezvous unreachable: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&env); err != nil {
		return nil, fmt.Errorf("rendezvous status=%d: %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !env.Success {
		msg := http.StatusText(resp.StatusCode)
		if env.Error != nil {
			msg = env.Error.Message
		}
		return nil, fmt.Errorf("rendezvous rejected call: status=%d msg=%s", resp.StatusCode, msg)
	}
	return env.Data, nil
}
