package federation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fgan1/fogbow-manager/plugins"
	"github.com/fgan1/fogbow-manager/request"
	"github.com/fgan1/fogbow-manager/types"
)

const testSecret = "federation-secret"

func writeEnvelope(w http.ResponseWriter, status int, data any, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]any{"success": code == ""}
	if data != nil {
		body["data"] = data
	}
	if code != "" {
		body["error"] = map[string]string{"code": code, "message": strings.ToLower(code)}
	}
	_ = json.NewEncoder(w).Encode(body)
}

// fakeMember serves the peer endpoints for a single instance "remote-1".
func fakeMember(t *testing.T, auth *PeerAuth, accept bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := auth.Verify(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if err != nil || caller != r.Header.Get(MemberHeader) {
			writeEnvelope(w, http.StatusUnauthorized, nil, string(types.ErrUnauthorized))
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == InstancesPath:
			var order InstanceOrder
			require.NoError(t, json.NewDecoder(r.Body).Decode(&order))
			assert.NotContains(t, order.Attributes, request.AttrInstanceCount)
			id := ""
			if accept {
				id = "remote-1"
			}
			writeEnvelope(w, http.StatusOK, InstanceOrderResult{InstanceID: id}, "")
		case r.Method == http.MethodGet && r.URL.Path == InstancesPath+"/remote-1":
			writeEnvelope(w, http.StatusOK, plugins.Instance{ID: "remote-1", State: plugins.InstanceStateRunning}, "")
		case r.Method == http.MethodDelete && r.URL.Path == InstancesPath+"/remote-1":
			writeEnvelope(w, http.StatusOK, nil, "")
		case strings.HasPrefix(r.URL.Path, InstancesPath+"/"):
			writeEnvelope(w, http.StatusNotFound, nil, string(types.ErrNotFound))
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestPeer(t *testing.T, book AddressBook) *HTTPPeer {
	t.Helper()
	auth, err := NewPeerAuth("home", testSecret, time.Minute)
	require.NoError(t, err)
	client, err := NewHTTPClient(HTTPPeerConfig{Timeout: 2 * time.Second})
	require.NoError(t, err)
	return NewHTTPPeer(client, book, auth, nil)
}

func TestHTTPPeer_SubmitFetchRelease(t *testing.T) {
	serverAuth, err := NewPeerAuth("remote", testSecret, time.Minute)
	require.NoError(t, err)
	srv := fakeMember(t, serverAuth, true)
	defer srv.Close()

	reg := NewRegistry("home", 0, []Member{{ID: "remote", Address: srv.URL}})
	peer := newTestPeer(t, reg)
	ctx := context.Background()

	req := &request.Request{
		ID:         "r1",
		Owner:      "alice",
		State:      request.StateOpen,
		Attributes: map[string]string{request.AttrInstanceCount: "2", "x": "y"},
	}
	member, _ := reg.Get("remote")
	id, err := peer.Submit(ctx, req, member)
	require.NoError(t, err)
	assert.Equal(t, "remote-1", id)

	req.State = request.StateFulfilled
	req.InstanceID = id
	req.ProvidingMemberID = "remote"
	inst, err := peer.FetchInstance(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, plugins.InstanceStateRunning, inst.State)

	require.NoError(t, peer.Release(ctx, req))

	req.InstanceID = "gone"
	_, err = peer.FetchInstance(ctx, req)
	assert.True(t, types.IsNotFound(err))
}

func TestHTTPPeer_DeletedRequestUsesTeardownHandle(t *testing.T) {
	serverAuth, err := NewPeerAuth("remote", testSecret, time.Minute)
	require.NoError(t, err)
	srv := fakeMember(t, serverAuth, true)
	defer srv.Close()

	reg := NewRegistry("home", 0, []Member{{ID: "remote", Address: srv.URL}})
	peer := newTestPeer(t, reg)

	req := &request.Request{
		ID:                 "r1",
		State:              request.StateDeleted,
		TeardownInstanceID: "remote-1",
		TeardownMemberID:   "remote",
	}
	inst, err := peer.FetchInstance(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "remote-1", inst.ID)
}

func TestHTTPPeer_Declined(t *testing.T) {
	serverAuth, err := NewPeerAuth("remote", testSecret, time.Minute)
	require.NoError(t, err)
	srv := fakeMember(t, serverAuth, false)
	defer srv.Close()

	peer := newTestPeer(t, NewRegistry("home", 0, nil))
	id, err := peer.Submit(context.Background(), &request.Request{ID: "r1"}, Member{ID: "remote", Address: srv.URL})
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestHTTPPeer_WrongSecretIsUnavailable(t *testing.T) {
	serverAuth, err := NewPeerAuth("remote", "another-secret", time.Minute)
	require.NoError(t, err)
	srv := fakeMember(t, serverAuth, true)
	defer srv.Close()

	peer := newTestPeer(t, NewRegistry("home", 0, nil))
	_, err = peer.Submit(context.Background(), &request.Request{ID: "r1"}, Member{ID: "remote", Address: srv.URL})
	require.Error(t, err)
	assert.Equal(t, types.ErrRemoteUnavailable, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestHTTPPeer_UnreachableAndUnknownMember(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	reg := NewRegistry("home", 0, []Member{{ID: "down", Address: addr}})
	peer := newTestPeer(t, reg)
	ctx := context.Background()

	_, err := peer.Submit(ctx, &request.Request{ID: "r1"}, Member{ID: "down", Address: addr})
	assert.Equal(t, types.ErrRemoteUnavailable, types.GetErrorCode(err))

	req := &request.Request{ID: "r1", State: request.StateFulfilled, InstanceID: "i", ProvidingMemberID: "nobody"}
	_, err = peer.FetchInstance(ctx, req)
	assert.Equal(t, types.ErrRemoteUnavailable, types.GetErrorCode(err))
	assert.False(t, types.IsNotFound(err))
}

func TestHTTPPeer_PlainNotFoundIsNotInstanceLoss(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	reg := NewRegistry("home", 0, []Member{{ID: "m", Address: srv.URL}})
	peer := newTestPeer(t, reg)
	req := &request.Request{ID: "r1", State: request.StateFulfilled, InstanceID: "i", ProvidingMemberID: "m"}
	_, err := peer.FetchInstance(context.Background(), req)
	require.Error(t, err)
	assert.False(t, types.IsNotFound(err))
}

func TestPeerAuth(t *testing.T) {
	a, err := NewPeerAuth("m1", testSecret, time.Minute)
	require.NoError(t, err)
	token, err := a.Sign()
	require.NoError(t, err)

	b, err := NewPeerAuth("m2", testSecret, time.Minute)
	require.NoError(t, err)
	member, err := b.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "m1", member)

	b.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = b.Verify(token)
	assert.Error(t, err, "expired token")

	_, err = NewPeerAuth("m1", "", time.Minute)
	assert.Error(t, err)
}

func TestEndpoint(t *testing.T) {
	assert.Equal(t, "http://host:1/x", endpoint("host:1", "/x"))
	assert.Equal(t, "https://host/x", endpoint("https://host/", "/x"))
}
