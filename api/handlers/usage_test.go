package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fgan1/fogbow-manager/accounting"
	"github.com/fgan1/fogbow-manager/api"
	"github.com/fgan1/fogbow-manager/federation"
	"github.com/fgan1/fogbow-manager/plugins"
	"github.com/fgan1/fogbow-manager/types"
)

type fakeIdentity struct {
	creds map[string]string
}

func (f *fakeIdentity) CreateToken(_ context.Context, creds map[string]string) (*types.Token, error) {
	f.creds = creds
	if creds[plugins.CredentialPassword] != "pw" {
		return nil, types.NewAuthError()
	}
	return &types.Token{
		AccessID:  "tok-" + creds[plugins.CredentialUsername],
		User:      creds[plugins.CredentialUsername],
		ExpiresAt: time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC),
	}, nil
}

func (f *fakeIdentity) GetToken(_ context.Context, accessID string) (*types.Token, error) {
	if accessID != "tok-alice" {
		return nil, types.NewAuthError()
	}
	return &types.Token{AccessID: accessID, User: "alice"}, nil
}

type fakeUsage struct{}

func (fakeUsage) UserUsage(_ context.Context, user string) (*accounting.Usage, error) {
	return &accounting.Usage{User: user, ByMember: map[string]float64{"member-b": 2.5}, Total: 2.5}, nil
}

func (fakeUsage) MembersUsage(context.Context) (map[string]float64, error) {
	return map[string]float64{"member-a": 7}, nil
}

type staticMembers []federation.Member

func (s staticMembers) Members(context.Context) []federation.Member { return s }

func accountMux(usage UsageService) (*http.ServeMux, *fakeIdentity) {
	id := &fakeIdentity{}
	mux := http.NewServeMux()
	NewAccountHandler(id, id, usage, staticMembers{{ID: "member-a"}, {ID: "member-b"}}, nil).Register(mux)
	return mux, id
}

func TestAccountHandler_CreateToken(t *testing.T) {
	mux, id := accountMux(nil)

	w := serve(t, mux, http.MethodPost, "/api/v1/tokens", `{"username":"alice","password":"pw","tenant":"lab"}`, "")
	require.Equal(t, http.StatusCreated, w.Code)
	var tok api.TokenResponse
	decodeResponse(t, w, &tok)
	assert.Equal(t, "tok-alice", tok.AccessID)
	assert.Equal(t, "alice", tok.User)
	assert.Equal(t, "lab", id.creds[plugins.CredentialTenant])

	w = serve(t, mux, http.MethodPost, "/api/v1/tokens", `{"username":"alice","password":"nope"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(t, mux, http.MethodPost, "/api/v1/tokens", `{"username":"alice"}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAccountHandler_Members(t *testing.T) {
	mux, _ := accountMux(nil)

	w := serve(t, mux, http.MethodGet, "/api/v1/members", "", "tok-alice")
	require.Equal(t, http.StatusOK, w.Code)
	var members []api.Member
	decodeResponse(t, w, &members)
	assert.Len(t, members, 2)

	w = serve(t, mux, http.MethodGet, "/api/v1/members", "", "tok-mallory")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAccountHandler_Usage(t *testing.T) {
	mux, _ := accountMux(fakeUsage{})

	w := serve(t, mux, http.MethodGet, "/api/v1/usage", "", "tok-alice")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		User    accounting.Usage `json:"user"`
		Members api.MembersUsage `json:"members"`
	}
	decodeResponse(t, w, &body)
	assert.Equal(t, "alice", body.User.User)
	assert.InDelta(t, 2.5, body.User.ByMember["member-b"], 1e-9)
	assert.InDelta(t, 7.0, body.Members.Members["member-a"], 1e-9)
}

func TestAccountHandler_UsageDisabled(t *testing.T) {
	mux, _ := accountMux(nil)
	w := serve(t, mux, http.MethodGet, "/api/v1/usage", "", "tok-alice")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
