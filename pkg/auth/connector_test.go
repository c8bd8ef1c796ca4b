package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"bskyarchive/pkg/bsky"
	"bskyarchive/pkg/logger"
	"bskyarchive/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePDS answers the session endpoints of a single account.
type fakePDS struct {
	srv         *httptest.Server
	validAccess string
	creates     atomic.Int32
	refreshes   atomic.Int32
	deletes     atomic.Int32
}

func newFakePDS(t *testing.T) *fakePDS {
	t.Helper()
	p := &fakePDS{validAccess: "access-live"}

	mux := http.NewServeMux()
	mux.HandleFunc("/xrpc/"+bsky.NSIDGetSession, func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer " + p.validAccess:
			respond(w, http.StatusOK, map[string]string{"handle": "alice.bsky.social", "did": "did:plc:alice"})
		case "Bearer access-old":
			respond(w, http.StatusBadRequest, map[string]string{"error": "ExpiredToken", "message": "Token has expired"})
		default:
			respond(w, http.StatusUnauthorized, map[string]string{"error": "InvalidToken", "message": "Token could not be verified"})
		}
	})
	mux.HandleFunc("/xrpc/"+bsky.NSIDRefreshSession, func(w http.ResponseWriter, r *http.Request) {
		p.refreshes.Add(1)
		if r.Header.Get("Authorization") != "Bearer refresh-old" {
			respond(w, http.StatusBadRequest, map[string]string{"error": "ExpiredToken", "message": "Refresh token expired"})
			return
		}
		respond(w, http.StatusOK, map[string]string{
			"handle":     "alice.bsky.social",
			"did":        "did:plc:alice",
			"accessJwt":  p.validAccess,
			"refreshJwt": "refresh-new",
		})
	})
	mux.HandleFunc("/xrpc/"+bsky.NSIDCreateSession, func(w http.ResponseWriter, r *http.Request) {
		p.creates.Add(1)
		var req struct {
			Identifier string `json:"identifier"`
			Password   string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "app-pass" {
			respond(w, http.StatusUnauthorized, map[string]string{"error": "AuthenticationRequired", "message": "Invalid identifier or password"})
			return
		}
		respond(w, http.StatusOK, map[string]string{
			"handle":     "alice.bsky.social",
			"did":        "did:plc:alice",
			"accessJwt":  p.validAccess,
			"refreshJwt": "refresh-created",
		})
	})
	mux.HandleFunc("/xrpc/"+bsky.NSIDDeleteSession, func(w http.ResponseWriter, r *http.Request) {
		p.deletes.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func respond(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (p *fakePDS) newClient() *bsky.Client {
	return bsky.NewClient(bsky.Options{
		Service: p.srv.URL,
		Retry: &retry.Config{
			MaxAttempts:     1,
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond,
			Multiplier:      1,
		},
		Logger: logger.NewNopLogger(),
	})
}

func (p *fakePDS) session(access, refresh string) bsky.Session {
	return bsky.Session{
		Handle:     "alice.bsky.social",
		DID:        "did:plc:alice",
		AccessJWT:  access,
		RefreshJWT: refresh,
		PDS:        p.srv.URL,
	}
}

func TestConnectReusesStoredSession(t *testing.T) {
	t.Setenv(EnvPassword, "")
	pds := newFakePDS(t)
	manager, store := NewMockManager()
	require.NoError(t, store.Store(&Account{Identifier: "alice.bsky.social", Session: pds.session("access-live", "refresh-live")}))

	client, err := NewConnector(manager, pds.newClient, nil).Connect(context.Background(), "alice.bsky.social", "")
	require.NoError(t, err)

	s, ok := client.Session()
	require.True(t, ok)
	assert.Equal(t, "access-live", s.AccessJWT)
	assert.Zero(t, pds.creates.Load())
}

func TestConnectRefreshesAndPersists(t *testing.T) {
	t.Setenv(EnvPassword, "")
	pds := newFakePDS(t)
	manager, store := NewMockManager()
	require.NoError(t, store.Store(&Account{Identifier: "alice.bsky.social", Session: pds.session("access-old", "refresh-old")}))

	client, err := NewConnector(manager, pds.newClient, nil).Connect(context.Background(), "alice.bsky.social", "")
	require.NoError(t, err)
	assert.Equal(t, int32(1), pds.refreshes.Load())
	assert.Zero(t, pds.creates.Load())

	s, _ := client.Session()
	assert.Equal(t, "refresh-new", s.RefreshJWT)

	stored, err := manager.Retrieve("alice.bsky.social")
	require.NoError(t, err)
	assert.Equal(t, "refresh-new", stored.Session.RefreshJWT)
	assert.Equal(t, "access-live", stored.Session.AccessJWT)
}

func TestConnectFallsBackToPassword(t *testing.T) {
	t.Setenv(EnvPassword, "")
	pds := newFakePDS(t)
	manager, store := NewMockManager()
	require.NoError(t, store.Store(&Account{Identifier: "alice.bsky.social", Session: pds.session("access-revoked", "refresh-revoked")}))

	log := logger.NewTestLogger()
	client, err := NewConnector(manager, pds.newClient, log).Connect(context.Background(), "alice.bsky.social", "app-pass")
	require.NoError(t, err)
	assert.Equal(t, int32(1), pds.creates.Load())
	assert.True(t, log.HasMessage("WARN", "stored session rejected"))

	s, _ := client.Session()
	assert.Equal(t, "refresh-created", s.RefreshJWT)

	stored, err := manager.Retrieve("alice.bsky.social")
	require.NoError(t, err)
	assert.Equal(t, "refresh-created", stored.Session.RefreshJWT)
}

func TestConnectUsesEnvironmentPassword(t *testing.T) {
	t.Setenv(EnvIdentifier, "alice.bsky.social")
	t.Setenv(EnvPassword, "app-pass")
	pds := newFakePDS(t)
	manager := NewManagerWithStores(NewMockStore(), NewEnvironmentStore())

	client, err := NewConnector(manager, pds.newClient, nil).Connect(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, int32(1), pds.creates.Load())

	s, ok := client.Session()
	require.True(t, ok)
	assert.Equal(t, "did:plc:alice", s.DID)
}

func TestConnectWithoutCredentials(t *testing.T) {
	t.Setenv(EnvIdentifier, "")
	t.Setenv(EnvPassword, "")
	pds := newFakePDS(t)
	manager, _ := NewMockManager()
	connector := NewConnector(manager, pds.newClient, nil)

	_, err := connector.Connect(context.Background(), "alice.bsky.social", "")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)

	_, err = connector.Connect(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
	assert.Zero(t, pds.creates.Load())
}

func TestConnectBadPassword(t *testing.T) {
	t.Setenv(EnvPassword, "")
	pds := newFakePDS(t)
	manager, store := NewMockManager()

	_, err := NewConnector(manager, pds.newClient, nil).Connect(context.Background(), "alice.bsky.social", "wrong")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "alice.bsky.social"))
	assert.Zero(t, store.Count())
}

func TestLoginAndLogout(t *testing.T) {
	pds := newFakePDS(t)
	manager, store := NewMockManager()
	connector := NewConnector(manager, pds.newClient, nil)

	_, err := connector.Login(context.Background(), "alice.bsky.social", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = connector.Login(context.Background(), "alice.bsky.social", "app-pass")
	require.NoError(t, err)
	assert.Equal(t, 1, store.Count())

	require.NoError(t, connector.Logout(context.Background(), "alice.bsky.social"))
	assert.Equal(t, int32(1), pds.deletes.Load())
	assert.Zero(t, store.Count())

	assert.ErrorIs(t, connector.Logout(context.Background(), "alice.bsky.social"), ErrCredentialsNotFound)
}
