package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Amaz3n/strata-sub010/internal/domain/accounting"
	"github.com/Amaz3n/strata-sub010/internal/interfaces/http/dto"
	"github.com/Amaz3n/strata-sub010/internal/interfaces/http/middleware"
)

const testStateSecret = "0123456789abcdef0123456789abcdef"

type fakeConnectionManager struct {
	completeErr    error
	reconnectCalls int
	completeCalls  int
	disconnects    int
	lastSettings   accounting.SyncSettings
	lastOrgID      uuid.UUID
	lastCode       string
	lastRealmID    string
}

func (f *fakeConnectionManager) AuthorizeURL(state string) string {
	return "https://appcenter.example.com/connect?state=" + state
}

func (f *fakeConnectionManager) CompleteConnect(_ context.Context, orgID uuid.UUID, code, realmID string) (*accounting.Connection, error) {
	f.completeCalls++
	f.lastOrgID = orgID
	f.lastCode = code
	f.lastRealmID = realmID
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	return accounting.NewConnection(orgID, realmID, accounting.TokenPair{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	}), nil
}

func (f *fakeConnectionManager) Reconnect(_ context.Context, orgID uuid.UUID, code, realmID string) (*accounting.Connection, error) {
	f.reconnectCalls++
	return accounting.NewConnection(orgID, realmID, accounting.TokenPair{
		AccessToken:  "access-2",
		RefreshToken: "refresh-2",
		ExpiresAt:    time.Now().Add(time.Hour),
	}), nil
}

func (f *fakeConnectionManager) UpdateSettings(_ context.Context, orgID uuid.UUID, settings accounting.SyncSettings) (*accounting.Connection, error) {
	f.lastSettings = settings
	conn := accounting.NewConnection(orgID, "9130350", accounting.TokenPair{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	})
	conn.Settings = settings
	return conn, nil
}

func (f *fakeConnectionManager) Disconnect(context.Context, uuid.UUID) error {
	f.disconnects++
	return nil
}

type memorySeenStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemorySeenStore() *memorySeenStore {
	return &memorySeenStore{seen: map[string]bool{}}
}

func (s *memorySeenStore) MarkProcessed(_ context.Context, id string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[id] {
		return false, nil
	}
	s.seen[id] = true
	return true, nil
}

func (s *memorySeenStore) IsProcessed(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[id], nil
}

func (s *memorySeenStore) Close() error { return nil }

type connectionFixture struct {
	router  *gin.Engine
	manager *fakeConnectionManager
	states  *OAuthStateManager
}

func newConnectionFixture(t *testing.T) *connectionFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	manager := &fakeConnectionManager{}
	states := NewOAuthStateManager(testStateSecret, 10*time.Minute)
	h := NewConnectionHandler(manager, states, newMemorySeenStore(), 10*time.Minute, false, zap.NewNop())

	r := gin.New()
	h.RegisterRoutes(r.Group("/api/v1"))
	return &connectionFixture{router: r, manager: manager, states: states}
}

func (f *connectionFixture) startConnect(t *testing.T, orgID uuid.UUID) (authorizeURL, nonce string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounting/connect", nil)
	req.Header.Set(middleware.OrganizationIDHeader, orgID.String())
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	for _, c := range w.Result().Cookies() {
		if c.Name == oauthNonceCookie {
			nonce = c.Value
		}
	}
	require.NotEmpty(t, nonce, "connect must set the nonce cookie")

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]interface{})
	return data["authorize_url"].(string), nonce
}

func (f *connectionFixture) callback(state, cookieNonce string) *httptest.ResponseRecorder {
	url := "/api/v1/accounting/connect/callback?code=auth-code&state=" + state + "&realmId=9130350"
	req := httptest.NewRequest(http.MethodGet, url, nil)
	if cookieNonce != "" {
		req.AddCookie(&http.Cookie{Name: oauthNonceCookie, Value: cookieNonce})
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestConnectionHandler_ConnectFlow(t *testing.T) {
	orgID := uuid.New()

	t.Run("completes the round trip", func(t *testing.T) {
		f := newConnectionFixture(t)

		authorizeURL, nonce := f.startConnect(t, orgID)
		assert.Contains(t, authorizeURL, "state=")

		// Use the state embedded in the authorize URL, exactly as the
		// provider would echo it back.
		echoed := authorizeURL[len("https://appcenter.example.com/connect?state="):]
		w := f.callback(echoed, nonce)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, f.manager.completeCalls)
		assert.Equal(t, orgID, f.manager.lastOrgID)
		assert.Equal(t, "auth-code", f.manager.lastCode)
		assert.Equal(t, "9130350", f.manager.lastRealmID)
		assert.NotContains(t, w.Body.String(), "refresh", "tokens must never appear in responses")
	})

	t.Run("rejects a replayed state", func(t *testing.T) {
		f := newConnectionFixture(t)
		authorizeURL, nonce := f.startConnect(t, orgID)
		echoed := authorizeURL[len("https://appcenter.example.com/connect?state="):]

		first := f.callback(echoed, nonce)
		require.Equal(t, http.StatusOK, first.Code)

		replay := f.callback(echoed, nonce)
		assert.Equal(t, http.StatusUnauthorized, replay.Code)
		assert.Equal(t, 1, f.manager.completeCalls)
	})

	t.Run("rejects a mismatched nonce cookie", func(t *testing.T) {
		f := newConnectionFixture(t)
		authorizeURL, _ := f.startConnect(t, orgID)
		echoed := authorizeURL[len("https://appcenter.example.com/connect?state="):]

		w := f.callback(echoed, "some-other-nonce")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, 0, f.manager.completeCalls)
	})

	t.Run("rejects a forged state token", func(t *testing.T) {
		f := newConnectionFixture(t)
		forged := NewOAuthStateManager("another-secret-another-secret-xx", time.Minute)
		state, nonce, err := forged.Issue(orgID)
		require.NoError(t, err)

		w := f.callback(state, nonce)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("falls back to reconnect when already connected", func(t *testing.T) {
		f := newConnectionFixture(t)
		f.manager.completeErr = accounting.ErrAlreadyConnected

		authorizeURL, nonce := f.startConnect(t, orgID)
		echoed := authorizeURL[len("https://appcenter.example.com/connect?state="):]

		w := f.callback(echoed, nonce)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, f.manager.reconnectCalls)
	})

	t.Run("rejects connect without organization identity", func(t *testing.T) {
		f := newConnectionFixture(t)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/accounting/connect", nil)
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestConnectionHandler_UpdateSettings(t *testing.T) {
	orgID := uuid.New()

	t.Run("persists settings", func(t *testing.T) {
		f := newConnectionFixture(t)
		body := `{"enabled":true,"account_mappings":{"labor":"81"}}`
		req := httptest.NewRequest(http.MethodPut, "/api/v1/accounting/connection/settings", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(middleware.OrganizationIDHeader, orgID.String())
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, f.manager.lastSettings.Enabled)
		assert.Equal(t, "81", f.manager.lastSettings.AccountMappings["labor"])
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		f := newConnectionFixture(t)
		req := httptest.NewRequest(http.MethodPut, "/api/v1/accounting/connection/settings", bytes.NewBufferString("{"))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(middleware.OrganizationIDHeader, orgID.String())
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestConnectionHandler_Disconnect(t *testing.T) {
	f := newConnectionFixture(t)
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/accounting/connection", nil)
	req.Header.Set(middleware.OrganizationIDHeader, uuid.New().String())
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, f.manager.disconnects)
}
