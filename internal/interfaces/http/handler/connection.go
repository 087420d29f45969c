package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Amaz3n/strata-sub010/internal/domain/accounting"
	"github.com/Amaz3n/strata-sub010/internal/domain/shared"
	"github.com/Amaz3n/strata-sub010/internal/interfaces/http/dto"
	"github.com/Amaz3n/strata-sub010/internal/interfaces/http/middleware"
)

// oauthNonceCookie binds the callback to the browser that started the flow
const oauthNonceCookie = "qbo_oauth_nonce"

// oauthStatePrefix namespaces single-use state nonces in the dedup store
const oauthStatePrefix = "oauth:state:"

// ConnectionManager drives the provider connection lifecycle.
type ConnectionManager interface {
	AuthorizeURL(state string) string
	CompleteConnect(ctx context.Context, organizationID uuid.UUID, code, realmID string) (*accounting.Connection, error)
	Reconnect(ctx context.Context, organizationID uuid.UUID, code, realmID string) (*accounting.Connection, error)
	UpdateSettings(ctx context.Context, organizationID uuid.UUID, settings accounting.SyncSettings) (*accounting.Connection, error)
	Disconnect(ctx context.Context, organizationID uuid.UUID) error
}

// ConnectionHandler serves the OAuth connect flow and connection management.
type ConnectionHandler struct {
	BaseHandler
	connections  ConnectionManager
	states       *OAuthStateManager
	usedStates   shared.IdempotencyStore
	stateTTL     time.Duration
	cookieSecure bool
	logger       *zap.Logger
}

// NewConnectionHandler creates a new ConnectionHandler
func NewConnectionHandler(
	connections ConnectionManager,
	states *OAuthStateManager,
	usedStates shared.IdempotencyStore,
	stateTTL time.Duration,
	cookieSecure bool,
	logger *zap.Logger,
) *ConnectionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stateTTL <= 0 {
		stateTTL = 10 * time.Minute
	}
	return &ConnectionHandler{
		connections:  connections,
		states:       states,
		usedStates:   usedStates,
		stateTTL:     stateTTL,
		cookieSecure: cookieSecure,
		logger:       logger,
	}
}

// ConnectResponse carries the provider authorization URL
type ConnectResponse struct {
	AuthorizeURL string `json:"authorize_url"`
}

// ConnectionResponse is the externally visible connection view. Tokens are
// never included.
type ConnectionResponse struct {
	Status          string                 `json:"status"`
	RealmID         string                 `json:"realm_id"`
	Settings        accounting.SyncSettings `json:"settings"`
	LastRefreshedAt *time.Time             `json:"last_refreshed_at,omitempty"`
	ConnectedAt     time.Time              `json:"connected_at"`
}

func newConnectionResponse(conn *accounting.Connection) ConnectionResponse {
	return ConnectionResponse{
		Status:          string(conn.Status),
		RealmID:         conn.RealmID,
		Settings:        conn.Settings,
		LastRefreshedAt: conn.LastRefreshedAt,
		ConnectedAt:     conn.CreatedAt,
	}
}

// UpdateSettingsRequest is the body for settings updates
type UpdateSettingsRequest struct {
	Enabled         bool              `json:"enabled"`
	AccountMappings map[string]string `json:"account_mappings"`
}

// StartConnect begins the OAuth flow: it mints a signed state token bound to
// the organization, drops the nonce cookie, and returns the provider
// authorization URL for the frontend to redirect to.
func (h *ConnectionHandler) StartConnect(c *gin.Context) {
	orgID, err := getOrganizationID(c)
	if err != nil {
		h.Unauthorized(c, "Organization identity required")
		return
	}

	state, nonce, err := h.states.Issue(orgID)
	if err != nil {
		h.logger.Error("failed to issue oauth state", zap.Error(err))
		h.InternalError(c, "Failed to start connect flow")
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oauthNonceCookie, nonce, int(h.stateTTL.Seconds()), "/", "", h.cookieSecure, true)

	h.Success(c, ConnectResponse{AuthorizeURL: h.connections.AuthorizeURL(state)})
}

// HandleCallback completes the OAuth flow. The provider redirects the user's
// browser here with code, state, and realmId. The state token identifies the
// organization; the nonce cookie proves the same browser started the flow;
// the dedup store makes each state single-use.
func (h *ConnectionHandler) HandleCallback(c *gin.Context) {
	code := c.Query("code")
	state := c.Query("state")
	realmID := c.Query("realmId")
	if code == "" || state == "" || realmID == "" {
		h.BadRequest(c, "Missing code, state, or realmId")
		return
	}

	orgID, nonce, err := h.states.Verify(state)
	if err != nil {
		h.Error(c, http.StatusUnauthorized, dto.ErrCodeInvalidState, "Invalid or expired state")
		return
	}

	cookieNonce, err := c.Cookie(oauthNonceCookie)
	if err != nil || cookieNonce != nonce {
		h.Error(c, http.StatusUnauthorized, dto.ErrCodeInvalidState, "State does not match this browser session")
		return
	}

	// Each state is accepted exactly once; a replayed callback loses here.
	fresh, err := h.usedStates.MarkProcessed(c.Request.Context(), oauthStatePrefix+nonce, h.stateTTL)
	if err != nil {
		h.logger.Error("failed to check oauth state reuse", zap.Error(err))
		h.InternalError(c, "Failed to complete connect flow")
		return
	}
	if !fresh {
		h.Error(c, http.StatusUnauthorized, dto.ErrCodeInvalidState, "State has already been used")
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oauthNonceCookie, "", -1, "/", "", h.cookieSecure, true)

	conn, err := h.connections.CompleteConnect(c.Request.Context(), orgID, code, realmID)
	if errors.Is(err, accounting.ErrAlreadyConnected) {
		conn, err = h.connections.Reconnect(c.Request.Context(), orgID, code, realmID)
	}
	if err != nil {
		h.logger.Error("connect flow failed",
			zap.String("organization_id", orgID.String()),
			zap.Error(err))
		h.HandleError(c, err)
		return
	}

	h.Success(c, newConnectionResponse(conn))
}

// UpdateSettings replaces the organization's sync settings.
func (h *ConnectionHandler) UpdateSettings(c *gin.Context) {
	orgID, err := getOrganizationID(c)
	if err != nil {
		h.Unauthorized(c, "Organization identity required")
		return
	}

	var req UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, "Invalid request body")
		return
	}
	if req.AccountMappings == nil {
		req.AccountMappings = map[string]string{}
	}

	conn, err := h.connections.UpdateSettings(c.Request.Context(), orgID, accounting.SyncSettings{
		Enabled:         req.Enabled,
		AccountMappings: req.AccountMappings,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, newConnectionResponse(conn))
}

// Disconnect severs the connection and cancels the organization's queued work.
func (h *ConnectionHandler) Disconnect(c *gin.Context) {
	orgID, err := getOrganizationID(c)
	if err != nil {
		h.Unauthorized(c, "Organization identity required")
		return
	}

	if err := h.connections.Disconnect(c.Request.Context(), orgID); err != nil {
		h.HandleError(c, err)
		return
	}

	h.NoContent(c)
}

// RegisterRoutes registers connection routes. The callback is exempt from
// the organization middleware: the provider redirect carries no session and
// the state token supplies the organization.
func (h *ConnectionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/accounting/connect/callback", h.HandleCallback)

	authed := rg.Group("", middleware.OrganizationContext())
	authed.POST("/accounting/connect", h.StartConnect)
	authed.PUT("/accounting/connection/settings", h.UpdateSettings)
	authed.DELETE("/accounting/connection", h.Disconnect)
}
