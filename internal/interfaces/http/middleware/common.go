package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Context keys set by middleware and read by handlers
const (
	// RequestIDContextKey is the gin context key for the request ID
	RequestIDContextKey = "request_id"
	// OrganizationIDContextKey is the gin context key for the caller's organization
	OrganizationIDContextKey = "organization_id"
)

// OrganizationIDHeader carries the authenticated organization identity.
// This service runs behind the platform gateway, which authenticates the
// session and injects the header.
const OrganizationIDHeader = "X-Organization-ID"

// RequestID adds a unique request ID to each request
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		c.Set(RequestIDContextKey, requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Next()
	}
}

// OrganizationContext requires a valid organization identity on the request
// and stores it in the gin context. Requests without one are rejected before
// reaching any handler.
func OrganizationContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(OrganizationIDHeader)
		if raw == "" {
			abortUnauthorized(c, "Missing organization identity")
			return
		}
		orgID, err := uuid.Parse(raw)
		if err != nil {
			abortUnauthorized(c, "Invalid organization identity")
			return
		}
		c.Set(OrganizationIDContextKey, orgID)
		c.Next()
	}
}

// GetOrganizationID returns the organization set by OrganizationContext.
func GetOrganizationID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(OrganizationIDContextKey)
	if !ok {
		return uuid.Nil, false
	}
	orgID, ok := v.(uuid.UUID)
	return orgID, ok
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error": gin.H{
			"code":    "ERR_UNAUTHORIZED",
			"message": message,
		},
	})
}

// generateRequestID generates a unique request ID
func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return time.Now().Format("20060102150405")
	}
	return hex.EncodeToString(bytes)
}
