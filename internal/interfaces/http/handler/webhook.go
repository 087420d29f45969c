package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	appaccounting "github.com/Amaz3n/strata-sub010/internal/application/accounting"
	"github.com/Amaz3n/strata-sub010/internal/infrastructure/quickbooks"
)

// Maximum webhook payload size (64KB - provider webhook bodies are small)
const maxWebhookPayloadSize = 65536

// WebhookProcessor verifies and processes one webhook delivery.
type WebhookProcessor interface {
	HandleDelivery(ctx context.Context, rawBody []byte, signature string) error
}

// WebhookHandler receives change notifications from the accounting provider.
// These endpoints are called by the provider and carry no session; the HMAC
// signature over the raw body is the only authentication.
type WebhookHandler struct {
	BaseHandler
	processor WebhookProcessor
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(processor WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{processor: processor}
}

// WebhookResponse represents the acknowledgement returned to the provider
type WebhookResponse struct {
	Received bool   `json:"received"`
	Message  string `json:"message,omitempty"`
}

// HandleQuickBooksWebhook processes a webhook delivery. The raw body bytes
// must reach the verifier untouched; any re-serialization would change the
// HMAC. A 2xx acknowledges the delivery; anything else triggers redelivery
// of the identical payload, so processing errors that a retry cannot fix
// still return 200.
func (h *WebhookHandler) HandleQuickBooksWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookPayloadSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, WebhookResponse{
			Received: false,
			Message:  "Failed to read request body",
		})
		return
	}
	if len(payload) > maxWebhookPayloadSize {
		c.JSON(http.StatusRequestEntityTooLarge, WebhookResponse{
			Received: false,
			Message:  "Payload too large",
		})
		return
	}

	signature := c.GetHeader(quickbooks.SignatureHeader)
	if signature == "" {
		c.JSON(http.StatusUnauthorized, WebhookResponse{
			Received: false,
			Message:  "Missing signature header",
		})
		return
	}

	if err := h.processor.HandleDelivery(c.Request.Context(), payload, signature); err != nil {
		switch {
		case errors.Is(err, appaccounting.ErrInvalidSignature):
			c.JSON(http.StatusUnauthorized, WebhookResponse{
				Received: false,
				Message:  "Signature verification failed",
			})
		case errors.Is(err, appaccounting.ErrMalformedPayload):
			c.JSON(http.StatusBadRequest, WebhookResponse{
				Received: false,
				Message:  "Malformed payload",
			})
		default:
			// Redelivery would replay the same bytes and fail the same
			// way, so acknowledge and rely on server-side logging.
			c.JSON(http.StatusOK, WebhookResponse{
				Received: true,
				Message:  "Delivery accepted with processing errors",
			})
		}
		return
	}

	c.JSON(http.StatusOK, WebhookResponse{Received: true})
}

// RegisterRoutes registers webhook routes. No organization middleware: the
// provider is the caller.
func (h *WebhookHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/webhooks/quickbooks", h.HandleQuickBooksWebhook)
}
