package quickbooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"

	"github.com/Amaz3n/strata-sub010/internal/domain/accounting"
)

// SignatureHeader carries the base64 HMAC the provider computes over the
// exact raw request body
const SignatureHeader = "intuit-signature"

// WebhookVerifier authenticates webhook deliveries with the shared verifier
// token
type WebhookVerifier struct {
	token []byte
}

// NewWebhookVerifier creates a verifier for the given shared token
func NewWebhookVerifier(token string) *WebhookVerifier {
	return &WebhookVerifier{token: []byte(token)}
}

// Verify checks the signature against the raw body bytes as received, before
// any parsing. Re-serializing the payload would silently break verification
// on key reordering or whitespace changes.
func (v *WebhookVerifier) Verify(rawBody []byte, signature string) bool {
	if signature == "" {
		return false
	}
	provided, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, v.token)
	mac.Write(rawBody)
	return hmac.Equal(mac.Sum(nil), provided)
}

// ExtractEvents flattens a verified payload into webhook events. Unknown
// entity names and operations are preserved as-is so callers can log and
// skip them. Decoding is lenient below the envelope: a notification or
// entity that fails to decode is skipped without dropping its siblings,
// since the provider redelivers the identical bytes and a hard reject
// would lose every well-formed event in the batch. Only an unparseable
// envelope yields an error; an empty notification list yields an empty
// slice.
func ExtractEvents(rawBody []byte) ([]accounting.WebhookEvent, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, err
	}

	var events []accounting.WebhookEvent
	for _, rawNotification := range payload.EventNotifications {
		var notification EventNotification
		if err := json.Unmarshal(rawNotification, &notification); err != nil {
			continue
		}
		for _, rawEntity := range notification.DataChangeEvent.Entities {
			var entity EntityChange
			if err := json.Unmarshal(rawEntity, &entity); err != nil {
				continue
			}
			events = append(events, accounting.WebhookEvent{
				RealmID:     notification.RealmID,
				EntityName:  entity.Name,
				EntityID:    entity.ID,
				Operation:   accounting.ParseWebhookOperation(entity.Operation),
				LastUpdated: entity.LastUpdated,
			})
		}
	}
	return events, nil
}
