package accounting

import (
	"fmt"
	"strings"
)

// WebhookOperation is the provider-reported change operation
type WebhookOperation string

const (
	WebhookOperationCreate WebhookOperation = "Create"
	WebhookOperationUpdate WebhookOperation = "Update"
	WebhookOperationDelete WebhookOperation = "Delete"
	WebhookOperationMerge  WebhookOperation = "Merge"
	WebhookOperationVoid   WebhookOperation = "Void"
	// WebhookOperationUnknown is the catch-all for operations this system
	// does not recognize; such events are safely ignored rather than rejected
	WebhookOperationUnknown WebhookOperation = "Unknown"
)

// ParseWebhookOperation maps a provider operation string to a known variant
func ParseWebhookOperation(s string) WebhookOperation {
	switch strings.ToLower(s) {
	case "create":
		return WebhookOperationCreate
	case "update":
		return WebhookOperationUpdate
	case "delete", "remove":
		return WebhookOperationDelete
	case "merge":
		return WebhookOperationMerge
	case "void":
		return WebhookOperationVoid
	default:
		return WebhookOperationUnknown
	}
}

// identitySentinel substitutes for fields missing from a partially-malformed
// notification so identity derivation stays deterministic
const identitySentinel = "-"

// WebhookEvent is one canonical, deduplicable change notification flattened
// out of a provider webhook payload.
type WebhookEvent struct {
	// RealmID is the provider-side tenant the change occurred in
	RealmID string
	// EntityName is the provider entity type, e.g. "Invoice"
	EntityName string
	// EntityID is the provider-side record identifier
	EntityID string
	Operation WebhookOperation
	// LastUpdated is the provider-reported change timestamp, kept verbatim
	LastUpdated string
}

// Identity derives the deterministic deduplication key. Provider webhooks
// are at-least-once delivered; the same identity observed twice must not
// trigger two reconciliation jobs.
func (e WebhookEvent) Identity() string {
	return fmt.Sprintf("%s:%s:%s:%s:%s",
		orSentinel(e.RealmID),
		orSentinel(strings.ToLower(e.EntityName)),
		orSentinel(e.EntityID),
		orSentinel(strings.ToLower(string(e.Operation))),
		orSentinel(e.LastUpdated),
	)
}

func orSentinel(s string) string {
	if s == "" {
		return identitySentinel
	}
	return s
}
