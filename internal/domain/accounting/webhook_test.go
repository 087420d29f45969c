package accounting

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWebhookEvent_Identity(t *testing.T) {
	t.Run("is deterministic", func(t *testing.T) {
		a := WebhookEvent{RealmID: "9130350", EntityName: "Invoice", EntityID: "42", Operation: WebhookOperationUpdate, LastUpdated: "2026-08-01T10:00:00Z"}
		b := WebhookEvent{RealmID: "9130350", EntityName: "Invoice", EntityID: "42", Operation: WebhookOperationUpdate, LastUpdated: "2026-08-01T10:00:00Z"}

		assert.Equal(t, a.Identity(), b.Identity())
		assert.Equal(t, "9130350:invoice:42:update:2026-08-01T10:00:00Z", a.Identity())
	})

	t.Run("differs per field", func(t *testing.T) {
		base := WebhookEvent{RealmID: "r", EntityName: "Invoice", EntityID: "1", Operation: WebhookOperationUpdate, LastUpdated: "t1"}

		other := base
		other.EntityID = "2"
		assert.NotEqual(t, base.Identity(), other.Identity())

		other = base
		other.Operation = WebhookOperationDelete
		assert.NotEqual(t, base.Identity(), other.Identity())

		other = base
		other.LastUpdated = "t2"
		assert.NotEqual(t, base.Identity(), other.Identity())
	})

	t.Run("missing fields use sentinels", func(t *testing.T) {
		e := WebhookEvent{}
		assert.Equal(t, "-:-:-:-:-", e.Identity())
	})
}

func TestParseWebhookOperation(t *testing.T) {
	assert.Equal(t, WebhookOperationCreate, ParseWebhookOperation("Create"))
	assert.Equal(t, WebhookOperationUpdate, ParseWebhookOperation("update"))
	assert.Equal(t, WebhookOperationDelete, ParseWebhookOperation("Remove"))
	assert.Equal(t, WebhookOperationMerge, ParseWebhookOperation("Merge"))
	assert.Equal(t, WebhookOperationVoid, ParseWebhookOperation("Void"))
	assert.Equal(t, WebhookOperationUnknown, ParseWebhookOperation("Emailed"))
	assert.Equal(t, WebhookOperationUnknown, ParseWebhookOperation(""))
}
