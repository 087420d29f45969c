package quickbooks

import "encoding/json"

// Wire types for the QuickBooks Online API. Only the fields this subsystem
// reads or writes are modeled.

// WebhookPayload is the envelope QuickBooks posts to the webhook endpoint.
// Notifications and entities are kept raw so one undecodable element does
// not fail the whole delivery.
type WebhookPayload struct {
	EventNotifications []json.RawMessage `json:"eventNotifications"`
}

// EventNotification groups the changes of one realm
type EventNotification struct {
	RealmID         string          `json:"realmId"`
	DataChangeEvent DataChangeEvent `json:"dataChangeEvent"`
}

// DataChangeEvent lists the changed entities
type DataChangeEvent struct {
	Entities []json.RawMessage `json:"entities"`
}

// EntityChange is one changed entity inside a notification
type EntityChange struct {
	Name        string `json:"name"`
	ID          string `json:"id"`
	Operation   string `json:"operation"`
	LastUpdated string `json:"lastUpdated"`
}

// invoicePayload is the request/response shape for the Invoice resource
type invoicePayload struct {
	ID          string        `json:"Id,omitempty"`
	SyncToken   string        `json:"SyncToken,omitempty"`
	Sparse      bool          `json:"sparse,omitempty"`
	DocNumber   string        `json:"DocNumber,omitempty"`
	DueDate     string        `json:"DueDate,omitempty"`
	CustomerRef *entityRef    `json:"CustomerRef,omitempty"`
	CurrencyRef *entityRef    `json:"CurrencyRef,omitempty"`
	Line        []invoiceLine `json:"Line,omitempty"`
}

type entityRef struct {
	Value string `json:"value"`
	Name  string `json:"name,omitempty"`
}

type invoiceLine struct {
	Description         string               `json:"Description,omitempty"`
	Amount              string               `json:"Amount"`
	DetailType          string               `json:"DetailType"`
	SalesItemLineDetail *salesItemLineDetail `json:"SalesItemLineDetail,omitempty"`
}

type salesItemLineDetail struct {
	ItemRef   *entityRef `json:"ItemRef,omitempty"`
	Qty       string     `json:"Qty,omitempty"`
	UnitPrice string     `json:"UnitPrice,omitempty"`
}

// invoiceEnvelope wraps single-invoice responses
type invoiceEnvelope struct {
	Invoice invoicePayload `json:"Invoice"`
}

// faultResponse is the error body the API returns on 4xx
type faultResponse struct {
	Fault struct {
		Type  string       `json:"type"`
		Error []faultError `json:"Error"`
	} `json:"Fault"`
}

type faultError struct {
	Message string `json:"Message"`
	Detail  string `json:"Detail"`
	Code    string `json:"code"`
}
