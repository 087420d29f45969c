package quickbooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Amaz3n/strata-sub010/internal/domain/accounting"
	"github.com/Amaz3n/strata-sub010/internal/infrastructure/config"
)

const (
	// maxResponseSize limits the response body size to prevent memory
	// exhaustion
	maxResponseSize = 10 * 1024 * 1024

	// minorVersion pins the API schema we are coded against
	minorVersion = "75"

	dateLayout = "2006-01-02"
)

// Client implements the AccountingGateway port against the QuickBooks Online
// REST API. Every failure is classified into the sync error taxonomy; raw
// transport errors never escape this package.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new QuickBooks API client
func NewClient(cfg config.QuickBooksConfig, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.APIBaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// ---------------------------------------------------------------------------
// Invoice Operations
// ---------------------------------------------------------------------------

// CreateInvoice pushes a new invoice and returns its external id
func (c *Client) CreateInvoice(ctx context.Context, accessToken, realmID string, inv *accounting.InvoiceSnapshot, settings accounting.SyncSettings) (string, error) {
	payload := buildInvoicePayload(inv, settings)

	var envelope invoiceEnvelope
	url := fmt.Sprintf("%s/v3/company/%s/invoice?minorversion=%s", c.baseURL, realmID, minorVersion)
	if err := c.do(ctx, http.MethodPost, url, accessToken, payload, &envelope); err != nil {
		return "", err
	}
	if envelope.Invoice.ID == "" {
		return "", accounting.NewTransientError("create response missing invoice id", nil)
	}
	return envelope.Invoice.ID, nil
}

// UpdateInvoice overwrites the remote record with local state. The API
// requires the current SyncToken, so the record is read first; local fields
// win regardless of what changed remotely.
func (c *Client) UpdateInvoice(ctx context.Context, accessToken, realmID, externalID string, inv *accounting.InvoiceSnapshot, settings accounting.SyncSettings) error {
	remote, err := c.GetInvoice(ctx, accessToken, realmID, externalID)
	if err != nil {
		return err
	}

	payload := buildInvoicePayload(inv, settings)
	payload.ID = externalID
	payload.SyncToken = remote.SyncToken
	payload.Sparse = true

	url := fmt.Sprintf("%s/v3/company/%s/invoice?minorversion=%s", c.baseURL, realmID, minorVersion)
	var envelope invoiceEnvelope
	return c.do(ctx, http.MethodPost, url, accessToken, payload, &envelope)
}

// GetInvoice is an idempotent read used for conflict detection and to fetch
// the SyncToken before updates
func (c *Client) GetInvoice(ctx context.Context, accessToken, realmID, externalID string) (*accounting.RemoteInvoice, error) {
	url := fmt.Sprintf("%s/v3/company/%s/invoice/%s?minorversion=%s", c.baseURL, realmID, externalID, minorVersion)

	var envelope invoiceEnvelope
	if err := c.do(ctx, http.MethodGet, url, accessToken, nil, &envelope); err != nil {
		return nil, err
	}
	return &accounting.RemoteInvoice{
		ExternalID: envelope.Invoice.ID,
		SyncToken:  envelope.Invoice.SyncToken,
	}, nil
}

func buildInvoicePayload(inv *accounting.InvoiceSnapshot, settings accounting.SyncSettings) invoicePayload {
	payload := invoicePayload{
		DocNumber: inv.Number,
	}
	if inv.DueDate != nil {
		payload.DueDate = inv.DueDate.Format(dateLayout)
	}
	if inv.CustomerName != "" {
		payload.CustomerRef = &entityRef{Value: inv.CustomerName, Name: inv.CustomerName}
	}
	if inv.Currency != "" {
		payload.CurrencyRef = &entityRef{Value: inv.Currency}
	}

	for _, line := range inv.Lines {
		detail := &salesItemLineDetail{
			Qty:       line.Quantity.String(),
			UnitPrice: line.UnitAmount.StringFixed(2),
		}
		if itemID, ok := settings.AccountMappings[line.Category]; ok {
			detail.ItemRef = &entityRef{Value: itemID}
		}
		payload.Line = append(payload.Line, invoiceLine{
			Description:         line.Description,
			Amount:              line.Amount().StringFixed(2),
			DetailType:          "SalesItemLineDetail",
			SalesItemLineDetail: detail,
		})
	}
	return payload
}

// ---------------------------------------------------------------------------
// Transport & Error Classification
// ---------------------------------------------------------------------------

func (c *Client) do(ctx context.Context, method, url, accessToken string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return accounting.NewPermanentLocalError("failed to encode request: "+err.Error())
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return accounting.NewPermanentLocalError("failed to build request: "+err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return accounting.NewTransientError("request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return accounting.NewTransientError("failed to read response", err)
	}

	if resp.StatusCode == http.StatusOK {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return accounting.NewTransientError("failed to decode response", err)
		}
		return nil
	}
	return c.classifyFailure(resp, respBody)
}

func (c *Client) classifyFailure(resp *http.Response, body []byte) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return accounting.NewReauthorizationRequiredError("access rejected by provider")

	case resp.StatusCode == http.StatusNotFound:
		return accounting.NewNotFoundRemoteError("remote record not found")

	case resp.StatusCode == http.StatusTooManyRequests:
		return accounting.NewRateLimitedError(parseRetryAfter(resp), nil)

	case resp.StatusCode >= 500:
		return accounting.NewTransientError(fmt.Sprintf("provider returned %d", resp.StatusCode), nil)

	default:
		return c.classifyFault(resp.StatusCode, body)
	}
}

// classifyFault inspects the 4xx fault body. Code 610 is the API's "object
// not found", returned with status 400 rather than 404.
func (c *Client) classifyFault(status int, body []byte) error {
	var fault faultResponse
	if err := json.Unmarshal(body, &fault); err != nil || len(fault.Fault.Error) == 0 {
		return accounting.NewValidationRejectedError(fmt.Sprintf("provider rejected request with %d", status))
	}

	first := fault.Fault.Error[0]
	if first.Code == "610" {
		return accounting.NewNotFoundRemoteError(first.Message)
	}

	msg := first.Message
	if first.Detail != "" {
		msg = msg + ": " + first.Detail
	}
	c.logger.Warn("provider rejected request",
		zap.Int("status", status),
		zap.String("fault_code", first.Code),
		zap.String("fault_message", first.Message),
	)
	return accounting.NewValidationRejectedError(msg)
}

func parseRetryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// Ensure Client implements AccountingGateway
var _ accounting.AccountingGateway = (*Client)(nil)
