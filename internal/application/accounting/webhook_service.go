package accounting

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Amaz3n/strata-sub010/internal/domain/accounting"
	"github.com/Amaz3n/strata-sub010/internal/domain/shared"
	"github.com/Amaz3n/strata-sub010/internal/infrastructure/telemetry"
)

var (
	// ErrInvalidSignature is returned when a webhook delivery fails
	// signature verification
	ErrInvalidSignature = errors.New("webhook: invalid signature")
	// ErrMalformedPayload is returned when a verified body cannot be parsed
	ErrMalformedPayload = errors.New("webhook: malformed payload")
)

// SignatureVerifier authenticates a raw webhook body
type SignatureVerifier interface {
	Verify(rawBody []byte, signature string) bool
}

// EventExtractor flattens a verified raw body into canonical events
type EventExtractor func(rawBody []byte) ([]accounting.WebhookEvent, error)

// WebhookService ingests provider webhooks: verify, extract, deduplicate,
// and enqueue reconciliation jobs. Deliveries are at-least-once; the seen
// store guarantees an identity observed twice enqueues at most one job.
type WebhookService struct {
	verifier    SignatureVerifier
	extract     EventExtractor
	seen        shared.IdempotencyStore
	seenTTL     time.Duration
	connections accounting.ConnectionRepository
	statuses    accounting.InvoiceSyncStatusRepository
	jobs        accounting.SyncJobRepository
	publisher   shared.EventPublisher
	logger      *zap.Logger
}

// WebhookServiceConfig holds the dependencies for WebhookService
type WebhookServiceConfig struct {
	Verifier    SignatureVerifier
	Extract     EventExtractor
	Seen        shared.IdempotencyStore
	SeenTTL     time.Duration
	Connections accounting.ConnectionRepository
	Statuses    accounting.InvoiceSyncStatusRepository
	Jobs        accounting.SyncJobRepository
	Publisher   shared.EventPublisher
	Logger      *zap.Logger
}

// NewWebhookService creates a new WebhookService
func NewWebhookService(cfg WebhookServiceConfig) *WebhookService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.SeenTTL
	if ttl <= 0 {
		ttl = shared.DefaultIdempotencyConfig().TTL
	}
	return &WebhookService{
		verifier:    cfg.Verifier,
		extract:     cfg.Extract,
		seen:        cfg.Seen,
		seenTTL:     ttl,
		connections: cfg.Connections,
		statuses:    cfg.Statuses,
		jobs:        cfg.Jobs,
		publisher:   cfg.Publisher,
		logger:      logger,
	}
}

// HandleDelivery processes one webhook delivery. The signature is checked
// over the exact raw bytes before anything is parsed. Events that cannot be
// acted on (unknown entity, unmapped record, no connection) are logged and
// skipped; they never fail the delivery, because a non-2xx response only
// triggers a redelivery of the same payload.
func (s *WebhookService) HandleDelivery(ctx context.Context, rawBody []byte, signature string) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "webhook", "handle_delivery",
		telemetry.WithAttribute("body_size", len(rawBody)),
	)
	defer span.End()

	if !s.verifier.Verify(rawBody, signature) {
		s.logger.Warn("webhook signature verification failed",
			zap.Int("body_size", len(rawBody)),
		)
		telemetry.RecordError(span, ErrInvalidSignature)
		return ErrInvalidSignature
	}

	events, err := s.extract(rawBody)
	if err != nil {
		s.logger.Warn("webhook payload malformed", zap.Error(err))
		telemetry.RecordError(span, ErrMalformedPayload)
		return ErrMalformedPayload
	}
	telemetry.SetAttributes(span, "event_count", len(events))

	for _, evt := range events {
		s.handleEvent(ctx, evt)
	}
	return nil
}

func (s *WebhookService) handleEvent(ctx context.Context, evt accounting.WebhookEvent) {
	if !strings.EqualFold(evt.EntityName, string(accounting.EntityTypeInvoice)) {
		s.logger.Debug("ignoring webhook event for unhandled entity",
			zap.String("entity", evt.EntityName),
			zap.String("realm_id", evt.RealmID),
		)
		return
	}

	identity := evt.Identity()
	fresh, err := s.seen.MarkProcessed(ctx, identity, s.seenTTL)
	if err != nil {
		s.logger.Error("webhook dedup store unavailable",
			zap.String("identity", identity),
			zap.Error(err),
		)
		return
	}
	if !fresh {
		s.logger.Debug("duplicate webhook event skipped",
			zap.String("identity", identity),
		)
		return
	}

	conn, err := s.connections.FindByRealmID(ctx, evt.RealmID)
	if err != nil {
		s.logger.Warn("webhook for unknown realm",
			zap.String("realm_id", evt.RealmID),
		)
		return
	}
	if !conn.Settings.Enabled {
		return
	}

	status, err := s.statuses.FindByExternalID(ctx, conn.OrganizationID, evt.EntityID)
	if err != nil {
		// A record this system never pushed. Remote-only records are out
		// of scope; nothing to reconcile.
		s.logger.Debug("webhook for unmapped record skipped",
			zap.String("realm_id", evt.RealmID),
			zap.String("external_id", evt.EntityID),
		)
		return
	}

	job, err := s.jobs.Enqueue(ctx, conn.OrganizationID, accounting.EntityTypeInvoice, status.InvoiceID, accounting.ReasonWebhookReconciliation)
	if err != nil {
		s.logger.Error("failed to enqueue reconciliation job",
			zap.String("invoice_id", status.InvoiceID.String()),
			zap.Error(err),
		)
		return
	}

	s.logger.Info("webhook reconciliation enqueued",
		zap.String("identity", identity),
		zap.String("invoice_id", status.InvoiceID.String()),
		zap.String("operation", string(evt.Operation)),
	)
	if s.publisher != nil {
		_ = s.publisher.Publish(ctx, accounting.NewSyncJobEnqueuedEvent(job))
	}
}
