// Package service provides the business logic tying webhook ingestion to the
// job queue.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/replyflow-ai/messaging-pipeline/internal/model"
	"github.com/replyflow-ai/messaging-pipeline/internal/queue"
	"github.com/replyflow-ai/messaging-pipeline/internal/routing"
	"github.com/replyflow-ai/messaging-pipeline/internal/store"
	"github.com/replyflow-ai/messaging-pipeline/internal/webhook"
	"github.com/replyflow-ai/messaging-pipeline/pkg/logger"
	"github.com/replyflow-ai/messaging-pipeline/pkg/metrics"
)

// TenantResolver maps a customer phone number to its owning tenant.
type TenantResolver interface {
	Resolve(ctx context.Context, phone string) (string, error)
}

// ConversationSink is the conversation persistence ingestion needs.
type ConversationSink interface {
	FindOrCreate(ctx context.Context, tenantID, phone, name string) (*model.Conversation, error)
	Touch(ctx context.Context, id string, at time.Time) error
}

// MessageSink persists inbound messages.
type MessageSink interface {
	Create(ctx context.Context, msg *model.Message) error
}

// StatusReconciler applies delivery-status callbacks.
type StatusReconciler interface {
	Apply(ctx context.Context, updates []webhook.StatusUpdate) int
}

// ReplyEnqueuer hands reply generation to the job queue.
type ReplyEnqueuer interface {
	EnqueueReply(ctx context.Context, job *queue.ReplyJob) error
}

// AuditLog records webhook deliveries.
type AuditLog interface {
	Append(ctx context.Context, payload []byte, valid bool, outcome string) error
}

// ProcessedMessage summarizes one inbound message's handling for the webhook
// response body.
type ProcessedMessage struct {
	MessageID      string `json:"message_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	TenantID       string `json:"tenant_id,omitempty"`
	Status         string `json:"status"`
}

// InboundResult is the webhook processing summary.
type InboundResult struct {
	Status            string             `json:"status"`
	ProcessedMessages int                `json:"processedMessages"`
	Messages          []ProcessedMessage `json:"messages"`
}

// InboundService normalizes, routes, persists, and enqueues inbound webhook
// traffic. It never raises past the handler: every path resolves to a
// summary so the provider always gets a 200 and does not retry-storm.
type InboundService struct {
	router        TenantResolver
	conversations ConversationSink
	messages      MessageSink
	reconciler    StatusReconciler
	enqueuer      ReplyEnqueuer
	audit         AuditLog
	logger        *logger.Logger

	now func() time.Time
}

// NewInboundService creates an inbound service.
func NewInboundService(
	router TenantResolver,
	conversations ConversationSink,
	messages MessageSink,
	reconciler StatusReconciler,
	enqueuer ReplyEnqueuer,
	audit AuditLog,
	log *logger.Logger,
) *InboundService {
	return &InboundService{
		router:        router,
		conversations: conversations,
		messages:      messages,
		reconciler:    reconciler,
		enqueuer:      enqueuer,
		audit:         audit,
		logger:        log,
		now:           time.Now,
	}
}

// Process handles one verified webhook event.
func (s *InboundService) Process(ctx context.Context, raw []byte, event *webhook.Event) *InboundResult {
	result := &InboundResult{Status: "ok", Messages: []ProcessedMessage{}}

	for _, entry := range event.Entry {
		for _, change := range entry.Changes {
			names := contactNames(change.Value.Contacts)

			for _, pm := range change.Value.Messages {
				result.Messages = append(result.Messages, s.processMessage(ctx, pm, names[pm.From]))
			}

			if len(change.Value.Statuses) > 0 {
				applied := s.reconciler.Apply(ctx, change.Value.Statuses)
				s.logger.Debug("delivery statuses reconciled",
					zap.Int("received", len(change.Value.Statuses)),
					zap.Int("applied", applied),
				)
			}
		}
	}

	for _, m := range result.Messages {
		if m.Status == "queued" {
			result.ProcessedMessages++
		}
	}

	outcome := "processed"
	if result.ProcessedMessages < len(result.Messages) {
		outcome = "partial"
		result.Status = "partial"
	}
	s.appendAudit(ctx, raw, true, outcome)
	metrics.WebhooksTotal.WithLabelValues(outcome).Inc()

	return result
}

func (s *InboundService) processMessage(ctx context.Context, pm webhook.ProviderMessage, name string) ProcessedMessage {
	norm := webhook.Normalize(pm)

	tenantID, err := s.router.Resolve(ctx, pm.From)
	if errors.Is(err, routing.ErrNoTenant) {
		// Explicitly observable drop; never guess a tenant.
		s.logger.Warn("dropping message: no tenant for customer number",
			zap.String("customer_phone", pm.From),
			zap.String("provider_message_id", pm.ID),
		)
		return ProcessedMessage{Status: "routing_error"}
	}
	if err != nil {
		s.logger.Error("tenant resolution failed", zap.Error(err))
		return ProcessedMessage{Status: "error"}
	}

	conv, err := s.conversations.FindOrCreate(ctx, tenantID, pm.From, name)
	if err != nil {
		s.logger.Error("failed to find or create conversation",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		return ProcessedMessage{TenantID: tenantID, Status: "error"}
	}

	providerID := pm.ID
	msg := &model.Message{
		ID:                uuid.Must(uuid.NewV7()).String(),
		ConversationID:    conv.ID,
		Content:           norm.Content,
		SenderType:        model.SenderCustomer,
		MessageType:       norm.Type,
		ProviderMessageID: &providerID,
		DeliveryStatus:    model.DeliveryDelivered,
	}

	if err := s.messages.Create(ctx, msg); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Provider redelivered the webhook; the first pass already
			// persisted and enqueued this message.
			s.logger.Debug("duplicate inbound message, skipping",
				zap.String("provider_message_id", pm.ID),
			)
			return ProcessedMessage{
				ConversationID: conv.ID,
				TenantID:       tenantID,
				Status:         "duplicate",
			}
		}
		s.logger.Error("failed to persist inbound message", zap.Error(err))
		return ProcessedMessage{ConversationID: conv.ID, TenantID: tenantID, Status: "error"}
	}

	metrics.MessagesTotal.WithLabelValues(tenantID, string(model.SenderCustomer)).Inc()

	if err := s.conversations.Touch(ctx, conv.ID, s.now()); err != nil {
		s.logger.Warn("failed to touch conversation", zap.Error(err))
	}

	if err := s.enqueuer.EnqueueReply(ctx, &queue.ReplyJob{
		TenantID:       tenantID,
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		Phone:          pm.From,
		CustomerName:   name,
		Content:        norm.Content,
		MessageType:    norm.Type,
	}); err != nil {
		s.logger.Error("failed to enqueue reply job", zap.Error(err))
		return ProcessedMessage{
			MessageID:      msg.ID,
			ConversationID: conv.ID,
			TenantID:       tenantID,
			Status:         "enqueue_error",
		}
	}

	return ProcessedMessage{
		MessageID:      msg.ID,
		ConversationID: conv.ID,
		TenantID:       tenantID,
		Status:         "queued",
	}
}

// RecordRejected audit-logs a webhook that failed signature validation.
func (s *InboundService) RecordRejected(ctx context.Context, raw []byte) {
	metrics.WebhooksTotal.WithLabelValues("invalid_signature").Inc()
	s.appendAudit(ctx, raw, false, "invalid_signature")
}

// appendAudit is best-effort: audit failures never block the pipeline.
func (s *InboundService) appendAudit(ctx context.Context, raw []byte, valid bool, outcome string) {
	if err := s.audit.Append(ctx, raw, valid, outcome); err != nil {
		s.logger.Warn("webhook audit append failed", zap.Error(err))
	}
}

func contactNames(contacts []webhook.Contact) map[string]string {
	names := make(map[string]string, len(contacts))
	for _, c := range contacts {
		names[c.WaID] = c.Profile.Name
	}
	return names
}
