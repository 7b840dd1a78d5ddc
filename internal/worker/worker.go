// Package worker implements the background job handlers behind the webhook
// and delivery queues. Every handler is idempotent: the queue delivers
// at-least-once, so effects are derived from current database state rather
// than from assuming a job body is new.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/replyflow-ai/messaging-pipeline/internal/model"
	"github.com/replyflow-ai/messaging-pipeline/internal/orchestrator"
	"github.com/replyflow-ai/messaging-pipeline/internal/queue"
	"github.com/replyflow-ai/messaging-pipeline/internal/store"
	"github.com/replyflow-ai/messaging-pipeline/pkg/logger"
	"github.com/replyflow-ai/messaging-pipeline/pkg/metrics"
)

// TenantSource loads tenants.
type TenantSource interface {
	Get(ctx context.Context, id string) (*model.Tenant, error)
}

// ConversationSource loads and touches conversations.
type ConversationSource interface {
	Get(ctx context.Context, id string) (*model.Conversation, error)
	Touch(ctx context.Context, id string, at time.Time) error
}

// MessageSource is the message persistence the handlers need.
type MessageSource interface {
	ReplyExists(ctx context.Context, inboundID string) (bool, error)
	ListRecent(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
	Create(ctx context.Context, msg *model.Message) error
}

// Responder generates the automated reply.
type Responder interface {
	Respond(ctx context.Context, req *orchestrator.Request) *orchestrator.Result
}

// Deliverer performs the provider send for a persisted message.
type Deliverer interface {
	Deliver(ctx context.Context, messageID string) error
}

// DeliveryEnqueuer hands finished replies to the delivery queue.
type DeliveryEnqueuer interface {
	EnqueueDelivery(ctx context.Context, conversationID, messageID string, delay time.Duration) error
}

// SessionTracker refreshes interaction state as messages flow.
type SessionTracker interface {
	Update(ctx context.Context, phone, flow, step string, context map[string]string) (*model.Session, error)
}

// Worker holds the job handlers.
type Worker struct {
	tenants       TenantSource
	conversations ConversationSource
	messages      MessageSource
	responder     Responder
	deliverer     Deliverer
	queue         DeliveryEnqueuer
	sessions      SessionTracker
	logger        *logger.Logger

	now func() time.Time
}

// Config wires a worker.
type Config struct {
	Tenants       TenantSource
	Conversations ConversationSource
	Messages      MessageSource
	Responder     Responder
	Deliverer     Deliverer
	Queue         DeliveryEnqueuer
	Sessions      SessionTracker
	Logger        *logger.Logger
}

// New creates a worker.
func New(cfg Config) *Worker {
	return &Worker{
		tenants:       cfg.Tenants,
		conversations: cfg.Conversations,
		messages:      cfg.Messages,
		responder:     cfg.Responder,
		deliverer:     cfg.Deliverer,
		queue:         cfg.Queue,
		sessions:      cfg.Sessions,
		logger:        cfg.Logger,
		now:           time.Now,
	}
}

// HandleReplyJob generates, persists, and enqueues delivery of the automated
// reply to one inbound message.
func (w *Worker) HandleReplyJob(ctx context.Context, subject string, data []byte) error {
	var job queue.ReplyJob
	if err := json.Unmarshal(data, &job); err != nil {
		// Malformed jobs can never succeed; log and drop.
		w.logger.Error("malformed reply job, dropping", zap.Error(err))
		return nil
	}

	log := w.logger.WithConversation(job.TenantID, job.ConversationID, job.Phone)

	exists, err := w.messages.ReplyExists(ctx, job.MessageID)
	if err != nil {
		return fmt.Errorf("reply idempotency check failed: %w", err)
	}
	if exists {
		log.Debug("reply already generated, skipping redelivered job")
		return nil
	}

	tenant, err := w.tenants.Get(ctx, job.TenantID)
	if err != nil {
		return fmt.Errorf("failed to load tenant: %w", err)
	}

	conv, err := w.conversations.Get(ctx, job.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}

	if !tenant.AIEnabled || !conv.AIEnabled {
		log.Debug("AI replies disabled, skipping")
		return nil
	}

	if w.sessions != nil {
		if _, err := w.sessions.Update(ctx, job.Phone, "support", "responding", nil); err != nil {
			log.Warn("session update failed", zap.Error(err))
		}
	}

	history, err := w.messages.ListRecent(ctx, job.ConversationID, 11)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	// The triggering message goes in as the user turn, not as history.
	trimmed := history[:0]
	for _, m := range history {
		if m.ID != job.MessageID {
			trimmed = append(trimmed, m)
		}
	}

	result := w.responder.Respond(ctx, &orchestrator.Request{
		Tenant:  tenant,
		Phone:   job.Phone,
		Message: job.Content,
		History: trimmed,
	})

	reply := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: job.ConversationID,
		Content:        result.Content,
		SenderType:     model.SenderAI,
		MessageType:    model.MessageTypeText,
		ReplyToID:      &job.MessageID,
		DeliveryStatus: model.DeliveryPending,
		CostUSD:        result.CostUSD,
	}
	if result.Model != "" {
		reply.ModelUsed = &result.Model
	}
	if result.ProcessingMs > 0 {
		ms := result.ProcessingMs
		reply.ProcessingMs = &ms
	}

	if err := w.messages.Create(ctx, reply); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			log.Debug("concurrent job already persisted the reply")
			return nil
		}
		return fmt.Errorf("failed to persist reply: %w", err)
	}

	metrics.MessagesTotal.WithLabelValues(job.TenantID, string(model.SenderAI)).Inc()

	if err := w.conversations.Touch(ctx, job.ConversationID, w.now()); err != nil {
		log.Warn("failed to touch conversation", zap.Error(err))
	}

	if err := w.queue.EnqueueDelivery(ctx, job.ConversationID, reply.ID, 0); err != nil {
		return fmt.Errorf("failed to enqueue delivery: %w", err)
	}

	log.Info("reply generated",
		zap.String("message_id", reply.ID),
		zap.Bool("success", result.Success),
		zap.Bool("fallback", result.Fallback),
	)

	return nil
}

// HandleDeliveryJob delivers one persisted outbound message. Scheduled jobs
// whose time has not come are deferred, not failed.
func (w *Worker) HandleDeliveryJob(ctx context.Context, subject string, data []byte) error {
	var job queue.DeliveryJob
	if err := json.Unmarshal(data, &job); err != nil {
		w.logger.Error("malformed delivery job, dropping", zap.Error(err))
		return nil
	}

	if job.NotBefore != nil {
		if remaining := job.NotBefore.Sub(w.now()); remaining > 0 {
			return &queue.RetryAfterError{Delay: remaining}
		}
	}

	return w.deliverer.Deliver(ctx, job.MessageID)
}
