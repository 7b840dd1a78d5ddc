package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/replyflow-ai/messaging-pipeline/internal/model"
	"github.com/replyflow-ai/messaging-pipeline/pkg/logger"
	"github.com/replyflow-ai/messaging-pipeline/pkg/metrics"
	"github.com/replyflow-ai/messaging-pipeline/pkg/retry"
)

// ErrDeliveryFailed indicates retry exhaustion against the provider.
var ErrDeliveryFailed = errors.New("delivery failed after retries")

// MessageSource is the slice of message persistence the sender needs.
type MessageSource interface {
	Get(ctx context.Context, id string) (*model.Message, error)
	MarkSent(ctx context.Context, id, providerID string) error
	MarkFailed(ctx context.Context, id string) error
	FindFailedSince(ctx context.Context, since time.Time, limit int) ([]model.Message, error)
}

// ConversationSource resolves a message's destination phone number.
type ConversationSource interface {
	Get(ctx context.Context, id string) (*model.Conversation, error)
}

// Enqueuer hands delivery work to the job queue, optionally delayed.
type Enqueuer interface {
	EnqueueDelivery(ctx context.Context, conversationID, messageID string, delay time.Duration) error
}

// Sender delivers outbound messages with bounded retries and exponential
// backoff, and re-enqueues recent failures on demand.
type Sender struct {
	api           API
	messages      MessageSource
	conversations ConversationSource
	queue         Enqueuer
	policy        retry.Policy
	logger        *logger.Logger

	now func() time.Time
}

// NewSender creates a sender.
func NewSender(api API, messages MessageSource, conversations ConversationSource, queue Enqueuer, policy retry.Policy, log *logger.Logger) *Sender {
	return &Sender{
		api:           api,
		messages:      messages,
		conversations: conversations,
		queue:         queue,
		policy:        policy,
		logger:        log,
		now:           time.Now,
	}
}

// Send delivers a persisted message. A future sendAt enqueues the work with
// the computed delay instead of calling the provider inline.
func (s *Sender) Send(ctx context.Context, messageID string, sendAt *time.Time) error {
	if sendAt != nil {
		if delay := sendAt.Sub(s.now()); delay > 0 {
			msg, err := s.messages.Get(ctx, messageID)
			if err != nil {
				return err
			}
			return s.queue.EnqueueDelivery(ctx, msg.ConversationID, messageID, delay)
		}
	}
	return s.Deliver(ctx, messageID)
}

// Deliver performs the provider call for a persisted message. Idempotent: a
// message that already carries a provider id is skipped, so at-least-once
// job redelivery cannot double-send.
func (s *Sender) Deliver(ctx context.Context, messageID string) error {
	msg, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return fmt.Errorf("failed to load message: %w", err)
	}

	if msg.ProviderMessageID != nil {
		s.logger.Debug("message already delivered, skipping",
			zap.String("message_id", messageID),
		)
		return nil
	}

	conv, err := s.conversations.Get(ctx, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}

	var providerID string
	err = retry.Do(ctx, s.policy, func() error {
		var sendErr error
		providerID, sendErr = s.api.Send(ctx, conv.CustomerPhone, msg.Content)
		if sendErr != nil {
			metrics.DeliveryAttemptsTotal.WithLabelValues("error").Inc()
		}
		return sendErr
	})
	if err != nil {
		metrics.DeliveryAttemptsTotal.WithLabelValues("exhausted").Inc()
		if markErr := s.messages.MarkFailed(ctx, messageID); markErr != nil {
			s.logger.Error("failed to mark message failed", zap.Error(markErr))
		}
		return fmt.Errorf("%w: %s", ErrDeliveryFailed, err)
	}

	metrics.DeliveryAttemptsTotal.WithLabelValues("success").Inc()
	if err := s.messages.MarkSent(ctx, messageID, providerID); err != nil {
		return fmt.Errorf("failed to mark message sent: %w", err)
	}

	return nil
}

// RetryFailed re-enqueues messages that failed within the lookback window.
// Bounded by design: callers pick the window and batch size, and a message
// re-fails back into the pool rather than looping forever here.
func (s *Sender) RetryFailed(ctx context.Context, window time.Duration, limit int) (int, error) {
	failed, err := s.messages.FindFailedSince(ctx, s.now().Add(-window), limit)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, msg := range failed {
		if err := s.queue.EnqueueDelivery(ctx, msg.ConversationID, msg.ID, 0); err != nil {
			s.logger.Error("failed to re-enqueue message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			continue
		}
		enqueued++
	}

	return enqueued, nil
}
