package delivery

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/replyflow-ai/messaging-pipeline/internal/model"
	"github.com/replyflow-ai/messaging-pipeline/internal/store"
	"github.com/replyflow-ai/messaging-pipeline/internal/webhook"
	"github.com/replyflow-ai/messaging-pipeline/pkg/logger"
)

// StatusStore is the slice of message persistence reconciliation needs.
type StatusStore interface {
	GetByProviderID(ctx context.Context, providerID string) (*model.Message, error)
	AdvanceDeliveryStatus(ctx context.Context, id string, status model.DeliveryStatus) error
}

// Reconciler applies the provider's asynchronous delivery-status callbacks
// to stored messages.
type Reconciler struct {
	messages StatusStore
	logger   *logger.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(messages StatusStore, log *logger.Logger) *Reconciler {
	return &Reconciler{messages: messages, logger: log}
}

var providerStatuses = map[string]model.DeliveryStatus{
	"sent":      model.DeliverySent,
	"delivered": model.DeliveryDelivered,
	"read":      model.DeliveryRead,
	"failed":    model.DeliveryFailed,
}

// Apply processes a batch of status callbacks and returns how many updated a
// stored message. Unknown provider ids and unknown statuses are logged and
// skipped; one bad callback never aborts the batch.
func (r *Reconciler) Apply(ctx context.Context, updates []webhook.StatusUpdate) int {
	applied := 0

	for _, u := range updates {
		status, ok := providerStatuses[u.Status]
		if !ok {
			r.logger.Warn("unknown delivery status, skipping",
				zap.String("provider_message_id", u.ID),
				zap.String("status", u.Status),
			)
			continue
		}

		msg, err := r.messages.GetByProviderID(ctx, u.ID)
		if errors.Is(err, store.ErrNotFound) {
			r.logger.Warn("status callback for unknown message, ignoring",
				zap.String("provider_message_id", u.ID),
				zap.String("status", u.Status),
			)
			continue
		}
		if err != nil {
			r.logger.Error("failed to look up message for status callback",
				zap.String("provider_message_id", u.ID),
				zap.Error(err),
			)
			continue
		}

		if err := r.messages.AdvanceDeliveryStatus(ctx, msg.ID, status); err != nil {
			r.logger.Error("failed to advance delivery status",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			continue
		}
		applied++
	}

	return applied
}
