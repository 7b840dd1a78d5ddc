package store

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/replyflow-ai/messaging-pipeline/internal/model"
)

// WebhookLogStore persists the bounded webhook audit trail.
type WebhookLogStore struct {
	db      *gorm.DB
	maxRows int
}

// NewWebhookLogStore creates a webhook log store retaining at most maxRows.
func NewWebhookLogStore(db *gorm.DB, maxRows int) *WebhookLogStore {
	return &WebhookLogStore{db: db, maxRows: maxRows}
}

// Append records one webhook delivery. Audit logging is non-critical: callers
// log and swallow the returned error rather than failing the pipeline.
func (s *WebhookLogStore) Append(ctx context.Context, payload []byte, valid bool, outcome string) error {
	return s.db.WithContext(ctx).Create(&model.WebhookLog{
		ID:      uuid.Must(uuid.NewV7()).String(),
		Payload: string(payload),
		Valid:   valid,
		Outcome: outcome,
	}).Error
}

// Prune deletes rows beyond the retention cap, oldest first.
func (s *WebhookLogStore) Prune(ctx context.Context) error {
	return s.db.WithContext(ctx).Exec(
		`DELETE FROM webhook_logs WHERE id IN (
			SELECT id FROM webhook_logs ORDER BY created_at DESC OFFSET ?
		)`, s.maxRows,
	).Error
}
