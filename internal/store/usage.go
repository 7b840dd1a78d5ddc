package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/replyflow-ai/messaging-pipeline/internal/model"
)

// UsageStore persists model usage records. Append-only.
type UsageStore struct {
	db *gorm.DB
}

// NewUsageStore creates a usage store.
func NewUsageStore(db *gorm.DB) *UsageStore {
	return &UsageStore{db: db}
}

// Record appends one usage row.
func (s *UsageStore) Record(ctx context.Context, rec *model.LlmUsageRecord) error {
	return s.db.WithContext(ctx).Create(rec).Error
}

// CostSince sums a tenant's recorded spend from the given instant. Reads are
// eventually consistent with concurrent writes; budget enforcement is
// best-effort by design.
func (s *UsageStore) CostSince(ctx context.Context, tenantID string, since time.Time) (float64, error) {
	var total float64
	err := s.db.WithContext(ctx).Model(&model.LlmUsageRecord{}).
		Select("COALESCE(SUM(cost_usd), 0)").
		Where("tenant_id = ? AND created_at >= ?", tenantID, since).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}
