package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/replyflow-ai/messaging-pipeline/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

var openStatuses = []model.ConversationStatus{
	model.ConversationActive,
	model.ConversationClosed,
}

// ConversationStore persists conversations.
type ConversationStore struct {
	db *gorm.DB
}

// NewConversationStore creates a conversation store.
func NewConversationStore(db *gorm.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

// FindOrCreate returns the open conversation for (tenant, phone), creating it
// if absent. Concurrent webhooks for the same customer are resolved by the
// partial unique index: a losing insert re-reads the winner's row instead of
// racing on check-then-act.
func (s *ConversationStore) FindOrCreate(ctx context.Context, tenantID, phone, name string) (*model.Conversation, error) {
	conv, err := s.findOpen(ctx, tenantID, phone)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now()
	conv = &model.Conversation{
		ID:            uuid.Must(uuid.NewV7()).String(),
		TenantID:      tenantID,
		CustomerPhone: phone,
		CustomerName:  name,
		Status:        model.ConversationActive,
		AIEnabled:     true,
		LastMessageAt: now,
	}

	if err := s.db.WithContext(ctx).Create(conv).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return s.findOpen(ctx, tenantID, phone)
		}
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	return conv, nil
}

func (s *ConversationStore) findOpen(ctx context.Context, tenantID, phone string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND customer_phone = ? AND status IN ?", tenantID, phone, openStatuses).
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// Get retrieves a conversation by ID.
func (s *ConversationStore) Get(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).First(&conv, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// FindLatestByPhone returns the most recently active conversation for a
// customer phone across all tenants. Used for routing continuity.
func (s *ConversationStore) FindLatestByPhone(ctx context.Context, phone string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).
		Where("customer_phone = ? AND status IN ?", phone, openStatuses).
		Order("last_message_at DESC").
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListByTenant lists a tenant's conversations, most recent first.
func (s *ConversationStore) ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]model.Conversation, int64, error) {
	var convs []model.Conversation
	var total int64

	q := s.db.WithContext(ctx).Model(&model.Conversation{}).Where("tenant_id = ?", tenantID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := q.Order("last_message_at DESC").Limit(limit).Offset(offset).Find(&convs).Error
	if err != nil {
		return nil, 0, err
	}
	return convs, total, nil
}

// Touch advances the conversation's last-message timestamp.
func (s *ConversationStore) Touch(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", id).
		Update("last_message_at", at).Error
}

// SetAIEnabled toggles the AI-reply flag on a conversation.
func (s *ConversationStore) SetAIEnabled(ctx context.Context, id string, enabled bool) error {
	res := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", id).
		Update("ai_enabled", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Archive moves a conversation out of the open set, freeing the
// (tenant, phone) slot for a new active conversation.
func (s *ConversationStore) Archive(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", id).
		Update("status", model.ConversationArchived)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a conversation and its messages.
func (s *ConversationStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", id).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&model.Conversation{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
