package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/replyflow-ai/messaging-pipeline/internal/model"
)

// statusRank orders delivery statuses so updates only ever advance.
var statusRank = map[model.DeliveryStatus]int{
	model.DeliveryPending:   0,
	model.DeliveryFailed:    1,
	model.DeliverySent:      2,
	model.DeliveryDelivered: 3,
	model.DeliveryRead:      4,
}

// MessageStore persists messages.
type MessageStore struct {
	db *gorm.DB
}

// NewMessageStore creates a message store.
func NewMessageStore(db *gorm.DB) *MessageStore {
	return &MessageStore{db: db}
}

// ErrDuplicate is returned when an insert violates a uniqueness constraint,
// e.g. a second reply to the same inbound message.
var ErrDuplicate = errors.New("duplicate row")

// Create inserts a message.
func (s *MessageStore) Create(ctx context.Context, msg *model.Message) error {
	err := s.db.WithContext(ctx).Create(msg).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

// Get retrieves a message by ID.
func (s *MessageStore) Get(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	err := s.db.WithContext(ctx).First(&msg, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetByProviderID retrieves a message by its provider message id.
func (s *MessageStore) GetByProviderID(ctx context.Context, providerID string) (*model.Message, error) {
	var msg model.Message
	err := s.db.WithContext(ctx).First(&msg, "provider_message_id = ?", providerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ReplyExists reports whether an AI reply to the given inbound message has
// already been persisted. This is the idempotency check for the
// reply-generation job under at-least-once queue delivery.
func (s *MessageStore) ReplyExists(ctx context.Context, inboundID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("reply_to_id = ?", inboundID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListRecent returns the last limit messages of a conversation in
// chronological order.
func (s *MessageStore) ListRecent(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	var msgs []model.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}

	// reverse into chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MarkSent records a successful provider send.
func (s *MessageStore) MarkSent(ctx context.Context, id, providerID string) error {
	return s.db.WithContext(ctx).Model(&model.Message{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"provider_message_id": providerID,
			"delivery_status":     model.DeliverySent,
		}).Error
}

// MarkFailed records a delivery failure after retry exhaustion.
func (s *MessageStore) MarkFailed(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&model.Message{}).
		Where("id = ?", id).
		Update("delivery_status", model.DeliveryFailed).Error
}

// AdvanceDeliveryStatus moves a message's delivery status forward. Updates
// that would regress the status (a late "delivered" after "read") are
// silently dropped.
func (s *MessageStore) AdvanceDeliveryStatus(ctx context.Context, id string, status model.DeliveryStatus) error {
	msg, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if statusRank[status] <= statusRank[msg.DeliveryStatus] {
		return nil
	}
	return s.db.WithContext(ctx).Model(&model.Message{}).
		Where("id = ?", id).
		Update("delivery_status", status).Error
}

// FindFailedSince returns failed messages created within the lookback window,
// oldest first, bounded by limit.
func (s *MessageStore) FindFailedSince(ctx context.Context, since time.Time, limit int) ([]model.Message, error) {
	var msgs []model.Message
	err := s.db.WithContext(ctx).
		Where("delivery_status = ? AND created_at >= ?", model.DeliveryFailed, since).
		Order("created_at ASC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}
