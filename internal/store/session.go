package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/replyflow-ai/messaging-pipeline/internal/model"
)

// SessionStore is the durable backing copy of the session cache. It exists
// only so sessions survive cache eviction and restarts.
type SessionStore struct {
	db *gorm.DB
}

// NewSessionStore creates a session store.
func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Upsert writes a session, replacing any existing row for the phone number.
func (s *SessionStore) Upsert(ctx context.Context, sess *model.Session) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "phone_number"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"flow", "step", "context", "message_count", "expires_at", "updated_at",
		}),
	}).Create(sess).Error
}

// GetByPhone retrieves the stored session for a phone number, expired or not.
// Expiry interpretation belongs to the session manager.
func (s *SessionStore) GetByPhone(ctx context.Context, phone string) (*model.Session, error) {
	var sess model.Session
	err := s.db.WithContext(ctx).First(&sess, "phone_number = ?", phone).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// Delete removes the stored session for a phone number.
func (s *SessionStore) Delete(ctx context.Context, phone string) error {
	return s.db.WithContext(ctx).Delete(&model.Session{}, "phone_number = ?", phone).Error
}
