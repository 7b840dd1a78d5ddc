package model

import (
	"time"
)

// Session is short-lived interaction state keyed by customer phone number.
// It lives primarily in Redis; this durable copy exists so the most recent
// state can be rehydrated after cache eviction or a restart. It is never a
// source of truth for conversation content.
type Session struct {
	ID           string            `gorm:"type:uuid;primaryKey" json:"id"`
	PhoneNumber  string            `gorm:"size:32;not null;uniqueIndex" json:"phone_number"`
	Flow         string            `gorm:"size:64" json:"flow"`
	Step         string            `gorm:"size:64" json:"step"`
	Context      map[string]string `gorm:"serializer:json" json:"context,omitempty"`
	MessageCount int               `gorm:"not null;default:0" json:"message_count"`
	ExpiresAt    time.Time         `gorm:"not null;index" json:"expires_at"`
	CreatedAt    time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName implements the GORM tabler interface.
func (Session) TableName() string { return "sessions" }

// Expired reports whether the session is past its expiry.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
