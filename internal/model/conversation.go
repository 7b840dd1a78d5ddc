package model

import (
	"time"
)

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationClosed   ConversationStatus = "closed"
	ConversationArchived ConversationStatus = "archived"
)

// Conversation is the ongoing thread between a tenant and one customer phone
// number. At most one conversation per (tenant, phone) may be active or
// closed; archived conversations do not block creation of a new one. The
// constraint is enforced by a partial unique index created in store.Migrate.
type Conversation struct {
	ID            string             `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID      string             `gorm:"type:uuid;not null;index" json:"tenant_id"`
	CustomerPhone string             `gorm:"size:32;not null;index" json:"customer_phone"`
	CustomerName  string             `gorm:"size:256" json:"customer_name"`
	Status        ConversationStatus `gorm:"size:16;not null;default:'active'" json:"status"`
	AIEnabled     bool               `gorm:"not null;default:true" json:"ai_enabled"`
	LastMessageAt time.Time          `json:"last_message_at"`
	CreatedAt     time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time          `gorm:"autoUpdateTime" json:"updated_at"`

	Messages []Message `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

// TableName implements the GORM tabler interface.
func (Conversation) TableName() string { return "conversations" }
