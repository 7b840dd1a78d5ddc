package model

import (
	"time"
)

// SenderType identifies who produced a message.
type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderAI       SenderType = "ai"
	SenderAgent    SenderType = "agent"
)

// MessageType is the content kind of a message.
type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeDocument MessageType = "document"
	MessageTypeAudio    MessageType = "audio"
)

// DeliveryStatus tracks outbound delivery progress.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Message belongs to exactly one conversation. Content is immutable after
// creation; only the delivery status advances.
type Message struct {
	ID             string      `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID string      `gorm:"type:uuid;not null;index" json:"conversation_id"`
	Content        string      `gorm:"type:text;not null" json:"content"`
	SenderType     SenderType  `gorm:"size:16;not null" json:"sender_type"`
	MessageType    MessageType `gorm:"size:16;not null;default:'text'" json:"message_type"`

	// ProviderMessageID correlates asynchronous delivery-status callbacks.
	ProviderMessageID *string `gorm:"size:128;uniqueIndex" json:"provider_message_id,omitempty"`

	// ReplyToID is the inbound message an AI reply answers. Its uniqueness
	// makes the reply-generation job idempotent under at-least-once delivery.
	ReplyToID *string `gorm:"type:uuid;uniqueIndex" json:"reply_to_id,omitempty"`

	DeliveryStatus DeliveryStatus `gorm:"size:16;not null;default:'pending'" json:"delivery_status"`
	ModelUsed      *string        `gorm:"size:64" json:"model_used,omitempty"`
	ProcessingMs   *int64         `json:"processing_ms,omitempty"`
	CostUSD        float64        `gorm:"not null;default:0" json:"cost_usd"`
	CreatedAt      time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName implements the GORM tabler interface.
func (Message) TableName() string { return "messages" }
