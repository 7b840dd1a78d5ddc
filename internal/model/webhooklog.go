package model

import (
	"time"
)

// WebhookLog is an append-only audit record of a raw webhook delivery.
// Retention is bounded: store.PruneWebhookLogs caps the table size.
type WebhookLog struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	Payload   string    `gorm:"type:text" json:"payload"`
	Valid     bool      `gorm:"not null" json:"valid"`
	Outcome   string    `gorm:"size:256" json:"outcome"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName implements the GORM tabler interface.
func (WebhookLog) TableName() string { return "webhook_logs" }

// KnowledgeChunk is one retrievable snippet of tenant knowledge used to
// ground the model's system prompt.
type KnowledgeChunk struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID  string    `gorm:"type:uuid;not null;index" json:"tenant_id"`
	Title     string    `gorm:"size:256" json:"title"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName implements the GORM tabler interface.
func (KnowledgeChunk) TableName() string { return "knowledge_chunks" }
