package model

import (
	"time"
)

// LlmUsageRecord is one row per model invocation, success or failure.
// Append-only; used for budget aggregation and analytics.
type LlmUsageRecord struct {
	ID          string    `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID    string    `gorm:"type:uuid;not null;index:idx_usage_tenant_time,priority:1" json:"tenant_id"`
	PhoneNumber string    `gorm:"size:32" json:"phone_number"`
	Model       string    `gorm:"size:64;not null" json:"model"`
	TokensIn    int       `gorm:"not null;default:0" json:"tokens_in"`
	TokensOut   int       `gorm:"not null;default:0" json:"tokens_out"`
	CostUSD     float64   `gorm:"not null;default:0" json:"cost_usd"`
	Success     bool      `gorm:"not null" json:"success"`
	Fallback    bool      `gorm:"not null;default:false" json:"fallback"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index:idx_usage_tenant_time,priority:2" json:"created_at"`
}

// TableName implements the GORM tabler interface.
func (LlmUsageRecord) TableName() string { return "llm_usage_records" }
