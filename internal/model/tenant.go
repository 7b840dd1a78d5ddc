// Package model defines the persistence models for the messaging pipeline.
// These types are used by GORM for schema mapping and are shared across the
// store and service layers.
package model

import (
	"time"
)

// Tenant is a business account that owns conversations and a reply budget.
type Tenant struct {
	ID               string    `gorm:"type:uuid;primaryKey" json:"id"`
	Name             string    `gorm:"size:256;not null" json:"name"`
	PhoneNumber      string    `gorm:"size:32;uniqueIndex" json:"phone_number"`
	Verified         bool      `gorm:"not null;default:false" json:"verified"`
	AIEnabled        bool      `gorm:"not null;default:true" json:"ai_enabled"`
	BusinessContext  string    `gorm:"type:text" json:"business_context"`
	DailyBudgetUSD   float64   `gorm:"not null;default:5" json:"daily_budget_usd"`
	MonthlyBudgetUSD float64   `gorm:"not null;default:100" json:"monthly_budget_usd"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName implements the GORM tabler interface.
func (Tenant) TableName() string { return "tenants" }
