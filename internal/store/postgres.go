// Package store provides the relational persistence layer over Postgres.
package store

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/replyflow-ai/messaging-pipeline/internal/model"
)

// Open connects to Postgres. TranslateError is enabled so unique-constraint
// violations surface as gorm.ErrDuplicatedKey.
func Open(databaseURL string) (*gorm.DB, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	return db, nil
}

// Health adapts the connection pool for readiness checks.
type Health struct {
	db *gorm.DB
}

// NewHealth creates a health adapter.
func NewHealth(db *gorm.DB) *Health {
	return &Health{db: db}
}

// Ping verifies database reachability.
func (h *Health) Ping(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Migrate creates the schema. The partial unique index enforces the
// one-open-conversation invariant: at most one conversation per
// (tenant, phone) in status active or closed. AutoMigrate cannot express a
// partial index, so it is created with raw SQL.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Tenant{},
		&model.Conversation{},
		&model.Message{},
		&model.Session{},
		&model.LlmUsageRecord{},
		&model.WebhookLog{},
		&model.KnowledgeChunk{},
	); err != nil {
		return fmt.Errorf("auto-migrate failed: %w", err)
	}

	if err := db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_conversations_open
		 ON conversations (tenant_id, customer_phone)
		 WHERE status IN ('active', 'closed')`,
	).Error; err != nil {
		return fmt.Errorf("failed to create open-conversation index: %w", err)
	}

	return nil
}
