package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/replyflow-ai/messaging-pipeline/internal/model"
)

// TenantStore persists tenants.
type TenantStore struct {
	db *gorm.DB
}

// NewTenantStore creates a tenant store.
func NewTenantStore(db *gorm.DB) *TenantStore {
	return &TenantStore{db: db}
}

// Get retrieves a tenant by ID.
func (s *TenantStore) Get(ctx context.Context, id string) (*model.Tenant, error) {
	var t model.Tenant
	err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetByPhone retrieves the tenant bound to a routing phone number.
func (s *TenantStore) GetByPhone(ctx context.Context, phone string) (*model.Tenant, error) {
	var t model.Tenant
	err := s.db.WithContext(ctx).First(&t, "phone_number = ?", phone).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// DefaultTenant returns the earliest-registered verified tenant, the
// deterministic fallback when no explicit binding routes a customer.
func (s *TenantStore) DefaultTenant(ctx context.Context) (*model.Tenant, error) {
	var t model.Tenant
	err := s.db.WithContext(ctx).
		Where("verified = ?", true).
		Order("created_at ASC").
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
