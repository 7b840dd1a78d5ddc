// Package routing maps an inbound customer phone number to the tenant that
// owns the conversation.
package routing

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/replyflow-ai/messaging-pipeline/internal/model"
	"github.com/replyflow-ai/messaging-pipeline/internal/store"
	"github.com/replyflow-ai/messaging-pipeline/pkg/logger"
)

// ErrNoTenant indicates that no routing rule matched. The caller must drop
// the message and audit-log it; guessing a tenant is never acceptable.
var ErrNoTenant = errors.New("no tenant found for customer number")

type conversationFinder interface {
	FindLatestByPhone(ctx context.Context, phone string) (*model.Conversation, error)
}

type tenantSource interface {
	DefaultTenant(ctx context.Context) (*model.Tenant, error)
}

// Router resolves tenant ownership for inbound customer numbers.
//
// The continuity-then-default chain is a stopgap for a missing explicit
// phone-to-tenant binding; a production deployment should replace the default
// rule with such a binding.
type Router struct {
	conversations conversationFinder
	tenants       tenantSource
	testNumber    string
	testTenantID  string
	logger        *logger.Logger
}

// New creates a router. testNumber/testTenantID pin a sandbox number to a
// fixed tenant and may be empty.
func New(conversations conversationFinder, tenants tenantSource, testNumber, testTenantID string, log *logger.Logger) *Router {
	return &Router{
		conversations: conversations,
		tenants:       tenants,
		testNumber:    testNumber,
		testTenantID:  testTenantID,
		logger:        log,
	}
}

// Resolve returns the owning tenant id for a customer phone number. Rules
// short-circuit in order: sandbox pin, conversation continuity, default
// tenant. ErrNoTenant when nothing matches.
func (r *Router) Resolve(ctx context.Context, phone string) (string, error) {
	if r.testNumber != "" && phone == r.testNumber && r.testTenantID != "" {
		return r.testTenantID, nil
	}

	conv, err := r.conversations.FindLatestByPhone(ctx, phone)
	if err == nil {
		return conv.TenantID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	tenant, err := r.tenants.DefaultTenant(ctx)
	if err == nil {
		r.logger.Debug("routed to default tenant",
			zap.String("customer_phone", phone),
			zap.String("tenant_id", tenant.ID),
		)
		return tenant.ID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	return "", ErrNoTenant
}
