package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/replyflow-ai/messaging-pipeline/internal/model"
	"github.com/replyflow-ai/messaging-pipeline/internal/store"
	"github.com/replyflow-ai/messaging-pipeline/pkg/logger"
	"github.com/replyflow-ai/messaging-pipeline/pkg/metrics"
)

// Cache is the ephemeral side of session storage.
type Cache interface {
	Get(ctx context.Context, phone string) (*model.Session, error)
	Set(ctx context.Context, sess *model.Session) error
	Delete(ctx context.Context, phone string) error
}

// Durable is the backing copy used for rehydration after eviction.
type Durable interface {
	Upsert(ctx context.Context, sess *model.Session) error
	GetByPhone(ctx context.Context, phone string) (*model.Session, error)
	Delete(ctx context.Context, phone string) error
}

// Manager owns the session lifecycle. Reads past expiry are misses, never
// errors: a fresh session is created transparently.
type Manager struct {
	cache   Cache
	durable Durable
	ttl     time.Duration
	logger  *logger.Logger

	now func() time.Time
}

// NewManager creates a session manager with the given TTL.
func NewManager(cache Cache, durable Durable, ttl time.Duration, log *logger.Logger) *Manager {
	return &Manager{
		cache:   cache,
		durable: durable,
		ttl:     ttl,
		logger:  log,
		now:     time.Now,
	}
}

// GetByPhone returns the live session for a phone number. Lookup order:
// cache, then durable copy (rehydrating the cache), then a fresh session.
func (m *Manager) GetByPhone(ctx context.Context, phone string) (*model.Session, error) {
	now := m.now()

	sess, err := m.cache.Get(ctx, phone)
	if err == nil && !sess.Expired(now) {
		metrics.SessionCacheHits.WithLabelValues("hit").Inc()
		return sess, nil
	}
	if err != nil && !errors.Is(err, ErrCacheMiss) {
		m.logger.Warn("session cache read failed", zap.Error(err))
	}

	sess, err = m.durable.GetByPhone(ctx, phone)
	if err == nil && !sess.Expired(now) {
		metrics.SessionCacheHits.WithLabelValues("rehydrated").Inc()
		if cerr := m.cache.Set(ctx, sess); cerr != nil {
			m.logger.Warn("session cache rehydrate failed", zap.Error(cerr))
		}
		return sess, nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	metrics.SessionCacheHits.WithLabelValues("miss").Inc()
	return m.Create(ctx, phone)
}

// Create starts a fresh session for a phone number.
func (m *Manager) Create(ctx context.Context, phone string) (*model.Session, error) {
	sess := &model.Session{
		ID:          uuid.Must(uuid.NewV7()).String(),
		PhoneNumber: phone,
		Context:     map[string]string{},
		ExpiresAt:   m.now().Add(m.ttl),
	}
	if err := m.write(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Update sets flow/step/context on the live session and refreshes expiry.
func (m *Manager) Update(ctx context.Context, phone, flow, step string, context map[string]string) (*model.Session, error) {
	sess, err := m.GetByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}

	if flow != "" {
		sess.Flow = flow
	}
	if step != "" {
		sess.Step = step
	}
	for k, v := range context {
		if sess.Context == nil {
			sess.Context = map[string]string{}
		}
		sess.Context[k] = v
	}
	sess.MessageCount++
	sess.ExpiresAt = m.now().Add(m.ttl)

	if err := m.write(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Extend refreshes the expiry of the live session without other changes.
func (m *Manager) Extend(ctx context.Context, phone string) (*model.Session, error) {
	sess, err := m.GetByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	sess.ExpiresAt = m.now().Add(m.ttl)
	if err := m.write(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// End removes the session from both stores.
func (m *Manager) End(ctx context.Context, phone string) error {
	if err := m.cache.Delete(ctx, phone); err != nil {
		m.logger.Warn("session cache delete failed", zap.Error(err))
	}
	return m.durable.Delete(ctx, phone)
}

// write persists to the durable store first, then the cache. A cache write
// failure is logged but not fatal; the durable copy rehydrates later.
func (m *Manager) write(ctx context.Context, sess *model.Session) error {
	if err := m.durable.Upsert(ctx, sess); err != nil {
		return err
	}
	if err := m.cache.Set(ctx, sess); err != nil {
		m.logger.Warn("session cache write failed", zap.Error(err))
	}
	return nil
}
