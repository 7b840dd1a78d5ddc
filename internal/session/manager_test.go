package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyflow-ai/messaging-pipeline/internal/model"
	"github.com/replyflow-ai/messaging-pipeline/internal/store"
	"github.com/replyflow-ai/messaging-pipeline/pkg/logger"
)

type fakeCache struct {
	entries map[string]*model.Session
	sets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]*model.Session{}}
}

func (c *fakeCache) Get(ctx context.Context, phone string) (*model.Session, error) {
	if s, ok := c.entries[phone]; ok {
		return s, nil
	}
	return nil, ErrCacheMiss
}

func (c *fakeCache) Set(ctx context.Context, sess *model.Session) error {
	c.sets++
	c.entries[sess.PhoneNumber] = sess
	return nil
}

func (c *fakeCache) Delete(ctx context.Context, phone string) error {
	delete(c.entries, phone)
	return nil
}

type fakeDurable struct {
	entries map[string]*model.Session
}

func newFakeDurable() *fakeDurable {
	return &fakeDurable{entries: map[string]*model.Session{}}
}

func (d *fakeDurable) Upsert(ctx context.Context, sess *model.Session) error {
	d.entries[sess.PhoneNumber] = sess
	return nil
}

func (d *fakeDurable) GetByPhone(ctx context.Context, phone string) (*model.Session, error) {
	if s, ok := d.entries[phone]; ok {
		return s, nil
	}
	return nil, store.ErrNotFound
}

func (d *fakeDurable) Delete(ctx context.Context, phone string) error {
	delete(d.entries, phone)
	return nil
}

func newTestManager(t *testing.T, at time.Time) (*Manager, *fakeCache, *fakeDurable) {
	t.Helper()
	cache := newFakeCache()
	durable := newFakeDurable()
	m := NewManager(cache, durable, 30*time.Minute, logger.NewNop())
	m.now = func() time.Time { return at }
	return m, cache, durable
}

func TestGetByPhoneCreatesOnMiss(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m, cache, durable := newTestManager(t, now)

	sess, err := m.GetByPhone(context.Background(), "15551234567")
	require.NoError(t, err)
	assert.Equal(t, "15551234567", sess.PhoneNumber)
	assert.Equal(t, now.Add(30*time.Minute), sess.ExpiresAt)

	// written through to both stores
	assert.Contains(t, cache.entries, "15551234567")
	assert.Contains(t, durable.entries, "15551234567")
}

func TestGetByPhoneCacheHit(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m, cache, _ := newTestManager(t, now)

	live := &model.Session{
		ID:          "sess-1",
		PhoneNumber: "15551234567",
		Flow:        "support",
		ExpiresAt:   now.Add(10 * time.Minute),
	}
	cache.entries["15551234567"] = live

	sess, err := m.GetByPhone(context.Background(), "15551234567")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sess.ID)
	assert.Equal(t, "support", sess.Flow)
}

func TestGetByPhoneRehydratesFromDurable(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m, cache, durable := newTestManager(t, now)

	durable.entries["15551234567"] = &model.Session{
		ID:          "sess-1",
		PhoneNumber: "15551234567",
		ExpiresAt:   now.Add(10 * time.Minute),
	}

	sess, err := m.GetByPhone(context.Background(), "15551234567")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sess.ID)

	// cache repopulated from the durable copy
	assert.Contains(t, cache.entries, "15551234567")
}

func TestGetByPhoneExpiredIsMiss(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m, cache, durable := newTestManager(t, now)

	stale := &model.Session{
		ID:          "sess-old",
		PhoneNumber: "15551234567",
		ExpiresAt:   now.Add(-time.Minute),
	}
	cache.entries["15551234567"] = stale
	durable.entries["15551234567"] = stale

	sess, err := m.GetByPhone(context.Background(), "15551234567")
	require.NoError(t, err)
	assert.NotEqual(t, "sess-old", sess.ID)
	assert.False(t, sess.Expired(now))
}

func TestUpdateRefreshesExpiryAndMerges(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m, _, durable := newTestManager(t, now)

	durable.entries["15551234567"] = &model.Session{
		ID:           "sess-1",
		PhoneNumber:  "15551234567",
		Flow:         "support",
		Step:         "greeting",
		Context:      map[string]string{"topic": "billing"},
		MessageCount: 2,
		ExpiresAt:    now.Add(time.Minute),
	}

	sess, err := m.Update(context.Background(), "15551234567", "", "responding", map[string]string{"last": "question"})
	require.NoError(t, err)

	assert.Equal(t, "support", sess.Flow)
	assert.Equal(t, "responding", sess.Step)
	assert.Equal(t, "billing", sess.Context["topic"])
	assert.Equal(t, "question", sess.Context["last"])
	assert.Equal(t, 3, sess.MessageCount)
	assert.Equal(t, now.Add(30*time.Minute), sess.ExpiresAt)
}

func TestEndRemovesBothCopies(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m, cache, durable := newTestManager(t, now)

	_, err := m.Create(context.Background(), "15551234567")
	require.NoError(t, err)

	require.NoError(t, m.End(context.Background(), "15551234567"))
	assert.NotContains(t, cache.entries, "15551234567")
	assert.NotContains(t, durable.entries, "15551234567")
}
