package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyflow-ai/messaging-pipeline/internal/model"
	"github.com/replyflow-ai/messaging-pipeline/internal/store"
	"github.com/replyflow-ai/messaging-pipeline/pkg/logger"
)

type fakeConvFinder struct {
	conv *model.Conversation
	err  error
}

func (f *fakeConvFinder) FindLatestByPhone(ctx context.Context, phone string) (*model.Conversation, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.conv, nil
}

type fakeTenantSource struct {
	tenant *model.Tenant
	err    error
}

func (f *fakeTenantSource) DefaultTenant(ctx context.Context) (*model.Tenant, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tenant, nil
}

func TestResolveTestNumberPin(t *testing.T) {
	r := New(
		&fakeConvFinder{err: store.ErrNotFound},
		&fakeTenantSource{err: store.ErrNotFound},
		"15550001111", "tenant-sandbox",
		logger.NewNop(),
	)

	id, err := r.Resolve(context.Background(), "15550001111")
	require.NoError(t, err)
	assert.Equal(t, "tenant-sandbox", id)
}

func TestResolveConversationContinuity(t *testing.T) {
	r := New(
		&fakeConvFinder{conv: &model.Conversation{TenantID: "tenant-a"}},
		&fakeTenantSource{tenant: &model.Tenant{ID: "tenant-default"}},
		"", "",
		logger.NewNop(),
	)

	id, err := r.Resolve(context.Background(), "15557654321")
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", id)
}

func TestResolveFallsBackToDefaultTenant(t *testing.T) {
	r := New(
		&fakeConvFinder{err: store.ErrNotFound},
		&fakeTenantSource{tenant: &model.Tenant{ID: "tenant-default"}},
		"", "",
		logger.NewNop(),
	)

	id, err := r.Resolve(context.Background(), "15557654321")
	require.NoError(t, err)
	assert.Equal(t, "tenant-default", id)
}

func TestResolveNoMatchIsExplicit(t *testing.T) {
	r := New(
		&fakeConvFinder{err: store.ErrNotFound},
		&fakeTenantSource{err: store.ErrNotFound},
		"", "",
		logger.NewNop(),
	)

	_, err := r.Resolve(context.Background(), "15557654321")
	assert.ErrorIs(t, err, ErrNoTenant)
}

func TestResolvePropagatesStoreErrors(t *testing.T) {
	boom := errors.New("db down")
	r := New(
		&fakeConvFinder{err: boom},
		&fakeTenantSource{tenant: &model.Tenant{ID: "tenant-default"}},
		"", "",
		logger.NewNop(),
	)

	_, err := r.Resolve(context.Background(), "15557654321")
	assert.ErrorIs(t, err, boom)
}
