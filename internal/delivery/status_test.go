package delivery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/replyflow-ai/messaging-pipeline/internal/model"
	"github.com/replyflow-ai/messaging-pipeline/internal/store"
	"github.com/replyflow-ai/messaging-pipeline/internal/webhook"
	"github.com/replyflow-ai/messaging-pipeline/pkg/logger"
)

type fakeStatusStore struct {
	byProvider map[string]*model.Message
	advanced   map[string]model.DeliveryStatus
}

func newFakeStatusStore() *fakeStatusStore {
	return &fakeStatusStore{
		byProvider: map[string]*model.Message{},
		advanced:   map[string]model.DeliveryStatus{},
	}
}

func (f *fakeStatusStore) GetByProviderID(ctx context.Context, providerID string) (*model.Message, error) {
	if m, ok := f.byProvider[providerID]; ok {
		return m, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStatusStore) AdvanceDeliveryStatus(ctx context.Context, id string, status model.DeliveryStatus) error {
	f.advanced[id] = status
	return nil
}

func TestApplyAdvancesKnownMessages(t *testing.T) {
	msgs := newFakeStatusStore()
	msgs.byProvider["wamid.1"] = &model.Message{ID: "msg-1"}
	msgs.byProvider["wamid.2"] = &model.Message{ID: "msg-2"}

	r := NewReconciler(msgs, logger.NewNop())
	applied := r.Apply(context.Background(), []webhook.StatusUpdate{
		{ID: "wamid.1", Status: "delivered"},
		{ID: "wamid.2", Status: "read"},
	})

	assert.Equal(t, 2, applied)
	assert.Equal(t, model.DeliveryDelivered, msgs.advanced["msg-1"])
	assert.Equal(t, model.DeliveryRead, msgs.advanced["msg-2"])
}

func TestApplyIgnoresUnknownProviderID(t *testing.T) {
	msgs := newFakeStatusStore()
	r := NewReconciler(msgs, logger.NewNop())

	applied := r.Apply(context.Background(), []webhook.StatusUpdate{
		{ID: "wamid.ghost", Status: "delivered"},
	})

	assert.Zero(t, applied)
	assert.Empty(t, msgs.advanced)
}

func TestApplySkipsUnknownStatus(t *testing.T) {
	msgs := newFakeStatusStore()
	msgs.byProvider["wamid.1"] = &model.Message{ID: "msg-1"}
	r := NewReconciler(msgs, logger.NewNop())

	applied := r.Apply(context.Background(), []webhook.StatusUpdate{
		{ID: "wamid.1", Status: "teleported"},
		{ID: "wamid.1", Status: "sent"},
	})

	assert.Equal(t, 1, applied)
	assert.Equal(t, model.DeliverySent, msgs.advanced["msg-1"])
}
