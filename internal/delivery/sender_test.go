package delivery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyflow-ai/messaging-pipeline/internal/model"
	"github.com/replyflow-ai/messaging-pipeline/pkg/logger"
	"github.com/replyflow-ai/messaging-pipeline/pkg/retry"
)

var fastPolicy = retry.Policy{
	MaxAttempts:     3,
	InitialInterval: time.Millisecond,
	MaxInterval:     time.Millisecond,
	Multiplier:      1.0,
}

type fakeAPI struct {
	mu       sync.Mutex
	calls    int
	failures int
	err      error
}

func (f *fakeAPI) Send(ctx context.Context, to, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil && f.calls <= f.failures {
		return "", f.err
	}
	if f.err != nil && f.failures == 0 {
		return "", f.err
	}
	return "wamid.provider-1", nil
}

type fakeMessages struct {
	messages map[string]*model.Message
	failed   []model.Message
}

func newFakeMessages(msgs ...*model.Message) *fakeMessages {
	f := &fakeMessages{messages: map[string]*model.Message{}}
	for _, m := range msgs {
		f.messages[m.ID] = m
	}
	return f
}

func (f *fakeMessages) Get(ctx context.Context, id string) (*model.Message, error) {
	return f.messages[id], nil
}

func (f *fakeMessages) MarkSent(ctx context.Context, id, providerID string) error {
	m := f.messages[id]
	m.ProviderMessageID = &providerID
	m.DeliveryStatus = model.DeliverySent
	return nil
}

func (f *fakeMessages) MarkFailed(ctx context.Context, id string) error {
	f.messages[id].DeliveryStatus = model.DeliveryFailed
	return nil
}

func (f *fakeMessages) FindFailedSince(ctx context.Context, since time.Time, limit int) ([]model.Message, error) {
	if len(f.failed) > limit {
		return f.failed[:limit], nil
	}
	return f.failed, nil
}

type fakeConvs struct{}

func (fakeConvs) Get(ctx context.Context, id string) (*model.Conversation, error) {
	return &model.Conversation{ID: id, CustomerPhone: "15551234567"}, nil
}

type fakeEnqueuer struct {
	mu       sync.Mutex
	enqueued []string
	delays   []time.Duration
}

func (f *fakeEnqueuer) EnqueueDelivery(ctx context.Context, conversationID, messageID string, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, messageID)
	f.delays = append(f.delays, delay)
	return nil
}

func pendingMessage(id string) *model.Message {
	return &model.Message{
		ID:             id,
		ConversationID: "conv-1",
		Content:        "your order shipped",
		SenderType:     model.SenderAI,
		DeliveryStatus: model.DeliveryPending,
	}
}

func TestDeliverSucceedsAfterTransientFailures(t *testing.T) {
	api := &fakeAPI{err: &retry.StatusError{Code: 503}, failures: 2}
	msgs := newFakeMessages(pendingMessage("msg-1"))
	s := NewSender(api, msgs, fakeConvs{}, &fakeEnqueuer{}, fastPolicy, logger.NewNop())

	require.NoError(t, s.Deliver(context.Background(), "msg-1"))

	assert.Equal(t, 3, api.calls)
	require.NotNil(t, msgs.messages["msg-1"].ProviderMessageID)
	assert.Equal(t, "wamid.provider-1", *msgs.messages["msg-1"].ProviderMessageID)
	assert.Equal(t, model.DeliverySent, msgs.messages["msg-1"].DeliveryStatus)
}

func TestDeliverMarksFailedOnExhaustion(t *testing.T) {
	api := &fakeAPI{err: &retry.StatusError{Code: 500}}
	msgs := newFakeMessages(pendingMessage("msg-1"))
	s := NewSender(api, msgs, fakeConvs{}, &fakeEnqueuer{}, fastPolicy, logger.NewNop())

	err := s.Deliver(context.Background(), "msg-1")
	require.ErrorIs(t, err, ErrDeliveryFailed)

	assert.Equal(t, 3, api.calls)
	assert.Equal(t, model.DeliveryFailed, msgs.messages["msg-1"].DeliveryStatus)
}

func TestDeliverStopsOnPermanentError(t *testing.T) {
	api := &fakeAPI{err: &retry.StatusError{Code: 400, Body: "bad recipient"}}
	msgs := newFakeMessages(pendingMessage("msg-1"))
	s := NewSender(api, msgs, fakeConvs{}, &fakeEnqueuer{}, fastPolicy, logger.NewNop())

	err := s.Deliver(context.Background(), "msg-1")
	require.ErrorIs(t, err, ErrDeliveryFailed)
	assert.Equal(t, 1, api.calls, "4xx must not be retried")
}

func TestDeliverSkipsAlreadyDelivered(t *testing.T) {
	providerID := "wamid.existing"
	msg := pendingMessage("msg-1")
	msg.ProviderMessageID = &providerID

	api := &fakeAPI{}
	s := NewSender(api, newFakeMessages(msg), fakeConvs{}, &fakeEnqueuer{}, fastPolicy, logger.NewNop())

	require.NoError(t, s.Deliver(context.Background(), "msg-1"))
	assert.Zero(t, api.calls, "redelivered job must not double-send")
}

func TestSendDefersScheduledDelivery(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	api := &fakeAPI{}
	enq := &fakeEnqueuer{}
	s := NewSender(api, newFakeMessages(pendingMessage("msg-1")), fakeConvs{}, enq, fastPolicy, logger.NewNop())
	s.now = func() time.Time { return now }

	sendAt := now.Add(2 * time.Hour)
	require.NoError(t, s.Send(context.Background(), "msg-1", &sendAt))

	assert.Zero(t, api.calls)
	require.Len(t, enq.enqueued, 1)
	assert.Equal(t, 2*time.Hour, enq.delays[0])
}

func TestSendPastScheduleDeliversInline(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	api := &fakeAPI{}
	enq := &fakeEnqueuer{}
	s := NewSender(api, newFakeMessages(pendingMessage("msg-1")), fakeConvs{}, enq, fastPolicy, logger.NewNop())
	s.now = func() time.Time { return now }

	sendAt := now.Add(-time.Minute)
	require.NoError(t, s.Send(context.Background(), "msg-1", &sendAt))

	assert.Equal(t, 1, api.calls)
	assert.Empty(t, enq.enqueued)
}

func TestRetryFailedReEnqueues(t *testing.T) {
	msgs := newFakeMessages()
	msgs.failed = []model.Message{
		{ID: "msg-1", ConversationID: "conv-1"},
		{ID: "msg-2", ConversationID: "conv-2"},
	}
	enq := &fakeEnqueuer{}
	s := NewSender(&fakeAPI{}, msgs, fakeConvs{}, enq, fastPolicy, logger.NewNop())

	n, err := s.RetryFailed(context.Background(), 24*time.Hour, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"msg-1", "msg-2"}, enq.enqueued)
}
