package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyflow-ai/messaging-pipeline/internal/model"
	"github.com/replyflow-ai/messaging-pipeline/internal/queue"
	"github.com/replyflow-ai/messaging-pipeline/internal/routing"
	"github.com/replyflow-ai/messaging-pipeline/internal/store"
	"github.com/replyflow-ai/messaging-pipeline/internal/webhook"
	"github.com/replyflow-ai/messaging-pipeline/pkg/logger"
)

type fakeRouter struct {
	tenantID string
	err      error
}

func (f *fakeRouter) Resolve(ctx context.Context, phone string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.tenantID, nil
}

type fakeConvSink struct {
	conv    *model.Conversation
	touched int
}

func (f *fakeConvSink) FindOrCreate(ctx context.Context, tenantID, phone, name string) (*model.Conversation, error) {
	return f.conv, nil
}

func (f *fakeConvSink) Touch(ctx context.Context, id string, at time.Time) error {
	f.touched++
	return nil
}

type fakeMsgSink struct {
	created []*model.Message
	err     error
}

func (f *fakeMsgSink) Create(ctx context.Context, msg *model.Message) error {
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, msg)
	return nil
}

type fakeReconciler struct {
	applied []webhook.StatusUpdate
}

func (f *fakeReconciler) Apply(ctx context.Context, updates []webhook.StatusUpdate) int {
	f.applied = append(f.applied, updates...)
	return len(updates)
}

type fakeReplyQueue struct {
	jobs []*queue.ReplyJob
}

func (f *fakeReplyQueue) EnqueueReply(ctx context.Context, job *queue.ReplyJob) error {
	f.jobs = append(f.jobs, job)
	return nil
}

type fakeAudit struct {
	outcomes []string
}

func (f *fakeAudit) Append(ctx context.Context, payload []byte, valid bool, outcome string) error {
	f.outcomes = append(f.outcomes, outcome)
	return nil
}

func inboundEvent() *webhook.Event {
	return &webhook.Event{
		Object: "whatsapp_business_account",
		Entry: []webhook.Entry{{
			ID: "entry-1",
			Changes: []webhook.Change{{
				Field: "messages",
				Value: webhook.ChangeValue{
					Contacts: []webhook.Contact{func() webhook.Contact {
						c := webhook.Contact{WaID: "15551234567"}
						c.Profile.Name = "Dana"
						return c
					}()},
					Messages: []webhook.ProviderMessage{{
						ID:   "wamid.in-1",
						From: "15551234567",
						Type: "text",
						Text: &webhook.TextBody{Body: "do you deliver?"},
					}},
				},
			}},
		}},
	}
}

func newTestInbound(router *fakeRouter, convs *fakeConvSink, msgs *fakeMsgSink, rec *fakeReconciler, q *fakeReplyQueue, audit *fakeAudit) *InboundService {
	return NewInboundService(router, convs, msgs, rec, q, audit, logger.NewNop())
}

func TestProcessInboundMessage(t *testing.T) {
	router := &fakeRouter{tenantID: "tenant-1"}
	convs := &fakeConvSink{conv: &model.Conversation{ID: "conv-1", TenantID: "tenant-1"}}
	msgs := &fakeMsgSink{}
	q := &fakeReplyQueue{}
	audit := &fakeAudit{}
	s := newTestInbound(router, convs, msgs, &fakeReconciler{}, q, audit)

	result := s.Process(context.Background(), []byte(`{}`), inboundEvent())

	assert.Equal(t, "ok", result.Status)
	assert.Equal(t, 1, result.ProcessedMessages)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, "queued", result.Messages[0].Status)
	assert.Equal(t, "conv-1", result.Messages[0].ConversationID)

	require.Len(t, msgs.created, 1)
	stored := msgs.created[0]
	assert.Equal(t, "do you deliver?", stored.Content)
	assert.Equal(t, model.SenderCustomer, stored.SenderType)
	require.NotNil(t, stored.ProviderMessageID)
	assert.Equal(t, "wamid.in-1", *stored.ProviderMessageID)

	require.Len(t, q.jobs, 1)
	assert.Equal(t, "tenant-1", q.jobs[0].TenantID)
	assert.Equal(t, stored.ID, q.jobs[0].MessageID)
	assert.Equal(t, "Dana", q.jobs[0].CustomerName)

	assert.Equal(t, 1, convs.touched)
	assert.Equal(t, []string{"processed"}, audit.outcomes)
}

func TestProcessDropsUnroutableMessage(t *testing.T) {
	router := &fakeRouter{err: routing.ErrNoTenant}
	msgs := &fakeMsgSink{}
	q := &fakeReplyQueue{}
	audit := &fakeAudit{}
	s := newTestInbound(router, &fakeConvSink{}, msgs, &fakeReconciler{}, q, audit)

	result := s.Process(context.Background(), []byte(`{}`), inboundEvent())

	assert.Equal(t, "partial", result.Status)
	assert.Zero(t, result.ProcessedMessages)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, "routing_error", result.Messages[0].Status)

	// no rows, no jobs: the drop leaves no partial state behind
	assert.Empty(t, msgs.created)
	assert.Empty(t, q.jobs)
}

func TestProcessDuplicateInboundIsIdempotent(t *testing.T) {
	router := &fakeRouter{tenantID: "tenant-1"}
	convs := &fakeConvSink{conv: &model.Conversation{ID: "conv-1"}}
	msgs := &fakeMsgSink{err: store.ErrDuplicate}
	q := &fakeReplyQueue{}
	s := newTestInbound(router, convs, msgs, &fakeReconciler{}, q, &fakeAudit{})

	result := s.Process(context.Background(), []byte(`{}`), inboundEvent())

	require.Len(t, result.Messages, 1)
	assert.Equal(t, "duplicate", result.Messages[0].Status)
	assert.Empty(t, q.jobs, "provider redelivery must not enqueue a second job")
}

func TestProcessAppliesStatusUpdates(t *testing.T) {
	rec := &fakeReconciler{}
	s := newTestInbound(&fakeRouter{tenantID: "t"}, &fakeConvSink{}, &fakeMsgSink{}, rec, &fakeReplyQueue{}, &fakeAudit{})

	event := &webhook.Event{
		Entry: []webhook.Entry{{
			Changes: []webhook.Change{{
				Value: webhook.ChangeValue{
					Statuses: []webhook.StatusUpdate{
						{ID: "wamid.out-1", Status: "delivered"},
					},
				},
			}},
		}},
	}

	result := s.Process(context.Background(), []byte(`{}`), event)

	assert.Equal(t, "ok", result.Status)
	require.Len(t, rec.applied, 1)
	assert.Equal(t, "wamid.out-1", rec.applied[0].ID)
}

func TestRecordRejectedAudits(t *testing.T) {
	audit := &fakeAudit{}
	s := newTestInbound(&fakeRouter{}, &fakeConvSink{}, &fakeMsgSink{}, &fakeReconciler{}, &fakeReplyQueue{}, audit)

	s.RecordRejected(context.Background(), []byte(`{}`))
	assert.Equal(t, []string{"invalid_signature"}, audit.outcomes)
}
