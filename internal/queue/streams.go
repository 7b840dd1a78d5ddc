package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/replyflow-ai/messaging-pipeline/internal/model"
)

const (
	// WebhookStream carries reply-generation jobs.
	WebhookStream = "WEBHOOK_JOBS"
	// DeliveryStream carries outbound delivery jobs.
	DeliveryStream = "DELIVERY_JOBS"

	webhookSubjectPrefix  = "jobs.webhook"
	deliverySubjectPrefix = "jobs.delivery"

	// WebhookConsumer and DeliveryConsumer are the durable consumer names.
	WebhookConsumer  = "webhook-workers"
	DeliveryConsumer = "delivery-workers"
)

// ReplyJob asks the worker to generate and persist an automated reply to one
// inbound message. Handlers are idempotent: the job may be redelivered.
type ReplyJob struct {
	TenantID       string            `json:"tenant_id"`
	ConversationID string            `json:"conversation_id"`
	MessageID      string            `json:"message_id"`
	Phone          string            `json:"phone"`
	CustomerName   string            `json:"customer_name,omitempty"`
	Content        string            `json:"content"`
	MessageType    model.MessageType `json:"message_type"`
}

// DeliveryJob asks the worker to deliver one persisted outbound message.
// NotBefore defers scheduled sends; the worker NAKs with the remaining delay.
type DeliveryJob struct {
	ConversationID string     `json:"conversation_id"`
	MessageID      string     `json:"message_id"`
	NotBefore      *time.Time `json:"not_before,omitempty"`
}

// StreamManager handles JetStream stream and consumer operations.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStreams creates both work streams and their durable consumers.
// Webhook jobs get few, fast retries (the customer is waiting); delivery jobs
// get more, slower retries because provider-side transient failures are
// common.
func (m *StreamManager) EnsureStreams(ctx context.Context) error {
	js := m.client.JetStream()

	streams := []struct {
		stream   jetstream.StreamConfig
		consumer jetstream.ConsumerConfig
	}{
		{
			stream: jetstream.StreamConfig{
				Name:        WebhookStream,
				Subjects:    []string{webhookSubjectPrefix + ".>"},
				Retention:   jetstream.WorkQueuePolicy,
				Storage:     jetstream.FileStorage,
				MaxAge:      24 * time.Hour,
				Replicas:    1,
				Description: "Reply-generation jobs from inbound webhooks",
			},
			consumer: jetstream.ConsumerConfig{
				Durable:    WebhookConsumer,
				AckPolicy:  jetstream.AckExplicitPolicy,
				AckWait:    2 * time.Minute,
				MaxDeliver: 3,
				BackOff:    []time.Duration{time.Second, 5 * time.Second},
			},
		},
		{
			stream: jetstream.StreamConfig{
				Name:        DeliveryStream,
				Subjects:    []string{deliverySubjectPrefix + ".>"},
				Retention:   jetstream.WorkQueuePolicy,
				Storage:     jetstream.FileStorage,
				MaxAge:      24 * time.Hour,
				Replicas:    1,
				Description: "Outbound message delivery jobs",
			},
			consumer: jetstream.ConsumerConfig{
				Durable:    DeliveryConsumer,
				AckPolicy:  jetstream.AckExplicitPolicy,
				AckWait:    2 * time.Minute,
				MaxDeliver: 6,
				BackOff: []time.Duration{
					2 * time.Second, 10 * time.Second, 30 * time.Second,
					time.Minute, 2 * time.Minute,
				},
			},
		},
	}

	for _, s := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, s.stream); err != nil {
			return fmt.Errorf("failed to ensure stream %s: %w", s.stream.Name, err)
		}
		if _, err := js.CreateOrUpdateConsumer(ctx, s.stream.Name, s.consumer); err != nil {
			return fmt.Errorf("failed to ensure consumer %s: %w", s.consumer.Durable, err)
		}
	}

	return nil
}

// EnqueueReply publishes a reply-generation job. The subject carries the
// conversation id so the worker can serialize per conversation.
func (m *StreamManager) EnqueueReply(ctx context.Context, job *ReplyJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal reply job: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", webhookSubjectPrefix, job.ConversationID)
	if _, err := m.client.JetStream().Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish reply job: %w", err)
	}
	return nil
}

// EnqueueDelivery publishes a delivery job, optionally deferred by delay.
func (m *StreamManager) EnqueueDelivery(ctx context.Context, conversationID, messageID string, delay time.Duration) error {
	job := DeliveryJob{
		ConversationID: conversationID,
		MessageID:      messageID,
	}
	if delay > 0 {
		t := time.Now().Add(delay)
		job.NotBefore = &t
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery job: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", deliverySubjectPrefix, conversationID)
	if _, err := m.client.JetStream().Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish delivery job: %w", err)
	}
	return nil
}
