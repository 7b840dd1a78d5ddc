package queue

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/replyflow-ai/messaging-pipeline/pkg/logger"
	"github.com/replyflow-ai/messaging-pipeline/pkg/metrics"
)

// HandlerFunc processes one job. A nil return acks the message; an error
// NAKs it for redelivery under the consumer's backoff schedule.
type HandlerFunc func(ctx context.Context, subject string, data []byte) error

// RetryAfterError defers a job without counting it as a failure, used for
// scheduled sends whose time has not come.
type RetryAfterError struct {
	Delay time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %s", e.Delay)
}

// RunConsumer consumes a durable consumer, dispatching jobs onto hash-sharded
// lanes keyed by the subject's conversation id. Jobs within one conversation
// run serially in arrival order; distinct conversations run concurrently.
// Blocks until ctx is canceled.
func (m *StreamManager) RunConsumer(ctx context.Context, streamName, durable, queueLabel string, lanes int, handler HandlerFunc, log *logger.Logger) error {
	if lanes <= 0 {
		lanes = 1
	}

	consumer, err := m.client.JetStream().Consumer(ctx, streamName, durable)
	if err != nil {
		return fmt.Errorf("failed to look up consumer %s: %w", durable, err)
	}

	laneChans := make([]chan jetstream.Msg, lanes)
	var wg sync.WaitGroup

	for i := range laneChans {
		laneChans[i] = make(chan jetstream.Msg, 64)
		wg.Add(1)
		go func(ch <-chan jetstream.Msg) {
			defer wg.Done()
			for msg := range ch {
				m.process(ctx, queueLabel, msg, handler, log)
			}
		}(laneChans[i])
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		laneChans[laneFor(msg.Subject(), lanes)] <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming %s: %w", durable, err)
	}

	<-ctx.Done()

	cc.Stop()
	for _, ch := range laneChans {
		close(ch)
	}
	wg.Wait()

	return nil
}

func (m *StreamManager) process(ctx context.Context, queueLabel string, msg jetstream.Msg, handler HandlerFunc, log *logger.Logger) {
	err := handler(ctx, msg.Subject(), msg.Data())
	if err == nil {
		metrics.QueueJobsTotal.WithLabelValues(queueLabel, "success").Inc()
		if ackErr := msg.Ack(); ackErr != nil {
			log.Warn("failed to ack job", zap.Error(ackErr))
		}
		return
	}

	if ra, ok := err.(*RetryAfterError); ok {
		metrics.QueueJobsTotal.WithLabelValues(queueLabel, "deferred").Inc()
		if nakErr := msg.NakWithDelay(ra.Delay); nakErr != nil {
			log.Warn("failed to defer job", zap.Error(nakErr))
		}
		return
	}

	metrics.QueueJobsTotal.WithLabelValues(queueLabel, "error").Inc()
	log.Error("job failed",
		zap.String("queue", queueLabel),
		zap.String("subject", msg.Subject()),
		zap.Error(err),
	)
	if nakErr := msg.Nak(); nakErr != nil {
		log.Warn("failed to nak job", zap.Error(nakErr))
	}
}

// laneFor shards a subject by its trailing token (the conversation id).
func laneFor(subject string, lanes int) int {
	key := subject
	if idx := strings.LastIndex(subject, "."); idx >= 0 {
		key = subject[idx+1:]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(lanes))
}
