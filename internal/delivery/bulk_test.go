package delivery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyflow-ai/messaging-pipeline/pkg/logger"
	"github.com/replyflow-ai/messaging-pipeline/pkg/retry"
)

func recipients(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("1555%07d", i)
	}
	return out
}

func TestSendBulkAllSucceed(t *testing.T) {
	api := &fakeAPI{}
	s := NewSender(api, newFakeMessages(), fakeConvs{}, &fakeEnqueuer{}, fastPolicy, logger.NewNop())

	result, err := s.SendBulk(context.Background(), &BulkRequest{
		Recipients:  recipients(250),
		Body:        "flash sale today",
		BatchSize:   100,
		Concurrency: 10,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, result.BatchID)
	assert.Equal(t, 250, result.Total)
	assert.Equal(t, 250, result.Sent)
	assert.Zero(t, result.Failed)
	require.Len(t, result.Results, 250)

	// results stay aligned with the recipient order
	assert.Equal(t, "15550000000", result.Results[0].To)
	assert.Equal(t, "15550000249", result.Results[249].To)
	assert.Equal(t, 250, api.calls)
}

func TestSendBulkPartialFailure(t *testing.T) {
	// every call fails permanently, no retries burn time
	api := &fakeAPI{err: &retry.StatusError{Code: 400}}
	s := NewSender(api, newFakeMessages(), fakeConvs{}, &fakeEnqueuer{}, fastPolicy, logger.NewNop())

	result, err := s.SendBulk(context.Background(), &BulkRequest{
		Recipients: recipients(30),
		Body:       "hello",
		BatchSize:  10,
	})
	require.NoError(t, err, "recipient failures never abort the campaign")

	assert.Equal(t, 30, result.Failed)
	assert.Zero(t, result.Sent)
	for _, r := range result.Results {
		assert.False(t, r.Success)
		assert.NotEmpty(t, r.Error)
	}
}

func TestSendBulkHonorsContextBetweenBatches(t *testing.T) {
	api := &fakeAPI{}
	s := NewSender(api, newFakeMessages(), fakeConvs{}, &fakeEnqueuer{}, fastPolicy, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := s.SendBulk(ctx, &BulkRequest{
		Recipients: recipients(20),
		Body:       "hello",
		BatchSize:  10,
		BatchDelay: time.Minute,
	})
	require.ErrorIs(t, err, context.Canceled)

	// the first batch ran; the inter-batch pause observed cancellation
	assert.NotNil(t, result)
	assert.Equal(t, 20, result.Total)
}

func TestSendBulkDefaults(t *testing.T) {
	api := &fakeAPI{}
	s := NewSender(api, newFakeMessages(), fakeConvs{}, &fakeEnqueuer{}, fastPolicy, logger.NewNop())

	result, err := s.SendBulk(context.Background(), &BulkRequest{
		Recipients: recipients(5),
		Body:       "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, 5, result.Sent)
}
