package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/replyflow-ai/messaging-pipeline/pkg/retry"
)

// BulkRequest is one bulk-send campaign.
type BulkRequest struct {
	Recipients  []string
	Body        string
	BatchSize   int
	BatchDelay  time.Duration
	Concurrency int
}

// RecipientResult is the per-recipient outcome of a bulk send.
type RecipientResult struct {
	To                string `json:"to"`
	Success           bool   `json:"success"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	Error             string `json:"error,omitempty"`
}

// BulkResult aggregates a bulk send under one batch id.
type BulkResult struct {
	BatchID string            `json:"batch_id"`
	Total   int               `json:"total"`
	Sent    int               `json:"sent"`
	Failed  int               `json:"failed"`
	Results []RecipientResult `json:"results"`
}

// SendBulk partitions recipients into fixed-size batches, sends each batch
// with bounded concurrency, and pauses between batches to respect provider
// rate limits. One recipient failing never aborts the campaign.
func (s *Sender) SendBulk(ctx context.Context, req *BulkRequest) (*BulkResult, error) {
	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}

	result := &BulkResult{
		BatchID: uuid.Must(uuid.NewV7()).String(),
		Total:   len(req.Recipients),
		Results: make([]RecipientResult, len(req.Recipients)),
	}

	for start := 0; start < len(req.Recipients); start += batchSize {
		end := start + batchSize
		if end > len(req.Recipients) {
			end = len(req.Recipients)
		}

		s.sendBatch(ctx, req, result, start, end, concurrency)

		if end < len(req.Recipients) && req.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(req.BatchDelay):
			}
		}
	}

	for _, r := range result.Results {
		if r.Success {
			result.Sent++
		} else {
			result.Failed++
		}
	}

	s.logger.Info("bulk send complete",
		zap.String("batch_id", result.BatchID),
		zap.Int("total", result.Total),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
	)

	return result, nil
}

func (s *Sender) sendBatch(ctx context.Context, req *BulkRequest, result *BulkResult, start, end, concurrency int) {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i := start; i < end; i++ {
		wg.Add(1)
		sem <- struct{}{}

		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			to := req.Recipients[idx]

			var providerID string
			err := retry.Do(ctx, s.policy, func() error {
				var sendErr error
				providerID, sendErr = s.api.Send(ctx, to, req.Body)
				return sendErr
			})

			if err != nil {
				result.Results[idx] = RecipientResult{To: to, Error: err.Error()}
				return
			}
			result.Results[idx] = RecipientResult{
				To:                to,
				Success:           true,
				ProviderMessageID: providerID,
			}
		}(i)
	}

	wg.Wait()
}
