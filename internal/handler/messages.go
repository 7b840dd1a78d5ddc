package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/replyflow-ai/messaging-pipeline/internal/delivery"
	"github.com/replyflow-ai/messaging-pipeline/internal/middleware"
	"github.com/replyflow-ai/messaging-pipeline/internal/model"
	"github.com/replyflow-ai/messaging-pipeline/internal/store"
	"github.com/replyflow-ai/messaging-pipeline/pkg/logger"
	"github.com/replyflow-ai/messaging-pipeline/pkg/metrics"
)

// MessageHandler handles the outbound message endpoints: manual agent sends,
// bulk campaigns, and failed-delivery retries.
type MessageHandler struct {
	conversations *store.ConversationStore
	messages      *store.MessageStore
	sender        *delivery.Sender
	bulkDefaults  BulkDefaults
	logger        *logger.Logger
}

// BulkDefaults carries configured bulk-send pacing.
type BulkDefaults struct {
	BatchSize   int
	BatchDelay  time.Duration
	Concurrency int
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(
	conversations *store.ConversationStore,
	messages *store.MessageStore,
	sender *delivery.Sender,
	bulkDefaults BulkDefaults,
	log *logger.Logger,
) *MessageHandler {
	return &MessageHandler{
		conversations: conversations,
		messages:      messages,
		sender:        sender,
		bulkDefaults:  bulkDefaults,
		logger:        log,
	}
}

// Send handles POST /api/v1/conversations/:id/messages, a manual message from
// a human agent. An optional send_at schedules the delivery.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Content string     `json:"content"`
		SendAt  *time.Time `json:"send_at,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.conversations.Get(ctx, conversationID)
	if err != nil || conv.TenantID != tenantID {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		Content:        req.Content,
		SenderType:     model.SenderAgent,
		MessageType:    model.MessageTypeText,
		DeliveryStatus: model.DeliveryPending,
	}

	if err := h.messages.Create(ctx, msg); err != nil {
		h.logger.Error("failed to persist outbound message", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create message")
		return
	}
	metrics.MessagesTotal.WithLabelValues(tenantID, string(model.SenderAgent)).Inc()

	if err := h.sender.Send(ctx, msg.ID, req.SendAt); err != nil {
		// The message is persisted; delivery can be retried via the
		// retry endpoint, so surface the state instead of a 500.
		h.logger.Error("failed to deliver outbound message",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"message_id": msg.ID,
			"status":     string(model.DeliveryFailed),
		})
		return
	}

	status := http.StatusCreated
	if req.SendAt != nil && req.SendAt.After(time.Now()) {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]interface{}{
		"message_id": msg.ID,
		"status":     "sent",
	})
}

// SendBulk handles POST /api/v1/messages/bulk
func (h *MessageHandler) SendBulk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Recipients []string `json:"recipients"`
		Body       string   `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(req.Recipients) == 0 {
		writeError(w, http.StatusBadRequest, "recipients cannot be empty")
		return
	}
	if len(req.Recipients) > 10000 {
		writeError(w, http.StatusBadRequest, "too many recipients")
		return
	}
	if err := middleware.ValidateMessageContent(req.Body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, to := range req.Recipients {
		if err := middleware.ValidatePhoneNumber(to); err != nil {
			writeError(w, http.StatusBadRequest, "invalid recipient: "+to)
			return
		}
	}

	result, err := h.sender.SendBulk(ctx, &delivery.BulkRequest{
		Recipients:  req.Recipients,
		Body:        req.Body,
		BatchSize:   h.bulkDefaults.BatchSize,
		BatchDelay:  h.bulkDefaults.BatchDelay,
		Concurrency: h.bulkDefaults.Concurrency,
	})
	if err != nil {
		h.logger.Error("bulk send aborted", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "bulk send aborted")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// RetryFailed handles POST /api/v1/messages/retry-failed
func (h *MessageHandler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := struct {
		Window string `json:"window"`
		Limit  int    `json:"limit"`
	}{Window: "24h", Limit: 100}

	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	window, err := time.ParseDuration(req.Window)
	if err != nil || window <= 0 {
		writeError(w, http.StatusBadRequest, "invalid window")
		return
	}
	if req.Limit <= 0 || req.Limit > 1000 {
		req.Limit = 100
	}

	enqueued, err := h.sender.RetryFailed(ctx, window, req.Limit)
	if err != nil {
		h.logger.Error("failed to re-enqueue failed messages", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "retry failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{
		"enqueued": enqueued,
	})
}
