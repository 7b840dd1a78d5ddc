// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/replyflow-ai/messaging-pipeline/internal/service"
	"github.com/replyflow-ai/messaging-pipeline/internal/webhook"
	"github.com/replyflow-ai/messaging-pipeline/pkg/logger"
)

// maxWebhookBody bounds inbound payloads; provider events are small.
const maxWebhookBody = 1 << 20

// WebhookHandler terminates the provider's webhook callbacks.
type WebhookHandler struct {
	validator *webhook.Validator
	inbound   *service.InboundService
	logger    *logger.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(validator *webhook.Validator, inbound *service.InboundService, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		validator: validator,
		inbound:   inbound,
		logger:    log,
	}
}

// Verify handles GET /webhook, the provider's subscription handshake. The
// challenge is echoed back verbatim as plain text on success.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, err := h.validator.Handshake(
		q.Get("hub.mode"),
		q.Get("hub.verify_token"),
		q.Get("hub.challenge"),
	)
	if err != nil {
		h.logger.Warn("webhook verification rejected",
			zap.String("mode", q.Get("hub.mode")),
			zap.String("remote_addr", r.RemoteAddr),
		)
		writeError(w, http.StatusForbidden, "verification failed")
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(challenge))
}

// Receive handles POST /webhook. Signature failures are the only rejection:
// once a payload is authenticated the response is always 200, so the provider
// never retries an event we have already made a decision about.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if err := h.validator.Verify(body, r.Header.Get("X-Hub-Signature-256")); err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) {
			h.logger.Warn("rejected webhook with invalid signature",
				zap.String("remote_addr", r.RemoteAddr),
				zap.Int("body_bytes", len(body)),
			)
			h.inbound.RecordRejected(r.Context(), body)
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
		writeError(w, http.StatusInternalServerError, "signature check failed")
		return
	}

	var event webhook.Event
	if err := json.Unmarshal(body, &event); err != nil {
		// Authenticated but unparseable; acknowledge so the provider does
		// not redeliver a payload that will never parse.
		h.logger.Warn("ignoring malformed webhook payload", zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	result := h.inbound.Process(r.Context(), body, &event)
	writeJSON(w, http.StatusOK, result)
}
