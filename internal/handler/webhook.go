package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/content-settlement/internal/webhook"
)

const maxWebhookBodyBytes = 64 << 10

type webhookResponse struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// StripeWebhook принимает уведомление провайдера, проверяет подпись и проводит расчёт.
// 200 подтверждает событие, 400 отклоняет его без повторов, 500 запрашивает повторную доставку.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
	defer r.Body.Close()

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		if isBodyTooLarge(err) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read body"})
		return
	}

	event, err := h.verifier.Verify(payload, r.Header.Get(webhook.SignatureHeader))
	if err != nil {
		if errors.Is(err, webhook.ErrMalformedEvent) {
			h.logger.Warn("malformed webhook event", zap.Error(err))
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed event"})
			return
		}
		h.logger.Warn("webhook signature verification failed", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "webhook signature verification failed"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.SettlementTimeout)
	defer cancel()

	res, err := h.service.Process(ctx, event)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "webhook processing failed"})
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{Received: true, Duplicate: res.Duplicate})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
