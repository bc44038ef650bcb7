package payment

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	errors "github.com/frahmantamala/spotpay-billing/internal"
	"github.com/frahmantamala/spotpay-billing/internal/transport"
)

const maxCallbackBytes = 1 << 20

type WebhookHandler struct {
	*transport.BaseHandler
	paymentService ServiceAPI
	logger         *slog.Logger
}

func NewWebhookHandler(baseHandler *transport.BaseHandler, paymentService ServiceAPI, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler:    baseHandler,
		paymentService: paymentService,
		logger:         logger,
	}
}

// HandlePaymentCallback handles POST /api/v1/payments/callback. Unsigned or
// mis-signed deliveries get 401 and change nothing; duplicate and
// informational deliveries answer 200 so the provider stops retrying.
func (h *WebhookHandler) HandlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
	if err != nil || !json.Valid(body) {
		h.logger.Error("invalid payment callback request", "error", err)
		h.HandleError(w, errors.ErrMalformedCallback)
		return
	}

	var req CallbackDTO
	if err := json.Unmarshal(body, &req); err != nil {
		h.logger.Error("invalid payment callback request", "error", err)
		h.HandleError(w, errors.ErrMalformedCallback)
		return
	}

	h.logger.Info("received payment callback",
		"reference", req.Reference,
		"status", req.Status,
		"transaction_id", req.TransactionID)

	result, err := h.paymentService.ApplyCallback(r.Context(), req.ToCallback(r.Header, body))
	if err != nil {
		h.logger.Error("failed to process payment callback",
			"error", err,
			"reference", req.Reference,
			"status", req.Status)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, CallbackResponse{
		Status:        "ok",
		PaymentID:     result.PaymentID,
		PaymentStatus: result.Status,
		Duplicate:     result.Duplicate,
	})
}
