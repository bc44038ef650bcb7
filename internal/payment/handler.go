package payment

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	errors "github.com/frahmantamala/spotpay-billing/internal"
	paymentDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/payment"
	"github.com/frahmantamala/spotpay-billing/internal/transport"
)

type ServiceAPI interface {
	Initiate(ctx context.Context, req InitiateRequest) (*paymentDatamodel.Payment, error)
	ApplyCallback(ctx context.Context, cb Callback) (*CallbackResult, error)
	GetStatus(ctx context.Context, reference string) (*StatusView, error)
	StatusPollURL(p *paymentDatamodel.Payment) string
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(service ServiceAPI, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: transport.NewBaseHandler(logger),
		Service:     service,
	}
}

// Initiate handles POST /api/v1/payments/initiate
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	var dto InitiatePaymentDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.Logger.Error("Initiate: invalid request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	p, err := h.Service.Initiate(r.Context(), dto.ToRequest())
	if err != nil {
		h.Logger.Error("Initiate: service error", "error", err, "purpose", dto.Purpose)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, ToInitiateResponse(p, h.Service.StatusPollURL(p)))
}

// Status handles GET /api/v1/payments/status/{reference}
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	if reference == "" {
		h.HandleError(w, errors.NewValidationError("reference is required", errors.ErrCodeValidationFailed))
		return
	}

	view, err := h.Service.GetStatus(r.Context(), reference)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, view)
}
