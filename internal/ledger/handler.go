package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/spotpay-billing/internal"
	ledgerDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/ledger"
	"github.com/frahmantamala/spotpay-billing/internal/transport"
)

type ServiceAPI interface {
	Statement(ctx context.Context, vendorID string, limit int) (*WalletView, error)
	SetPassword(ctx context.Context, vendorID, password string) error
	Withdraw(ctx context.Context, vendorID string, amount decimal.Decimal, password, reference string) (*ledgerDatamodel.Wallet, error)
}

type WithdrawDTO struct {
	Amount    decimal.Decimal `json:"amount"`
	Password  string          `json:"password"`
	Reference string          `json:"reference"`
}

type PasswordDTO struct {
	Password string `json:"password"`
}

type BalanceResponse struct {
	VendorID string          `json:"vendor_id"`
	Balance  decimal.Decimal `json:"balance"`
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

// Statement handles GET /api/v1/wallets/{vendorID}
func (h *Handler) Statement(w http.ResponseWriter, r *http.Request) {
	vendorID := chi.URLParam(r, "vendorID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	view, err := h.Service.Statement(r.Context(), vendorID, limit)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, view)
}

// SetPassword handles PUT /api/v1/wallets/{vendorID}/password
func (h *Handler) SetPassword(w http.ResponseWriter, r *http.Request) {
	var dto PasswordDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	if err := h.Service.SetPassword(r.Context(), chi.URLParam(r, "vendorID"), dto.Password); err != nil {
		h.HandleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Withdraw handles POST /api/v1/wallets/{vendorID}/withdrawals
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var dto WithdrawDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	vendorID := chi.URLParam(r, "vendorID")
	wallet, err := h.Service.Withdraw(r.Context(), vendorID, dto.Amount, dto.Password, dto.Reference)
	if err != nil {
		h.Logger.Warn("Withdraw: rejected", "vendor_id", vendorID, "error", err)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, BalanceResponse{VendorID: wallet.VendorID, Balance: wallet.Balance})
}
