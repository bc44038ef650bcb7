package payment

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	paymentDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/payment"
)

// InitiatePaymentDTO is the body of POST /payments/initiate.
type InitiatePaymentDTO struct {
	Purpose    string          `json:"purpose"`
	PayerKind  string          `json:"payer_kind"`
	Amount     decimal.Decimal `json:"amount"`
	VendorID   string          `json:"vendor_id"`
	LocationID string          `json:"location_id,omitempty"`
	PackageID  string          `json:"package_id,omitempty"`
	Phone      string          `json:"phone"`
}

func (d *InitiatePaymentDTO) ToRequest() InitiateRequest {
	return InitiateRequest{
		Purpose:    strings.ToUpper(strings.TrimSpace(d.Purpose)),
		PayerKind:  strings.ToUpper(strings.TrimSpace(d.PayerKind)),
		Amount:     d.Amount,
		VendorID:   strings.TrimSpace(d.VendorID),
		LocationID: strings.TrimSpace(d.LocationID),
		PackageID:  strings.TrimSpace(d.PackageID),
		Phone:      strings.TrimSpace(d.Phone),
	}
}

type InitiatePaymentResponse struct {
	PaymentID         string `json:"payment_id"`
	ProviderReference string `json:"provider_reference"`
	Status            string `json:"status"`
	StatusPollURL     string `json:"status_poll_url"`
}

func ToInitiateResponse(p *paymentDatamodel.Payment, pollURL string) InitiatePaymentResponse {
	return InitiatePaymentResponse{
		PaymentID:         p.ID,
		ProviderReference: p.Reference(),
		Status:            p.Status,
		StatusPollURL:     pollURL,
	}
}

// CallbackDTO accepts the field spellings providers use for the same data.
type CallbackDTO struct {
	Reference          string          `json:"reference"`
	Status             string          `json:"status"`
	ExternalReference  string          `json:"external_reference"`
	ExternalReference2 string          `json:"externalReference"`
	TransactionID      string          `json:"transaction_id"`
	Message            string          `json:"message"`
	RawPayload         json.RawMessage `json:"raw_payload,omitempty"`
}

// ToCallback keeps the whole body as the raw payload unless the provider
// wrapped it in raw_payload. Header and body travel along for signature
// verification.
func (d *CallbackDTO) ToCallback(header http.Header, body []byte) Callback {
	raw := json.RawMessage(body)
	if len(d.RawPayload) > 0 && json.Valid(d.RawPayload) {
		raw = d.RawPayload
	}
	external := d.ExternalReference
	if external == "" {
		external = d.ExternalReference2
	}
	return Callback{
		Reference:         strings.TrimSpace(d.Reference),
		ExternalReference: strings.TrimSpace(external),
		Status:            strings.TrimSpace(d.Status),
		TransactionID:     d.TransactionID,
		Message:           d.Message,
		Raw:               raw,
		Header:            header,
		Body:              body,
	}
}

type CallbackResponse struct {
	Status        string `json:"status"`
	PaymentID     string `json:"payment_id"`
	PaymentStatus string `json:"payment_status"`
	Duplicate     bool   `json:"duplicate"`
}
