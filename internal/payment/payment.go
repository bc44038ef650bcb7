package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	paymentDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/payment"
	providerDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/provider"
	"github.com/frahmantamala/spotpay-billing/internal/hotspot"
	"github.com/frahmantamala/spotpay-billing/internal/provider"
)

// RepositoryAPI is the only writer of payment rows.
type RepositoryAPI interface {
	WithTx(tx *gorm.DB) RepositoryAPI
	Create(ctx context.Context, p *paymentDatamodel.Payment) error
	GetByID(ctx context.Context, id string) (*paymentDatamodel.Payment, error)
	GetByReference(ctx context.Context, reference string) (*paymentDatamodel.Payment, error)
	LockByID(ctx context.Context, id string) (*paymentDatamodel.Payment, error)
	LockByReference(ctx context.Context, reference string) (*paymentDatamodel.Payment, error)
	// SetReference stores the provider reference unless one is already set.
	SetReference(ctx context.Context, id, reference string) (bool, error)
	// Transition moves a PENDING payment to p.Status. False means the row was
	// no longer PENDING.
	Transition(ctx context.Context, p *paymentDatamodel.Payment) (bool, error)
	RecordCallback(ctx context.Context, p *paymentDatamodel.Payment) error
	// ListStale returns PENDING payments created before the cutoffs: the first
	// applies to payments without a provider reference, the second to the rest.
	ListStale(ctx context.Context, unreferencedBefore, referencedBefore time.Time, limit int) ([]paymentDatamodel.Payment, error)
}

// Catalog resolves what a payment is for.
type Catalog interface {
	Sellable(ctx context.Context, packageID, locationID string) (*hotspot.Sellable, error)
	GetLocation(ctx context.Context, id string) (*hotspot.LocationView, error)
}

type Stock interface {
	Available(ctx context.Context, packageID string) (int64, error)
	ReleaseForPaymentTx(ctx context.Context, tx *gorm.DB, paymentID string) (bool, error)
	IssuedCode(ctx context.Context, paymentID string) (string, error)
}

type ProviderSelector interface {
	Active() (provider.Adapter, *providerDatamodel.Provider, error)
	// AdapterFor returns the adapter of a provider that may no longer be
	// active, for callbacks on payments it charged.
	AdapterFor(ctx context.Context, providerID int64) (provider.Adapter, error)
}

// Fulfiller runs the side effects of a successful payment. It must be safe to
// call more than once for the same payment.
type Fulfiller interface {
	Fulfill(ctx context.Context, paymentID string) error
}

// StatusCache keeps terminal status views keyed by lookup reference.
type StatusCache interface {
	Get(ctx context.Context, key string) (*StatusView, bool)
	Set(ctx context.Context, key string, view *StatusView)
}

type nopCache struct{}

func (nopCache) Get(context.Context, string) (*StatusView, bool) { return nil, false }
func (nopCache) Set(context.Context, string, *StatusView)        {}

type Options struct {
	Currency            string
	CallbackURL         string
	BaseURL             string
	ChargeTimeout       time.Duration
	UnreferencedTimeout time.Duration
	PendingTimeout      time.Duration
}

type InitiateRequest struct {
	Purpose    string          `json:"purpose"`
	PayerKind  string          `json:"payer_kind"`
	Amount     decimal.Decimal `json:"amount"`
	VendorID   string          `json:"vendor_id"`
	LocationID string          `json:"location_id,omitempty"`
	PackageID  string          `json:"package_id,omitempty"`
	Phone      string          `json:"phone"`
}

type Outcome int

const (
	OutcomeInformational Outcome = iota
	OutcomeSuccess
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "informational"
	}
}

var outcomes = map[string]Outcome{
	"completed":  OutcomeSuccess,
	"success":    OutcomeSuccess,
	"successful": OutcomeSuccess,
	"paid":       OutcomeSuccess,
	"failed":     OutcomeFailure,
	"cancelled":  OutcomeFailure,
	"canceled":   OutcomeFailure,
	"rejected":   OutcomeFailure,
	"expired":    OutcomeFailure,
}

// NormalizeOutcome maps a provider's status vocabulary onto the state machine.
func NormalizeOutcome(status string) Outcome {
	return outcomes[strings.ToLower(strings.TrimSpace(status))]
}

// Callback is one provider webhook delivery. Header and Body are the request
// as received; the charging provider's adapter verifies them before the
// payment is touched.
type Callback struct {
	Reference         string
	ExternalReference string
	Status            string
	TransactionID     string
	Message           string
	Raw               json.RawMessage
	Header            http.Header
	Body              []byte
}

type CallbackResult struct {
	PaymentID string `json:"payment_id"`
	Status    string `json:"payment_status"`
	// Duplicate is set when the delivery changed nothing.
	Duplicate bool `json:"duplicate"`
}

type StatusView struct {
	PaymentID   string          `json:"payment_id"`
	Reference   string          `json:"provider_reference,omitempty"`
	Status      string          `json:"status"`
	Purpose     string          `json:"purpose"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	VoucherCode string          `json:"voucher_code,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// final reports whether the view can no longer change.
func (v *StatusView) final() bool {
	switch v.Status {
	case paymentDatamodel.StatusFailed:
		return true
	case paymentDatamodel.StatusSuccess:
		return v.Purpose != paymentDatamodel.PurposeVoucherPurchase || v.VoucherCode != ""
	}
	return false
}
