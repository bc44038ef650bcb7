package fulfillment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/frahmantamala/spotpay-billing/internal/billing"
	hotspotDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/hotspot"
	ledgerDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/ledger"
	voucherDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/voucher"
	"github.com/frahmantamala/spotpay-billing/internal/notification"
)

// RepositoryAPI owns the fulfillment markers.
type RepositoryAPI interface {
	WithTx(tx *gorm.DB) RepositoryAPI
	GetMarker(ctx context.Context, paymentID string) (*voucherDatamodel.Fulfillment, error)
	CreateMarker(ctx context.Context, marker *voucherDatamodel.Fulfillment) error
	// ListUnfulfilled returns ids of SUCCESS payments completed before the
	// cutoff that have no marker yet. Unfulfillable payments carry a marker
	// and never come back.
	ListUnfulfilled(ctx context.Context, before time.Time, limit int) ([]string, error)
}

type Inventory interface {
	ReserveOrConfirmTx(ctx context.Context, tx *gorm.DB, packageID, paymentID string) (*voucherDatamodel.Voucher, error)
	ConsumeTx(ctx context.Context, tx *gorm.DB, code, paymentID string) error
}

type Wallets interface {
	CreditTx(ctx context.Context, tx *gorm.DB, vendorID string, amount decimal.Decimal, reason, reference string) (*ledgerDatamodel.Wallet, error)
}

type Locations interface {
	PackageTx(ctx context.Context, tx *gorm.DB, id string) (*hotspotDatamodel.Package, error)
	ProfileTx(ctx context.Context, tx *gorm.DB, locationID string) (*hotspotDatamodel.BillingProfile, error)
	ExtendSubscriptionTx(ctx context.Context, tx *gorm.DB, locationID string) (*hotspotDatamodel.BillingProfile, error)
}

type Notifier interface {
	EnqueueTx(ctx context.Context, tx *gorm.DB, msg notification.VoucherMessage) error
	Deliver(ctx context.Context, paymentID string) error
}

// Outcome describes what one fulfillment run did.
type Outcome struct {
	PaymentID             string          `json:"payment_id"`
	Purpose               string          `json:"purpose"`
	VendorID              string          `json:"vendor_id"`
	Amount                decimal.Decimal `json:"amount"`
	AlreadyFulfilled      bool            `json:"already_fulfilled"`
	Unfulfillable         bool            `json:"unfulfillable"`
	VoucherID             *int64          `json:"voucher_id,omitempty"`
	VoucherCode           string          `json:"voucher_code,omitempty"`
	Split                 *billing.Split  `json:"split,omitempty"`
	Credited              decimal.Decimal `json:"credited"`
	SubscriptionExpiresAt *time.Time      `json:"subscription_expires_at,omitempty"`
}
