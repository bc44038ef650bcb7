package payment

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	StatusPending = "PENDING"
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

const (
	PurposeSubscription    = "SUBSCRIPTION"
	PurposeVoucherPurchase = "VOUCHER_PURCHASE"
	PurposeWalletTopup     = "WALLET_TOPUP"
	PurposeSMSTopup        = "SMS_TOPUP"
)

const (
	PayerVendor = "VENDOR"
	PayerClient = "CLIENT"
)

// Payment is the aggregate root for one provider charge. Rows are never deleted.
type Payment struct {
	ID                string          `gorm:"column:id;type:uuid;primaryKey"`
	ProviderReference *string         `gorm:"column:provider_reference;uniqueIndex"`
	ProviderTxnID     *string         `gorm:"column:provider_txn_id"`
	Status            string          `gorm:"column:status;not null;index"`
	Purpose           string          `gorm:"column:purpose;not null"`
	PayerKind         string          `gorm:"column:payer_kind;not null"`
	Amount            decimal.Decimal `gorm:"column:amount;type:numeric(14,2);not null"`
	Currency          string          `gorm:"column:currency;not null"`
	VendorID          string          `gorm:"column:vendor_id;not null;index"`
	LocationID        *string         `gorm:"column:location_id"`
	PackageID         *string         `gorm:"column:package_id"`
	Phone             string          `gorm:"column:phone;not null"`
	ProviderID        *int64          `gorm:"column:provider_id"`
	RawCallback       datatypes.JSON  `gorm:"column:raw_callback;type:jsonb"`
	ProcessorMessage  *string         `gorm:"column:processor_message"`
	FailureReason     *string         `gorm:"column:failure_reason"`
	CreatedAt         time.Time       `gorm:"column:created_at"`
	CompletedAt       *time.Time      `gorm:"column:completed_at"`
	UpdatedAt         time.Time       `gorm:"column:updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}

func (p *Payment) IsTerminal() bool {
	return p.Status == StatusSuccess || p.Status == StatusFailed
}

func (p *Payment) Reference() string {
	if p.ProviderReference == nil {
		return ""
	}
	return *p.ProviderReference
}
