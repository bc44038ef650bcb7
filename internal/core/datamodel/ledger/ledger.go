package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	KindCredit = "CREDIT"
	KindDebit  = "DEBIT"
)

const (
	ReasonVoucherSale  = "VOUCHER_SALE"
	ReasonSubscription = "SUBSCRIPTION"
	ReasonSMSPurchase  = "SMS_PURCHASE"
	ReasonWithdrawal   = "WITHDRAWAL"
	ReasonAdjustment   = "ADJUSTMENT"
)

type Wallet struct {
	VendorID     string          `gorm:"column:vendor_id;primaryKey"`
	Balance      decimal.Decimal `gorm:"column:balance;type:numeric(14,2);not null"`
	Version      int64           `gorm:"column:version;not null"`
	PasswordHash *string         `gorm:"column:password_hash"`
	CreatedAt    time.Time       `gorm:"column:created_at"`
	UpdatedAt    time.Time       `gorm:"column:updated_at"`
}

func (Wallet) TableName() string {
	return "wallets"
}

// Entry is append-only. Amount is signed: credits positive, debits negative.
type Entry struct {
	ID           int64           `gorm:"column:id;primaryKey;autoIncrement"`
	VendorID     string          `gorm:"column:vendor_id;not null;index"`
	Amount       decimal.Decimal `gorm:"column:amount;type:numeric(14,2);not null"`
	Kind         string          `gorm:"column:kind;not null"`
	Reason       string          `gorm:"column:reason;not null"`
	Reference    string          `gorm:"column:reference;not null;uniqueIndex"`
	BalanceAfter decimal.Decimal `gorm:"column:balance_after;type:numeric(14,2);not null"`
	CreatedAt    time.Time       `gorm:"column:created_at"`
}

func (Entry) TableName() string {
	return "ledger_entries"
}
