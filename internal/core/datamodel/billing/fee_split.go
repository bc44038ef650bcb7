package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

type FeeSplit struct {
	ID              int64           `gorm:"column:id;primaryKey;autoIncrement"`
	PaymentID       string          `gorm:"column:payment_id;type:uuid;not null;uniqueIndex"`
	GrossAmount     decimal.Decimal `gorm:"column:gross_amount;type:numeric(14,2);not null"`
	BasisPercentage decimal.Decimal `gorm:"column:basis_percentage;type:numeric(5,2);not null"`
	ExtraPercentage decimal.Decimal `gorm:"column:extra_percentage;type:numeric(5,2);not null"`
	PlatformAmount  decimal.Decimal `gorm:"column:platform_amount;type:numeric(14,2);not null"`
	VendorAmount    decimal.Decimal `gorm:"column:vendor_amount;type:numeric(14,2);not null"`
	CreatedAt       time.Time       `gorm:"column:created_at"`
}

func (FeeSplit) TableName() string {
	return "fee_splits"
}
