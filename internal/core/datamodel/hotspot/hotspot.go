package hotspot

import (
	"time"

	"github.com/shopspring/decimal"
)

type Location struct {
	ID        string    `gorm:"column:id;type:uuid;primaryKey"`
	VendorID  string    `gorm:"column:vendor_id;not null;index"`
	Name      string    `gorm:"column:name;not null"`
	Address   string    `gorm:"column:address"`
	IsActive  bool      `gorm:"column:is_active;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Location) TableName() string {
	return "locations"
}

// BillingProfile is owned by a location and created with it.
type BillingProfile struct {
	LocationID            string          `gorm:"column:location_id;type:uuid;primaryKey"`
	SubscriptionFee       decimal.Decimal `gorm:"column:subscription_fee;type:numeric(14,2);not null"`
	SubscriptionPeriod    int             `gorm:"column:subscription_period_days;not null"`
	RequireSubscription   bool            `gorm:"column:require_subscription;not null"`
	SplittingEnabled      bool            `gorm:"column:splitting_enabled;not null"`
	BasisPercentage       decimal.Decimal `gorm:"column:basis_percentage;type:numeric(5,2);not null"`
	ExtraPercentage       decimal.Decimal `gorm:"column:extra_percentage;type:numeric(5,2);not null"`
	SubscriptionExpiresAt *time.Time      `gorm:"column:subscription_expires_at"`
	LastExpiryWarningAt   *time.Time      `gorm:"column:last_expiry_warning_at"`
	CreatedAt             time.Time       `gorm:"column:created_at"`
	UpdatedAt             time.Time       `gorm:"column:updated_at"`
}

func (BillingProfile) TableName() string {
	return "billing_profiles"
}

type Package struct {
	ID            string          `gorm:"column:id;type:uuid;primaryKey"`
	LocationID    string          `gorm:"column:location_id;type:uuid;not null;index"`
	Name          string          `gorm:"column:name;not null"`
	Price         decimal.Decimal `gorm:"column:price;type:numeric(14,2);not null"`
	DurationHours int             `gorm:"column:duration_hours;not null"`
	IsActive      bool            `gorm:"column:is_active;not null"`
	CreatedAt     time.Time       `gorm:"column:created_at"`
	UpdatedAt     time.Time       `gorm:"column:updated_at"`
}

func (Package) TableName() string {
	return "packages"
}
