package voucher

import "time"

const (
	StatusUnused   = "UNUSED"
	StatusReserved = "RESERVED"
	StatusUsed     = "USED"
)

// Voucher is a single-use access code. ID follows insertion order and drives FIFO reservation.
type Voucher struct {
	ID                   int64      `gorm:"column:id;primaryKey;autoIncrement"`
	Code                 string     `gorm:"column:code;not null;uniqueIndex"`
	PackageID            string     `gorm:"column:package_id;not null;index:idx_vouchers_package_status"`
	Status               string     `gorm:"column:status;not null;index:idx_vouchers_package_status"`
	ReservedForPaymentID *string    `gorm:"column:reserved_for_payment_id;index"`
	ReservedAt           *time.Time `gorm:"column:reserved_at"`
	UsedAt               *time.Time `gorm:"column:used_at"`
	CreatedAt            time.Time  `gorm:"column:created_at"`
	UpdatedAt            time.Time  `gorm:"column:updated_at"`
}

func (Voucher) TableName() string {
	return "vouchers"
}

const (
	FulfillmentDone = "DONE"
	// FulfillmentUnfulfillable closes a paid payment whose side effects can
	// never run, such as a voucher sale that found the package sold out. It
	// is left for refund or manual issue.
	FulfillmentUnfulfillable = "UNFULFILLABLE"
)

// Fulfillment marks that a payment's side effects ran, or that they never
// will. One row per payment; a voucher can back at most one fulfillment.
type Fulfillment struct {
	PaymentID string    `gorm:"column:payment_id;type:uuid;primaryKey"`
	Purpose   string    `gorm:"column:purpose;not null"`
	Status    string    `gorm:"column:status;not null"`
	Reason    *string   `gorm:"column:reason"`
	VoucherID *int64    `gorm:"column:voucher_id;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (Fulfillment) TableName() string {
	return "fulfillments"
}
