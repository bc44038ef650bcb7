package notification

import "time"

const (
	StatusPending = "PENDING"
	StatusSent    = "SENT"
	StatusFailed  = "FAILED"
	StatusSkipped = "SKIPPED"
)

// Notification is the delivery outbox for voucher messages, one per payment.
type Notification struct {
	ID          int64      `gorm:"column:id;primaryKey;autoIncrement"`
	PaymentID   string     `gorm:"column:payment_id;type:uuid;not null;uniqueIndex"`
	VendorID    string     `gorm:"column:vendor_id;not null"`
	Phone       string     `gorm:"column:phone;not null"`
	VoucherCode string     `gorm:"column:voucher_code;not null"`
	PackageName string     `gorm:"column:package_name;not null"`
	Status      string     `gorm:"column:status;not null;index"`
	Attempts    int        `gorm:"column:attempts;not null"`
	LastError   *string    `gorm:"column:last_error"`
	SentAt      *time.Time `gorm:"column:sent_at"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at"`
}

func (Notification) TableName() string {
	return "notifications"
}
