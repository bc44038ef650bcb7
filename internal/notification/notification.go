package notification

import (
	"context"
	"time"

	"gorm.io/gorm"

	notificationDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/notification"
)

type VoucherMessage struct {
	PaymentID   string `json:"payment_id"`
	VendorID    string `json:"vendor_id"`
	Phone       string `json:"phone"`
	VoucherCode string `json:"voucher_code"`
	PackageName string `json:"package_name"`
}

// Sender delivers a voucher to the customer. ErrInsufficientUnits means the
// vendor cannot pay for the message and retrying will not help.
type Sender interface {
	SendVoucher(ctx context.Context, msg VoucherMessage) error
}

type RepositoryAPI interface {
	WithTx(tx *gorm.DB) RepositoryAPI
	// Enqueue inserts the outbox row unless the payment already has one.
	Enqueue(ctx context.Context, n *notificationDatamodel.Notification) error
	GetByPaymentID(ctx context.Context, paymentID string) (*notificationDatamodel.Notification, error)
	ListDue(ctx context.Context, maxAttempts, limit int) ([]notificationDatamodel.Notification, error)
	// Claim bumps the attempt counter if it still equals attempts.
	Claim(ctx context.Context, id int64, attempts int) (bool, error)
	Finish(ctx context.Context, id int64, status string, lastError *string, sentAt *time.Time) error
}
