package inventory

import (
	"context"
	"time"

	"gorm.io/gorm"

	voucherDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/voucher"
)

// RepositoryAPI is the only writer of voucher rows.
type RepositoryAPI interface {
	WithTx(tx *gorm.DB) RepositoryAPI
	// LockNextUnused returns the oldest unused voucher of the package that no
	// other transaction holds, or nil when none is left.
	LockNextUnused(ctx context.Context, packageID string) (*voucherDatamodel.Voucher, error)
	LockByCode(ctx context.Context, code string) (*voucherDatamodel.Voucher, error)
	LockByPayment(ctx context.Context, paymentID string) (*voucherDatamodel.Voucher, error)
	FindByPayment(ctx context.Context, paymentID string) (*voucherDatamodel.Voucher, error)
	MarkReserved(ctx context.Context, id int64, paymentID string, at time.Time) (bool, error)
	MarkUsed(ctx context.Context, id int64, at time.Time) error
	MarkUnused(ctx context.Context, id int64) error
	CountUnused(ctx context.Context, packageID string) (int64, error)
	InsertIgnoringDuplicates(ctx context.Context, vouchers []*voucherDatamodel.Voucher) (int64, error)
}

type LoadResult struct {
	Inserted int64 `json:"inserted"`
	Skipped  int64 `json:"skipped"`
}

type StockView struct {
	PackageID string `json:"package_id"`
	Unused    int64  `json:"unused"`
}
