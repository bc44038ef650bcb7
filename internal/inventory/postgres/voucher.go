package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	voucherDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/voucher"
	"github.com/frahmantamala/spotpay-billing/internal/core/datastore"
	"github.com/frahmantamala/spotpay-billing/internal/inventory"
)

const insertBatchSize = 500

type VoucherRepository struct {
	db *gorm.DB
}

func NewVoucherRepository(db *gorm.DB) inventory.RepositoryAPI {
	return &VoucherRepository{db: db}
}

func (r *VoucherRepository) WithTx(tx *gorm.DB) inventory.RepositoryAPI {
	return &VoucherRepository{db: tx}
}

func (r *VoucherRepository) LockNextUnused(ctx context.Context, packageID string) (*voucherDatamodel.Voucher, error) {
	var v voucherDatamodel.Voucher
	err := r.db.WithContext(ctx).
		Clauses(datastore.ForUpdateSkipLocked).
		Where("package_id = ? AND status = ?", packageID, voucherDatamodel.StatusUnused).
		Order("id ASC").
		Take(&v).Error
	return found(&v, err)
}

func (r *VoucherRepository) LockByCode(ctx context.Context, code string) (*voucherDatamodel.Voucher, error) {
	var v voucherDatamodel.Voucher
	err := r.db.WithContext(ctx).
		Clauses(datastore.ForUpdate).
		Where("code = ?", code).
		Take(&v).Error
	return found(&v, err)
}

func (r *VoucherRepository) LockByPayment(ctx context.Context, paymentID string) (*voucherDatamodel.Voucher, error) {
	var v voucherDatamodel.Voucher
	err := r.db.WithContext(ctx).
		Clauses(datastore.ForUpdate).
		Where("reserved_for_payment_id = ?", paymentID).
		Order("id ASC").
		Take(&v).Error
	return found(&v, err)
}

func (r *VoucherRepository) FindByPayment(ctx context.Context, paymentID string) (*voucherDatamodel.Voucher, error) {
	var v voucherDatamodel.Voucher
	err := r.db.WithContext(ctx).
		Where("reserved_for_payment_id = ?", paymentID).
		Order("id ASC").
		Take(&v).Error
	return found(&v, err)
}

func (r *VoucherRepository) MarkReserved(ctx context.Context, id int64, paymentID string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&voucherDatamodel.Voucher{}).
		Where("id = ? AND status = ?", id, voucherDatamodel.StatusUnused).
		Updates(map[string]interface{}{
			"status":                  voucherDatamodel.StatusReserved,
			"reserved_for_payment_id": paymentID,
			"reserved_at":             at,
			"updated_at":              at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *VoucherRepository) MarkUsed(ctx context.Context, id int64, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&voucherDatamodel.Voucher{}).
		Where("id = ? AND status = ?", id, voucherDatamodel.StatusReserved).
		Updates(map[string]interface{}{
			"status":     voucherDatamodel.StatusUsed,
			"used_at":    at,
			"updated_at": at,
		}).Error
}

func (r *VoucherRepository) MarkUnused(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&voucherDatamodel.Voucher{}).
		Where("id = ? AND status = ?", id, voucherDatamodel.StatusReserved).
		Updates(map[string]interface{}{
			"status":                  voucherDatamodel.StatusUnused,
			"reserved_for_payment_id": nil,
			"reserved_at":             nil,
			"updated_at":              time.Now().UTC(),
		}).Error
}

func (r *VoucherRepository) CountUnused(ctx context.Context, packageID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&voucherDatamodel.Voucher{}).
		Where("package_id = ? AND status = ?", packageID, voucherDatamodel.StatusUnused).
		Count(&n).Error
	return n, err
}

func (r *VoucherRepository) InsertIgnoringDuplicates(ctx context.Context, vouchers []*voucherDatamodel.Voucher) (int64, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "code"}}, DoNothing: true}).
		CreateInBatches(vouchers, insertBatchSize)
	return res.RowsAffected, res.Error
}

func found(v *voucherDatamodel.Voucher, err error) (*voucherDatamodel.Voucher, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}
