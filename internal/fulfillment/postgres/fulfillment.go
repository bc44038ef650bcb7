package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	paymentDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/payment"
	voucherDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/voucher"
	"github.com/frahmantamala/spotpay-billing/internal/fulfillment"
)

type FulfillmentRepository struct {
	db *gorm.DB
}

func NewFulfillmentRepository(db *gorm.DB) fulfillment.RepositoryAPI {
	return &FulfillmentRepository{db: db}
}

func (r *FulfillmentRepository) WithTx(tx *gorm.DB) fulfillment.RepositoryAPI {
	return &FulfillmentRepository{db: tx}
}

func (r *FulfillmentRepository) GetMarker(ctx context.Context, paymentID string) (*voucherDatamodel.Fulfillment, error) {
	var m voucherDatamodel.Fulfillment
	err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).Take(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (r *FulfillmentRepository) CreateMarker(ctx context.Context, marker *voucherDatamodel.Fulfillment) error {
	return r.db.WithContext(ctx).Create(marker).Error
}

func (r *FulfillmentRepository) ListUnfulfilled(ctx context.Context, before time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Table("payments AS p").
		Joins("LEFT JOIN fulfillments f ON f.payment_id = p.id").
		Where("p.status = ? AND f.payment_id IS NULL AND p.completed_at < ?", paymentDatamodel.StatusSuccess, before).
		Order("p.completed_at ASC").
		Limit(limit).
		Pluck("p.id", &ids).Error
	return ids, err
}
