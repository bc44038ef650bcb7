package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/spotpay-billing/internal/billing"
	billingDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/billing"
)

type FeeSplitRepository struct {
	db *gorm.DB
}

func NewFeeSplitRepository(db *gorm.DB) billing.RepositoryAPI {
	return &FeeSplitRepository{db: db}
}

func (r *FeeSplitRepository) WithTx(tx *gorm.DB) billing.RepositoryAPI {
	return &FeeSplitRepository{db: tx}
}

// Create is a no-op when the payment already has a split.
func (r *FeeSplitRepository) Create(ctx context.Context, split *billingDatamodel.FeeSplit) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "payment_id"}}, DoNothing: true}).
		Create(split).Error
}

func (r *FeeSplitRepository) GetByPaymentID(ctx context.Context, paymentID string) (*billingDatamodel.FeeSplit, error) {
	var split billingDatamodel.FeeSplit
	err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&split).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &split, nil
}
