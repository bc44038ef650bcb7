package billing

import (
	"context"

	billingDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/billing"
	"gorm.io/gorm"
)

type RepositoryAPI interface {
	WithTx(tx *gorm.DB) RepositoryAPI
	Create(ctx context.Context, split *billingDatamodel.FeeSplit) error
	GetByPaymentID(ctx context.Context, paymentID string) (*billingDatamodel.FeeSplit, error)
}
