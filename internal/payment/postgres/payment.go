package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	paymentDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/payment"
	"github.com/frahmantamala/spotpay-billing/internal/core/datastore"
	"github.com/frahmantamala/spotpay-billing/internal/payment"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) payment.RepositoryAPI {
	return &PaymentRepository{
		db: db,
	}
}

func (r *PaymentRepository) WithTx(tx *gorm.DB) payment.RepositoryAPI {
	return &PaymentRepository{db: tx}
}

func (r *PaymentRepository) Create(ctx context.Context, p *paymentDatamodel.Payment) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*paymentDatamodel.Payment, error) {
	var p paymentDatamodel.Payment
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&p).Error
	return found(&p, err)
}

func (r *PaymentRepository) GetByReference(ctx context.Context, reference string) (*paymentDatamodel.Payment, error) {
	var p paymentDatamodel.Payment
	err := r.db.WithContext(ctx).Where("provider_reference = ?", reference).Take(&p).Error
	return found(&p, err)
}

func (r *PaymentRepository) LockByID(ctx context.Context, id string) (*paymentDatamodel.Payment, error) {
	var p paymentDatamodel.Payment
	err := r.db.WithContext(ctx).
		Clauses(datastore.ForUpdate).
		Where("id = ?", id).
		Take(&p).Error
	return found(&p, err)
}

func (r *PaymentRepository) LockByReference(ctx context.Context, reference string) (*paymentDatamodel.Payment, error) {
	var p paymentDatamodel.Payment
	err := r.db.WithContext(ctx).
		Clauses(datastore.ForUpdate).
		Where("provider_reference = ?", reference).
		Take(&p).Error
	return found(&p, err)
}

func (r *PaymentRepository) SetReference(ctx context.Context, id, reference string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&paymentDatamodel.Payment{}).
		Where("id = ? AND provider_reference IS NULL", id).
		Updates(map[string]interface{}{
			"provider_reference": reference,
			"updated_at":         time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *PaymentRepository) Transition(ctx context.Context, p *paymentDatamodel.Payment) (bool, error) {
	updates := callbackColumns(p)
	updates["status"] = p.Status
	updates["completed_at"] = p.CompletedAt
	updates["failure_reason"] = p.FailureReason

	res := r.db.WithContext(ctx).
		Model(&paymentDatamodel.Payment{}).
		Where("id = ? AND status = ?", p.ID, paymentDatamodel.StatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *PaymentRepository) RecordCallback(ctx context.Context, p *paymentDatamodel.Payment) error {
	return r.db.WithContext(ctx).
		Model(&paymentDatamodel.Payment{}).
		Where("id = ?", p.ID).
		Updates(callbackColumns(p)).Error
}

func callbackColumns(p *paymentDatamodel.Payment) map[string]interface{} {
	updates := map[string]interface{}{
		"provider_reference": p.ProviderReference,
		"provider_txn_id":    p.ProviderTxnID,
		"processor_message":  p.ProcessorMessage,
		"updated_at":         time.Now().UTC(),
	}
	if len(p.RawCallback) > 0 {
		updates["raw_callback"] = p.RawCallback
	}
	return updates
}

func (r *PaymentRepository) ListStale(ctx context.Context, unreferencedBefore, referencedBefore time.Time, limit int) ([]paymentDatamodel.Payment, error) {
	var payments []paymentDatamodel.Payment
	err := r.db.WithContext(ctx).
		Where("status = ?", paymentDatamodel.StatusPending).
		Where(r.db.
			Where("provider_reference IS NULL AND created_at < ?", unreferencedBefore).
			Or("provider_reference IS NOT NULL AND created_at < ?", referencedBefore)).
		Order("created_at ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

func found(p *paymentDatamodel.Payment, err error) (*paymentDatamodel.Payment, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}
