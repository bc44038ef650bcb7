package postgres

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/spotpay-billing/internal"
	ledgerDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/ledger"
	"github.com/frahmantamala/spotpay-billing/internal/core/datastore"
	"github.com/frahmantamala/spotpay-billing/internal/ledger"
)

type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) ledger.RepositoryAPI {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) WithTx(tx *gorm.DB) ledger.RepositoryAPI {
	return &WalletRepository{db: tx}
}

func (r *WalletRepository) EnsureWallet(ctx context.Context, vendorID string) error {
	wallet := &ledgerDatamodel.Wallet{
		VendorID: vendorID,
		Balance:  decimal.Zero,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "vendor_id"}}, DoNothing: true}).
		Create(wallet).Error
}

func (r *WalletRepository) LockWallet(ctx context.Context, vendorID string) (*ledgerDatamodel.Wallet, error) {
	var w ledgerDatamodel.Wallet
	err := r.db.WithContext(ctx).
		Clauses(datastore.ForUpdate).
		Where("vendor_id = ?", vendorID).
		Take(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *WalletRepository) GetWallet(ctx context.Context, vendorID string) (*ledgerDatamodel.Wallet, error) {
	var w ledgerDatamodel.Wallet
	err := r.db.WithContext(ctx).Where("vendor_id = ?", vendorID).Take(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *WalletRepository) FindEntry(ctx context.Context, reference string) (*ledgerDatamodel.Entry, error) {
	var e ledgerDatamodel.Entry
	err := r.db.WithContext(ctx).Where("reference = ?", reference).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *WalletRepository) AppendEntry(ctx context.Context, entry *ledgerDatamodel.Entry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// SetBalance writes the new balance only if nobody bumped the version since
// the row was read.
func (r *WalletRepository) SetBalance(ctx context.Context, vendorID string, balance decimal.Decimal, version int64) error {
	res := r.db.WithContext(ctx).
		Model(&ledgerDatamodel.Wallet{}).
		Where("vendor_id = ? AND version = ?", vendorID, version).
		Updates(map[string]interface{}{
			"balance": balance,
			"version": version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return internal.ErrLockTimeout.WithMessage("wallet changed concurrently, retry later")
	}
	return nil
}

func (r *WalletRepository) SetPasswordHash(ctx context.Context, vendorID, hash string) error {
	return r.db.WithContext(ctx).
		Model(&ledgerDatamodel.Wallet{}).
		Where("vendor_id = ?", vendorID).
		Update("password_hash", hash).Error
}
