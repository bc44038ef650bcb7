package ledger

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/frahmantamala/spotpay-billing/internal"
	"github.com/frahmantamala/spotpay-billing/internal/core/common/validation"
	ledgerDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/ledger"
	"github.com/frahmantamala/spotpay-billing/internal/core/datastore"
	"github.com/frahmantamala/spotpay-billing/pkg/logger"
	"github.com/frahmantamala/spotpay-billing/pkg/metrics"
)

const (
	defaultStatementSize = 20
	minPasswordLength    = 6
)

type Service struct {
	repo       RepositoryAPI
	statements StatementReader
	tx         datastore.TxRunner
	logger     *slog.Logger
	bcryptCost int
}

func NewService(repo RepositoryAPI, statements StatementReader, tx datastore.TxRunner, logger *slog.Logger, bcryptCost int) *Service {
	if bcryptCost <= 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		repo:       repo,
		statements: statements,
		tx:         tx,
		logger:     logger,
		bcryptCost: bcryptCost,
	}
}

func (s *Service) Credit(ctx context.Context, vendorID string, amount decimal.Decimal, reason, reference string) (*ledgerDatamodel.Wallet, error) {
	var wallet *ledgerDatamodel.Wallet
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		wallet, err = s.CreditTx(ctx, tx, vendorID, amount, reason, reference)
		return err
	})
	return wallet, err
}

func (s *Service) CreditTx(ctx context.Context, tx *gorm.DB, vendorID string, amount decimal.Decimal, reason, reference string) (*ledgerDatamodel.Wallet, error) {
	return s.post(ctx, tx, vendorID, amount, ledgerDatamodel.KindCredit, reason, reference)
}

func (s *Service) Debit(ctx context.Context, vendorID string, amount decimal.Decimal, reason, reference string) (*ledgerDatamodel.Wallet, error) {
	var wallet *ledgerDatamodel.Wallet
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		wallet, err = s.DebitTx(ctx, tx, vendorID, amount, reason, reference)
		return err
	})
	return wallet, err
}

func (s *Service) DebitTx(ctx context.Context, tx *gorm.DB, vendorID string, amount decimal.Decimal, reason, reference string) (*ledgerDatamodel.Wallet, error) {
	return s.post(ctx, tx, vendorID, amount, ledgerDatamodel.KindDebit, reason, reference)
}

// post applies one balance movement under the wallet row lock. A reference
// that was already posted returns the current wallet untouched.
func (s *Service) post(ctx context.Context, tx *gorm.DB, vendorID string, amount decimal.Decimal, kind, reason, reference string) (*ledgerDatamodel.Wallet, error) {
	if !amount.IsPositive() {
		return nil, internal.ErrInvalidAmount
	}
	if appErr := validatePosting(vendorID, amount, reason, reference); appErr != nil {
		return nil, appErr
	}

	repo := s.repo.WithTx(tx)
	if err := repo.EnsureWallet(ctx, vendorID); err != nil {
		return nil, err
	}
	wallet, err := repo.LockWallet(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, internal.ErrWalletNotFound
	}

	existing, err := repo.FindEntry(ctx, reference)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.VendorID != vendorID {
			return nil, internal.ErrDuplicateReference
		}
		logger.FromOr(ctx, s.logger).Info("ledger posting already applied",
			"vendor_id", vendorID,
			"reference", reference,
			"kind", existing.Kind)
		return wallet, nil
	}

	signed := amount
	if kind == ledgerDatamodel.KindDebit {
		if wallet.Balance.LessThan(amount) {
			return nil, internal.ErrInsufficientFunds
		}
		signed = amount.Neg()
	}

	balance := wallet.Balance.Add(signed)
	if err := repo.SetBalance(ctx, vendorID, balance, wallet.Version); err != nil {
		return nil, err
	}
	entry := &ledgerDatamodel.Entry{
		VendorID:     vendorID,
		Amount:       signed,
		Kind:         kind,
		Reason:       reason,
		Reference:    reference,
		BalanceAfter: balance,
	}
	if err := repo.AppendEntry(ctx, entry); err != nil {
		if datastore.IsDuplicate(err) {
			return nil, internal.ErrDuplicateReference.WithCause(err)
		}
		return nil, err
	}

	wallet.Balance = balance
	wallet.Version++
	metrics.IncLedgerEntry(kind, reason)
	logger.FromOr(ctx, s.logger).Info("ledger posting applied",
		"vendor_id", vendorID,
		"kind", kind,
		"reason", reason,
		"amount", amount.StringFixed(2),
		"balance", balance.StringFixed(2),
		"reference", reference)
	return wallet, nil
}

func validatePosting(vendorID string, amount decimal.Decimal, reason, reference string) *internal.AppError {
	v := validation.NewValidator()
	v.Field("vendor_id", vendorID).Required()
	v.Field("amount", amount).MaxScale(2)
	v.Field("reason", reason).Required().OneOf(internal.ErrCodeValidationFailed,
		ledgerDatamodel.ReasonVoucherSale,
		ledgerDatamodel.ReasonSubscription,
		ledgerDatamodel.ReasonSMSPurchase,
		ledgerDatamodel.ReasonWithdrawal,
		ledgerDatamodel.ReasonAdjustment)
	v.Field("reference", reference).Required().MaxLength(128)
	return v.Validate()
}

func (s *Service) Balance(ctx context.Context, vendorID string) (decimal.Decimal, error) {
	wallet, err := s.repo.GetWallet(ctx, vendorID)
	if err != nil {
		return decimal.Zero, err
	}
	if wallet == nil {
		return decimal.Zero, nil
	}
	return wallet.Balance, nil
}

// Statement is the wallet balance plus its most recent entries, newest first.
func (s *Service) Statement(ctx context.Context, vendorID string, limit int) (*WalletView, error) {
	if limit <= 0 {
		limit = defaultStatementSize
	}
	wallet, err := s.repo.GetWallet(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, internal.ErrWalletNotFound
	}
	lines, err := s.statements.Recent(ctx, vendorID, limit)
	if err != nil {
		return nil, err
	}
	return &WalletView{VendorID: vendorID, Balance: wallet.Balance, Entries: lines}, nil
}

// Reconcile reports whether the stored balance matches the sum of entries.
func (s *Service) Reconcile(ctx context.Context, vendorID string) (bool, error) {
	balance, err := s.Balance(ctx, vendorID)
	if err != nil {
		return false, err
	}
	sum, err := s.statements.SumEntries(ctx, vendorID)
	if err != nil {
		return false, err
	}
	if !balance.Equal(sum) {
		s.logger.Error("wallet balance drifted from ledger",
			"vendor_id", vendorID,
			"balance", balance.StringFixed(2),
			"entries_total", sum.StringFixed(2))
		return false, nil
	}
	return true, nil
}

func (s *Service) SetPassword(ctx context.Context, vendorID, password string) error {
	v := validation.NewValidator()
	v.Field("password", password).Required().MinLength(minPasswordLength).MaxLength(72)
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return internal.NewInternalError("failed to hash wallet password", err)
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.EnsureWallet(ctx, vendorID); err != nil {
			return err
		}
		return repo.SetPasswordHash(ctx, vendorID, string(hash))
	})
}

// Withdraw debits the wallet after verifying the vendor's wallet password.
func (s *Service) Withdraw(ctx context.Context, vendorID string, amount decimal.Decimal, password, reference string) (*ledgerDatamodel.Wallet, error) {
	wallet, err := s.repo.GetWallet(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, internal.ErrWalletNotFound
	}
	if wallet.PasswordHash == nil {
		return nil, internal.ErrInvalidPassword
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*wallet.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			logger.FromOr(ctx, s.logger).Warn("withdrawal rejected", "vendor_id", vendorID, "reason", "password mismatch")
			return nil, internal.ErrInvalidPassword
		}
		return nil, internal.NewInternalError("failed to verify wallet password", err)
	}

	return s.Debit(ctx, vendorID, amount, ledgerDatamodel.ReasonWithdrawal, reference)
}
