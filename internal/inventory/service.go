package inventory

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/frahmantamala/spotpay-billing/internal"
	voucherDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/voucher"
	"github.com/frahmantamala/spotpay-billing/internal/core/datastore"
	"github.com/frahmantamala/spotpay-billing/pkg/logger"
	"github.com/frahmantamala/spotpay-billing/pkg/metrics"
)

// a guarded update can still lose to a writer that skipped the row lock
const maxReserveAttempts = 3

type Service struct {
	repo   RepositoryAPI
	tx     datastore.TxRunner
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo RepositoryAPI, tx datastore.TxRunner, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		tx:     tx,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Reserve(ctx context.Context, packageID, paymentID string) (*voucherDatamodel.Voucher, error) {
	var reserved *voucherDatamodel.Voucher
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		reserved, err = s.ReserveTx(ctx, tx, packageID, paymentID)
		return err
	})
	return reserved, err
}

// ReserveTx picks the oldest free voucher of the package for paymentID.
// Vouchers locked by concurrent reservers are skipped, never waited on.
func (s *Service) ReserveTx(ctx context.Context, tx *gorm.DB, packageID, paymentID string) (*voucherDatamodel.Voucher, error) {
	repo := s.repo.WithTx(tx)

	for attempt := 0; attempt < maxReserveAttempts; attempt++ {
		v, err := repo.LockNextUnused(ctx, packageID)
		if err != nil {
			return nil, err
		}
		if v == nil {
			break
		}

		at := s.now()
		ok, err := repo.MarkReserved(ctx, v.ID, paymentID, at)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		v.Status = voucherDatamodel.StatusReserved
		v.ReservedForPaymentID = &paymentID
		v.ReservedAt = &at
		metrics.IncReservation("reserved")
		logger.FromOr(ctx, s.logger).Debug("voucher reserved",
			"package_id", packageID,
			"payment_id", paymentID,
			"voucher_id", v.ID)
		return v, nil
	}

	metrics.IncReservation("no_stock")
	return nil, internal.ErrNoAvailableStock
}

// ReserveOrConfirmTx returns the voucher already held by the payment, or
// reserves a fresh one.
func (s *Service) ReserveOrConfirmTx(ctx context.Context, tx *gorm.DB, packageID, paymentID string) (*voucherDatamodel.Voucher, error) {
	held, err := s.repo.WithTx(tx).LockByPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if held != nil {
		return held, nil
	}
	return s.ReserveTx(ctx, tx, packageID, paymentID)
}

func (s *Service) Consume(ctx context.Context, code, paymentID string) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.ConsumeTx(ctx, tx, code, paymentID)
	})
}

// ConsumeTx moves a voucher from RESERVED to USED. Repeating it for the same
// payment is a no-op; consuming a voucher held by another payment fails.
func (s *Service) ConsumeTx(ctx context.Context, tx *gorm.DB, code, paymentID string) error {
	repo := s.repo.WithTx(tx)

	v, err := repo.LockByCode(ctx, code)
	if err != nil {
		return err
	}
	if v == nil {
		return internal.ErrVoucherNotFound
	}

	if v.Status == voucherDatamodel.StatusUnused {
		return internal.ErrInvalidVoucherState
	}
	if v.ReservedForPaymentID == nil || *v.ReservedForPaymentID != paymentID {
		logger.FromOr(ctx, s.logger).Error("voucher held by another payment",
			"voucher_code", code,
			"payment_id", paymentID,
			"holder_payment_id", v.ReservedForPaymentID,
			"status", v.Status)
		return internal.ErrVoucherConflict
	}
	if v.Status == voucherDatamodel.StatusUsed {
		return nil
	}

	return repo.MarkUsed(ctx, v.ID, s.now())
}

func (s *Service) Release(ctx context.Context, code string) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		v, err := repo.LockByCode(ctx, code)
		if err != nil {
			return err
		}
		if v == nil {
			return internal.ErrVoucherNotFound
		}
		if v.Status != voucherDatamodel.StatusReserved {
			return internal.ErrInvalidVoucherState
		}
		return repo.MarkUnused(ctx, v.ID)
	})
}

// ReleaseForPaymentTx returns the payment's reservation to the pool, if any.
func (s *Service) ReleaseForPaymentTx(ctx context.Context, tx *gorm.DB, paymentID string) (bool, error) {
	repo := s.repo.WithTx(tx)

	v, err := repo.LockByPayment(ctx, paymentID)
	if err != nil {
		return false, err
	}
	if v == nil || v.Status != voucherDatamodel.StatusReserved {
		return false, nil
	}
	if err := repo.MarkUnused(ctx, v.ID); err != nil {
		return false, err
	}

	logger.FromOr(ctx, s.logger).Info("voucher released",
		"payment_id", paymentID,
		"voucher_id", v.ID)
	return true, nil
}

func (s *Service) Available(ctx context.Context, packageID string) (int64, error) {
	return s.repo.CountUnused(ctx, packageID)
}

func (s *Service) Stock(ctx context.Context, packageID string) (*StockView, error) {
	n, err := s.Available(ctx, packageID)
	if err != nil {
		return nil, err
	}
	return &StockView{PackageID: packageID, Unused: n}, nil
}

// IssuedCode is the consumed voucher of a payment, or "" if none.
func (s *Service) IssuedCode(ctx context.Context, paymentID string) (string, error) {
	v, err := s.repo.FindByPayment(ctx, paymentID)
	if err != nil {
		return "", err
	}
	if v == nil || v.Status != voucherDatamodel.StatusUsed {
		return "", nil
	}
	return v.Code, nil
}

// Load bulk-inserts codes for a package. Blank and already known codes are skipped.
func (s *Service) Load(ctx context.Context, packageID string, codes []string) (*LoadResult, error) {
	seen := make(map[string]struct{}, len(codes))
	rows := make([]*voucherDatamodel.Voucher, 0, len(codes))
	for _, raw := range codes {
		code := strings.TrimSpace(raw)
		if code == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		rows = append(rows, &voucherDatamodel.Voucher{
			Code:      code,
			PackageID: packageID,
			Status:    voucherDatamodel.StatusUnused,
		})
	}

	result := &LoadResult{}
	if len(rows) == 0 {
		result.Skipped = int64(len(codes))
		return result, nil
	}

	inserted, err := s.repo.InsertIgnoringDuplicates(ctx, rows)
	if err != nil {
		s.logger.Error("failed to load vouchers", "package_id", packageID, "error", err)
		return nil, err
	}

	result.Inserted = inserted
	result.Skipped = int64(len(codes)) - inserted
	s.logger.Info("vouchers loaded",
		"package_id", packageID,
		"inserted", result.Inserted,
		"skipped", result.Skipped)
	return result, nil
}
