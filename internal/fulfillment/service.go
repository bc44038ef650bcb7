package fulfillment

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/frahmantamala/spotpay-billing/internal"
	"github.com/frahmantamala/spotpay-billing/internal/billing"
	ledgerDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/ledger"
	paymentDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/payment"
	voucherDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/voucher"
	"github.com/frahmantamala/spotpay-billing/internal/core/datastore"
	"github.com/frahmantamala/spotpay-billing/internal/core/events"
	"github.com/frahmantamala/spotpay-billing/internal/notification"
	"github.com/frahmantamala/spotpay-billing/internal/payment"
	"github.com/frahmantamala/spotpay-billing/pkg/logger"
	"github.com/frahmantamala/spotpay-billing/pkg/metrics"
)

type Service struct {
	repo      RepositoryAPI
	payments  payment.RepositoryAPI
	splits    billing.RepositoryAPI
	inventory Inventory
	wallets   Wallets
	locations Locations
	notifier  Notifier
	events    events.Publisher
	tx        datastore.TxRunner
	logger    *slog.Logger
	now       func() time.Time
}

type Dependencies struct {
	Repo      RepositoryAPI
	Payments  payment.RepositoryAPI
	Splits    billing.RepositoryAPI
	Inventory Inventory
	Wallets   Wallets
	Locations Locations
	Notifier  Notifier
	Events    events.Publisher
	Tx        datastore.TxRunner
	Logger    *slog.Logger
}

func NewService(deps Dependencies) *Service {
	return &Service{
		repo:      deps.Repo,
		payments:  deps.Payments,
		splits:    deps.Splits,
		inventory: deps.Inventory,
		wallets:   deps.Wallets,
		locations: deps.Locations,
		notifier:  deps.Notifier,
		events:    deps.Events,
		tx:        deps.Tx,
		logger:    deps.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Fulfill satisfies payment.Fulfiller.
func (s *Service) Fulfill(ctx context.Context, paymentID string) error {
	_, err := s.Run(ctx, paymentID)
	return err
}

// Run applies the side effects of a successful payment exactly once. Every
// inventory and ledger mutation commits together with the marker; the
// notification is sent after commit and never rolls them back. A voucher
// sale that finds the package sold out is closed as unfulfillable instead of
// failing on every retry.
func (s *Service) Run(ctx context.Context, paymentID string) (*Outcome, error) {
	var out *Outcome
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		p, err := s.payments.WithTx(tx).LockByID(ctx, paymentID)
		if err != nil {
			return err
		}
		if p == nil {
			return internal.ErrPaymentNotFound
		}
		if p.Status != paymentDatamodel.StatusSuccess {
			return internal.ErrInvalidStateTransition.WithMessage("only successful payments can be fulfilled")
		}

		out = &Outcome{PaymentID: p.ID, Purpose: p.Purpose, VendorID: p.VendorID, Amount: p.Amount}

		marker, err := s.repo.WithTx(tx).GetMarker(ctx, p.ID)
		if err != nil {
			return err
		}
		if marker != nil {
			out.AlreadyFulfilled = true
			out.Unfulfillable = marker.Status == voucherDatamodel.FulfillmentUnfulfillable
			out.VoucherID = marker.VoucherID
			return nil
		}

		switch p.Purpose {
		case paymentDatamodel.PurposeVoucherPurchase:
			err = s.sellVoucher(ctx, tx, p, out)
		case paymentDatamodel.PurposeSubscription:
			err = s.renewSubscription(ctx, tx, p, out)
		case paymentDatamodel.PurposeWalletTopup:
			err = s.credit(ctx, tx, p, p.Amount, ledgerDatamodel.ReasonAdjustment, out)
		case paymentDatamodel.PurposeSMSTopup:
			// message units live with the SMS collaborator, notified after commit
		default:
			err = internal.NewInternalError("unknown payment purpose "+p.Purpose, nil)
		}
		if err != nil {
			return err
		}

		err = s.repo.WithTx(tx).CreateMarker(ctx, &voucherDatamodel.Fulfillment{
			PaymentID: p.ID,
			Purpose:   p.Purpose,
			Status:    voucherDatamodel.FulfillmentDone,
			VoucherID: out.VoucherID,
		})
		if datastore.IsDuplicate(err) {
			return internal.ErrVoucherConflict.WithCause(err)
		}
		return err
	})
	if errors.Is(err, internal.ErrNoAvailableStock) && out != nil && out.Purpose == paymentDatamodel.PurposeVoucherPurchase {
		return s.markUnfulfillable(ctx, out, err)
	}
	if err != nil {
		purpose := "unknown"
		if out != nil {
			purpose = out.Purpose
		}
		metrics.IncFulfillment(purpose, "error")
		logger.FromOr(ctx, s.logger).Error("fulfillment failed", "payment_id", paymentID, "error", err)
		return nil, err
	}

	if out.AlreadyFulfilled {
		metrics.IncFulfillment(out.Purpose, "duplicate")
		return out, nil
	}
	metrics.IncFulfillment(out.Purpose, "done")
	s.afterCommit(ctx, out)
	return out, nil
}

// markUnfulfillable closes a paid voucher sale that lost the last voucher to
// another payer. The marker keeps it out of ResumePending; the event and the
// error log hand it to whoever refunds or issues a voucher by hand.
func (s *Service) markUnfulfillable(ctx context.Context, out *Outcome, cause error) (*Outcome, error) {
	reason := cause.Error()
	created := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		p, err := s.payments.WithTx(tx).LockByID(ctx, out.PaymentID)
		if err != nil {
			return err
		}
		if p == nil {
			return internal.ErrPaymentNotFound
		}
		repo := s.repo.WithTx(tx)
		marker, err := repo.GetMarker(ctx, p.ID)
		if err != nil {
			return err
		}
		if marker != nil {
			out.AlreadyFulfilled = true
			out.Unfulfillable = marker.Status == voucherDatamodel.FulfillmentUnfulfillable
			out.VoucherID = marker.VoucherID
			return nil
		}
		created = true
		return repo.CreateMarker(ctx, &voucherDatamodel.Fulfillment{
			PaymentID: p.ID,
			Purpose:   p.Purpose,
			Status:    voucherDatamodel.FulfillmentUnfulfillable,
			Reason:    &reason,
		})
	})
	if err != nil {
		metrics.IncFulfillment(out.Purpose, "error")
		logger.FromOr(ctx, s.logger).Error("failed to record unfulfillable payment", "payment_id", out.PaymentID, "error", err)
		return nil, err
	}
	if !created {
		metrics.IncFulfillment(out.Purpose, "duplicate")
		return out, nil
	}

	out.Unfulfillable = true
	metrics.IncFulfillment(out.Purpose, "unfulfillable")
	log := logger.FromOr(ctx, s.logger).With("payment_id", out.PaymentID, "purpose", out.Purpose)
	log.Error("paid payment cannot be fulfilled, refund or issue a voucher manually",
		"vendor_id", out.VendorID,
		"amount", out.Amount.StringFixed(2),
		"reason", reason)
	if s.events != nil {
		event := events.NewFulfillmentFailedEvent(out.PaymentID, out.Purpose, out.VendorID, out.Amount, reason)
		if err := s.events.Publish(ctx, event); err != nil {
			log.Error("failed to publish fulfillment event", "event_type", event.EventType(), "error", err)
		}
	}
	return out, nil
}

func (s *Service) sellVoucher(ctx context.Context, tx *gorm.DB, p *paymentDatamodel.Payment, out *Outcome) error {
	if p.PackageID == nil || p.LocationID == nil {
		return internal.NewInternalError("voucher payment without package or location", nil)
	}

	pkg, err := s.locations.PackageTx(ctx, tx, *p.PackageID)
	if err != nil {
		return err
	}
	v, err := s.inventory.ReserveOrConfirmTx(ctx, tx, pkg.ID, p.ID)
	if err != nil {
		return err
	}
	if err := s.inventory.ConsumeTx(ctx, tx, v.Code, p.ID); err != nil {
		return err
	}
	out.VoucherID = &v.ID
	out.VoucherCode = v.Code

	profile, err := s.locations.ProfileTx(ctx, tx, *p.LocationID)
	if err != nil {
		return err
	}
	split, err := billing.ForProfile(p.Amount, profile)
	if err != nil {
		return err
	}
	if err := s.splits.WithTx(tx).Create(ctx, split.ToDataModel(p.ID)); err != nil {
		return err
	}
	out.Split = &split

	if err := s.credit(ctx, tx, p, split.VendorAmount, ledgerDatamodel.ReasonVoucherSale, out); err != nil {
		return err
	}

	return s.notifier.EnqueueTx(ctx, tx, notification.VoucherMessage{
		PaymentID:   p.ID,
		VendorID:    p.VendorID,
		Phone:       p.Phone,
		VoucherCode: v.Code,
		PackageName: pkg.Name,
	})
}

func (s *Service) renewSubscription(ctx context.Context, tx *gorm.DB, p *paymentDatamodel.Payment, out *Outcome) error {
	if p.LocationID == nil {
		return internal.NewInternalError("subscription payment without location", nil)
	}
	profile, err := s.locations.ExtendSubscriptionTx(ctx, tx, *p.LocationID)
	if err != nil {
		return err
	}
	out.SubscriptionExpiresAt = profile.SubscriptionExpiresAt
	return nil
}

// credit posts to the vendor wallet keyed by payment id, so a payment can
// never be credited twice.
func (s *Service) credit(ctx context.Context, tx *gorm.DB, p *paymentDatamodel.Payment, amount decimal.Decimal, reason string, out *Outcome) error {
	if !amount.IsPositive() {
		return nil
	}
	if _, err := s.wallets.CreditTx(ctx, tx, p.VendorID, amount, reason, p.ID); err != nil {
		return err
	}
	out.Credited = amount
	return nil
}

func (s *Service) afterCommit(ctx context.Context, out *Outcome) {
	log := logger.FromOr(ctx, s.logger).With("payment_id", out.PaymentID, "purpose", out.Purpose)
	log.Info("payment fulfilled", "voucher_id", out.VoucherID, "credited", out.Credited.StringFixed(2))

	if out.Purpose == paymentDatamodel.PurposeVoucherPurchase {
		if err := s.notifier.Deliver(ctx, out.PaymentID); err != nil {
			if errors.Is(err, internal.ErrInsufficientUnits) {
				log.Warn("voucher notification skipped", "reason", err.Error())
			} else {
				log.Error("voucher notification failed, will be retried", "error", err)
			}
		}
	}

	if s.events == nil {
		return
	}
	platform, vendor := decimal.Zero, out.Credited
	if out.Split != nil {
		platform, vendor = out.Split.PlatformAmount, out.Split.VendorAmount
	}
	published := []events.Event{
		events.NewFulfillmentCompletedEvent(out.PaymentID, out.Purpose, out.VendorID, out.VoucherID, platform, vendor),
	}
	if out.Purpose == paymentDatamodel.PurposeSMSTopup {
		published = append(published, events.NewSMSTopupPaidEvent(out.PaymentID, out.VendorID, out.Amount))
	}
	for _, e := range published {
		if err := s.events.Publish(ctx, e); err != nil {
			log.Error("failed to publish fulfillment event", "event_type", e.EventType(), "error", err)
		}
	}
}

// ResumePending re-drives SUCCESS payments whose fulfillment never committed,
// for example after a crash between the status change and fulfillment.
func (s *Service) ResumePending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	ids, err := s.repo.ListUnfulfilled(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, id := range ids {
		out, err := s.Run(ctx, id)
		if err != nil {
			continue
		}
		if !out.AlreadyFulfilled && !out.Unfulfillable {
			done++
		}
	}
	if done > 0 {
		s.logger.Info("pending fulfillments resumed", "count", done)
	}
	return done, nil
}
