package payment

import (
	"context"

	"gorm.io/gorm"

	paymentDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/payment"
)

const (
	reasonNoReference    = "expired: provider never returned a reference"
	reasonNoConfirmation = "expired: provider never confirmed the charge"
	defaultSweepSize     = 100
)

// ExpireStale fails PENDING payments the provider will not settle anymore:
// those that never got a reference after the unreferenced timeout, and those
// with a reference but no callback after the pending timeout. It uses the
// same locked transition as callbacks, so a late callback and the sweep
// cannot both win.
func (s *Service) ExpireStale(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultSweepSize
	}
	now := s.now()
	stale, err := s.repo.ListStale(ctx, now.Add(-s.opts.UnreferencedTimeout), now.Add(-s.opts.PendingTimeout), limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range stale {
		ok, err := s.expire(ctx, stale[i].ID)
		if err != nil {
			s.logger.Error("failed to expire payment", "payment_id", stale[i].ID, "error", err)
			continue
		}
		if ok {
			expired++
		}
	}
	if expired > 0 {
		s.logger.Info("stale payments expired", "count", expired)
	}
	return expired, nil
}

func (s *Service) expire(ctx context.Context, paymentID string) (bool, error) {
	var settled *paymentDatamodel.Payment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		p, err := s.repo.WithTx(tx).LockByID(ctx, paymentID)
		if err != nil {
			return err
		}
		if p == nil || p.IsTerminal() {
			return nil
		}
		reason := reasonNoConfirmation
		if p.ProviderReference == nil {
			reason = reasonNoReference
		}
		if err := s.settle(ctx, tx, p, OutcomeFailure, reason); err != nil {
			return err
		}
		settled = p
		return nil
	})
	if err != nil || settled == nil {
		return false, err
	}
	s.afterSettle(ctx, settled)
	return true, nil
}
