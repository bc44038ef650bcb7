package notification

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/frahmantamala/spotpay-billing/internal"
	notificationDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/notification"
	"github.com/frahmantamala/spotpay-billing/pkg/logger"
	"github.com/frahmantamala/spotpay-billing/pkg/metrics"
)

const DefaultMaxAttempts = 5

type Service struct {
	repo        RepositoryAPI
	sender      Sender
	logger      *slog.Logger
	maxAttempts int
}

func NewService(repo RepositoryAPI, sender Sender, logger *slog.Logger, maxAttempts int) *Service {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Service{
		repo:        repo,
		sender:      sender,
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

// EnqueueTx records the message in the caller's transaction so it commits
// together with the voucher it announces.
func (s *Service) EnqueueTx(ctx context.Context, tx *gorm.DB, msg VoucherMessage) error {
	return s.repo.WithTx(tx).Enqueue(ctx, &notificationDatamodel.Notification{
		PaymentID:   msg.PaymentID,
		VendorID:    msg.VendorID,
		Phone:       msg.Phone,
		VoucherCode: msg.VoucherCode,
		PackageName: msg.PackageName,
		Status:      notificationDatamodel.StatusPending,
	})
}

// Deliver makes one delivery attempt for the payment's pending message.
// Delivery errors are recorded on the row and returned; the financial outcome
// they announce is never affected.
func (s *Service) Deliver(ctx context.Context, paymentID string) error {
	n, err := s.repo.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return err
	}
	if n == nil || n.Status != notificationDatamodel.StatusPending {
		return nil
	}
	return s.attempt(ctx, n)
}

func (s *Service) attempt(ctx context.Context, n *notificationDatamodel.Notification) error {
	log := logger.FromOr(ctx, s.logger).With("payment_id", n.PaymentID, "attempt", n.Attempts+1)

	claimed, err := s.repo.Claim(ctx, n.ID, n.Attempts)
	if err != nil {
		return err
	}
	if !claimed {
		log.Debug("notification attempt taken by another worker")
		return nil
	}
	attempts := n.Attempts + 1

	sendErr := s.sender.SendVoucher(ctx, VoucherMessage{
		PaymentID:   n.PaymentID,
		VendorID:    n.VendorID,
		Phone:       n.Phone,
		VoucherCode: n.VoucherCode,
		PackageName: n.PackageName,
	})

	switch {
	case sendErr == nil:
		now := time.Now().UTC()
		if err := s.repo.Finish(ctx, n.ID, notificationDatamodel.StatusSent, nil, &now); err != nil {
			return err
		}
		metrics.IncNotification("sent")
		log.Info("voucher notification sent")
		return nil

	case errors.Is(sendErr, internal.ErrInsufficientUnits):
		msg := sendErr.Error()
		if err := s.repo.Finish(ctx, n.ID, notificationDatamodel.StatusSkipped, &msg, nil); err != nil {
			return err
		}
		metrics.IncNotification("skipped")
		log.Warn("voucher notification skipped", "reason", msg)
		return sendErr

	default:
		msg := sendErr.Error()
		status := notificationDatamodel.StatusPending
		if attempts >= s.maxAttempts {
			status = notificationDatamodel.StatusFailed
		}
		if err := s.repo.Finish(ctx, n.ID, status, &msg, nil); err != nil {
			return err
		}
		metrics.IncNotification("error")
		log.Error("voucher notification failed", "error", sendErr, "status", status)
		return sendErr
	}
}

// RetryPending re-attempts due messages and returns how many were sent.
func (s *Service) RetryPending(ctx context.Context, limit int) (int, error) {
	due, err := s.repo.ListDue(ctx, s.maxAttempts, limit)
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range due {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		if err := s.attempt(ctx, &due[i]); err == nil {
			sent++
		}
	}
	return sent, nil
}

func (s *Service) Get(ctx context.Context, paymentID string) (*notificationDatamodel.Notification, error) {
	return s.repo.GetByPaymentID(ctx, paymentID)
}
