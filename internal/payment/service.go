package payment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/frahmantamala/spotpay-billing/internal"
	"github.com/frahmantamala/spotpay-billing/internal/core/common/validation"
	paymentDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/payment"
	"github.com/frahmantamala/spotpay-billing/internal/core/datastore"
	"github.com/frahmantamala/spotpay-billing/internal/core/events"
	"github.com/frahmantamala/spotpay-billing/internal/provider"
	"github.com/frahmantamala/spotpay-billing/pkg/logger"
	"github.com/frahmantamala/spotpay-billing/pkg/metrics"
)

type Service struct {
	repo      RepositoryAPI
	tx        datastore.TxRunner
	catalog   Catalog
	stock     Stock
	selector  ProviderSelector
	fulfiller Fulfiller
	events    events.Publisher
	cache     StatusCache
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

type Dependencies struct {
	Repo      RepositoryAPI
	Tx        datastore.TxRunner
	Catalog   Catalog
	Stock     Stock
	Selector  ProviderSelector
	Fulfiller Fulfiller
	Events    events.Publisher
	Cache     StatusCache
	Logger    *slog.Logger
}

func NewService(deps Dependencies, opts Options) *Service {
	if deps.Cache == nil {
		deps.Cache = nopCache{}
	}
	if opts.ChargeTimeout <= 0 {
		opts.ChargeTimeout = 20 * time.Second
	}
	return &Service{
		repo:      deps.Repo,
		tx:        deps.Tx,
		catalog:   deps.Catalog,
		stock:     deps.Stock,
		selector:  deps.Selector,
		fulfiller: deps.Fulfiller,
		events:    deps.Events,
		cache:     deps.Cache,
		opts:      opts,
		logger:    deps.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Initiate records a PENDING payment and starts the charge with the active
// provider. A failed charge leaves the payment PENDING without a reference.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (*paymentDatamodel.Payment, error) {
	if appErr := validateInitiate(req); appErr != nil {
		return nil, appErr
	}

	p, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	adapter, prov, err := s.selector.Active()
	if err != nil {
		return nil, err
	}
	p.ProviderID = &prov.ID

	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	log := logger.FromOr(ctx, s.logger).With("payment_id", p.ID, "purpose", p.Purpose, "provider", prov.Name)
	log.Info("payment initiated", "amount", p.Amount.StringFixed(2), "vendor_id", p.VendorID)

	chargeCtx, cancel := internal.WithTimeout(ctx, s.opts.ChargeTimeout)
	defer cancel()

	started := time.Now()
	reference, err := adapter.Charge(chargeCtx, provider.ChargeRequest{
		PaymentID:   p.ID,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Phone:       p.Phone,
		Purpose:     p.Purpose,
		CallbackURL: s.opts.CallbackURL,
	})
	if err != nil {
		metrics.ObserveCharge(prov.Name, "error", time.Since(started))
		log.Error("provider charge failed, payment left pending", "error", err)
		return nil, internal.ErrUpstreamProvider.WithCause(err)
	}
	metrics.ObserveCharge(prov.Name, "ok", time.Since(started))

	stored, err := s.repo.SetReference(ctx, p.ID, reference)
	if err != nil {
		return nil, err
	}
	if !stored {
		// a callback that raced the charge response already linked the payment
		return s.repo.GetByID(ctx, p.ID)
	}
	p.ProviderReference = &reference
	log.Info("provider charge started", "provider_reference", reference)
	return p, nil
}

func validateInitiate(req InitiateRequest) *internal.AppError {
	v := validation.NewValidator()
	v.Field("purpose", req.Purpose).Required().OneOf(internal.ErrCodeInvalidPurpose,
		paymentDatamodel.PurposeSubscription,
		paymentDatamodel.PurposeVoucherPurchase,
		paymentDatamodel.PurposeWalletTopup,
		paymentDatamodel.PurposeSMSTopup)
	v.Field("payer_kind", req.PayerKind).OneOf(internal.ErrCodeValidationFailed,
		paymentDatamodel.PayerVendor,
		paymentDatamodel.PayerClient)
	v.Field("phone", req.Phone).Required().Phone()
	v.Field("amount", req.Amount).MaxScale(2)

	switch req.Purpose {
	case paymentDatamodel.PurposeVoucherPurchase:
		v.Field("package_id", req.PackageID).Required()
	case paymentDatamodel.PurposeSubscription:
		v.Field("location_id", req.LocationID).Required()
	case paymentDatamodel.PurposeWalletTopup, paymentDatamodel.PurposeSMSTopup:
		v.Field("vendor_id", req.VendorID).Required()
		v.Field("amount", req.Amount).Required().Positive(internal.ErrCodeInvalidAmount)
	}
	return v.Validate()
}

// resolve builds the PENDING row, deriving vendor, location and amount from
// the catalog where the purpose defines them.
func (s *Service) resolve(ctx context.Context, req InitiateRequest) (*paymentDatamodel.Payment, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, internal.NewInternalError("failed to generate payment id", err)
	}
	p := &paymentDatamodel.Payment{
		ID:        id.String(),
		Status:    paymentDatamodel.StatusPending,
		Purpose:   req.Purpose,
		PayerKind: req.PayerKind,
		Amount:    req.Amount,
		Currency:  s.opts.Currency,
		VendorID:  req.VendorID,
		Phone:     req.Phone,
	}

	switch req.Purpose {
	case paymentDatamodel.PurposeVoucherPurchase:
		sale, err := s.catalog.Sellable(ctx, req.PackageID, req.LocationID)
		if err != nil {
			return nil, err
		}
		if req.Amount.IsZero() {
			p.Amount = sale.Package.Price
		} else if !req.Amount.Equal(sale.Package.Price) {
			return nil, internal.NewValidationFieldError("amount",
				fmt.Sprintf("amount must equal the package price %s", sale.Package.Price.StringFixed(2)),
				internal.ErrCodeInvalidAmount)
		}
		n, err := s.stock.Available(ctx, sale.Package.ID)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, internal.ErrNoAvailableStock
		}
		p.VendorID = sale.Location.VendorID
		p.LocationID = &sale.Location.ID
		p.PackageID = &sale.Package.ID
		if p.PayerKind == "" {
			p.PayerKind = paymentDatamodel.PayerClient
		}

	case paymentDatamodel.PurposeSubscription:
		view, err := s.catalog.GetLocation(ctx, req.LocationID)
		if err != nil {
			return nil, err
		}
		fee := view.Profile.SubscriptionFee
		if !req.Amount.IsZero() && !req.Amount.Equal(fee) {
			return nil, internal.NewValidationFieldError("amount",
				fmt.Sprintf("amount must equal the subscription fee %s", fee.StringFixed(2)),
				internal.ErrCodeInvalidAmount)
		}
		p.Amount = fee
		p.VendorID = view.Location.VendorID
		p.LocationID = &view.Location.ID
	}

	if p.PayerKind == "" {
		p.PayerKind = paymentDatamodel.PayerVendor
	}
	if !p.Amount.IsPositive() {
		return nil, internal.ErrInvalidAmount
	}
	return p, nil
}

// ApplyCallback is the single entry point for provider webhooks. The status
// read and write happen under the payment row lock; the first terminal
// outcome wins and later deliveries are reported as duplicates.
func (s *Service) ApplyCallback(ctx context.Context, cb Callback) (*CallbackResult, error) {
	if cb.Reference == "" && cb.ExternalReference == "" {
		return nil, internal.ErrMalformedCallback.WithMessage("callback carries no reference")
	}
	if cb.Status == "" {
		return nil, internal.ErrMalformedCallback.WithMessage("callback carries no status")
	}
	outcome := NormalizeOutcome(cb.Status)
	log := logger.FromOr(ctx, s.logger).With("provider_reference", cb.Reference, "callback_status", cb.Status)

	var (
		result  CallbackResult
		settled *paymentDatamodel.Payment
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		p, err := s.lockForCallback(ctx, repo, cb)
		if err != nil {
			return err
		}
		if err := s.verify(ctx, p, cb); err != nil {
			log.Warn("callback signature rejected", "payment_id", p.ID, "error", err)
			return err
		}
		result.PaymentID = p.ID
		result.Status = p.Status

		switch p.Status {
		case paymentDatamodel.StatusSuccess:
			result.Duplicate = true
			return s.recordDuplicate(ctx, repo, p, cb)
		case paymentDatamodel.StatusFailed:
			if outcome == OutcomeSuccess {
				log.Error("success reported for a failed payment, needs manual reconciliation",
					"payment_id", p.ID, "provider_txn_id", cb.TransactionID)
				return internal.ErrInvalidStateTransition
			}
			result.Duplicate = true
			return s.recordDuplicate(ctx, repo, p, cb)
		}

		s.stamp(p, cb)
		if outcome == OutcomeInformational {
			return repo.RecordCallback(ctx, p)
		}

		reason := cb.Message
		if reason == "" {
			reason = cb.Status
		}
		if err := s.settle(ctx, tx, p, outcome, reason); err != nil {
			return err
		}
		result.Status = p.Status
		settled = p
		return nil
	})
	if err != nil {
		metrics.IncCallback("rejected")
		return nil, err
	}

	switch {
	case result.Duplicate:
		metrics.IncCallback("duplicate")
		log.Info("duplicate callback ignored", "payment_id", result.PaymentID, "status", result.Status)
	case settled == nil:
		metrics.IncCallback("informational")
		log.Info("informational callback stored", "payment_id", result.PaymentID)
	default:
		metrics.IncCallback("applied")
		s.afterSettle(ctx, settled)
	}
	return &result, nil
}

func (s *Service) lockForCallback(ctx context.Context, repo RepositoryAPI, cb Callback) (*paymentDatamodel.Payment, error) {
	if cb.Reference != "" {
		p, err := repo.LockByReference(ctx, cb.Reference)
		if err != nil {
			return nil, err
		}
		if p != nil {
			return p, nil
		}
	}

	// The callback can beat the charge response, before the reference is
	// stored; the provider echoes the payment id as external reference.
	if _, err := uuid.Parse(cb.ExternalReference); err != nil {
		return nil, internal.ErrPaymentNotFound
	}
	p, err := repo.LockByID(ctx, cb.ExternalReference)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, internal.ErrPaymentNotFound
	}
	if p.ProviderReference != nil && cb.Reference != "" && *p.ProviderReference != cb.Reference {
		return nil, internal.ErrPaymentNotFound
	}
	return p, nil
}

// verify authenticates the delivery with the adapter of the provider that
// charged the payment.
func (s *Service) verify(ctx context.Context, p *paymentDatamodel.Payment, cb Callback) error {
	if p.ProviderID == nil {
		return internal.ErrInvalidSignature.WithMessage("payment has no charging provider")
	}
	adapter, err := s.selector.AdapterFor(ctx, *p.ProviderID)
	if err != nil {
		return err
	}
	return adapter.VerifyCallback(cb.Header, cb.Body)
}

// recordDuplicate keeps the latest raw payload of a terminal payment; the
// outcome and processor details of the first terminal delivery stay.
func (s *Service) recordDuplicate(ctx context.Context, repo RepositoryAPI, p *paymentDatamodel.Payment, cb Callback) error {
	if len(cb.Raw) == 0 {
		return nil
	}
	p.RawCallback = []byte(cb.Raw)
	return repo.RecordCallback(ctx, p)
}

func (s *Service) stamp(p *paymentDatamodel.Payment, cb Callback) {
	if len(cb.Raw) > 0 {
		p.RawCallback = []byte(cb.Raw)
	}
	if cb.TransactionID != "" {
		p.ProviderTxnID = &cb.TransactionID
	}
	if cb.Message != "" {
		p.ProcessorMessage = &cb.Message
	}
	if p.ProviderReference == nil && cb.Reference != "" {
		p.ProviderReference = &cb.Reference
	}
}

// settle moves a locked PENDING payment to its terminal status. A failed
// payment gives back any voucher reserved for it.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, p *paymentDatamodel.Payment, outcome Outcome, reason string) error {
	now := s.now()
	p.CompletedAt = &now
	if outcome == OutcomeSuccess {
		p.Status = paymentDatamodel.StatusSuccess
	} else {
		p.Status = paymentDatamodel.StatusFailed
		p.FailureReason = &reason
	}

	ok, err := s.repo.WithTx(tx).Transition(ctx, p)
	if err != nil {
		return err
	}
	if !ok {
		return internal.ErrInvalidStateTransition
	}

	if p.Status == paymentDatamodel.StatusFailed {
		if _, err := s.stock.ReleaseForPaymentTx(ctx, tx, p.ID); err != nil {
			return err
		}
	}
	return nil
}

// afterSettle runs once per transition, after its transaction committed.
func (s *Service) afterSettle(ctx context.Context, p *paymentDatamodel.Payment) {
	log := logger.FromOr(ctx, s.logger).With("payment_id", p.ID, "purpose", p.Purpose)
	metrics.IncTransition(p.Purpose, p.Status)
	log.Info("payment settled", "status", p.Status)

	var event events.Event
	if p.Status == paymentDatamodel.StatusSuccess {
		event = events.NewPaymentSucceededEvent(p.ID, p.Reference(), p.Purpose, p.VendorID, p.Amount)
	} else {
		reason := ""
		if p.FailureReason != nil {
			reason = *p.FailureReason
		}
		event = events.NewPaymentFailedEvent(p.ID, p.Reference(), p.Purpose, p.VendorID, reason)
	}
	if s.events != nil {
		if err := s.events.Publish(ctx, event); err != nil {
			log.Error("failed to publish payment event", "error", err)
		}
	}

	if p.Status != paymentDatamodel.StatusSuccess || s.fulfiller == nil {
		return
	}
	// Fulfillment failures are retried by the worker; the payment stays SUCCESS.
	if err := s.fulfiller.Fulfill(ctx, p.ID); err != nil {
		log.Error("fulfillment failed, will be resumed", "error", err)
	}
}

// GetStatus looks a payment up by provider reference, falling back to its id.
func (s *Service) GetStatus(ctx context.Context, reference string) (*StatusView, error) {
	if view, ok := s.cache.Get(ctx, reference); ok {
		return view, nil
	}

	p, err := s.repo.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if p == nil {
		if _, perr := uuid.Parse(reference); perr == nil {
			if p, err = s.repo.GetByID(ctx, reference); err != nil {
				return nil, err
			}
		}
	}
	if p == nil {
		return nil, internal.ErrPaymentNotFound
	}

	view := &StatusView{
		PaymentID:   p.ID,
		Reference:   p.Reference(),
		Status:      p.Status,
		Purpose:     p.Purpose,
		Amount:      p.Amount,
		Currency:    p.Currency,
		CompletedAt: p.CompletedAt,
	}
	if p.Status == paymentDatamodel.StatusSuccess && p.Purpose == paymentDatamodel.PurposeVoucherPurchase {
		code, err := s.stock.IssuedCode(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		view.VoucherCode = code
	}
	if view.final() {
		s.cache.Set(ctx, reference, view)
	}
	return view, nil
}

// StatusPollURL is where a client polls for the outcome of a payment.
func (s *Service) StatusPollURL(p *paymentDatamodel.Payment) string {
	ref := p.Reference()
	if ref == "" {
		ref = p.ID
	}
	return fmt.Sprintf("%s/api/v1/payments/status/%s", s.opts.BaseURL, ref)
}
