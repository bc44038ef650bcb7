package fulfillment_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	ledgerDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/ledger"
	paymentDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/payment"
	voucherDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/voucher"
	"github.com/frahmantamala/spotpay-billing/internal/core/events"
	"github.com/frahmantamala/spotpay-billing/internal/hotspot"
	"github.com/frahmantamala/spotpay-billing/internal/payment"
)

var _ = Describe("Sold out voucher sales", func() {
	var (
		ctx       context.Context
		s         *stack
		packageID string
	)

	initiate := func() *paymentDatamodel.Payment {
		p, err := s.payments.Initiate(ctx, payment.InitiateRequest{
			Purpose:   paymentDatamodel.PurposeVoucherPurchase,
			PackageID: packageID,
			Phone:     "256700000009",
		})
		Expect(err).NotTo(HaveOccurred())
		return p
	}

	marker := func(paymentID string) voucherDatamodel.Fulfillment {
		var m voucherDatamodel.Fulfillment
		Expect(s.db.Where("payment_id = ?", paymentID).Take(&m).Error).To(Succeed())
		return m
	}

	BeforeEach(func() {
		ctx = context.Background()
		s = newStack()

		off := false
		view, err := s.catalog.CreateLocation(ctx, hotspot.CreateLocationRequest{
			VendorID: "vendor-last",
			Name:     "Bus Stage",
			Profile:  &hotspot.ProfileParams{RequireSubscription: &off},
		})
		Expect(err).NotTo(HaveOccurred())
		pkg, err := s.catalog.CreatePackage(ctx, hotspot.CreatePackageRequest{
			LocationID: view.Location.ID, Name: "Hourly", Price: decimal.NewFromInt(1000), DurationHours: 1,
		})
		Expect(err).NotTo(HaveOccurred())
		packageID = pkg.ID

		_, err = s.stock.Load(ctx, packageID, []string{"LAST-1"})
		Expect(err).NotTo(HaveOccurred())
	})

	It("closes the payer who lost the last voucher as unfulfillable", func() {
		first := initiate()
		second := initiate()

		_, err := s.payments.ApplyCallback(ctx, signedCallback(first.Reference(), "SUCCESSFUL"))
		Expect(err).NotTo(HaveOccurred())
		result, err := s.payments.ApplyCallback(ctx, signedCallback(second.Reference(), "SUCCESSFUL"))
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Status).To(Equal(paymentDatamodel.StatusSuccess))

		Expect(marker(first.ID).Status).To(Equal(voucherDatamodel.FulfillmentDone))
		lost := marker(second.ID)
		Expect(lost.Status).To(Equal(voucherDatamodel.FulfillmentUnfulfillable))
		Expect(lost.VoucherID).To(BeNil())
		Expect(*lost.Reason).To(ContainSubstring("out of stock"))

		var credits int64
		Expect(s.db.Model(&ledgerDatamodel.Entry{}).Where("vendor_id = ?", "vendor-last").Count(&credits).Error).To(Succeed())
		Expect(credits).To(Equal(int64(1)))
		Expect(s.sender.calls()).To(Equal(1))

		failed := s.publisher.ofType(events.EventTypeFulfillmentFailed)
		Expect(failed).To(HaveLen(1))
		Expect(failed[0].Payload()).To(HaveKeyWithValue("payment_id", second.ID))

		out, err := s.fulfillment.Run(ctx, second.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.AlreadyFulfilled).To(BeTrue())
		Expect(out.Unfulfillable).To(BeTrue())
		Expect(s.publisher.ofType(events.EventTypeFulfillmentFailed)).To(HaveLen(1))
	})

	It("does not let unfulfillable payments starve newer orphans", func() {
		first := initiate()
		second := initiate()
		for _, p := range []*paymentDatamodel.Payment{first, second} {
			_, err := s.payments.ApplyCallback(ctx, signedCallback(p.Reference(), "SUCCESSFUL"))
			Expect(err).NotTo(HaveOccurred())
		}
		older := time.Now().UTC().Add(-2 * time.Hour)
		Expect(s.db.Model(&paymentDatamodel.Payment{}).Where("id = ?", second.ID).
			Update("completed_at", older).Error).To(Succeed())

		completed := time.Now().UTC().Add(-time.Hour)
		orphan := &paymentDatamodel.Payment{
			ID:          "0191d2a4-0000-7000-8000-0000000000bb",
			Status:      paymentDatamodel.StatusSuccess,
			Purpose:     paymentDatamodel.PurposeWalletTopup,
			PayerKind:   paymentDatamodel.PayerVendor,
			Amount:      decimal.NewFromInt(300),
			Currency:    "UGX",
			VendorID:    "vendor-orphan",
			Phone:       "256700000001",
			CompletedAt: &completed,
		}
		Expect(s.db.Create(orphan).Error).To(Succeed())

		n, err := s.fulfillment.ResumePending(ctx, time.Minute, 1)

		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))
		balance, err := s.wallets.Balance(ctx, "vendor-orphan")
		Expect(err).NotTo(HaveOccurred())
		Expect(balance.Equal(decimal.NewFromInt(300))).To(BeTrue())
	})
})
