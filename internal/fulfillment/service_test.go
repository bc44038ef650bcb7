package fulfillment_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/spotpay-billing/internal"
	ledgerDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/ledger"
	notificationDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/notification"
	paymentDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/payment"
	voucherDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/voucher"
	"github.com/frahmantamala/spotpay-billing/internal/core/events"
	"github.com/frahmantamala/spotpay-billing/internal/hotspot"
	"github.com/frahmantamala/spotpay-billing/internal/payment"
)

var _ = Describe("Fulfillment Service", func() {
	var (
		ctx        context.Context
		s          *stack
		locationID string
		packageID  string
	)

	pay := func(req payment.InitiateRequest, status string) *paymentDatamodel.Payment {
		req.Phone = "256700000001"
		p, err := s.payments.Initiate(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		_, err = s.payments.ApplyCallback(ctx, signedCallback(p.Reference(), status))
		Expect(err).NotTo(HaveOccurred())
		return p
	}

	buyVoucher := func() *paymentDatamodel.Payment {
		return pay(payment.InitiateRequest{
			Purpose:   paymentDatamodel.PurposeVoucherPurchase,
			PackageID: packageID,
		}, "SUCCESSFUL")
	}

	entries := func(vendorID string) int64 {
		var n int64
		Expect(s.db.Model(&ledgerDatamodel.Entry{}).Where("vendor_id = ?", vendorID).Count(&n).Error).To(Succeed())
		return n
	}

	BeforeEach(func() {
		ctx = context.Background()
		s = newStack()

		off := false
		view, err := s.catalog.CreateLocation(ctx, hotspot.CreateLocationRequest{
			VendorID: "vendor-1",
			Name:     "Taxi Park",
			Profile:  &hotspot.ProfileParams{RequireSubscription: &off},
		})
		Expect(err).NotTo(HaveOccurred())
		locationID = view.Location.ID

		pkg, err := s.catalog.CreatePackage(ctx, hotspot.CreatePackageRequest{
			LocationID: locationID, Name: "Daily", Price: decimal.NewFromInt(5000), DurationHours: 24,
		})
		Expect(err).NotTo(HaveOccurred())
		packageID = pkg.ID

		_, err = s.stock.Load(ctx, packageID, []string{"WIFI-1", "WIFI-2"})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("voucher purchase", func() {
		It("issues the voucher, splits the fee and credits the vendor", func() {
			p := buyVoucher()

			var v voucherDatamodel.Voucher
			Expect(s.db.Where("code = ?", "WIFI-1").Take(&v).Error).To(Succeed())
			Expect(v.Status).To(Equal(voucherDatamodel.StatusUsed))
			Expect(*v.ReservedForPaymentID).To(Equal(p.ID))

			split, err := s.splits.GetByPaymentID(ctx, p.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(split.PlatformAmount.Equal(decimal.NewFromInt(250))).To(BeTrue())
			Expect(split.VendorAmount.Equal(decimal.NewFromInt(4750))).To(BeTrue())

			balance, err := s.wallets.Balance(ctx, "vendor-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(balance.Equal(decimal.NewFromInt(4750))).To(BeTrue())
			Expect(entries("vendor-1")).To(Equal(int64(1)))

			Expect(s.sender.calls()).To(Equal(1))
			Expect(s.sender.sent[0].VoucherCode).To(Equal("WIFI-1"))
			n, err := s.notifier.Get(ctx, p.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(n.Status).To(Equal(notificationDatamodel.StatusSent))

			view, err := s.payments.GetStatus(ctx, p.Reference())
			Expect(err).NotTo(HaveOccurred())
			Expect(view.VoucherCode).To(Equal("WIFI-1"))

			completed := s.publisher.ofType(events.EventTypeFulfillmentCompleted)
			Expect(completed).To(HaveLen(1))
			Expect(completed[0].Payload()).To(HaveKeyWithValue("vendor_amount", "4750.00"))
		})

		It("does nothing on a second run", func() {
			p := buyVoucher()

			out, err := s.fulfillment.Run(ctx, p.ID)

			Expect(err).NotTo(HaveOccurred())
			Expect(out.AlreadyFulfilled).To(BeTrue())
			Expect(entries("vendor-1")).To(Equal(int64(1)))
			Expect(s.sender.calls()).To(Equal(1))
			n, err := s.stock.Available(ctx, packageID)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))
		})

		It("keeps the sale when the notification cannot be sent", func() {
			s.sender.err = internal.ErrInsufficientUnits

			p := buyVoucher()

			balance, err := s.wallets.Balance(ctx, "vendor-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(balance.Equal(decimal.NewFromInt(4750))).To(BeTrue())
			n, err := s.notifier.Get(ctx, p.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(n.Status).To(Equal(notificationDatamodel.StatusSkipped))
		})

		It("credits once under concurrent success callbacks", func() {
			p, err := s.payments.Initiate(ctx, payment.InitiateRequest{
				Purpose: paymentDatamodel.PurposeVoucherPurchase, PackageID: packageID, Phone: "256700000001",
			})
			Expect(err).NotTo(HaveOccurred())

			var wg sync.WaitGroup
			for i := 0; i < 2; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := s.payments.ApplyCallback(ctx, signedCallback(p.Reference(), "SUCCESSFUL"))
					Expect(err).NotTo(HaveOccurred())
				}()
			}
			wg.Wait()

			Expect(entries("vendor-1")).To(Equal(int64(1)))
			Expect(s.sender.calls()).To(Equal(1))
		})

		It("refuses payments that did not succeed", func() {
			p := pay(payment.InitiateRequest{
				Purpose: paymentDatamodel.PurposeVoucherPurchase, PackageID: packageID,
			}, "FAILED")

			_, err := s.fulfillment.Run(ctx, p.ID)

			Expect(err).To(MatchError(internal.ErrInvalidStateTransition))
			n, err := s.stock.Available(ctx, packageID)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(2)))
		})
	})

	It("extends the location subscription", func() {
		view, err := s.catalog.CreateLocation(ctx, hotspot.CreateLocationRequest{VendorID: "vendor-2", Name: "Market"})
		Expect(err).NotTo(HaveOccurred())
		before := time.Now().UTC()

		pay(payment.InitiateRequest{Purpose: paymentDatamodel.PurposeSubscription, LocationID: view.Location.ID}, "paid")

		after, err := s.catalog.GetLocation(ctx, view.Location.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(after.Profile.SubscriptionExpiresAt).NotTo(BeNil())
		Expect(*after.Profile.SubscriptionExpiresAt).To(BeTemporally("~", before.AddDate(0, 0, hotspot.DefaultSubscriptionPeriod), time.Minute))
		Expect(entries("vendor-2")).To(BeZero())
	})

	It("credits wallet topups in full", func() {
		pay(payment.InitiateRequest{
			Purpose: paymentDatamodel.PurposeWalletTopup, VendorID: "vendor-3", Amount: decimal.NewFromInt(20000),
		}, "completed")

		wallet, err := s.wallets.Statement(ctx, "vendor-3", 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(wallet.Balance.Equal(decimal.NewFromInt(20000))).To(BeTrue())
		Expect(wallet.Entries).To(HaveLen(1))
		Expect(wallet.Entries[0].Reason).To(Equal(ledgerDatamodel.ReasonAdjustment))
	})

	It("announces SMS topups without touching the wallet", func() {
		p := pay(payment.InitiateRequest{
			Purpose: paymentDatamodel.PurposeSMSTopup, VendorID: "vendor-4", Amount: decimal.NewFromInt(3000),
		}, "success")

		Expect(entries("vendor-4")).To(BeZero())
		topups := s.publisher.ofType(events.EventTypeSMSTopupPaid)
		Expect(topups).To(HaveLen(1))
		Expect(topups[0].Payload()).To(HaveKeyWithValue("payment_id", p.ID))
	})

	Describe("ResumePending", func() {
		It("fulfills successful payments that were never fulfilled", func() {
			completed := time.Now().UTC().Add(-time.Hour)
			orphan := &paymentDatamodel.Payment{
				ID:          "0191d2a4-0000-7000-8000-0000000000aa",
				Status:      paymentDatamodel.StatusSuccess,
				Purpose:     paymentDatamodel.PurposeWalletTopup,
				PayerKind:   paymentDatamodel.PayerVendor,
				Amount:      decimal.NewFromInt(700),
				Currency:    "UGX",
				VendorID:    "vendor-5",
				Phone:       "256700000001",
				CompletedAt: &completed,
			}
			Expect(s.db.Create(orphan).Error).To(Succeed())

			n, err := s.fulfillment.ResumePending(ctx, time.Minute, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			balance, err := s.wallets.Balance(ctx, "vendor-5")
			Expect(err).NotTo(HaveOccurred())
			Expect(balance.Equal(decimal.NewFromInt(700))).To(BeTrue())

			n, err = s.fulfillment.ResumePending(ctx, time.Minute, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())
		})
	})
})
