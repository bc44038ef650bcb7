package fulfillment_test

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	ledgerDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/ledger"
	paymentDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/payment"
	voucherDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/voucher"
	"github.com/frahmantamala/spotpay-billing/internal/hotspot"
	"github.com/frahmantamala/spotpay-billing/internal/payment"
	"github.com/frahmantamala/spotpay-billing/internal/provider"
	"github.com/frahmantamala/spotpay-billing/internal/transport"
	"github.com/frahmantamala/spotpay-billing/pkg/logger"
)

var _ = Describe("Callback endpoint", func() {
	var (
		ctx     context.Context
		s       *stack
		webhook *payment.WebhookHandler
		p       *paymentDatamodel.Payment
	)

	post := func(body []byte, signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if signature != "" {
			req.Header.Set(provider.SignatureHeader, signature)
		}
		rec := httptest.NewRecorder()
		webhook.HandlePaymentCallback(rec, req)
		return rec
	}

	voucherStatus := func() string {
		var v voucherDatamodel.Voucher
		Expect(s.db.Where("code = ?", "PORTAL-1").Take(&v).Error).To(Succeed())
		return v.Status
	}

	BeforeEach(func() {
		ctx = context.Background()
		s = newStack()
		webhook = payment.NewWebhookHandler(transport.NewBaseHandler(logger.Discard()), s.payments, logger.Discard())

		off := false
		view, err := s.catalog.CreateLocation(ctx, hotspot.CreateLocationRequest{
			VendorID: "vendor-portal",
			Name:     "Captive Portal",
			Profile:  &hotspot.ProfileParams{RequireSubscription: &off},
		})
		Expect(err).NotTo(HaveOccurred())
		pkg, err := s.catalog.CreatePackage(ctx, hotspot.CreatePackageRequest{
			LocationID: view.Location.ID, Name: "Daily", Price: decimal.NewFromInt(5000), DurationHours: 24,
		})
		Expect(err).NotTo(HaveOccurred())
		_, err = s.stock.Load(ctx, pkg.ID, []string{"PORTAL-1"})
		Expect(err).NotTo(HaveOccurred())

		p, err = s.payments.Initiate(ctx, payment.InitiateRequest{
			Purpose:   paymentDatamodel.PurposeVoucherPurchase,
			PackageID: pkg.ID,
			Phone:     "256700000001",
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("refuses a confirmation posted by the buyer without a signature", func() {
		body := []byte(fmt.Sprintf(`{"reference":%q,"status":"success"}`, p.Reference()))

		for _, signature := range []string{"", provider.Sign("guessed", body)} {
			rec := post(body, signature)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		}

		var stored paymentDatamodel.Payment
		Expect(s.db.Where("id = ?", p.ID).Take(&stored).Error).To(Succeed())
		Expect(stored.Status).To(Equal(paymentDatamodel.StatusPending))
		Expect(voucherStatus()).To(Equal(voucherDatamodel.StatusUnused))
		var credits int64
		Expect(s.db.Model(&ledgerDatamodel.Entry{}).Where("vendor_id = ?", "vendor-portal").Count(&credits).Error).To(Succeed())
		Expect(credits).To(BeZero())
		Expect(s.sender.calls()).To(BeZero())
	})

	It("issues the voucher for a confirmation signed by the provider", func() {
		body := []byte(fmt.Sprintf(`{"reference":%q,"status":"success"}`, p.Reference()))

		rec := post(body, provider.Sign(callbackSecret, body))

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(paymentDatamodel.StatusSuccess))
		Expect(voucherStatus()).To(Equal(voucherDatamodel.StatusUsed))
		Expect(s.sender.calls()).To(Equal(1))
	})
})
