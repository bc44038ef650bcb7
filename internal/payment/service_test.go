package payment_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/frahmantamala/spotpay-billing/internal"
	paymentDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/payment"
	providerDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/provider"
	voucherDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/voucher"
	"github.com/frahmantamala/spotpay-billing/internal/core/datastore"
	"github.com/frahmantamala/spotpay-billing/internal/core/events"
	"github.com/frahmantamala/spotpay-billing/internal/hotspot"
	hotspotPostgres "github.com/frahmantamala/spotpay-billing/internal/hotspot/postgres"
	"github.com/frahmantamala/spotpay-billing/internal/inventory"
	inventoryPostgres "github.com/frahmantamala/spotpay-billing/internal/inventory/postgres"
	"github.com/frahmantamala/spotpay-billing/internal/payment"
	"github.com/frahmantamala/spotpay-billing/internal/payment/postgres"
	"github.com/frahmantamala/spotpay-billing/internal/provider"
	"github.com/frahmantamala/spotpay-billing/pkg/logger"
)

type stubAdapter struct {
	mu       sync.Mutex
	calls    []provider.ChargeRequest
	err      error
	onCharge func(req provider.ChargeRequest)
	// secret, when set, makes callbacks require a valid signature
	secret string
}

func (a *stubAdapter) Type() string { return providerDatamodel.TypeSandbox }

func (a *stubAdapter) Charge(_ context.Context, req provider.ChargeRequest) (string, error) {
	a.mu.Lock()
	a.calls = append(a.calls, req)
	a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	if a.onCharge != nil {
		a.onCharge(req)
	}
	return "REF-" + req.PaymentID, nil
}

func (a *stubAdapter) VerifyCallback(header http.Header, body []byte) error {
	if a.secret == "" {
		return nil
	}
	return provider.VerifySignature(a.secret, header, provider.SignatureHeader, body)
}

type stubSelector struct {
	adapter provider.Adapter
}

func (s *stubSelector) AdapterFor(_ context.Context, providerID int64) (provider.Adapter, error) {
	if s.adapter == nil || providerID != 1 {
		return nil, internal.ErrProviderNotFound
	}
	return s.adapter, nil
}

func (s *stubSelector) Active() (provider.Adapter, *providerDatamodel.Provider, error) {
	if s.adapter == nil {
		return nil, nil, internal.ErrNoProviderConfigured
	}
	return s.adapter, &providerDatamodel.Provider{ID: 1, Name: "stub", ProviderType: providerDatamodel.TypeSandbox}, nil
}

type countingFulfiller struct {
	mu    sync.Mutex
	calls map[string]int
}

func (f *countingFulfiller) Fulfill(_ context.Context, paymentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[paymentID]++
	return nil
}

func (f *countingFulfiller) count(paymentID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[paymentID]
}

type recordingPublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, e.EventType())
	return nil
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.types...)
}

type memoryCache struct {
	mu    sync.Mutex
	items map[string]*payment.StatusView
	hits  int
}

func (c *memoryCache) Get(_ context.Context, key string) (*payment.StatusView, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	if ok {
		c.hits++
	}
	return v, ok
}

func (c *memoryCache) Set(_ context.Context, key string, view *payment.StatusView) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = view
}

var _ = Describe("Payment Service", func() {
	var (
		ctx       context.Context
		db        *gorm.DB
		adapter   *stubAdapter
		selector  *stubSelector
		fulfiller *countingFulfiller
		publisher *recordingPublisher
		cache     *memoryCache
		stock     *inventory.Service
		catalog   *hotspot.Service
		service   *payment.Service
	)

	topup := func() *paymentDatamodel.Payment {
		p, err := service.Initiate(ctx, payment.InitiateRequest{
			Purpose:  paymentDatamodel.PurposeWalletTopup,
			Amount:   decimal.NewFromInt(1000),
			VendorID: "vendor-1",
			Phone:    "256700000001",
		})
		Expect(err).NotTo(HaveOccurred())
		return p
	}

	callback := func(p *paymentDatamodel.Payment, status string) (*payment.CallbackResult, error) {
		return service.ApplyCallback(ctx, payment.Callback{
			Reference: p.Reference(),
			Status:    status,
			Raw:       []byte(fmt.Sprintf(`{"status":%q}`, status)),
		})
	}

	reload := func(id string) *paymentDatamodel.Payment {
		var p paymentDatamodel.Payment
		Expect(db.Where("id = ?", id).Take(&p).Error).To(Succeed())
		return &p
	}

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		db, err = datastore.OpenSQLite(":memory:")
		Expect(err).NotTo(HaveOccurred())
		runner := datastore.NewRunner(db, 0, 0)

		adapter = &stubAdapter{}
		selector = &stubSelector{adapter: adapter}
		fulfiller = &countingFulfiller{calls: map[string]int{}}
		publisher = &recordingPublisher{}
		cache = &memoryCache{items: map[string]*payment.StatusView{}}
		stock = inventory.NewService(inventoryPostgres.NewVoucherRepository(db), runner, logger.Discard())
		catalog = hotspot.NewService(hotspotPostgres.NewHotspotRepository(db), runner, logger.Discard())

		service = payment.NewService(payment.Dependencies{
			Repo:      postgres.NewPaymentRepository(db),
			Tx:        runner,
			Catalog:   catalog,
			Stock:     stock,
			Selector:  selector,
			Fulfiller: fulfiller,
			Events:    publisher,
			Cache:     cache,
			Logger:    logger.Discard(),
		}, payment.Options{
			Currency:            "UGX",
			CallbackURL:         "http://billing.local/api/v1/payments/callback",
			BaseURL:             "http://billing.local",
			UnreferencedTimeout: 10 * time.Minute,
			PendingTimeout:      24 * time.Hour,
		})
	})

	Describe("Initiate", func() {
		It("creates a pending payment carrying the provider reference", func() {
			p := topup()

			Expect(p.Status).To(Equal(paymentDatamodel.StatusPending))
			Expect(p.Reference()).To(Equal("REF-" + p.ID))
			Expect(p.PayerKind).To(Equal(paymentDatamodel.PayerVendor))
			Expect(reload(p.ID).Reference()).To(Equal(p.Reference()))
			Expect(adapter.calls).To(HaveLen(1))
			Expect(adapter.calls[0].Currency).To(Equal("UGX"))
			Expect(service.StatusPollURL(p)).To(Equal("http://billing.local/api/v1/payments/status/" + p.Reference()))
		})

		It("fails before creating anything when no provider is active", func() {
			selector.adapter = nil

			_, err := service.Initiate(ctx, payment.InitiateRequest{
				Purpose: paymentDatamodel.PurposeWalletTopup, Amount: decimal.NewFromInt(10), VendorID: "vendor-1", Phone: "256700000001",
			})

			Expect(errors.Is(err, internal.ErrNoProviderConfigured)).To(BeTrue())
			var n int64
			Expect(db.Model(&paymentDatamodel.Payment{}).Count(&n).Error).To(Succeed())
			Expect(n).To(BeZero())
		})

		It("leaves the payment pending without a reference when the charge fails", func() {
			adapter.err = errors.New("connection reset")

			_, err := service.Initiate(ctx, payment.InitiateRequest{
				Purpose: paymentDatamodel.PurposeWalletTopup, Amount: decimal.NewFromInt(10), VendorID: "vendor-1", Phone: "256700000001",
			})

			Expect(errors.Is(err, internal.ErrUpstreamProvider)).To(BeTrue())
			var rows []paymentDatamodel.Payment
			Expect(db.Find(&rows).Error).To(Succeed())
			Expect(rows).To(HaveLen(1))
			Expect(rows[0].Status).To(Equal(paymentDatamodel.StatusPending))
			Expect(rows[0].ProviderReference).To(BeNil())
		})

		DescribeTable("rejects requests missing what the purpose needs",
			func(req payment.InitiateRequest) {
				_, err := service.Initiate(ctx, req)

				appErr, ok := internal.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.Type).To(Equal(internal.ErrorTypeValidation))
				Expect(adapter.calls).To(BeEmpty())
			},
			Entry("no phone", payment.InitiateRequest{Purpose: paymentDatamodel.PurposeWalletTopup, Amount: decimal.NewFromInt(10), VendorID: "v"}),
			Entry("bad phone", payment.InitiateRequest{Purpose: paymentDatamodel.PurposeWalletTopup, Amount: decimal.NewFromInt(10), VendorID: "v", Phone: "12ab"}),
			Entry("voucher without package", payment.InitiateRequest{Purpose: paymentDatamodel.PurposeVoucherPurchase, Phone: "256700000001"}),
			Entry("subscription without location", payment.InitiateRequest{Purpose: paymentDatamodel.PurposeSubscription, Phone: "256700000001"}),
			Entry("unknown purpose", payment.InitiateRequest{Purpose: "DONATION", Phone: "256700000001"}),
			Entry("topup without amount", payment.InitiateRequest{Purpose: paymentDatamodel.PurposeSMSTopup, VendorID: "v", Phone: "256700000001"}),
			Entry("amount with three decimals", payment.InitiateRequest{Purpose: paymentDatamodel.PurposeWalletTopup, Amount: decimal.RequireFromString("1.005"), VendorID: "v", Phone: "256700000001"}),
		)

		Context("for a voucher purchase", func() {
			var (
				locationID string
				packageID  string
			)

			BeforeEach(func() {
				off := false
				view, err := catalog.CreateLocation(ctx, hotspot.CreateLocationRequest{
					VendorID: "vendor-7",
					Name:     "Bus Park",
					Profile:  &hotspot.ProfileParams{RequireSubscription: &off},
				})
				Expect(err).NotTo(HaveOccurred())
				locationID = view.Location.ID
				pkg, err := catalog.CreatePackage(ctx, hotspot.CreatePackageRequest{
					LocationID: locationID, Name: "1 Day", Price: decimal.NewFromInt(5000), DurationHours: 24,
				})
				Expect(err).NotTo(HaveOccurred())
				packageID = pkg.ID
			})

			It("takes vendor, location and price from the catalog", func() {
				_, err := stock.Load(ctx, packageID, []string{"CODE-1"})
				Expect(err).NotTo(HaveOccurred())

				p, err := service.Initiate(ctx, payment.InitiateRequest{
					Purpose: paymentDatamodel.PurposeVoucherPurchase, PackageID: packageID, Phone: "256700000001",
				})

				Expect(err).NotTo(HaveOccurred())
				Expect(p.VendorID).To(Equal("vendor-7"))
				Expect(*p.LocationID).To(Equal(locationID))
				Expect(p.Amount.Equal(decimal.NewFromInt(5000))).To(BeTrue())
				Expect(p.PayerKind).To(Equal(paymentDatamodel.PayerClient))
			})

			It("rejects an amount that differs from the package price", func() {
				_, err := stock.Load(ctx, packageID, []string{"CODE-1"})
				Expect(err).NotTo(HaveOccurred())

				_, err = service.Initiate(ctx, payment.InitiateRequest{
					Purpose: paymentDatamodel.PurposeVoucherPurchase, PackageID: packageID, Amount: decimal.NewFromInt(4000), Phone: "256700000001",
				})

				Expect(errors.Is(err, internal.NewValidationError("", internal.ErrCodeValidationFailed))).To(BeTrue())
			})

			It("reports out of stock before charging", func() {
				_, err := service.Initiate(ctx, payment.InitiateRequest{
					Purpose: paymentDatamodel.PurposeVoucherPurchase, PackageID: packageID, Phone: "256700000001",
				})

				Expect(errors.Is(err, internal.ErrNoAvailableStock)).To(BeTrue())
				Expect(adapter.calls).To(BeEmpty())
			})

			It("rejects a package sold at another location", func() {
				_, err := stock.Load(ctx, packageID, []string{"CODE-1"})
				Expect(err).NotTo(HaveOccurred())

				_, err = service.Initiate(ctx, payment.InitiateRequest{
					Purpose: paymentDatamodel.PurposeVoucherPurchase, PackageID: packageID, LocationID: "0191d2a4-0000-7000-8000-00000000dead", Phone: "256700000001",
				})

				Expect(errors.Is(err, internal.ErrPackageUnavailable)).To(BeTrue())
			})
		})

		It("charges the location's subscription fee", func() {
			view, err := catalog.CreateLocation(ctx, hotspot.CreateLocationRequest{VendorID: "vendor-3", Name: "Market"})
			Expect(err).NotTo(HaveOccurred())

			p, err := service.Initiate(ctx, payment.InitiateRequest{
				Purpose: paymentDatamodel.PurposeSubscription, LocationID: view.Location.ID, Phone: "256700000001",
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(p.Amount.Equal(hotspot.DefaultSubscriptionFee)).To(BeTrue())
			Expect(p.VendorID).To(Equal("vendor-3"))
		})
	})

	Describe("ApplyCallback", func() {
		It("moves a payment to SUCCESS and fulfills it once", func() {
			p := topup()

			result, err := callback(p, " Successful ")

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Duplicate).To(BeFalse())
			Expect(result.Status).To(Equal(paymentDatamodel.StatusSuccess))
			stored := reload(p.ID)
			Expect(stored.Status).To(Equal(paymentDatamodel.StatusSuccess))
			Expect(stored.CompletedAt).NotTo(BeNil())
			Expect(string(stored.RawCallback)).To(ContainSubstring("Successful"))
			Expect(fulfiller.count(p.ID)).To(Equal(1))
			Expect(publisher.published()).To(Equal([]string{events.EventTypePaymentSucceeded}))
		})

		It("treats any later delivery on a successful payment as a duplicate", func() {
			p := topup()
			_, err := callback(p, "paid")
			Expect(err).NotTo(HaveOccurred())

			for _, status := range []string{"paid", "failed", "processing"} {
				result, err := callback(p, status)
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Duplicate).To(BeTrue())
			}

			Expect(reload(p.ID).Status).To(Equal(paymentDatamodel.StatusSuccess))
			Expect(fulfiller.count(p.ID)).To(Equal(1))
		})

		It("rejects success for a failed payment", func() {
			p := topup()
			_, err := callback(p, "rejected")
			Expect(err).NotTo(HaveOccurred())

			_, err = callback(p, "completed")

			Expect(errors.Is(err, internal.ErrInvalidStateTransition)).To(BeTrue())
			Expect(reload(p.ID).Status).To(Equal(paymentDatamodel.StatusFailed))
			Expect(fulfiller.count(p.ID)).To(BeZero())
		})

		It("accepts a repeated failure as a no-op", func() {
			p := topup()
			_, err := callback(p, "expired")
			Expect(err).NotTo(HaveOccurred())

			result, err := callback(p, "cancelled")

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Duplicate).To(BeTrue())
			Expect(*reload(p.ID).FailureReason).To(Equal("expired"))
		})

		It("stores informational updates without changing status", func() {
			p := topup()

			result, err := service.ApplyCallback(ctx, payment.Callback{
				Reference: p.Reference(), Status: "PROCESSING", TransactionID: "txn-1", Raw: []byte(`{"status":"PROCESSING"}`),
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Duplicate).To(BeFalse())
			stored := reload(p.ID)
			Expect(stored.Status).To(Equal(paymentDatamodel.StatusPending))
			Expect(*stored.ProviderTxnID).To(Equal("txn-1"))
			Expect(string(stored.RawCallback)).To(ContainSubstring("PROCESSING"))
		})

		It("keeps the latest raw payload of a duplicate delivery", func() {
			p := topup()
			_, err := service.ApplyCallback(ctx, payment.Callback{
				Reference: p.Reference(), Status: "paid", TransactionID: "txn-1", Raw: []byte(`{"attempt":1}`),
			})
			Expect(err).NotTo(HaveOccurred())

			result, err := service.ApplyCallback(ctx, payment.Callback{
				Reference: p.Reference(), Status: "paid", TransactionID: "txn-2", Raw: []byte(`{"attempt":2}`),
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Duplicate).To(BeTrue())
			stored := reload(p.ID)
			Expect(string(stored.RawCallback)).To(ContainSubstring(`"attempt":2`))
			Expect(*stored.ProviderTxnID).To(Equal("txn-1"))
			Expect(fulfiller.count(p.ID)).To(Equal(1))
		})

		Context("when the provider signs its callbacks", func() {
			BeforeEach(func() {
				adapter.secret = "whsec"
			})

			signed := func(p *paymentDatamodel.Payment, secret string) payment.Callback {
				body := []byte(fmt.Sprintf(`{"reference":%q,"status":"successful"}`, p.Reference()))
				header := http.Header{}
				if secret != "" {
					header.Set(provider.SignatureHeader, provider.Sign(secret, body))
				}
				return payment.Callback{Reference: p.Reference(), Status: "successful", Raw: body, Header: header, Body: body}
			}

			It("rejects unsigned and mis-signed deliveries without touching the payment", func() {
				p := topup()

				for _, secret := range []string{"", "guessed"} {
					_, err := service.ApplyCallback(ctx, signed(p, secret))
					Expect(errors.Is(err, internal.ErrInvalidSignature)).To(BeTrue())
				}

				stored := reload(p.ID)
				Expect(stored.Status).To(Equal(paymentDatamodel.StatusPending))
				Expect(stored.RawCallback).To(BeEmpty())
				Expect(fulfiller.count(p.ID)).To(BeZero())
				Expect(publisher.published()).To(BeEmpty())
			})

			It("rejects a signed body that was altered in transit", func() {
				p := topup()
				cb := signed(p, "whsec")
				cb.Body = append([]byte(nil), cb.Body...)
				cb.Body[len(cb.Body)-2] = 'X'

				_, err := service.ApplyCallback(ctx, cb)

				Expect(errors.Is(err, internal.ErrInvalidSignature)).To(BeTrue())
				Expect(reload(p.ID).Status).To(Equal(paymentDatamodel.StatusPending))
			})

			It("applies a delivery signed with the provider secret", func() {
				p := topup()

				result, err := service.ApplyCallback(ctx, signed(p, "whsec"))

				Expect(err).NotTo(HaveOccurred())
				Expect(result.Status).To(Equal(paymentDatamodel.StatusSuccess))
				Expect(fulfiller.count(p.ID)).To(Equal(1))
			})
		})

		It("returns not found for unknown references", func() {
			_, err := service.ApplyCallback(ctx, payment.Callback{Reference: "nope", Status: "paid"})
			Expect(errors.Is(err, internal.ErrPaymentNotFound)).To(BeTrue())
		})

		It("rejects callbacks without reference or status", func() {
			_, err := service.ApplyCallback(ctx, payment.Callback{Status: "paid"})
			Expect(errors.Is(err, internal.ErrMalformedCallback)).To(BeTrue())

			_, err = service.ApplyCallback(ctx, payment.Callback{Reference: "x"})
			Expect(errors.Is(err, internal.ErrMalformedCallback)).To(BeTrue())
		})

		It("resolves a callback that arrives before the charge response", func() {
			adapter.onCharge = func(req provider.ChargeRequest) {
				defer GinkgoRecover()
				_, err := service.ApplyCallback(ctx, payment.Callback{
					Reference:         "REF-" + req.PaymentID,
					ExternalReference: req.PaymentID,
					Status:            "successful",
				})
				Expect(err).NotTo(HaveOccurred())
			}

			p := topup()

			Expect(p.Status).To(Equal(paymentDatamodel.StatusSuccess))
			Expect(p.Reference()).To(Equal("REF-" + p.ID))
			Expect(fulfiller.count(p.ID)).To(Equal(1))
		})

		It("releases a voucher held for a failed payment", func() {
			p := topup()
			_, err := stock.Load(ctx, "pkg-1", []string{"CODE-1"})
			Expect(err).NotTo(HaveOccurred())
			_, err = stock.Reserve(ctx, "pkg-1", p.ID)
			Expect(err).NotTo(HaveOccurred())

			_, err = callback(p, "failed")

			Expect(err).NotTo(HaveOccurred())
			var v voucherDatamodel.Voucher
			Expect(db.Where("code = ?", "CODE-1").Take(&v).Error).To(Succeed())
			Expect(v.Status).To(Equal(voucherDatamodel.StatusUnused))
		})

		It("applies exactly one of many concurrent duplicate deliveries", func() {
			p := topup()
			const deliveries = 8

			var (
				wg      sync.WaitGroup
				applied int32
			)
			for i := 0; i < deliveries; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					result, err := callback(p, "SUCCESS")
					Expect(err).NotTo(HaveOccurred())
					if !result.Duplicate {
						atomic.AddInt32(&applied, 1)
					}
				}()
			}
			wg.Wait()

			Expect(applied).To(Equal(int32(1)))
			Expect(fulfiller.count(p.ID)).To(Equal(1))
		})

		It("settles on the first terminal outcome under random interleavings", func() {
			rng := rand.New(rand.NewSource(GinkgoRandomSeed()))
			vocabulary := []string{"paid", "completed", "failed", "rejected", "pending", "processing"}

			for round := 0; round < 20; round++ {
				p := topup()
				statuses := make([]string, 6)
				for i := range statuses {
					statuses[i] = vocabulary[rng.Intn(len(vocabulary))]
				}

				var (
					wg        sync.WaitGroup
					mu        sync.Mutex
					winners   []string
					conflicts int
				)
				for _, status := range statuses {
					wg.Add(1)
					go func(status string) {
						defer GinkgoRecover()
						defer wg.Done()
						result, err := callback(p, status)
						mu.Lock()
						defer mu.Unlock()
						if err != nil {
							Expect(errors.Is(err, internal.ErrInvalidStateTransition)).To(BeTrue())
							conflicts++
							return
						}
						if !result.Duplicate && result.Status != paymentDatamodel.StatusPending {
							winners = append(winners, result.Status)
						}
					}(status)
				}
				wg.Wait()

				final := reload(p.ID).Status
				if final == paymentDatamodel.StatusPending {
					Expect(winners).To(BeEmpty())
					continue
				}
				Expect(winners).To(Equal([]string{final}))
				if final == paymentDatamodel.StatusSuccess {
					Expect(conflicts).To(BeZero())
					Expect(fulfiller.count(p.ID)).To(Equal(1))
				} else {
					Expect(fulfiller.count(p.ID)).To(BeZero())
				}
			}
		})
	})

	Describe("GetStatus", func() {
		It("finds payments by reference or id", func() {
			p := topup()

			byRef, err := service.GetStatus(ctx, p.Reference())
			Expect(err).NotTo(HaveOccurred())
			byID, err := service.GetStatus(ctx, p.ID)
			Expect(err).NotTo(HaveOccurred())

			Expect(byRef.PaymentID).To(Equal(p.ID))
			Expect(byID.Status).To(Equal(paymentDatamodel.StatusPending))
		})

		It("caches only views that can no longer change", func() {
			p := topup()
			_, err := service.GetStatus(ctx, p.Reference())
			Expect(err).NotTo(HaveOccurred())
			Expect(cache.items).To(BeEmpty())

			_, err = callback(p, "failed")
			Expect(err).NotTo(HaveOccurred())
			_, err = service.GetStatus(ctx, p.Reference())
			Expect(err).NotTo(HaveOccurred())
			view, err := service.GetStatus(ctx, p.Reference())
			Expect(err).NotTo(HaveOccurred())

			Expect(view.Status).To(Equal(paymentDatamodel.StatusFailed))
			Expect(cache.hits).To(Equal(1))
		})

		It("returns not found for unknown references", func() {
			_, err := service.GetStatus(ctx, "missing")
			Expect(errors.Is(err, internal.ErrPaymentNotFound)).To(BeTrue())
		})
	})

	Describe("ExpireStale", func() {
		age := func(id string, by time.Duration) {
			Expect(db.Model(&paymentDatamodel.Payment{}).Where("id = ?", id).
				Update("created_at", time.Now().UTC().Add(-by)).Error).To(Succeed())
		}

		It("fails unreferenced payments after the short timeout only", func() {
			adapter.err = errors.New("timeout")
			_, err := service.Initiate(ctx, payment.InitiateRequest{
				Purpose: paymentDatamodel.PurposeWalletTopup, Amount: decimal.NewFromInt(10), VendorID: "vendor-1", Phone: "256700000001",
			})
			Expect(err).To(HaveOccurred())
			var orphan paymentDatamodel.Payment
			Expect(db.Take(&orphan).Error).To(Succeed())
			adapter.err = nil
			referenced := topup()

			age(orphan.ID, 11*time.Minute)
			age(referenced.ID, 11*time.Minute)

			n, err := service.ExpireStale(ctx, 10)

			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))
			Expect(reload(orphan.ID).Status).To(Equal(paymentDatamodel.StatusFailed))
			Expect(*reload(orphan.ID).FailureReason).To(ContainSubstring("reference"))
			Expect(reload(referenced.ID).Status).To(Equal(paymentDatamodel.StatusPending))
		})

		It("fails referenced payments after the long timeout and rejects a late success", func() {
			p := topup()
			age(p.ID, 25*time.Hour)

			n, err := service.ExpireStale(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			_, err = callback(p, "paid")
			Expect(errors.Is(err, internal.ErrInvalidStateTransition)).To(BeTrue())
			Expect(publisher.published()).To(ContainElement(events.EventTypePaymentFailed))
		})
	})
})
