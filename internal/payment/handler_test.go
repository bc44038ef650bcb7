package payment_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"

	"github.com/go-chi/chi"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/spotpay-billing/internal"
	paymentDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/payment"
	"github.com/frahmantamala/spotpay-billing/internal/payment"
	"github.com/frahmantamala/spotpay-billing/internal/transport"
)

type mockPaymentService struct {
	initiateFunc func(ctx context.Context, req payment.InitiateRequest) (*paymentDatamodel.Payment, error)
	callbackFunc func(ctx context.Context, cb payment.Callback) (*payment.CallbackResult, error)
	statusFunc   func(ctx context.Context, reference string) (*payment.StatusView, error)
}

func (m *mockPaymentService) Initiate(ctx context.Context, req payment.InitiateRequest) (*paymentDatamodel.Payment, error) {
	return m.initiateFunc(ctx, req)
}

func (m *mockPaymentService) ApplyCallback(ctx context.Context, cb payment.Callback) (*payment.CallbackResult, error) {
	return m.callbackFunc(ctx, cb)
}

func (m *mockPaymentService) GetStatus(ctx context.Context, reference string) (*payment.StatusView, error) {
	return m.statusFunc(ctx, reference)
}

func (m *mockPaymentService) StatusPollURL(p *paymentDatamodel.Payment) string {
	return "http://billing.local/api/v1/payments/status/" + p.Reference()
}

var _ = ginkgo.Describe("Payment Handlers", func() {
	var (
		mockService    *mockPaymentService
		handler        *payment.Handler
		webhookHandler *payment.WebhookHandler
		logger         *slog.Logger
	)

	ginkgo.BeforeEach(func() {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		mockService = &mockPaymentService{}
		handler = payment.NewHandler(mockService, logger)
		webhookHandler = payment.NewWebhookHandler(transport.NewBaseHandler(logger), mockService, logger)
	})

	errorCode := func(rec *httptest.ResponseRecorder) string {
		var body struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		gomega.Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(gomega.Succeed())
		return body.Error.Code
	}

	ginkgo.Describe("Initiate", func() {
		ginkgo.It("should return 201 with the poll url", func() {
			var received payment.InitiateRequest
			mockService.initiateFunc = func(ctx context.Context, req payment.InitiateRequest) (*paymentDatamodel.Payment, error) {
				received = req
				ref := "REF-1"
				return &paymentDatamodel.Payment{ID: "pay-1", ProviderReference: &ref, Status: paymentDatamodel.StatusPending}, nil
			}

			body := `{"purpose":" wallet_topup ","amount":"1500.00","vendor_id":"vendor-1","phone":"256700000001"}`
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/initiate", bytes.NewBufferString(body))
			rec := httptest.NewRecorder()

			handler.Initiate(rec, req)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusCreated))
			gomega.Expect(received.Purpose).To(gomega.Equal(paymentDatamodel.PurposeWalletTopup))
			gomega.Expect(received.Amount.Equal(decimal.RequireFromString("1500"))).To(gomega.BeTrue())

			var resp payment.InitiatePaymentResponse
			gomega.Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(gomega.Succeed())
			gomega.Expect(resp.PaymentID).To(gomega.Equal("pay-1"))
			gomega.Expect(resp.ProviderReference).To(gomega.Equal("REF-1"))
			gomega.Expect(resp.StatusPollURL).To(gomega.HaveSuffix("/status/REF-1"))
		})

		ginkgo.It("should return 400 for a malformed body", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/initiate", bytes.NewBufferString("{"))
			rec := httptest.NewRecorder()

			handler.Initiate(rec, req)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
		})

		ginkgo.It("should return 503 with Retry-After when no provider is active", func() {
			mockService.initiateFunc = func(ctx context.Context, req payment.InitiateRequest) (*paymentDatamodel.Payment, error) {
				return nil, errors.ErrNoProviderConfigured
			}

			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/initiate", bytes.NewBufferString(`{"purpose":"SMS_TOPUP"}`))
			rec := httptest.NewRecorder()

			handler.Initiate(rec, req)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusServiceUnavailable))
			gomega.Expect(rec.Header().Get("Retry-After")).To(gomega.Equal("1"))
			gomega.Expect(errorCode(rec)).To(gomega.Equal(string(errors.ErrCodeNoProviderConfigured)))
		})
	})

	ginkgo.Describe("Status", func() {
		route := func() http.Handler {
			r := chi.NewRouter()
			r.Get("/api/v1/payments/status/{reference}", handler.Status)
			return r
		}

		ginkgo.It("should return the payment view", func() {
			mockService.statusFunc = func(ctx context.Context, reference string) (*payment.StatusView, error) {
				gomega.Expect(reference).To(gomega.Equal("REF-9"))
				return &payment.StatusView{PaymentID: "pay-9", Reference: reference, Status: paymentDatamodel.StatusSuccess, VoucherCode: "WIFI-1"}, nil
			}

			rec := httptest.NewRecorder()
			route().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/payments/status/REF-9", nil))

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(rec.Body.String()).To(gomega.ContainSubstring(`"WIFI-1"`))
		})

		ginkgo.It("should return 404 for unknown references", func() {
			mockService.statusFunc = func(ctx context.Context, reference string) (*payment.StatusView, error) {
				return nil, errors.ErrPaymentNotFound
			}

			rec := httptest.NewRecorder()
			route().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/payments/status/nope", nil))

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusNotFound))
		})
	})

	ginkgo.Describe("HandlePaymentCallback", func() {
		ginkgo.It("should apply the callback and keep the raw payload", func() {
			var received payment.Callback
			mockService.callbackFunc = func(ctx context.Context, cb payment.Callback) (*payment.CallbackResult, error) {
				received = cb
				return &payment.CallbackResult{PaymentID: "pay-1", Status: paymentDatamodel.StatusSuccess}, nil
			}

			body := `{"reference":"REF-1","status":"SUCCESSFUL","externalReference":"pay-1","transaction_id":"tx-1","extra":true}`
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", bytes.NewBufferString(body))
			req.Header.Set("X-Signature", "abc123")
			rec := httptest.NewRecorder()

			webhookHandler.HandlePaymentCallback(rec, req)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(received.Reference).To(gomega.Equal("REF-1"))
			gomega.Expect(received.ExternalReference).To(gomega.Equal("pay-1"))
			gomega.Expect(string(received.Raw)).To(gomega.ContainSubstring(`"extra":true`))
			gomega.Expect(string(received.Body)).To(gomega.Equal(body))
			gomega.Expect(received.Header.Get("X-Signature")).To(gomega.Equal("abc123"))

			var resp payment.CallbackResponse
			gomega.Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(gomega.Succeed())
			gomega.Expect(resp.PaymentStatus).To(gomega.Equal(paymentDatamodel.StatusSuccess))
			gomega.Expect(resp.Duplicate).To(gomega.BeFalse())
		})

		ginkgo.It("should answer 200 for duplicates", func() {
			mockService.callbackFunc = func(ctx context.Context, cb payment.Callback) (*payment.CallbackResult, error) {
				return &payment.CallbackResult{PaymentID: "pay-1", Status: paymentDatamodel.StatusSuccess, Duplicate: true}, nil
			}

			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", bytes.NewBufferString(`{"reference":"REF-1","status":"SUCCESSFUL"}`))
			rec := httptest.NewRecorder()

			webhookHandler.HandlePaymentCallback(rec, req)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(rec.Body.String()).To(gomega.ContainSubstring(`"duplicate":true`))
		})

		ginkgo.It("should return 400 for invalid JSON", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", bytes.NewBufferString("not json"))
			rec := httptest.NewRecorder()

			webhookHandler.HandlePaymentCallback(rec, req)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
			gomega.Expect(errorCode(rec)).To(gomega.Equal(string(errors.ErrCodeMalformedCallback)))
		})

		ginkgo.It("should return 401 when the signature does not verify", func() {
			mockService.callbackFunc = func(ctx context.Context, cb payment.Callback) (*payment.CallbackResult, error) {
				return nil, errors.ErrInvalidSignature
			}

			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", bytes.NewBufferString(`{"reference":"X","status":"paid"}`))
			rec := httptest.NewRecorder()

			webhookHandler.HandlePaymentCallback(rec, req)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusUnauthorized))
			gomega.Expect(errorCode(rec)).To(gomega.Equal(string(errors.ErrCodeInvalidSignature)))
		})

		ginkgo.It("should return 404 for unknown references", func() {
			mockService.callbackFunc = func(ctx context.Context, cb payment.Callback) (*payment.CallbackResult, error) {
				return nil, errors.ErrPaymentNotFound
			}

			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", bytes.NewBufferString(`{"reference":"X","status":"paid"}`))
			rec := httptest.NewRecorder()

			webhookHandler.HandlePaymentCallback(rec, req)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusNotFound))
		})

		ginkgo.It("should return 409 for success after failure", func() {
			mockService.callbackFunc = func(ctx context.Context, cb payment.Callback) (*payment.CallbackResult, error) {
				return nil, errors.ErrInvalidStateTransition
			}

			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", bytes.NewBufferString(`{"reference":"X","status":"paid"}`))
			rec := httptest.NewRecorder()

			webhookHandler.HandlePaymentCallback(rec, req)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusConflict))
		})

		ginkgo.It("should return 500 for unexpected errors", func() {
			mockService.callbackFunc = func(ctx context.Context, cb payment.Callback) (*payment.CallbackResult, error) {
				return nil, context.DeadlineExceeded
			}

			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", bytes.NewBufferString(`{"reference":"X","status":"paid"}`))
			rec := httptest.NewRecorder()

			webhookHandler.HandlePaymentCallback(rec, req)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusInternalServerError))
		})
	})
})
