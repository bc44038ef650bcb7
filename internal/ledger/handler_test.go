package ledger_test

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"

	"github.com/go-chi/chi"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/spotpay-billing/internal"
	ledgerDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/ledger"
	"github.com/frahmantamala/spotpay-billing/internal/ledger"
)

type mockLedgerService struct {
	statementFunc func(ctx context.Context, vendorID string, limit int) (*ledger.WalletView, error)
	passwordFunc  func(ctx context.Context, vendorID, password string) error
	withdrawFunc  func(ctx context.Context, vendorID string, amount decimal.Decimal, password, reference string) (*ledgerDatamodel.Wallet, error)
}

func (m *mockLedgerService) Statement(ctx context.Context, vendorID string, limit int) (*ledger.WalletView, error) {
	return m.statementFunc(ctx, vendorID, limit)
}

func (m *mockLedgerService) SetPassword(ctx context.Context, vendorID, password string) error {
	return m.passwordFunc(ctx, vendorID, password)
}

func (m *mockLedgerService) Withdraw(ctx context.Context, vendorID string, amount decimal.Decimal, password, reference string) (*ledgerDatamodel.Wallet, error) {
	return m.withdrawFunc(ctx, vendorID, amount, password, reference)
}

var _ = ginkgo.Describe("Wallet Handler", func() {
	var (
		mockService *mockLedgerService
		router      http.Handler
	)

	ginkgo.BeforeEach(func() {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		mockService = &mockLedgerService{}
		handler := ledger.NewHandler(mockService, logger)

		r := chi.NewRouter()
		r.Get("/wallets/{vendorID}", handler.Statement)
		r.Put("/wallets/{vendorID}/password", handler.SetPassword)
		r.Post("/wallets/{vendorID}/withdrawals", handler.Withdraw)
		router = r
	})

	serve := func(method, path, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(method, path, bytes.NewBufferString(body)))
		return rec
	}

	ginkgo.It("should return the statement with the requested limit", func() {
		mockService.statementFunc = func(ctx context.Context, vendorID string, limit int) (*ledger.WalletView, error) {
			gomega.Expect(vendorID).To(gomega.Equal("vendor-1"))
			gomega.Expect(limit).To(gomega.Equal(5))
			return &ledger.WalletView{VendorID: vendorID, Balance: decimal.NewFromInt(4750)}, nil
		}

		rec := serve(http.MethodGet, "/wallets/vendor-1?limit=5", "")

		gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
		gomega.Expect(rec.Body.String()).To(gomega.ContainSubstring(`"balance":"4750"`))
	})

	ginkgo.It("should return 404 for a vendor without wallet", func() {
		mockService.statementFunc = func(ctx context.Context, vendorID string, limit int) (*ledger.WalletView, error) {
			return nil, errors.ErrWalletNotFound
		}

		gomega.Expect(serve(http.MethodGet, "/wallets/vendor-1", "").Code).To(gomega.Equal(http.StatusNotFound))
	})

	ginkgo.It("should set the wallet password", func() {
		var got string
		mockService.passwordFunc = func(ctx context.Context, vendorID, password string) error {
			got = password
			return nil
		}

		rec := serve(http.MethodPut, "/wallets/vendor-1/password", `{"password":"s3cret!"}`)

		gomega.Expect(rec.Code).To(gomega.Equal(http.StatusNoContent))
		gomega.Expect(got).To(gomega.Equal("s3cret!"))
	})

	ginkgo.It("should withdraw and report the new balance", func() {
		mockService.withdrawFunc = func(ctx context.Context, vendorID string, amount decimal.Decimal, password, reference string) (*ledgerDatamodel.Wallet, error) {
			gomega.Expect(amount.Equal(decimal.NewFromInt(1000))).To(gomega.BeTrue())
			gomega.Expect(reference).To(gomega.Equal("wd-1"))
			return &ledgerDatamodel.Wallet{VendorID: vendorID, Balance: decimal.NewFromInt(3750)}, nil
		}

		rec := serve(http.MethodPost, "/wallets/vendor-1/withdrawals", `{"amount":"1000","password":"s3cret!","reference":"wd-1"}`)

		gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
		gomega.Expect(rec.Body.String()).To(gomega.ContainSubstring(`"balance":"3750"`))
	})

	ginkgo.It("should map a wrong password to 403 and overdraft to 409", func() {
		mockService.withdrawFunc = func(ctx context.Context, vendorID string, amount decimal.Decimal, password, reference string) (*ledgerDatamodel.Wallet, error) {
			if password == "wrong" {
				return nil, errors.ErrInvalidPassword
			}
			return nil, errors.ErrInsufficientFunds
		}

		gomega.Expect(serve(http.MethodPost, "/wallets/vendor-1/withdrawals", `{"amount":"1","password":"wrong","reference":"a"}`).Code).
			To(gomega.Equal(http.StatusForbidden))
		gomega.Expect(serve(http.MethodPost, "/wallets/vendor-1/withdrawals", `{"amount":"9","password":"right","reference":"b"}`).Code).
			To(gomega.Equal(http.StatusConflict))
	})

	ginkgo.It("should return 400 for a malformed body", func() {
		gomega.Expect(serve(http.MethodPost, "/wallets/vendor-1/withdrawals", "{").Code).To(gomega.Equal(http.StatusBadRequest))
	})
})
