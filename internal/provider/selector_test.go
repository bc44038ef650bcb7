package provider_test

import (
	"context"
	"net/http"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/spotpay-billing/internal"
	providerDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/provider"
	"github.com/frahmantamala/spotpay-billing/internal/core/datastore"
	"github.com/frahmantamala/spotpay-billing/internal/provider"
	"github.com/frahmantamala/spotpay-billing/internal/provider/postgres"
	"github.com/frahmantamala/spotpay-billing/pkg/logger"
)

type stubAdapter struct{ kind string }

func (s stubAdapter) Type() string { return s.kind }

func (s stubAdapter) Charge(context.Context, provider.ChargeRequest) (string, error) {
	return "REF", nil
}

func (s stubAdapter) VerifyCallback(http.Header, []byte) error { return nil }

var _ = Describe("Selector", func() {
	var (
		ctx      context.Context
		repo     provider.RepositoryAPI
		registry *provider.Registry
		momo     *providerDatamodel.Provider
		sandbox  *providerDatamodel.Provider
	)

	newSelector := func() *provider.Selector {
		return provider.NewSelector(repo, registry, logger.Discard())
	}

	BeforeEach(func() {
		ctx = context.Background()
		db, err := datastore.OpenSQLite(":memory:")
		Expect(err).NotTo(HaveOccurred())
		repo = postgres.NewProviderRepository(db)

		registry = provider.NewRegistry(provider.Deps{Logger: logger.Discard()})
		registry.Register(providerDatamodel.TypeSandbox, func(*providerDatamodel.Provider, provider.Deps) (provider.Adapter, error) {
			return stubAdapter{kind: providerDatamodel.TypeSandbox}, nil
		})

		momo = &providerDatamodel.Provider{Name: "makypay", ProviderType: providerDatamodel.TypeMoMo, BaseURL: "http://momo", APIKey: "p", APISecret: "s"}
		sandbox = &providerDatamodel.Provider{Name: "sandbox", ProviderType: providerDatamodel.TypeSandbox}
		Expect(repo.Create(ctx, momo)).To(Succeed())
		Expect(repo.Create(ctx, sandbox)).To(Succeed())
	})

	It("reports no provider until one is activated", func() {
		selector := newSelector()
		Expect(selector.Refresh(ctx)).To(Succeed())

		_, _, err := selector.Active()

		Expect(err).To(MatchError(internal.ErrNoProviderConfigured))
	})

	It("switches the active adapter and persists the choice", func() {
		selector := newSelector()
		Expect(selector.Activate(ctx, momo.ID)).To(Succeed())

		adapter, active, err := selector.Active()
		Expect(err).NotTo(HaveOccurred())
		Expect(adapter.Type()).To(Equal(providerDatamodel.TypeMoMo))
		Expect(active.Name).To(Equal("makypay"))

		Expect(selector.Activate(ctx, sandbox.ID)).To(Succeed())
		other := newSelector()
		Expect(other.Refresh(ctx)).To(Succeed())
		adapter, _, err = other.Active()
		Expect(err).NotTo(HaveOccurred())
		Expect(adapter.Type()).To(Equal(providerDatamodel.TypeSandbox))
		Expect(other.Version()).To(Equal(int64(2)))
	})

	It("rejects a stale writer", func() {
		first := newSelector()
		second := newSelector()
		Expect(first.Refresh(ctx)).To(Succeed())
		Expect(second.Refresh(ctx)).To(Succeed())

		Expect(first.Activate(ctx, momo.ID)).To(Succeed())
		err := second.Activate(ctx, sandbox.ID)

		Expect(err).To(MatchError(internal.ErrSelectionConflict))
		adapter, _, err := second.Active()
		Expect(err).NotTo(HaveOccurred())
		Expect(adapter.Type()).To(Equal(providerDatamodel.TypeMoMo))
	})

	It("lets exactly one of many concurrent writers win per version", func() {
		selectors := make([]*provider.Selector, 8)
		for i := range selectors {
			selectors[i] = newSelector()
			Expect(selectors[i].Refresh(ctx)).To(Succeed())
		}

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for _, s := range selectors {
			wg.Add(1)
			go func(s *provider.Selector) {
				defer wg.Done()
				if s.Activate(ctx, sandbox.ID) == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(s)
		}
		wg.Wait()

		Expect(wins).To(Equal(1))
	})

	It("does not activate an unknown provider", func() {
		selector := newSelector()
		Expect(selector.Activate(ctx, 999)).To(MatchError(internal.ErrProviderNotFound))
		_, _, err := selector.Active()
		Expect(err).To(MatchError(internal.ErrNoProviderConfigured))
	})

	It("deactivates", func() {
		selector := newSelector()
		Expect(selector.Activate(ctx, momo.ID)).To(Succeed())
		Expect(selector.Deactivate(ctx)).To(Succeed())

		_, _, err := selector.Active()
		Expect(err).To(MatchError(internal.ErrNoProviderConfigured))
	})

	It("picks up a selection changed by another process while watching", func() {
		server := newSelector()
		Expect(server.Refresh(ctx)).To(Succeed())
		watchCtx, stop := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			server.Watch(watchCtx, 10*time.Millisecond)
		}()
		DeferCleanup(func() {
			stop()
			<-done
		})

		operator := newSelector()
		Expect(operator.Activate(ctx, momo.ID)).To(Succeed())

		Eventually(func() string {
			_, active, err := server.Active()
			if err != nil {
				return ""
			}
			return active.Name
		}, 2*time.Second, 10*time.Millisecond).Should(Equal("makypay"))

		Expect(operator.Deactivate(ctx)).To(Succeed())
		Eventually(func() error {
			_, _, err := server.Active()
			return err
		}, 2*time.Second, 10*time.Millisecond).Should(MatchError(internal.ErrNoProviderConfigured))
	})

	It("builds adapters for providers that are no longer active", func() {
		selector := newSelector()
		Expect(selector.Activate(ctx, momo.ID)).To(Succeed())
		Expect(selector.Activate(ctx, sandbox.ID)).To(Succeed())

		adapter, err := selector.AdapterFor(ctx, momo.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(adapter.Type()).To(Equal(providerDatamodel.TypeMoMo))

		_, err = selector.AdapterFor(ctx, 999)
		Expect(err).To(MatchError(internal.ErrProviderNotFound))
	})
})
