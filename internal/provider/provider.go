package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/spotpay-billing/internal"
	providerDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/provider"
)

// ChargeRequest is everything an adapter may need to start a collection.
type ChargeRequest struct {
	PaymentID   string
	Amount      decimal.Decimal
	Currency    string
	Phone       string
	Purpose     string
	CallbackURL string
}

// Adapter starts a charge with one provider family and returns the provider
// reference that later callbacks carry. VerifyCallback authenticates an
// inbound callback body with the provider's shared secret.
type Adapter interface {
	Type() string
	Charge(ctx context.Context, req ChargeRequest) (string, error)
	VerifyCallback(header http.Header, body []byte) error
}

type RepositoryAPI interface {
	Create(ctx context.Context, p *providerDatamodel.Provider) error
	GetByID(ctx context.Context, id int64) (*providerDatamodel.Provider, error)
	GetByName(ctx context.Context, name string) (*providerDatamodel.Provider, error)
	List(ctx context.Context) ([]providerDatamodel.Provider, error)
	// GetSelection returns the selection row, creating an empty one if missing.
	GetSelection(ctx context.Context) (*providerDatamodel.Selection, error)
	// SwapSelection stores providerID if the row still carries expectedVersion.
	SwapSelection(ctx context.Context, providerID *int64, expectedVersion int64) (bool, error)
}

// Deps are shared by every adapter the registry builds.
type Deps struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Factory func(p *providerDatamodel.Provider, deps Deps) (Adapter, error)

// Registry builds adapters from provider rows, keyed by provider type.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	deps      Deps
}

func NewRegistry(deps Deps) *Registry {
	if deps.HTTPClient == nil {
		deps.HTTPClient = http.DefaultClient
	}
	r := &Registry{
		factories: make(map[string]Factory),
		deps:      deps,
	}
	r.Register(providerDatamodel.TypeMoMo, NewMoMoAdapter)
	r.Register(providerDatamodel.TypeCard, NewCardAdapter)
	return r
}

func (r *Registry) Register(providerType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[providerType] = factory
}

func (r *Registry) Build(p *providerDatamodel.Provider) (Adapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[p.ProviderType]
	r.mu.RUnlock()
	if !ok {
		return nil, internal.ErrUnsupportedProvider.WithMessage(fmt.Sprintf("unsupported provider type %q", p.ProviderType))
	}
	return factory(p, r.deps)
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	return types
}
