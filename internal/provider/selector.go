package provider

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/frahmantamala/spotpay-billing/internal"
	providerDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/provider"
)

type snapshot struct {
	version  int64
	provider *providerDatamodel.Provider
	adapter  Adapter
}

// Selector holds the process-wide active provider. The provider_selection row
// is the single writer's record; its version is the compare-and-swap token
// for both the row and the in-memory pointer.
type Selector struct {
	repo     RepositoryAPI
	registry *Registry
	logger   *slog.Logger
	current  atomic.Pointer[snapshot]
}

func NewSelector(repo RepositoryAPI, registry *Registry, logger *slog.Logger) *Selector {
	return &Selector{repo: repo, registry: registry, logger: logger}
}

// Active returns the adapter of the active provider.
func (s *Selector) Active() (Adapter, *providerDatamodel.Provider, error) {
	snap := s.current.Load()
	if snap == nil || snap.adapter == nil {
		return nil, nil, internal.ErrNoProviderConfigured
	}
	return snap.adapter, snap.provider, nil
}

// AdapterFor builds the adapter of any stored provider. Callbacks for a
// payment are verified by the provider that charged it, even after the
// selection moved on.
func (s *Selector) AdapterFor(ctx context.Context, providerID int64) (Adapter, error) {
	if snap := s.current.Load(); snap != nil && snap.provider != nil && snap.provider.ID == providerID {
		return snap.adapter, nil
	}
	p, err := s.repo.GetByID(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, internal.ErrProviderNotFound
	}
	return s.registry.Build(p)
}

func (s *Selector) Version() int64 {
	if snap := s.current.Load(); snap != nil {
		return snap.version
	}
	return 0
}

// Refresh reloads the selection row when another writer changed it.
func (s *Selector) Refresh(ctx context.Context) error {
	sel, err := s.repo.GetSelection(ctx)
	if err != nil {
		return err
	}

	cur := s.current.Load()
	if cur != nil && cur.version >= sel.Version {
		return nil
	}

	next, err := s.build(ctx, sel.ProviderID, sel.Version)
	if err != nil {
		return err
	}
	if s.current.CompareAndSwap(cur, next) {
		s.logger.Info("active payment provider loaded", "version", next.version, "provider", providerName(next))
	}
	return nil
}

// Watch refreshes the selection every interval until ctx is done, so a
// change written by another process reaches this one.
func (s *Selector) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("failed to refresh provider selection", "error", err)
			}
		}
	}
}

// Activate makes providerID the active provider. It fails with
// ErrSelectionConflict when another writer changed the selection first.
func (s *Selector) Activate(ctx context.Context, providerID int64) error {
	return s.swap(ctx, &providerID)
}

// Deactivate clears the selection; initiations fail with
// ErrNoProviderConfigured until a provider is activated again.
func (s *Selector) Deactivate(ctx context.Context) error {
	return s.swap(ctx, nil)
}

func (s *Selector) swap(ctx context.Context, providerID *int64) error {
	if s.current.Load() == nil {
		if err := s.Refresh(ctx); err != nil {
			return err
		}
	}
	cur := s.current.Load()

	next, err := s.build(ctx, providerID, cur.version+1)
	if err != nil {
		return err
	}

	ok, err := s.repo.SwapSelection(ctx, providerID, cur.version)
	if err != nil {
		return err
	}
	if !ok {
		if err := s.Refresh(ctx); err != nil {
			s.logger.Error("failed to reload provider selection", "error", err)
		}
		return internal.ErrSelectionConflict
	}

	if !s.current.CompareAndSwap(cur, next) {
		// a concurrent Refresh already installed a newer snapshot
		return s.Refresh(ctx)
	}
	s.logger.Info("active payment provider changed",
		"version", next.version,
		"provider", providerName(next))
	return nil
}

func (s *Selector) build(ctx context.Context, providerID *int64, version int64) (*snapshot, error) {
	next := &snapshot{version: version}
	if providerID == nil {
		return next, nil
	}

	p, err := s.repo.GetByID(ctx, *providerID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, internal.ErrProviderNotFound
	}
	adapter, err := s.registry.Build(p)
	if err != nil {
		if _, ok := internal.IsAppError(err); ok {
			return nil, err
		}
		return nil, internal.NewValidationError(err.Error(), internal.ErrCodeUnsupportedProvider)
	}
	next.provider = p
	next.adapter = adapter
	return next, nil
}

func providerName(s *snapshot) string {
	if s.provider == nil {
		return ""
	}
	return s.provider.Name
}
