package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	hotspotDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/hotspot"
	providerDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/provider"
	"github.com/frahmantamala/spotpay-billing/internal/hotspot"
)

const (
	seedVendorID     = "vendor-demo"
	seedLocationName = "Demo Cafe"
	seedProviderName = "sandbox"
	seedVoucherCount = 20
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed a demo vendor location with a package, voucher stock and an active sandbox provider.`,
	Run: func(cmd *cobra.Command, args []string) {
		err := withDependencies(func(ctx context.Context, deps *Dependencies) error {
			location, err := seedLocation(ctx, deps)
			if err != nil {
				return err
			}

			pkg, err := seedPackage(ctx, deps, location.ID)
			if err != nil {
				return err
			}

			codes := make([]string, seedVoucherCount)
			for i := range codes {
				codes[i] = fmt.Sprintf("DEMO-%s-%03d", pkg.ID[:8], i+1)
			}
			loaded, err := deps.Stock.Load(ctx, pkg.ID, codes)
			if err != nil {
				return fmt.Errorf("failed to load vouchers: %w", err)
			}
			fmt.Printf("Loaded %d vouchers for package %s (%d already present)\n", loaded.Inserted, pkg.Name, loaded.Skipped)

			return seedProvider(ctx, deps)
		})
		if err != nil {
			log.Fatalf("seed failed: %v", err)
		}
		fmt.Println("Seed data ready")
	},
}

func seedLocation(ctx context.Context, deps *Dependencies) (*hotspotDatamodel.Location, error) {
	var existing hotspotDatamodel.Location
	err := deps.DB.WithContext(ctx).
		Where("vendor_id = ? AND name = ?", seedVendorID, seedLocationName).
		Take(&existing).Error
	if err == nil {
		fmt.Println("demo location already exists:", existing.ID)
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	requireSubscription := false
	view, err := deps.Catalog.CreateLocation(ctx, hotspot.CreateLocationRequest{
		VendorID: seedVendorID,
		Name:     seedLocationName,
		Address:  "Kampala Road 1",
		Profile:  &hotspot.ProfileParams{RequireSubscription: &requireSubscription},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create location: %w", err)
	}
	fmt.Println("Seeded location:", view.Location.ID)
	return view.Location, nil
}

func seedPackage(ctx context.Context, deps *Dependencies, locationID string) (*hotspotDatamodel.Package, error) {
	packages, err := deps.Catalog.ListPackages(ctx, locationID)
	if err != nil {
		return nil, err
	}
	if len(packages) > 0 {
		return &packages[0], nil
	}

	pkg, err := deps.Catalog.CreatePackage(ctx, hotspot.CreatePackageRequest{
		LocationID:    locationID,
		Name:          "1 Day",
		Price:         decimal.NewFromInt(1000),
		DurationHours: 24,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create package: %w", err)
	}
	fmt.Println("Seeded package:", pkg.Name)
	return pkg, nil
}

func seedProvider(ctx context.Context, deps *Dependencies) error {
	p, err := deps.Providers.GetByName(ctx, seedProviderName)
	if err != nil {
		return err
	}
	if p == nil {
		p = &providerDatamodel.Provider{Name: seedProviderName, ProviderType: providerDatamodel.TypeSandbox}
		if err := deps.Providers.Create(ctx, p); err != nil {
			return fmt.Errorf("failed to create sandbox provider: %w", err)
		}
		fmt.Println("Seeded provider:", p.Name)
	}

	if _, active, err := deps.Selector.Active(); err == nil && active.ID == p.ID {
		return nil
	}
	return deps.Selector.Activate(ctx, p.ID)
}
