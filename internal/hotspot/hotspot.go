package hotspot

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	hotspotDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/hotspot"
)

var (
	DefaultSubscriptionFee    = decimal.RequireFromString("50000.00")
	DefaultBasisPercentage    = decimal.RequireFromString("5.00")
	DefaultSubscriptionPeriod = 30
)

type RepositoryAPI interface {
	WithTx(tx *gorm.DB) RepositoryAPI
	CreateLocation(ctx context.Context, location *hotspotDatamodel.Location) error
	GetLocation(ctx context.Context, id string) (*hotspotDatamodel.Location, error)
	SetLocationActive(ctx context.Context, id string, active bool) error
	CreateProfile(ctx context.Context, profile *hotspotDatamodel.BillingProfile) error
	GetProfile(ctx context.Context, locationID string) (*hotspotDatamodel.BillingProfile, error)
	LockProfile(ctx context.Context, locationID string) (*hotspotDatamodel.BillingProfile, error)
	SaveProfile(ctx context.Context, profile *hotspotDatamodel.BillingProfile) error
	// ListExpiring returns required subscriptions expiring before the cutoff.
	ListExpiring(ctx context.Context, before time.Time) ([]hotspotDatamodel.BillingProfile, error)
	CreatePackage(ctx context.Context, pkg *hotspotDatamodel.Package) error
	GetPackage(ctx context.Context, id string) (*hotspotDatamodel.Package, error)
	ListPackages(ctx context.Context, locationID string) ([]hotspotDatamodel.Package, error)
}

type CreateLocationRequest struct {
	VendorID string         `json:"vendor_id"`
	Name     string         `json:"name"`
	Address  string         `json:"address"`
	Profile  *ProfileParams `json:"profile,omitempty"`
}

// ProfileParams overrides the billing profile defaults. Nil fields keep them.
type ProfileParams struct {
	SubscriptionFee     *decimal.Decimal `json:"subscription_fee,omitempty"`
	SubscriptionPeriod  *int             `json:"subscription_period_days,omitempty"`
	RequireSubscription *bool            `json:"require_subscription,omitempty"`
	SplittingEnabled    *bool            `json:"splitting_enabled,omitempty"`
	BasisPercentage     *decimal.Decimal `json:"basis_percentage,omitempty"`
	ExtraPercentage     *decimal.Decimal `json:"extra_percentage,omitempty"`
}

type CreatePackageRequest struct {
	LocationID    string          `json:"location_id"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	DurationHours int             `json:"duration_hours"`
}

type LocationView struct {
	Location *hotspotDatamodel.Location       `json:"location"`
	Profile  *hotspotDatamodel.BillingProfile `json:"profile"`
}

// Sellable is what a voucher sale needs to know about its package.
type Sellable struct {
	Package  *hotspotDatamodel.Package
	Location *hotspotDatamodel.Location
	Profile  *hotspotDatamodel.BillingProfile
}

type EnforcementResult struct {
	Deactivated int `json:"deactivated"`
	Warned      int `json:"warned"`
}
