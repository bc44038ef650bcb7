package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	hotspotDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/hotspot"
	"github.com/frahmantamala/spotpay-billing/internal/core/datastore"
	"github.com/frahmantamala/spotpay-billing/internal/hotspot"
)

type HotspotRepository struct {
	db *gorm.DB
}

func NewHotspotRepository(db *gorm.DB) hotspot.RepositoryAPI {
	return &HotspotRepository{db: db}
}

func (r *HotspotRepository) WithTx(tx *gorm.DB) hotspot.RepositoryAPI {
	return &HotspotRepository{db: tx}
}

func (r *HotspotRepository) CreateLocation(ctx context.Context, location *hotspotDatamodel.Location) error {
	return r.db.WithContext(ctx).Create(location).Error
}

func (r *HotspotRepository) GetLocation(ctx context.Context, id string) (*hotspotDatamodel.Location, error) {
	var location hotspotDatamodel.Location
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&location).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &location, nil
}

func (r *HotspotRepository) SetLocationActive(ctx context.Context, id string, active bool) error {
	return r.db.WithContext(ctx).
		Model(&hotspotDatamodel.Location{}).
		Where("id = ?", id).
		Update("is_active", active).Error
}

func (r *HotspotRepository) CreateProfile(ctx context.Context, profile *hotspotDatamodel.BillingProfile) error {
	return r.db.WithContext(ctx).Create(profile).Error
}

func (r *HotspotRepository) GetProfile(ctx context.Context, locationID string) (*hotspotDatamodel.BillingProfile, error) {
	return r.profile(r.db.WithContext(ctx), locationID)
}

func (r *HotspotRepository) LockProfile(ctx context.Context, locationID string) (*hotspotDatamodel.BillingProfile, error) {
	return r.profile(r.db.WithContext(ctx).Clauses(datastore.ForUpdate), locationID)
}

func (r *HotspotRepository) profile(q *gorm.DB, locationID string) (*hotspotDatamodel.BillingProfile, error) {
	var profile hotspotDatamodel.BillingProfile
	if err := q.Where("location_id = ?", locationID).Take(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

func (r *HotspotRepository) SaveProfile(ctx context.Context, profile *hotspotDatamodel.BillingProfile) error {
	return r.db.WithContext(ctx).Save(profile).Error
}

func (r *HotspotRepository) ListExpiring(ctx context.Context, before time.Time) ([]hotspotDatamodel.BillingProfile, error) {
	var profiles []hotspotDatamodel.BillingProfile
	err := r.db.WithContext(ctx).
		Where("require_subscription = ? AND subscription_expires_at IS NOT NULL AND subscription_expires_at < ?", true, before).
		Order("subscription_expires_at ASC").
		Find(&profiles).Error
	return profiles, err
}

func (r *HotspotRepository) CreatePackage(ctx context.Context, pkg *hotspotDatamodel.Package) error {
	return r.db.WithContext(ctx).Create(pkg).Error
}

func (r *HotspotRepository) GetPackage(ctx context.Context, id string) (*hotspotDatamodel.Package, error) {
	var pkg hotspotDatamodel.Package
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&pkg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pkg, nil
}

func (r *HotspotRepository) ListPackages(ctx context.Context, locationID string) ([]hotspotDatamodel.Package, error) {
	var pkgs []hotspotDatamodel.Package
	err := r.db.WithContext(ctx).
		Where("location_id = ? AND is_active = ?", locationID, true).
		Order("price ASC").
		Find(&pkgs).Error
	return pkgs, err
}
