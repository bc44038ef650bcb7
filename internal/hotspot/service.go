package hotspot

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/frahmantamala/spotpay-billing/internal"
	"github.com/frahmantamala/spotpay-billing/internal/core/common/validation"
	hotspotDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/hotspot"
	"github.com/frahmantamala/spotpay-billing/internal/core/datastore"
	"github.com/frahmantamala/spotpay-billing/pkg/logger"
)

const warningRepeatInterval = 24 * time.Hour

type Service struct {
	repo   RepositoryAPI
	tx     datastore.TxRunner
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo RepositoryAPI, tx datastore.TxRunner, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		tx:     tx,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateLocation stores a location together with its billing profile. Neither
// row exists without the other.
func (s *Service) CreateLocation(ctx context.Context, req CreateLocationRequest) (*LocationView, error) {
	v := validation.NewValidator()
	v.Field("vendor_id", req.VendorID).Required()
	v.Field("name", req.Name).Required().MaxLength(255)
	if appErr := v.Validate(); appErr != nil {
		return nil, appErr
	}

	location := &hotspotDatamodel.Location{
		ID:       uuid.Must(uuid.NewV7()).String(),
		VendorID: req.VendorID,
		Name:     req.Name,
		Address:  req.Address,
		IsActive: true,
	}
	profile := newProfile(location.ID, req.Profile)
	if appErr := validateProfile(profile); appErr != nil {
		return nil, appErr
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateLocation(ctx, location); err != nil {
			return err
		}
		return repo.CreateProfile(ctx, profile)
	})
	if err != nil {
		s.logger.Error("failed to create location", "vendor_id", req.VendorID, "error", err)
		return nil, err
	}

	s.logger.Info("location created", "location_id", location.ID, "vendor_id", location.VendorID)
	return &LocationView{Location: location, Profile: profile}, nil
}

func newProfile(locationID string, p *ProfileParams) *hotspotDatamodel.BillingProfile {
	profile := &hotspotDatamodel.BillingProfile{
		LocationID:          locationID,
		SubscriptionFee:     DefaultSubscriptionFee,
		SubscriptionPeriod:  DefaultSubscriptionPeriod,
		RequireSubscription: true,
		SplittingEnabled:    true,
		BasisPercentage:     DefaultBasisPercentage,
		ExtraPercentage:     decimal.Zero,
	}
	if p == nil {
		return profile
	}
	if p.SubscriptionFee != nil {
		profile.SubscriptionFee = *p.SubscriptionFee
	}
	if p.SubscriptionPeriod != nil {
		profile.SubscriptionPeriod = *p.SubscriptionPeriod
	}
	if p.RequireSubscription != nil {
		profile.RequireSubscription = *p.RequireSubscription
	}
	if p.SplittingEnabled != nil {
		profile.SplittingEnabled = *p.SplittingEnabled
	}
	if p.BasisPercentage != nil {
		profile.BasisPercentage = *p.BasisPercentage
	}
	if p.ExtraPercentage != nil {
		profile.ExtraPercentage = *p.ExtraPercentage
	}
	return profile
}

func validateProfile(p *hotspotDatamodel.BillingProfile) *internal.AppError {
	total := p.BasisPercentage.Add(p.ExtraPercentage)
	if total.IsNegative() || total.GreaterThan(decimal.NewFromInt(100)) {
		return internal.ErrInvalidPercentage
	}
	if p.SubscriptionPeriod <= 0 {
		return internal.NewValidationFieldError("subscription_period_days", "subscription_period_days must be positive", internal.ErrCodeValidationFailed)
	}
	if p.SubscriptionFee.IsNegative() {
		return internal.ErrInvalidAmount
	}
	return nil
}

func (s *Service) GetLocation(ctx context.Context, id string) (*LocationView, error) {
	location, err := s.repo.GetLocation(ctx, id)
	if err != nil {
		return nil, err
	}
	if location == nil {
		return nil, internal.ErrLocationNotFound
	}
	profile, err := s.repo.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	return &LocationView{Location: location, Profile: profile}, nil
}

func (s *Service) CreatePackage(ctx context.Context, req CreatePackageRequest) (*hotspotDatamodel.Package, error) {
	v := validation.NewValidator()
	v.Field("location_id", req.LocationID).Required()
	v.Field("name", req.Name).Required().MaxLength(100)
	v.Field("price", req.Price).Positive(internal.ErrCodeInvalidAmount).MaxScale(2)
	if appErr := v.Validate(); appErr != nil {
		return nil, appErr
	}
	if req.DurationHours <= 0 {
		return nil, internal.NewValidationFieldError("duration_hours", "duration_hours must be positive", internal.ErrCodeValidationFailed)
	}

	location, err := s.repo.GetLocation(ctx, req.LocationID)
	if err != nil {
		return nil, err
	}
	if location == nil {
		return nil, internal.ErrLocationNotFound
	}

	pkg := &hotspotDatamodel.Package{
		ID:            uuid.Must(uuid.NewV7()).String(),
		LocationID:    req.LocationID,
		Name:          req.Name,
		Price:         req.Price,
		DurationHours: req.DurationHours,
		IsActive:      true,
	}
	if err := s.repo.CreatePackage(ctx, pkg); err != nil {
		return nil, err
	}
	return pkg, nil
}

func (s *Service) ListPackages(ctx context.Context, locationID string) ([]hotspotDatamodel.Package, error) {
	return s.repo.ListPackages(ctx, locationID)
}

func (s *Service) GetPackage(ctx context.Context, id string) (*hotspotDatamodel.Package, error) {
	return s.findPackage(ctx, s.repo, id)
}

func (s *Service) PackageTx(ctx context.Context, tx *gorm.DB, id string) (*hotspotDatamodel.Package, error) {
	return s.findPackage(ctx, s.repo.WithTx(tx), id)
}

func (s *Service) findPackage(ctx context.Context, repo RepositoryAPI, id string) (*hotspotDatamodel.Package, error) {
	pkg, err := repo.GetPackage(ctx, id)
	if err != nil {
		return nil, err
	}
	if pkg == nil {
		return nil, internal.ErrPackageNotFound
	}
	return pkg, nil
}

// Sellable resolves a package for sale. locationID may be empty, in which
// case the package's own location is used.
func (s *Service) Sellable(ctx context.Context, packageID, locationID string) (*Sellable, error) {
	pkg, err := s.GetPackage(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if !pkg.IsActive || (locationID != "" && locationID != pkg.LocationID) {
		return nil, internal.ErrPackageUnavailable
	}

	view, err := s.GetLocation(ctx, pkg.LocationID)
	if err != nil {
		return nil, err
	}
	if !view.Location.IsActive || !SubscriptionValid(view.Profile, s.now()) {
		return nil, internal.ErrSubscriptionLapsed
	}
	return &Sellable{Package: pkg, Location: view.Location, Profile: view.Profile}, nil
}

// SubscriptionValid is true when the profile either does not require a
// subscription or holds one that has not expired yet.
func SubscriptionValid(p *hotspotDatamodel.BillingProfile, now time.Time) bool {
	if p == nil || !p.RequireSubscription {
		return true
	}
	return p.SubscriptionExpiresAt != nil && p.SubscriptionExpiresAt.After(now)
}

func (s *Service) ProfileTx(ctx context.Context, tx *gorm.DB, locationID string) (*hotspotDatamodel.BillingProfile, error) {
	profile, err := s.repo.WithTx(tx).GetProfile(ctx, locationID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, internal.ErrLocationNotFound
	}
	return profile, nil
}

// ExtendSubscriptionTx adds one subscription period, counted from the later of
// now and the current expiry, and reactivates the location.
func (s *Service) ExtendSubscriptionTx(ctx context.Context, tx *gorm.DB, locationID string) (*hotspotDatamodel.BillingProfile, error) {
	repo := s.repo.WithTx(tx)

	profile, err := repo.LockProfile(ctx, locationID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, internal.ErrLocationNotFound
	}

	base := s.now()
	if profile.SubscriptionExpiresAt != nil && profile.SubscriptionExpiresAt.After(base) {
		base = *profile.SubscriptionExpiresAt
	}
	expires := base.AddDate(0, 0, profile.SubscriptionPeriod)
	profile.SubscriptionExpiresAt = &expires
	profile.LastExpiryWarningAt = nil

	if err := repo.SaveProfile(ctx, profile); err != nil {
		return nil, err
	}
	if err := repo.SetLocationActive(ctx, locationID, true); err != nil {
		return nil, err
	}

	logger.FromOr(ctx, s.logger).Info("subscription extended",
		"location_id", locationID,
		"expires_at", expires)
	return profile, nil
}

// EnforceSubscriptions deactivates locations whose required subscription has
// lapsed and warns about those expiring within the window, at most once a day.
func (s *Service) EnforceSubscriptions(ctx context.Context, window time.Duration) (*EnforcementResult, error) {
	now := s.now()
	profiles, err := s.repo.ListExpiring(ctx, now.Add(window))
	if err != nil {
		return nil, err
	}

	result := &EnforcementResult{}
	for i := range profiles {
		p := &profiles[i]
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		if !p.SubscriptionExpiresAt.After(now) {
			deactivated, err := s.deactivate(ctx, p.LocationID)
			if err != nil {
				return result, err
			}
			if deactivated {
				result.Deactivated++
			}
			continue
		}

		if p.LastExpiryWarningAt != nil && now.Sub(*p.LastExpiryWarningAt) < warningRepeatInterval {
			continue
		}
		s.logger.Warn("location subscription expiring",
			"location_id", p.LocationID,
			"expires_at", p.SubscriptionExpiresAt,
			"days_left", int(p.SubscriptionExpiresAt.Sub(now).Hours()/24))
		p.LastExpiryWarningAt = &now
		if err := s.repo.SaveProfile(ctx, p); err != nil {
			return result, err
		}
		result.Warned++
	}
	return result, nil
}

func (s *Service) deactivate(ctx context.Context, locationID string) (bool, error) {
	location, err := s.repo.GetLocation(ctx, locationID)
	if err != nil {
		return false, err
	}
	if location == nil || !location.IsActive {
		return false, nil
	}
	if err := s.repo.SetLocationActive(ctx, locationID, false); err != nil {
		return false, err
	}
	s.logger.Warn("location subscription expired, location deactivated", "location_id", locationID)
	return true, nil
}
