package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	providerDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/provider"
	"github.com/frahmantamala/spotpay-billing/internal/provider"
)

type ProviderRepository struct {
	db *gorm.DB
}

func NewProviderRepository(db *gorm.DB) provider.RepositoryAPI {
	return &ProviderRepository{db: db}
}

func (r *ProviderRepository) Create(ctx context.Context, p *providerDatamodel.Provider) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *ProviderRepository) GetByID(ctx context.Context, id int64) (*providerDatamodel.Provider, error) {
	return r.take(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *ProviderRepository) GetByName(ctx context.Context, name string) (*providerDatamodel.Provider, error) {
	return r.take(r.db.WithContext(ctx).Where("name = ?", name))
}

func (r *ProviderRepository) take(q *gorm.DB) (*providerDatamodel.Provider, error) {
	var p providerDatamodel.Provider
	if err := q.Take(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *ProviderRepository) List(ctx context.Context) ([]providerDatamodel.Provider, error) {
	var providers []providerDatamodel.Provider
	err := r.db.WithContext(ctx).Order("id ASC").Find(&providers).Error
	return providers, err
}

func (r *ProviderRepository) GetSelection(ctx context.Context) (*providerDatamodel.Selection, error) {
	db := r.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&providerDatamodel.Selection{ID: providerDatamodel.SelectionID}).Error
	if err != nil {
		return nil, err
	}

	var sel providerDatamodel.Selection
	if err := db.Where("id = ?", providerDatamodel.SelectionID).Take(&sel).Error; err != nil {
		return nil, err
	}
	return &sel, nil
}

func (r *ProviderRepository) SwapSelection(ctx context.Context, providerID *int64, expectedVersion int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&providerDatamodel.Selection{}).
		Where("id = ? AND version = ?", providerDatamodel.SelectionID, expectedVersion).
		Updates(map[string]interface{}{
			"provider_id": providerID,
			"version":     expectedVersion + 1,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
