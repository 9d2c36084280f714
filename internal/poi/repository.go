package poi

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tripplan-go/internal/model"
)

// Repository is the canonical relational store for resolved POIs, keyed
// by (provider, provider_id) (spec §3 Poi).
type Repository interface {
	Upsert(ctx context.Context, pois []model.Poi) error
	FindByID(ctx context.Context, id uint) (*model.Poi, error)
	// FindByDestination returns previously-resolved POIs whose name or
	// address loosely matches destination, ordered by rating
	// desc then id asc, for the fast planner's candidate seeding.
	FindByDestination(ctx context.Context, destination string, limit int) ([]model.Poi, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository builds the GORM-backed Repository.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// Upsert writes every poi, updating name/category/addr/rating/lat/lng/ext
// on conflict so a repeated provider lookup keeps the canonical row fresh.
func (r *gormRepository) Upsert(ctx context.Context, pois []model.Poi) error {
	if len(pois) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "category", "addr", "rating", "lat", "lng", "ext"}),
	}).Create(&pois).Error
}

// FindByID fetches a single canonical POI row, used to resolve a
// sub-trip's poi_id back to display data.
func (r *gormRepository) FindByID(ctx context.Context, id uint) (*model.Poi, error) {
	var row model.Poi
	if err := r.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *gormRepository) FindByDestination(ctx context.Context, destination string, limit int) ([]model.Poi, error) {
	if limit <= 0 {
		return nil, nil
	}
	pattern := "%" + destination + "%"
	var rows []model.Poi
	err := r.db.WithContext(ctx).
		Where("name LIKE ? OR addr LIKE ?", pattern, pattern).
		Order("rating DESC, id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
