package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/villatrans/carnet-backend/internal/domain"
	"github.com/villatrans/carnet-backend/internal/pkg/logger"
)

type DriverRepo interface {
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.Driver, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*domain.Driver, error)
	ListActive(ctx context.Context, tx *gorm.DB) ([]*domain.Driver, error)
	UpdateCarnetPath(ctx context.Context, tx *gorm.DB, id uuid.UUID, path string) error
}

type driverRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDriverRepo(db *gorm.DB, baseLog *logger.Logger) DriverRepo {
	return &driverRepo{db: db, log: baseLog.With("repo", "DriverRepo")}
}

func (r *driverRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *driverRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.Driver, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var d domain.Driver
	err := r.conn(tx).WithContext(ctx).
		Preload("ActiveVehicle").
		Where("id = ?", id).
		Limit(1).
		Find(&d).Error
	if err != nil {
		return nil, err
	}
	if d.ID == uuid.Nil {
		return nil, nil
	}
	return &d, nil
}

func (r *driverRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*domain.Driver, error) {
	var out []*domain.Driver
	if len(ids) == 0 {
		return out, nil
	}
	if err := r.conn(tx).WithContext(ctx).
		Preload("ActiveVehicle").
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *driverRepo) ListActive(ctx context.Context, tx *gorm.DB) ([]*domain.Driver, error) {
	var out []*domain.Driver
	if err := r.conn(tx).WithContext(ctx).
		Preload("ActiveVehicle").
		Where("status = ?", "activo").
		Order("last_name ASC, first_name ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *driverRepo) UpdateCarnetPath(ctx context.Context, tx *gorm.DB, id uuid.UUID, path string) error {
	if id == uuid.Nil {
		return nil
	}
	return r.conn(tx).WithContext(ctx).
		Model(&domain.Driver{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"carnet_path": path,
			"updated_at":  time.Now(),
		}).Error
}
