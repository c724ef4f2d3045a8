package repos

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/villatrans/carnet-backend/internal/domain"
	"github.com/villatrans/carnet-backend/internal/pkg/logger"
)

type TemplateRepo interface {
	Create(ctx context.Context, tx *gorm.DB, tpl *domain.CarnetTemplate) (*domain.CarnetTemplate, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.CarnetTemplate, error)
	GetActive(ctx context.Context, tx *gorm.DB) (*domain.CarnetTemplate, error)
	Activate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.CarnetTemplate, error)
}

type templateRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTemplateRepo(db *gorm.DB, baseLog *logger.Logger) TemplateRepo {
	return &templateRepo{db: db, log: baseLog.With("repo", "TemplateRepo")}
}

func (r *templateRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *templateRepo) Create(ctx context.Context, tx *gorm.DB, tpl *domain.CarnetTemplate) (*domain.CarnetTemplate, error) {
	if _, err := domain.ParseFieldConfig(tpl.FieldConfig); err != nil {
		return nil, err
	}
	if tpl.ID == uuid.Nil {
		tpl.ID = uuid.New()
	}
	if err := r.conn(tx).WithContext(ctx).Create(tpl).Error; err != nil {
		return nil, err
	}
	return tpl, nil
}

func (r *templateRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.CarnetTemplate, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var tpl domain.CarnetTemplate
	err := r.conn(tx).WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&tpl).Error
	if err != nil {
		return nil, err
	}
	if tpl.ID == uuid.Nil {
		return nil, nil
	}
	return &tpl, nil
}

func (r *templateRepo) GetActive(ctx context.Context, tx *gorm.DB) (*domain.CarnetTemplate, error) {
	var tpl domain.CarnetTemplate
	err := r.conn(tx).WithContext(ctx).
		Where("active = ?", true).
		Order("updated_at DESC").
		Limit(1).
		Find(&tpl).Error
	if err != nil {
		return nil, err
	}
	if tpl.ID == uuid.Nil {
		return nil, nil
	}
	return &tpl, nil
}

// Activate flips one template active and every other template inactive in a
// single transaction, after validating the template's field configuration.
// The single-active invariant is enforced here, not in handlers.
func (r *templateRepo) Activate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.CarnetTemplate, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("template id required")
	}
	var activated *domain.CarnetTemplate
	err := r.conn(tx).WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var tpl domain.CarnetTemplate
		if err := txx.Where("id = ?", id).Limit(1).Find(&tpl).Error; err != nil {
			return err
		}
		if tpl.ID == uuid.Nil {
			return fmt.Errorf("template %s not found", id)
		}
		if _, err := tpl.Fields(); err != nil {
			return fmt.Errorf("template %s has an invalid field config: %w", id, err)
		}
		now := time.Now()
		if err := txx.Model(&domain.CarnetTemplate{}).
			Where("active = ? AND id <> ?", true, id).
			Updates(map[string]interface{}{"active": false, "updated_at": now}).Error; err != nil {
			return err
		}
		if err := txx.Model(&domain.CarnetTemplate{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{"active": true, "updated_at": now}).Error; err != nil {
			return err
		}
		tpl.Active = true
		tpl.UpdatedAt = now
		activated = &tpl
		return nil
	})
	if err != nil {
		return nil, err
	}
	return activated, nil
}
