package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/villatrans/carnet-backend/internal/domain"
	"github.com/villatrans/carnet-backend/internal/pkg/logger"
)

type JobRepo interface {
	Enqueue(ctx context.Context, tx *gorm.DB, jobs []*domain.GenerationJob) ([]*domain.GenerationJob, error)
	ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, retryDelay, staleRunning time.Duration) (*domain.GenerationJob, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	CountPending(ctx context.Context, tx *gorm.DB) (int64, error)
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{db: db, log: baseLog.With("repo", "JobRepo")}
}

func (r *jobRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *jobRepo) Enqueue(ctx context.Context, tx *gorm.DB, jobs []*domain.GenerationJob) ([]*domain.GenerationJob, error) {
	if len(jobs) == 0 {
		return []*domain.GenerationJob{}, nil
	}
	for _, j := range jobs {
		if j.ID == uuid.Nil {
			j.ID = uuid.New()
		}
		if j.Status == "" {
			j.Status = domain.JobStatusQueued
		}
	}
	if err := r.conn(tx).WithContext(ctx).Create(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// ClaimNextRunnable picks the oldest runnable job and marks it running.
// Runnable means queued, failed with attempts left after the retry delay,
// or running with a stale heartbeat. Under Postgres the row is locked with
// SKIP LOCKED so concurrent workers never claim the same job; sqlite
// serializes writers anyway.
func (r *jobRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, retryDelay, staleRunning time.Duration) (*domain.GenerationJob, error) {
	now := time.Now()
	retryCutoff := now.Add(-retryDelay)
	staleCutoff := now.Add(-staleRunning)
	var claimed *domain.GenerationJob
	err := r.conn(tx).WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		q := txx.Where(`
      (
        status = ?
        OR (
          status = ?
          AND attempts < ?
          AND (last_error_at IS NULL OR last_error_at < ?)
        )
        OR (
          status = ?
          AND heartbeat_at IS NOT NULL
          AND heartbeat_at < ?
        )
      )
    `, domain.JobStatusQueued, domain.JobStatusFailed, maxAttempts, retryCutoff, domain.JobStatusRunning, staleCutoff).
			Order("created_at ASC")
		if txx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		var job domain.GenerationJob
		qErr := q.First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&domain.GenerationJob{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":       domain.JobStatusRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *jobRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return r.conn(tx).WithContext(ctx).
		Model(&domain.GenerationJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *jobRepo) CountPending(ctx context.Context, tx *gorm.DB) (int64, error) {
	var count int64
	err := r.conn(tx).WithContext(ctx).
		Model(&domain.GenerationJob{}).
		Where("status IN ?", []string{domain.JobStatusQueued, domain.JobStatusRunning}).
		Count(&count).Error
	return count, err
}
