package jobs

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/villatrans/carnet-backend/internal/data/repos"
	"github.com/villatrans/carnet-backend/internal/pkg/logger"
)

type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	repo     repos.JobRepo
	registry *Registry

	pollInterval time.Duration
	maxAttempts  int
	retryDelay   time.Duration
	staleRunning time.Duration
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, repo repos.JobRepo, registry *Registry) *Worker {
	return &Worker{
		db:           db,
		log:          baseLog.With("component", "JobWorker"),
		repo:         repo,
		registry:     registry,
		pollInterval: 1 * time.Second,
		maxAttempts:  5,
		retryDelay:   30 * time.Second,
		staleRunning: 2 * time.Minute,
	}
}

func (w *Worker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.tick(ctx)
			}
		}
	}()
}

func (w *Worker) tick(ctx context.Context) {
	job, err := w.repo.ClaimNextRunnable(ctx, w.db, w.maxAttempts, w.retryDelay, w.staleRunning)
	if err != nil {
		w.log.Warn("ClaimNextRunnable failed", "error", err)
		return
	}
	if job == nil {
		return
	}

	h, ok := w.registry.Get(job.JobType)
	if !ok {
		w.log.Warn("No handler registered for job_type", "job_type", job.JobType, "job_id", job.ID)
		NewContext(ctx, w.db, job, w.repo).Fail(&missingHandlerError{JobType: job.JobType})
		return
	}

	jc := NewContext(ctx, w.db, job, w.repo)
	// A panicking handler must not take the worker loop down.
	func() {
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("Job handler panic", "job_id", job.ID, "job_type", job.JobType, "panic", r)
				jc.Fail(&panicError{Val: r})
			}
		}()
		if err := h.Run(jc); err != nil {
			w.log.Warn("Job handler returned error", "job_id", job.ID, "job_type", job.JobType, "error", err)
		}
	}()
}

type missingHandlerError struct{ JobType string }

func (e *missingHandlerError) Error() string { return "no handler registered for job_type=" + e.JobType }

type panicError struct{ Val any }

func (e *panicError) Error() string { return "panic: unexpected error" }
