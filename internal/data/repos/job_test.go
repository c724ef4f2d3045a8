package repos

import (
	"context"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/villatrans/carnet-backend/internal/data/repos/testutil"
	"github.com/villatrans/carnet-backend/internal/domain"
)

func TestEnqueueAndClaim(t *testing.T) {
	gdb := testutil.DB(t)
	repo := NewJobRepo(gdb, testutil.Logger(t))
	ctx := context.Background()

	jobs, err := repo.Enqueue(ctx, nil, []*domain.GenerationJob{
		{JobType: domain.JobTypeCarnetGenerate, Payload: datatypes.JSON([]byte(`{"driver_id":"a"}`))},
		{JobType: domain.JobTypeCarnetGenerate, Payload: datatypes.JSON([]byte(`{"driver_id":"b"}`))},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	for _, j := range jobs {
		if j.Status != domain.JobStatusQueued {
			t.Fatalf("enqueued job should default to queued, got %s", j.Status)
		}
	}

	claimed, err := repo.ClaimNextRunnable(ctx, nil, 5, 30*time.Second, 2*time.Minute)
	if err != nil {
		t.Fatalf("ClaimNextRunnable: %v", err)
	}
	if claimed == nil {
		t.Fatalf("expected a claimable job")
	}
	if claimed.ID != jobs[0].ID && claimed.ID != jobs[1].ID {
		t.Fatalf("claimed job should be one of the enqueued jobs")
	}

	var persisted domain.GenerationJob
	if err := gdb.Where("id = ?", claimed.ID).First(&persisted).Error; err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if persisted.Status != domain.JobStatusRunning {
		t.Fatalf("claimed job should be running, got %s", persisted.Status)
	}
	if persisted.Attempts != 1 {
		t.Fatalf("claim should bump attempts, got %d", persisted.Attempts)
	}
}

func TestClaimSkipsExhaustedFailures(t *testing.T) {
	gdb := testutil.DB(t)
	repo := NewJobRepo(gdb, testutil.Logger(t))
	ctx := context.Background()

	jobs, err := repo.Enqueue(ctx, nil, []*domain.GenerationJob{
		{JobType: domain.JobTypeSessionFinalize},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	if err := repo.UpdateFields(ctx, nil, jobs[0].ID, map[string]interface{}{
		"status":        domain.JobStatusFailed,
		"attempts":      5,
		"last_error_at": past,
	}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}

	claimed, err := repo.ClaimNextRunnable(ctx, nil, 5, 30*time.Second, 2*time.Minute)
	if err != nil {
		t.Fatalf("ClaimNextRunnable: %v", err)
	}
	if claimed != nil {
		t.Fatalf("job with exhausted attempts must not be claimable")
	}
}

func TestClaimRetriesFailedAfterDelay(t *testing.T) {
	gdb := testutil.DB(t)
	repo := NewJobRepo(gdb, testutil.Logger(t))
	ctx := context.Background()

	jobs, err := repo.Enqueue(ctx, nil, []*domain.GenerationJob{
		{JobType: domain.JobTypeSessionFinalize},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	if err := repo.UpdateFields(ctx, nil, jobs[0].ID, map[string]interface{}{
		"status":        domain.JobStatusFailed,
		"attempts":      1,
		"last_error_at": past,
	}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}

	claimed, err := repo.ClaimNextRunnable(ctx, nil, 5, 30*time.Second, 2*time.Minute)
	if err != nil {
		t.Fatalf("ClaimNextRunnable: %v", err)
	}
	if claimed == nil || claimed.ID != jobs[0].ID {
		t.Fatalf("failed job past the retry delay should be reclaimed")
	}
}

func TestClaimReclaimsStaleRunning(t *testing.T) {
	gdb := testutil.DB(t)
	repo := NewJobRepo(gdb, testutil.Logger(t))
	ctx := context.Background()

	jobs, err := repo.Enqueue(ctx, nil, []*domain.GenerationJob{
		{JobType: domain.JobTypeCarnetGenerate},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	stale := time.Now().Add(-time.Hour)
	if err := repo.UpdateFields(ctx, nil, jobs[0].ID, map[string]interface{}{
		"status":       domain.JobStatusRunning,
		"heartbeat_at": stale,
		"locked_at":    stale,
	}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}

	claimed, err := repo.ClaimNextRunnable(ctx, nil, 5, 30*time.Second, 2*time.Minute)
	if err != nil {
		t.Fatalf("ClaimNextRunnable: %v", err)
	}
	if claimed == nil || claimed.ID != jobs[0].ID {
		t.Fatalf("running job with a stale heartbeat should be reclaimed")
	}
}

func TestCountPending(t *testing.T) {
	gdb := testutil.DB(t)
	repo := NewJobRepo(gdb, testutil.Logger(t))
	ctx := context.Background()

	if _, err := repo.Enqueue(ctx, nil, []*domain.GenerationJob{
		{JobType: domain.JobTypeCarnetGenerate},
		{JobType: domain.JobTypeCarnetGenerate},
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	count, err := repo.CountPending(ctx, nil)
	if err != nil {
		t.Fatalf("CountPending: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 pending jobs, got %d", count)
	}
}
