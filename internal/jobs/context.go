package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/villatrans/carnet-backend/internal/data/repos"
	"github.com/villatrans/carnet-backend/internal/domain"
)

// Context is the execution handle for one claimed job. Handlers report
// their terminal state only through Succeed/Fail; they never write the job
// row directly.
type Context struct {
	Ctx     context.Context
	DB      *gorm.DB
	Job     *domain.GenerationJob
	Repo    repos.JobRepo
	payload map[string]any
}

func NewContext(ctx context.Context, db *gorm.DB, job *domain.GenerationJob, repo repos.JobRepo) *Context {
	c := &Context{
		Ctx:  ctx,
		DB:   db,
		Job:  job,
		Repo: repo,
	}
	_ = c.decodePayload()
	return c
}

func (c *Context) decodePayload() error {
	if c.Job == nil || len(c.Job.Payload) == 0 {
		c.payload = map[string]any{}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(c.Job.Payload, &m); err != nil {
		c.payload = map[string]any{}
		return err
	}
	c.payload = m
	return nil
}

// Payload never returns nil; an unset or unparseable payload reads as an
// empty map and handlers validate required fields themselves.
func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

func (c *Context) PayloadUUID(key string) (uuid.UUID, bool) {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(fmt.Sprint(v))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// Succeed marks the job terminally succeeded. An optional note lands in the
// error column purely for operator visibility of partial outcomes.
func (c *Context) Succeed(note string) {
	if c == nil || c.Job == nil || c.Job.ID == uuid.Nil {
		return
	}
	now := time.Now()
	_ = c.Repo.UpdateFields(c.Ctx, c.DB, c.Job.ID, map[string]interface{}{
		"status":     domain.JobStatusSucceeded,
		"error":      note,
		"locked_at":  nil,
		"updated_at": now,
	})
	c.Job.Status = domain.JobStatusSucceeded
	c.Job.Error = note
	c.Job.LockedAt = nil
}

// Fail marks the job failed and clears its lock so the claim query can
// retry it while attempts remain.
func (c *Context) Fail(err error) {
	if c == nil || c.Job == nil || c.Job.ID == uuid.Nil {
		return
	}
	now := time.Now()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	_ = c.Repo.UpdateFields(c.Ctx, c.DB, c.Job.ID, map[string]interface{}{
		"status":        domain.JobStatusFailed,
		"error":         msg,
		"last_error_at": now,
		"locked_at":     nil,
		"updated_at":    now,
	})
	c.Job.Status = domain.JobStatusFailed
	c.Job.Error = msg
	c.Job.LastErrorAt = &now
	c.Job.LockedAt = nil
}
