package repos

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/villatrans/carnet-backend/internal/domain"
	"github.com/villatrans/carnet-backend/internal/pkg/logger"
)

// UnitOutcome reports the session state immediately after one unit's
// atomic progress update.
type UnitOutcome struct {
	Processed int
	Total     int
	Completed bool
}

type SessionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, s *domain.GenerationSession) (*domain.GenerationSession, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.GenerationSession, error)
	GetByToken(ctx context.Context, tx *gorm.DB, token string) (*domain.GenerationSession, error)
	MarkProcessing(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	RecordUnitResult(ctx context.Context, tx *gorm.DB, id uuid.UUID, succeeded bool) (UnitOutcome, error)
	ClaimFinalize(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error)
	MarkCompleted(ctx context.Context, tx *gorm.DB, id uuid.UUID, archivePath, message string) error
	MarkError(ctx context.Context, tx *gorm.DB, id uuid.UUID, errMsg string) error
	AppendEvent(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, severity domain.EventSeverity, message string, data map[string]interface{}) error
	ListEvents(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*domain.GenerationSessionEvent, error)
}

type sessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSessionRepo(db *gorm.DB, baseLog *logger.Logger) SessionRepo {
	return &sessionRepo{db: db, log: baseLog.With("repo", "SessionRepo")}
}

func (r *sessionRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *sessionRepo) Create(ctx context.Context, tx *gorm.DB, s *domain.GenerationSession) (*domain.GenerationSession, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Token == "" {
		s.Token = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = domain.SessionStatusPending
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}
	if err := r.conn(tx).WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

func (r *sessionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.GenerationSession, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var s domain.GenerationSession
	err := r.conn(tx).WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&s).Error
	if err != nil {
		return nil, err
	}
	if s.ID == uuid.Nil {
		return nil, nil
	}
	return &s, nil
}

func (r *sessionRepo) GetByToken(ctx context.Context, tx *gorm.DB, token string) (*domain.GenerationSession, error) {
	if token == "" {
		return nil, nil
	}
	var s domain.GenerationSession
	err := r.conn(tx).WithContext(ctx).
		Where("token = ?", token).
		Limit(1).
		Find(&s).Error
	if err != nil {
		return nil, err
	}
	if s.ID == uuid.Nil {
		return nil, nil
	}
	return &s, nil
}

func (r *sessionRepo) MarkProcessing(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return r.conn(tx).WithContext(ctx).
		Model(&domain.GenerationSession{}).
		Where("id = ? AND status = ?", id, domain.SessionStatusPending).
		Updates(map[string]interface{}{
			"status":     domain.SessionStatusProcessing,
			"updated_at": time.Now(),
		}).Error
}

// RecordUnitResult applies one unit's outcome as a single atomic
// read-modify-write: the increment happens in one guarded UPDATE and the
// post-increment state is read back inside the same transaction. Callers
// must not hold counters in memory across their rendering work.
func (r *sessionRepo) RecordUnitResult(ctx context.Context, tx *gorm.DB, id uuid.UUID, succeeded bool) (UnitOutcome, error) {
	var out UnitOutcome
	if id == uuid.Nil {
		return out, fmt.Errorf("session id required")
	}
	resultCol := "failed"
	if succeeded {
		resultCol = "succeeded"
	}
	err := r.conn(tx).WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		res := txx.Model(&domain.GenerationSession{}).
			Where("id = ? AND processed < total", id).
			Updates(map[string]interface{}{
				"processed": gorm.Expr("processed + 1"),
				resultCol:   gorm.Expr(resultCol + " + 1"),
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("session %s already fully processed", id)
		}
		var s domain.GenerationSession
		if err := txx.Where("id = ?", id).Limit(1).Find(&s).Error; err != nil {
			return err
		}
		out.Processed = s.Processed
		out.Total = s.Total
		out.Completed = s.Processed >= s.Total
		return nil
	})
	return out, err
}

// ClaimFinalize atomically claims the right to run the finalizer for a
// fully processed session. Exactly one caller per session ever gets true,
// no matter how many units observe processed == total concurrently.
func (r *sessionRepo) ClaimFinalize(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	res := r.conn(tx).WithContext(ctx).
		Model(&domain.GenerationSession{}).
		Where("id = ? AND processed >= total AND finalize_enqueued = ?", id, false).
		Updates(map[string]interface{}{
			"finalize_enqueued": true,
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkCompleted is a terminal transition; it refuses to move a session that
// is already completed or errored.
func (r *sessionRepo) MarkCompleted(ctx context.Context, tx *gorm.DB, id uuid.UUID, archivePath, message string) error {
	now := time.Now()
	res := r.conn(tx).WithContext(ctx).
		Model(&domain.GenerationSession{}).
		Where("id = ? AND status NOT IN ?", id, []domain.SessionStatus{domain.SessionStatusCompleted, domain.SessionStatusError}).
		Updates(map[string]interface{}{
			"status":       domain.SessionStatusCompleted,
			"archive_path": archivePath,
			"message":      message,
			"completed_at": now,
			"updated_at":   now,
		})
	return res.Error
}

func (r *sessionRepo) MarkError(ctx context.Context, tx *gorm.DB, id uuid.UUID, errMsg string) error {
	now := time.Now()
	res := r.conn(tx).WithContext(ctx).
		Model(&domain.GenerationSession{}).
		Where("id = ? AND status NOT IN ?", id, []domain.SessionStatus{domain.SessionStatusCompleted, domain.SessionStatusError}).
		Updates(map[string]interface{}{
			"status":       domain.SessionStatusError,
			"error":        errMsg,
			"completed_at": now,
			"updated_at":   now,
		})
	return res.Error
}

// AppendEvent persists a log entry immediately so pollers see it on the
// next request. Entries are append-only.
func (r *sessionRepo) AppendEvent(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, severity domain.EventSeverity, message string, data map[string]interface{}) error {
	if sessionID == uuid.Nil {
		return nil
	}
	ev := &domain.GenerationSessionEvent{
		ID:        uuid.New(),
		SessionID: sessionID,
		Severity:  severity,
		Message:   message,
		CreatedAt: time.Now(),
	}
	if len(data) > 0 {
		raw, err := json.Marshal(data)
		if err != nil {
			r.log.Warn("Dropping unserializable event data", "session_id", sessionID, "error", err)
		} else {
			ev.Data = datatypes.JSON(raw)
		}
	}
	return r.conn(tx).WithContext(ctx).Create(ev).Error
}

func (r *sessionRepo) ListEvents(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*domain.GenerationSessionEvent, error) {
	var out []*domain.GenerationSessionEvent
	if sessionID == uuid.Nil {
		return out, nil
	}
	if err := r.conn(tx).WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
