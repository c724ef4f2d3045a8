package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type SessionKind string

const (
	SessionKindIndividual SessionKind = "individual"
	SessionKindBatch      SessionKind = "batch"
)

type SessionStatus string

const (
	SessionStatusPending    SessionStatus = "pending"
	SessionStatusProcessing SessionStatus = "processing"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusError      SessionStatus = "error"
)

// GenerationSession tracks one individual or batch generation request.
// It is the sole source of truth for progress and is mutated concurrently
// by every generation unit; counters only ever move through atomic
// read-modify-write updates in the repo layer.
//
// Invariants: processed <= total, succeeded + failed == processed, and
// status never moves backward out of a terminal state.
type GenerationSession struct {
	ID               uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Token            string         `gorm:"column:token;not null;uniqueIndex" json:"token"`
	OwnerUserID      uuid.UUID      `gorm:"type:uuid;column:owner_user_id;index" json:"owner_user_id"`
	Kind             SessionKind    `gorm:"column:kind;not null" json:"kind"`
	TemplateID       uuid.UUID      `gorm:"type:uuid;column:template_id" json:"template_id"`
	Status           SessionStatus  `gorm:"column:status;not null;index" json:"status"`
	Total            int            `gorm:"column:total;not null;default:0" json:"total"`
	Processed        int            `gorm:"column:processed;not null;default:0" json:"processed"`
	Succeeded        int            `gorm:"column:succeeded;not null;default:0" json:"succeeded"`
	Failed           int            `gorm:"column:failed;not null;default:0" json:"failed"`
	Message          string         `gorm:"column:message" json:"message,omitempty"`
	Error            string         `gorm:"column:error" json:"error,omitempty"`
	ArchivePath      string         `gorm:"column:archive_path" json:"archive_path,omitempty"`
	FinalizeEnqueued bool           `gorm:"column:finalize_enqueued;not null;default:false" json:"-"`
	// DriverIDs freezes the session's scope at creation time.
	DriverIDs   datatypes.JSON `gorm:"column:driver_ids;type:jsonb" json:"driver_ids"`
	StartedAt   time.Time      `gorm:"column:started_at;not null" json:"started_at"`
	CompletedAt *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (GenerationSession) TableName() string { return "generation_session" }

func (s *GenerationSession) Percent() int {
	if s.Total <= 0 {
		return 0
	}
	return s.Processed * 100 / s.Total
}

func (s *GenerationSession) Terminal() bool {
	return s.Status == SessionStatusCompleted || s.Status == SessionStatusError
}

type EventSeverity string

const (
	EventInfo    EventSeverity = "info"
	EventSuccess EventSeverity = "success"
	EventWarning EventSeverity = "warning"
	EventError   EventSeverity = "error"
	EventDebug   EventSeverity = "debug"
)

// GenerationSessionEvent is the append-only progress ledger for a session.
// Append order is the only ordering; entries are never rewritten.
type GenerationSessionEvent struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SessionID uuid.UUID      `gorm:"type:uuid;column:session_id;not null;index" json:"session_id"`
	Severity  EventSeverity  `gorm:"column:severity;not null" json:"severity"`
	Message   string         `gorm:"column:message;type:text" json:"message"`
	Data      datatypes.JSON `gorm:"column:data;type:jsonb" json:"data,omitempty"`
	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
}

func (GenerationSessionEvent) TableName() string { return "generation_session_event" }
