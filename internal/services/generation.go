package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/villatrans/carnet-backend/internal/data/repos"
	"github.com/villatrans/carnet-backend/internal/domain"
	"github.com/villatrans/carnet-backend/internal/pkg/logger"
)

// SessionProgress is the poll response shape for a generation session.
type SessionProgress struct {
	Status     domain.SessionStatus `json:"status"`
	Total      int                  `json:"total"`
	Processed  int                  `json:"processed"`
	Succeeded  int                  `json:"succeeded"`
	Failed     int                  `json:"failed"`
	Percent    int                  `json:"percent"`
	Message    string               `json:"message,omitempty"`
	Error      string               `json:"error,omitempty"`
	ArchiveURL string               `json:"archive_url,omitempty"`
	Logs       []SessionLogEntry    `json:"logs"`
}

type SessionLogEntry struct {
	Severity  domain.EventSeverity `json:"severity"`
	Message   string               `json:"message"`
	CreatedAt time.Time            `json:"created_at"`
}

// GenerationService creates sessions and schedules generation units. The
// async fan-out is the canonical strategy; the sync loop exists for small
// interactive runs and drives the archive inline without a finalize job.
type GenerationService interface {
	StartBatch(ctx context.Context, ownerID uuid.UUID, templateID *uuid.UUID, driverIDs []uuid.UUID, sync bool) (*domain.GenerationSession, error)
	StartIndividual(ctx context.Context, ownerID, driverID uuid.UUID, templateID *uuid.UUID) (*domain.GenerationSession, error)
	Progress(ctx context.Context, token string) (*SessionProgress, error)
}

type generationService struct {
	db           *gorm.DB
	log          *logger.Logger
	driverRepo   repos.DriverRepo
	templateRepo repos.TemplateRepo
	sessionRepo  repos.SessionRepo
	jobRepo      repos.JobRepo
	carnet       CarnetService
	finalizer    FinalizerService
	storage      StorageService
}

func NewGenerationService(
	db *gorm.DB,
	log *logger.Logger,
	driverRepo repos.DriverRepo,
	templateRepo repos.TemplateRepo,
	sessionRepo repos.SessionRepo,
	jobRepo repos.JobRepo,
	carnet CarnetService,
	finalizer FinalizerService,
	storage StorageService,
) GenerationService {
	return &generationService{
		db:           db,
		log:          log.With("service", "GenerationService"),
		driverRepo:   driverRepo,
		templateRepo: templateRepo,
		sessionRepo:  sessionRepo,
		jobRepo:      jobRepo,
		carnet:       carnet,
		finalizer:    finalizer,
		storage:      storage,
	}
}

// StartBatch resolves the template and driver set, creates the session and
// schedules one unit per driver. Configuration errors fail fast: the
// session is persisted already in error state and no units are scheduled.
func (s *generationService) StartBatch(ctx context.Context, ownerID uuid.UUID, templateID *uuid.UUID, driverIDs []uuid.UUID, sync bool) (*domain.GenerationSession, error) {
	return s.start(ctx, ownerID, domain.SessionKindBatch, templateID, driverIDs, sync)
}

func (s *generationService) StartIndividual(ctx context.Context, ownerID, driverID uuid.UUID, templateID *uuid.UUID) (*domain.GenerationSession, error) {
	return s.start(ctx, ownerID, domain.SessionKindIndividual, templateID, []uuid.UUID{driverID}, true)
}

func (s *generationService) start(ctx context.Context, ownerID uuid.UUID, kind domain.SessionKind, templateID *uuid.UUID, driverIDs []uuid.UUID, sync bool) (*domain.GenerationSession, error) {
	tpl, err := s.resolveTemplate(ctx, templateID)
	if err != nil {
		return s.failedSession(ctx, ownerID, kind, err), err
	}

	ids, err := s.resolveDrivers(ctx, driverIDs)
	if err != nil {
		return s.failedSession(ctx, ownerID, kind, err), err
	}

	scope, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("encode driver scope: %w", err)
	}

	session, err := s.sessionRepo.Create(ctx, nil, &domain.GenerationSession{
		OwnerUserID: ownerID,
		Kind:        kind,
		TemplateID:  tpl.ID,
		Total:       len(ids),
		DriverIDs:   scope,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if sync {
		if err := s.runSync(ctx, session, tpl.ID, ids); err != nil {
			return session, err
		}
		return session, nil
	}

	if err := s.fanOut(ctx, session, tpl.ID, ids); err != nil {
		if mErr := s.sessionRepo.MarkError(ctx, nil, session.ID, err.Error()); mErr != nil {
			s.log.Error("Failed to mark session error", "sessionID", session.ID, "error", mErr)
		}
		return session, err
	}
	return session, nil
}

func (s *generationService) resolveTemplate(ctx context.Context, templateID *uuid.UUID) (*domain.CarnetTemplate, error) {
	var tpl *domain.CarnetTemplate
	var err error
	if templateID != nil && *templateID != uuid.Nil {
		tpl, err = s.templateRepo.GetByID(ctx, nil, *templateID)
	} else {
		tpl, err = s.templateRepo.GetActive(ctx, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve template: %w", err)
	}
	if tpl == nil {
		return nil, fmt.Errorf("no usable template configured")
	}
	if _, err := tpl.Fields(); err != nil {
		return nil, fmt.Errorf("template %s has invalid field config: %w", tpl.ID, err)
	}
	return tpl, nil
}

func (s *generationService) resolveDrivers(ctx context.Context, driverIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(driverIDs) > 0 {
		drivers, err := s.driverRepo.GetByIDs(ctx, nil, driverIDs)
		if err != nil {
			return nil, fmt.Errorf("resolve drivers: %w", err)
		}
		if len(drivers) == 0 {
			return nil, fmt.Errorf("no drivers matched the requested scope")
		}
		ids := make([]uuid.UUID, 0, len(drivers))
		for _, d := range drivers {
			ids = append(ids, d.ID)
		}
		return ids, nil
	}

	drivers, err := s.driverRepo.ListActive(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list active drivers: %w", err)
	}
	if len(drivers) == 0 {
		return nil, fmt.Errorf("no active drivers available")
	}
	ids := make([]uuid.UUID, 0, len(drivers))
	for _, d := range drivers {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// failedSession persists a session already in error state so pollers see
// the configuration failure, then hands it back alongside the error.
func (s *generationService) failedSession(ctx context.Context, ownerID uuid.UUID, kind domain.SessionKind, cause error) *domain.GenerationSession {
	now := time.Now()
	session, err := s.sessionRepo.Create(ctx, nil, &domain.GenerationSession{
		OwnerUserID: ownerID,
		Kind:        kind,
		Status:      domain.SessionStatusError,
		Error:       cause.Error(),
		CompletedAt: &now,
	})
	if err != nil {
		s.log.Error("Failed to persist errored session", "error", err)
		return nil
	}
	return session
}

// fanOut enqueues one generation job per driver and flips the session to
// processing. Completion detection rides on the last unit's increment.
func (s *generationService) fanOut(ctx context.Context, session *domain.GenerationSession, templateID uuid.UUID, driverIDs []uuid.UUID) error {
	jobs := make([]*domain.GenerationJob, 0, len(driverIDs))
	for _, id := range driverIDs {
		payload, err := json.Marshal(map[string]string{
			"driver_id":   id.String(),
			"template_id": templateID.String(),
			"session_id":  session.ID.String(),
		})
		if err != nil {
			return fmt.Errorf("encode job payload: %w", err)
		}
		jobs = append(jobs, &domain.GenerationJob{
			JobType: domain.JobTypeCarnetGenerate,
			Payload: payload,
		})
	}
	if _, err := s.jobRepo.Enqueue(ctx, nil, jobs); err != nil {
		return fmt.Errorf("enqueue generation jobs: %w", err)
	}
	if err := s.sessionRepo.MarkProcessing(ctx, nil, session.ID); err != nil {
		return fmt.Errorf("mark session processing: %w", err)
	}
	s.log.Info("Batch scheduled", "sessionID", session.ID, "units", len(jobs))
	return nil
}

// runSync generates one driver at a time in-process, persisting progress
// after each, then finalizes inline. Unit failures do not stop the loop.
func (s *generationService) runSync(ctx context.Context, session *domain.GenerationSession, templateID uuid.UUID, driverIDs []uuid.UUID) error {
	if err := s.sessionRepo.MarkProcessing(ctx, nil, session.ID); err != nil {
		return fmt.Errorf("mark session processing: %w", err)
	}

	for _, driverID := range driverIDs {
		report, err := s.carnet.GenerateForDriver(ctx, nil, driverID, templateID, session, false)
		if err != nil {
			s.log.Warn("Unit failed in sync batch", "sessionID", session.ID, "driverID", driverID, "error", err)
		}
		if report != nil && report.FinalizeClaimed {
			if err := s.finalizer.Finalize(ctx, nil, session.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *generationService) Progress(ctx context.Context, token string) (*SessionProgress, error) {
	session, err := s.sessionRepo.GetByToken(ctx, nil, token)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("session %s not found", token)
	}

	events, err := s.sessionRepo.ListEvents(ctx, nil, session.ID)
	if err != nil {
		return nil, fmt.Errorf("load session events: %w", err)
	}
	logs := make([]SessionLogEntry, 0, len(events))
	for _, e := range events {
		logs = append(logs, SessionLogEntry{
			Severity:  e.Severity,
			Message:   e.Message,
			CreatedAt: e.CreatedAt,
		})
	}

	progress := &SessionProgress{
		Status:    session.Status,
		Total:     session.Total,
		Processed: session.Processed,
		Succeeded: session.Succeeded,
		Failed:    session.Failed,
		Percent:   session.Percent(),
		Message:   session.Message,
		Error:     session.Error,
		Logs:      logs,
	}
	if session.Status == domain.SessionStatusCompleted && session.ArchivePath != "" {
		progress.ArchiveURL = s.storage.PublicURL(session.ArchivePath)
	}
	return progress, nil
}
