package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/villatrans/carnet-backend/internal/data/repos"
	"github.com/villatrans/carnet-backend/internal/domain"
	"github.com/villatrans/carnet-backend/internal/pkg/logger"
	"github.com/villatrans/carnet-backend/internal/render"
)

// UnitReport is what one generation unit leaves behind for its scheduler.
type UnitReport struct {
	DocumentPath string
	Succeeded    bool
	// SessionDone is set when this unit's progress update observed
	// processed == total.
	SessionDone bool
	// FinalizeClaimed is set when this unit won the exactly-once claim to
	// trigger finalization. At most one unit per session reports true.
	FinalizeClaimed bool
}

// CarnetService generates one driver's carnet: composite, convert, store,
// then report the outcome to the session if one is attached.
type CarnetService interface {
	GenerateForDriver(ctx context.Context, tx *gorm.DB, driverID, templateID uuid.UUID, session *domain.GenerationSession, enqueueFinalize bool) (*UnitReport, error)
}

type carnetService struct {
	db           *gorm.DB
	log          *logger.Logger
	driverRepo   repos.DriverRepo
	templateRepo repos.TemplateRepo
	sessionRepo  repos.SessionRepo
	jobRepo      repos.JobRepo
	compositor   *render.Compositor
	converter    *render.DocumentConverter
	storage      StorageService
}

func NewCarnetService(
	db *gorm.DB,
	log *logger.Logger,
	driverRepo repos.DriverRepo,
	templateRepo repos.TemplateRepo,
	sessionRepo repos.SessionRepo,
	jobRepo repos.JobRepo,
	compositor *render.Compositor,
	converter *render.DocumentConverter,
	storage StorageService,
) CarnetService {
	return &carnetService{
		db:           db,
		log:          log.With("service", "CarnetService"),
		driverRepo:   driverRepo,
		templateRepo: templateRepo,
		sessionRepo:  sessionRepo,
		jobRepo:      jobRepo,
		compositor:   compositor,
		converter:    converter,
		storage:      storage,
	}
}

// GenerateForDriver runs one unit to completion. With a session attached,
// both outcomes flow into the session counters and log before any error
// propagates; the unit that observes the final increment claims
// finalization exactly once.
func (s *carnetService) GenerateForDriver(ctx context.Context, tx *gorm.DB, driverID, templateID uuid.UUID, session *domain.GenerationSession, enqueueFinalize bool) (*UnitReport, error) {
	report, genErr := s.generate(ctx, tx, driverID, templateID, session)

	if session == nil {
		return report, genErr
	}

	succeeded := genErr == nil
	outcome, recErr := s.sessionRepo.RecordUnitResult(ctx, tx, session.ID, succeeded)
	if recErr != nil {
		s.log.Error("Failed to record unit result", "sessionID", session.ID, "driverID", driverID, "error", recErr)
		if genErr != nil {
			return report, genErr
		}
		return report, recErr
	}

	if succeeded {
		s.appendEvent(ctx, tx, session.ID, domain.EventSuccess,
			fmt.Sprintf("Carnet generado (%d/%d)", outcome.Processed, outcome.Total),
			map[string]interface{}{"driver_id": driverID.String(), "document": report.DocumentPath})
	} else {
		s.appendEvent(ctx, tx, session.ID, domain.EventError,
			fmt.Sprintf("Fallo generando carnet (%d/%d): %v", outcome.Processed, outcome.Total, genErr),
			map[string]interface{}{"driver_id": driverID.String()})
	}

	report.Succeeded = succeeded
	report.SessionDone = outcome.Completed

	if outcome.Completed {
		claimed, claimErr := s.sessionRepo.ClaimFinalize(ctx, tx, session.ID)
		if claimErr != nil {
			s.log.Error("Finalize claim failed", "sessionID", session.ID, "error", claimErr)
		} else if claimed {
			report.FinalizeClaimed = true
			if enqueueFinalize {
				if err := s.enqueueFinalize(ctx, tx, session.ID); err != nil {
					s.log.Error("Failed to enqueue finalize job", "sessionID", session.ID, "error", err)
				}
			}
		}
	}

	return report, genErr
}

func (s *carnetService) generate(ctx context.Context, tx *gorm.DB, driverID, templateID uuid.UUID, session *domain.GenerationSession) (*UnitReport, error) {
	report := &UnitReport{}

	driver, err := s.driverRepo.GetByID(ctx, tx, driverID)
	if err != nil {
		return report, fmt.Errorf("load driver %s: %w", driverID, err)
	}
	if driver == nil {
		return report, fmt.Errorf("driver %s not found", driverID)
	}

	tpl, err := s.templateRepo.GetByID(ctx, tx, templateID)
	if err != nil {
		return report, fmt.Errorf("load template %s: %w", templateID, err)
	}
	if tpl == nil {
		return report, fmt.Errorf("template %s not found", templateID)
	}

	scratchKey := driver.ID.String()
	if session != nil {
		scratchKey = session.Token
	}
	scratch, err := s.storage.SessionScratchDir(scratchKey)
	if err != nil {
		return report, err
	}
	if session == nil {
		defer s.storage.CleanupScratch(scratchKey)
	}

	data := domain.SnapshotDriver(driver, s.storage.DriverProfileURL(driver.ID))

	rasterPath, w, h, err := s.compositor.Composite(&data, tpl, scratch)
	if err != nil {
		return report, err
	}

	docPath, convErr := s.converter.ToPDF(rasterPath, w, h)
	if convErr != nil {
		// Serve the raw raster rather than a broken PDF.
		s.log.Warn("PDF conversion failed, storing raster instead", "driverID", driverID, "error", convErr)
		docPath = rasterPath
	}

	stored, err := s.storage.SaveCarnetDocument(driver.Cedula, docPath)
	if err != nil {
		return report, err
	}
	if err := s.driverRepo.UpdateCarnetPath(ctx, tx, driver.ID, stored); err != nil {
		return report, fmt.Errorf("persist carnet path: %w", err)
	}

	report.DocumentPath = stored
	s.log.Info("Carnet generated", "driverID", driver.ID, "cedula", driver.Cedula, "document", stored)
	return report, nil
}

func (s *carnetService) appendEvent(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, severity domain.EventSeverity, message string, data map[string]interface{}) {
	if err := s.sessionRepo.AppendEvent(ctx, tx, sessionID, severity, message, data); err != nil {
		s.log.Warn("Failed to append session event (ignored)", "sessionID", sessionID, "error", err)
	}
}

func (s *carnetService) enqueueFinalize(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) error {
	payload := fmt.Sprintf(`{"session_id":%q}`, sessionID.String())
	_, err := s.jobRepo.Enqueue(ctx, tx, []*domain.GenerationJob{{
		JobType: domain.JobTypeSessionFinalize,
		Payload: []byte(strings.TrimSpace(payload)),
	}})
	return err
}
