package services

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/villatrans/carnet-backend/internal/data/repos"
	"github.com/villatrans/carnet-backend/internal/domain"
	"github.com/villatrans/carnet-backend/internal/pkg/logger"
)

// FinalizerService packages a completed session's documents into a single
// archive and settles the session's terminal state. It runs exactly once
// per session; the claim in the session repo guarantees that.
type FinalizerService interface {
	Finalize(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) error
}

type finalizerService struct {
	db          *gorm.DB
	log         *logger.Logger
	sessionRepo repos.SessionRepo
	driverRepo  repos.DriverRepo
	storage     StorageService
}

func NewFinalizerService(db *gorm.DB, log *logger.Logger, sessionRepo repos.SessionRepo, driverRepo repos.DriverRepo, storage StorageService) FinalizerService {
	return &finalizerService{
		db:          db,
		log:         log.With("service", "FinalizerService"),
		sessionRepo: sessionRepo,
		driverRepo:  driverRepo,
		storage:     storage,
	}
}

func (s *finalizerService) Finalize(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) error {
	session, err := s.sessionRepo.GetByID(ctx, tx, sessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if session == nil {
		return fmt.Errorf("session %s not found", sessionID)
	}
	if session.Terminal() {
		s.log.Warn("Session already terminal, skipping finalize", "sessionID", sessionID, "status", string(session.Status))
		return nil
	}

	archivePath, count, err := s.buildArchive(ctx, tx, session)
	if err != nil {
		s.fail(ctx, tx, session, err)
		return err
	}

	msg := fmt.Sprintf("Archivo generado con %d carnets", count)
	if err := s.sessionRepo.MarkCompleted(ctx, tx, session.ID, archivePath, msg); err != nil {
		s.fail(ctx, tx, session, fmt.Errorf("mark completed: %w", err))
		return err
	}
	if err := s.sessionRepo.AppendEvent(ctx, tx, session.ID, domain.EventSuccess, msg,
		map[string]interface{}{"archive": archivePath, "documents": count}); err != nil {
		s.log.Warn("Failed to append final event (ignored)", "sessionID", session.ID, "error", err)
	}

	if err := s.storage.PruneArchives(archiveRetention); err != nil {
		s.log.Warn("Archive retention prune failed (ignored)", "error", err)
	}
	s.storage.CleanupScratch(session.Token)

	s.log.Info("Session finalized", "sessionID", session.ID, "archive", archivePath, "documents", count)
	return nil
}

// buildArchive streams every stored document of the session's drivers into
// a zip staged inside the session scratch dir, then publishes it. A partial
// archive never reaches the public directory.
func (s *finalizerService) buildArchive(ctx context.Context, tx *gorm.DB, session *domain.GenerationSession) (string, int, error) {
	driverIDs, err := decodeDriverIDs(session.DriverIDs)
	if err != nil {
		return "", 0, fmt.Errorf("decode session driver scope: %w", err)
	}
	drivers, err := s.driverRepo.GetByIDs(ctx, tx, driverIDs)
	if err != nil {
		return "", 0, fmt.Errorf("load session drivers: %w", err)
	}

	scratch, err := s.storage.SessionScratchDir(session.Token)
	if err != nil {
		return "", 0, err
	}
	staging := filepath.Join(scratch, fmt.Sprintf("carnets_%s.zip", session.Token))

	count, err := writeArchive(staging, drivers)
	if err != nil {
		os.Remove(staging)
		return "", 0, err
	}
	if count == 0 {
		os.Remove(staging)
		return "", 0, fmt.Errorf("no documents to archive for session %s", session.Token)
	}

	published, err := s.storage.PublishArchive(session.Token, staging)
	if err != nil {
		return "", 0, err
	}
	return published, count, nil
}

func writeArchive(path string, drivers []*domain.Driver) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create archive: %w", err)
	}
	zw := zip.NewWriter(f)

	count := 0
	for _, d := range drivers {
		doc := d.CarnetPath
		if doc == "" {
			continue
		}
		src, err := os.Open(doc)
		if err != nil {
			continue
		}
		ext := filepath.Ext(doc)
		if ext == "" {
			ext = ".pdf"
		}
		entry, err := zw.Create(fmt.Sprintf("carnet_%s%s", d.Cedula, ext))
		if err != nil {
			src.Close()
			zw.Close()
			f.Close()
			return 0, fmt.Errorf("create archive entry: %w", err)
		}
		if _, err := io.Copy(entry, src); err != nil {
			src.Close()
			zw.Close()
			f.Close()
			return 0, fmt.Errorf("write archive entry: %w", err)
		}
		src.Close()
		count++
	}

	if err := zw.Close(); err != nil {
		f.Close()
		return 0, fmt.Errorf("close archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close archive file: %w", err)
	}
	return count, nil
}

func (s *finalizerService) fail(ctx context.Context, tx *gorm.DB, session *domain.GenerationSession, cause error) {
	s.log.Error("Finalization failed", "sessionID", session.ID, "error", cause)
	if err := s.sessionRepo.MarkError(ctx, tx, session.ID, cause.Error()); err != nil {
		s.log.Error("Failed to mark session error", "sessionID", session.ID, "error", err)
	}
	if err := s.sessionRepo.AppendEvent(ctx, tx, session.ID, domain.EventError, cause.Error(), nil); err != nil {
		s.log.Warn("Failed to append error event (ignored)", "sessionID", session.ID, "error", err)
	}
	s.storage.CleanupScratch(session.Token)
}

func decodeDriverIDs(raw []byte) ([]uuid.UUID, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var ids []uuid.UUID
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}
