package services

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/villatrans/carnet-backend/internal/pkg/logger"
	"github.com/villatrans/carnet-backend/internal/utils"
)

const archiveRetention = 5

// StorageService owns the on-disk layout of generated artifacts:
//
//	<root>/carnets/            permanent per-driver documents
//	<root>/archives/           published batch archives, publicly servable
//	<root>/scratch/<token>/    per-session working directory
type StorageService interface {
	SessionScratchDir(token string) (string, error)
	CleanupScratch(token string)
	SaveCarnetDocument(cedula, srcPath string) (string, error)
	PublishArchive(token, srcPath string) (string, error)
	ArchiveFile(token string) (string, error)
	PruneArchives(keep int) error
	PublicURL(storedPath string) string
	DriverProfileURL(driverID uuid.UUID) string
}

type storageService struct {
	log            *logger.Logger
	root           string
	publicBaseURL  string
	profileBaseURL string
}

func NewStorageService(log *logger.Logger) (StorageService, error) {
	serviceLog := log.With("service", "StorageService")

	root := utils.GetEnv("CARNET_STORAGE_ROOT", "./storage", serviceLog)
	s := &storageService{
		log:            serviceLog,
		root:           root,
		publicBaseURL:  strings.TrimRight(utils.GetEnv("PUBLIC_BASE_URL", "http://localhost:8080", serviceLog), "/"),
		profileBaseURL: strings.TrimRight(utils.GetEnv("DRIVER_PROFILE_BASE_URL", "http://localhost:8080/conductores", serviceLog), "/"),
	}
	for _, dir := range []string{s.carnetsDir(), s.archivesDir(), s.scratchRoot()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir %s: %w", dir, err)
		}
	}
	return s, nil
}

func (s *storageService) carnetsDir() string  { return filepath.Join(s.root, "carnets") }
func (s *storageService) archivesDir() string { return filepath.Join(s.root, "archives") }
func (s *storageService) scratchRoot() string { return filepath.Join(s.root, "scratch") }

func (s *storageService) SessionScratchDir(token string) (string, error) {
	dir := filepath.Join(s.scratchRoot(), token)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	return dir, nil
}

// CleanupScratch removes a session's working directory wholesale. Safe to
// call once the session is terminal; errors are only logged.
func (s *storageService) CleanupScratch(token string) {
	dir := filepath.Join(s.scratchRoot(), token)
	if err := os.RemoveAll(dir); err != nil {
		s.log.Warn("Failed to remove scratch dir (ignored)", "dir", dir, "error", err)
	}
}

// SaveCarnetDocument moves a finished document into permanent storage under
// carnets/carnet_<cedula>_<timestamp>.<ext>. The timestamp disambiguates
// regenerations so stale cached copies are never served.
func (s *storageService) SaveCarnetDocument(cedula, srcPath string) (string, error) {
	ext := filepath.Ext(srcPath)
	if ext == "" {
		ext = ".pdf"
	}
	dst := filepath.Join(s.carnetsDir(), fmt.Sprintf("carnet_%s_%d%s", cedula, time.Now().UnixNano(), ext))
	if err := moveFile(srcPath, dst); err != nil {
		return "", fmt.Errorf("store carnet document: %w", err)
	}
	return dst, nil
}

// PublishArchive moves a completed archive into the public directory as
// carnets_<token>.zip. The move is staged through a temp name in the
// destination directory so a partial archive is never visible.
func (s *storageService) PublishArchive(token, srcPath string) (string, error) {
	final := filepath.Join(s.archivesDir(), fmt.Sprintf("carnets_%s.zip", token))
	staging := final + ".tmp"
	if err := moveFile(srcPath, staging); err != nil {
		return "", fmt.Errorf("stage archive: %w", err)
	}
	if err := os.Rename(staging, final); err != nil {
		os.Remove(staging)
		return "", fmt.Errorf("publish archive: %w", err)
	}
	return final, nil
}

func (s *storageService) ArchiveFile(token string) (string, error) {
	path := filepath.Join(s.archivesDir(), fmt.Sprintf("carnets_%s.zip", token))
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("archive for session %s not found: %w", token, err)
	}
	return path, nil
}

// PruneArchives deletes published archives beyond the retention count,
// oldest first.
func (s *storageService) PruneArchives(keep int) error {
	entries, err := os.ReadDir(s.archivesDir())
	if err != nil {
		return fmt.Errorf("read archives dir: %w", err)
	}

	type archive struct {
		path string
		mod  time.Time
	}
	var archives []archive
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".zip") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		archives = append(archives, archive{
			path: filepath.Join(s.archivesDir(), e.Name()),
			mod:  info.ModTime(),
		})
	}
	if len(archives) <= keep {
		return nil
	}
	sort.Slice(archives, func(i, j int) bool { return archives[i].mod.Before(archives[j].mod) })
	for _, a := range archives[:len(archives)-keep] {
		if err := os.Remove(a.path); err != nil {
			s.log.Warn("Failed to prune archive (ignored)", "path", a.path, "error", err)
			continue
		}
		s.log.Info("Pruned old archive", "path", a.path)
	}
	return nil
}

func (s *storageService) PublicURL(storedPath string) string {
	rel, err := filepath.Rel(s.root, storedPath)
	if err != nil {
		rel = filepath.Base(storedPath)
	}
	return s.publicBaseURL + "/storage/" + filepath.ToSlash(rel)
}

func (s *storageService) DriverProfileURL(driverID uuid.UUID) string {
	return fmt.Sprintf("%s/%s", s.profileBaseURL, driverID.String())
}

// moveFile renames when possible and falls back to copy+remove for
// cross-device moves.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
