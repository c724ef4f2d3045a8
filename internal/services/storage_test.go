package services

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/villatrans/carnet-backend/internal/data/repos/testutil"
)

func newTestStorage(t *testing.T) StorageService {
	t.Helper()
	t.Setenv("CARNET_STORAGE_ROOT", t.TempDir())
	t.Setenv("PUBLIC_BASE_URL", "http://carnets.example.test")
	t.Setenv("DRIVER_PROFILE_BASE_URL", "http://carnets.example.test/conductores")

	storage, err := NewStorageService(testutil.Logger(t))
	if err != nil {
		t.Fatalf("NewStorageService: %v", err)
	}
	return storage
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestSaveCarnetDocumentNamesByCedula(t *testing.T) {
	storage := newTestStorage(t)

	src := writeTempFile(t, "out.pdf", "%PDF-1.4 fake")
	stored, err := storage.SaveCarnetDocument("0801199901234", src)
	if err != nil {
		t.Fatalf("SaveCarnetDocument: %v", err)
	}

	base := filepath.Base(stored)
	if !strings.HasPrefix(base, "carnet_0801199901234_") || !strings.HasSuffix(base, ".pdf") {
		t.Fatalf("unexpected stored name %q", base)
	}
	if _, err := os.Stat(stored); err != nil {
		t.Fatalf("stored document missing: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("source should be gone after the move, stat err=%v", err)
	}
}

func TestSaveCarnetDocumentKeepsRasterExtension(t *testing.T) {
	storage := newTestStorage(t)

	src := writeTempFile(t, "out.png", "not really a png")
	stored, err := storage.SaveCarnetDocument("1111111111", src)
	if err != nil {
		t.Fatalf("SaveCarnetDocument: %v", err)
	}
	if !strings.HasSuffix(stored, ".png") {
		t.Fatalf("raster extension must survive the move, got %q", stored)
	}
}

func TestPublishArchiveRoundTrip(t *testing.T) {
	storage := newTestStorage(t)
	token := uuid.NewString()

	src := writeTempFile(t, "staged.zip", "PK fake archive")
	published, err := storage.PublishArchive(token, src)
	if err != nil {
		t.Fatalf("PublishArchive: %v", err)
	}
	if filepath.Base(published) != "carnets_"+token+".zip" {
		t.Fatalf("unexpected archive name %q", published)
	}

	found, err := storage.ArchiveFile(token)
	if err != nil {
		t.Fatalf("ArchiveFile: %v", err)
	}
	if found != published {
		t.Fatalf("ArchiveFile returned %q, want %q", found, published)
	}

	// No staging leftovers next to the published file.
	if _, err := os.Stat(published + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("staging file should not remain, stat err=%v", err)
	}
}

func TestArchiveFileMissing(t *testing.T) {
	storage := newTestStorage(t)
	if _, err := storage.ArchiveFile(uuid.NewString()); err == nil {
		t.Fatalf("unknown token must not resolve to an archive")
	}
}

func TestPruneArchivesKeepsNewest(t *testing.T) {
	storage := newTestStorage(t)

	tokens := make([]string, 0, 7)
	for i := 0; i < 7; i++ {
		token := uuid.NewString()
		src := writeTempFile(t, "a.zip", "PK")
		published, err := storage.PublishArchive(token, src)
		if err != nil {
			t.Fatalf("PublishArchive: %v", err)
		}
		// Spread mod times so retention ordering is deterministic.
		ts := time.Now().Add(time.Duration(i-7) * time.Minute)
		if err := os.Chtimes(published, ts, ts); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
		tokens = append(tokens, token)
	}

	if err := storage.PruneArchives(5); err != nil {
		t.Fatalf("PruneArchives: %v", err)
	}

	for i, token := range tokens {
		_, err := storage.ArchiveFile(token)
		if i < 2 && err == nil {
			t.Fatalf("oldest archive %d should have been pruned", i)
		}
		if i >= 2 && err != nil {
			t.Fatalf("archive %d inside retention window was pruned: %v", i, err)
		}
	}
}

func TestScratchLifecycle(t *testing.T) {
	storage := newTestStorage(t)
	token := uuid.NewString()

	dir, err := storage.SessionScratchDir(token)
	if err != nil {
		t.Fatalf("SessionScratchDir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "work.png"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write scratch file: %v", err)
	}

	// Idempotent: asking again returns the same directory.
	again, err := storage.SessionScratchDir(token)
	if err != nil || again != dir {
		t.Fatalf("scratch dir not stable: %q vs %q (%v)", dir, again, err)
	}

	storage.CleanupScratch(token)
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("scratch dir should be removed, stat err=%v", err)
	}
}

func TestPublicURLAndProfileURL(t *testing.T) {
	storage := newTestStorage(t)

	src := writeTempFile(t, "a.zip", "PK")
	published, err := storage.PublishArchive("tok-1", src)
	if err != nil {
		t.Fatalf("PublishArchive: %v", err)
	}

	url := storage.PublicURL(published)
	if !strings.HasPrefix(url, "http://carnets.example.test/storage/") {
		t.Fatalf("public URL should live under the storage mount, got %q", url)
	}
	if !strings.HasSuffix(url, "archives/carnets_tok-1.zip") {
		t.Fatalf("public URL should keep the relative layout, got %q", url)
	}

	id := uuid.New()
	profile := storage.DriverProfileURL(id)
	if profile != "http://carnets.example.test/conductores/"+id.String() {
		t.Fatalf("unexpected profile URL %q", profile)
	}
}
