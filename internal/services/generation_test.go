package services

import (
	"archive/zip"
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/villatrans/carnet-backend/internal/data/repos"
	"github.com/villatrans/carnet-backend/internal/data/repos/testutil"
	"github.com/villatrans/carnet-backend/internal/domain"
	"github.com/villatrans/carnet-backend/internal/render"
)

type testStack struct {
	db         *gorm.DB
	drivers    repos.DriverRepo
	templates  repos.TemplateRepo
	sessions   repos.SessionRepo
	jobs       repos.JobRepo
	storage    StorageService
	carnet     CarnetService
	finalizer  FinalizerService
	generation GenerationService
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	t.Setenv("CARNET_STORAGE_ROOT", t.TempDir())

	log := testutil.Logger(t)
	gdb := testutil.DB(t)

	driverRepo := repos.NewDriverRepo(gdb, log)
	templateRepo := repos.NewTemplateRepo(gdb, log)
	sessionRepo := repos.NewSessionRepo(gdb, log)
	jobRepo := repos.NewJobRepo(gdb, log)

	storage, err := NewStorageService(log)
	if err != nil {
		t.Fatalf("storage init: %v", err)
	}

	fontResolver := render.NewFontResolver(t.TempDir(), log)
	imageLoader := render.NewImageLoader(log)
	compositor := render.NewCompositor(log, fontResolver, imageLoader)
	converter := render.NewDocumentConverter(log)

	carnet := NewCarnetService(gdb, log, driverRepo, templateRepo, sessionRepo, jobRepo, compositor, converter, storage)
	finalizer := NewFinalizerService(gdb, log, sessionRepo, driverRepo, storage)
	generation := NewGenerationService(gdb, log, driverRepo, templateRepo, sessionRepo, jobRepo, carnet, finalizer, storage)

	return &testStack{
		db:         gdb,
		drivers:    driverRepo,
		templates:  templateRepo,
		sessions:   sessionRepo,
		jobs:       jobRepo,
		storage:    storage,
		carnet:     carnet,
		finalizer:  finalizer,
		generation: generation,
	}
}

const cedulaTemplateConfig = `{"cedula": {"active": true, "x": 100, "y": 100, "font_size": 14, "color": "#000000"}}`

func TestSyncBatchCompletesAndArchives(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	bg := testutil.WriteBackgroundPNG(t, t.TempDir(), 400, 300)
	tpl := testutil.SeedTemplate(t, ctx, stack.db, bg, cedulaTemplateConfig, true)

	cedulas := []string{"1111111111", "2222222222", "3333333333"}
	ids := make([]uuid.UUID, 0, len(cedulas))
	for _, c := range cedulas {
		ids = append(ids, testutil.SeedDriver(t, ctx, stack.db, c).ID)
	}

	session, err := stack.generation.StartBatch(ctx, uuid.New(), &tpl.ID, ids, true)
	if err != nil {
		t.Fatalf("StartBatch: %v", err)
	}

	progress, err := stack.generation.Progress(ctx, session.Token)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if progress.Status != domain.SessionStatusCompleted {
		t.Fatalf("expected completed session, got %s (error=%q)", progress.Status, progress.Error)
	}
	if progress.Processed != 3 || progress.Succeeded != 3 || progress.Failed != 0 {
		t.Fatalf("unexpected counters: %+v", progress)
	}
	if progress.Percent != 100 {
		t.Fatalf("expected 100%%, got %d", progress.Percent)
	}
	if progress.ArchiveURL == "" {
		t.Fatalf("completed session must expose an archive URL")
	}
	if len(progress.Logs) == 0 {
		t.Fatalf("completed session should carry log entries")
	}

	archive, err := stack.storage.ArchiveFile(session.Token)
	if err != nil {
		t.Fatalf("ArchiveFile: %v", err)
	}
	zr, err := zip.OpenReader(archive)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer zr.Close()

	if len(zr.File) != 3 {
		t.Fatalf("expected 3 archive entries, got %d", len(zr.File))
	}
	seen := map[string]bool{}
	for _, f := range zr.File {
		seen[f.Name] = true
	}
	for _, c := range cedulas {
		if !seen["carnet_"+c+".pdf"] {
			t.Fatalf("archive missing entry for cedula %s: %v", c, seen)
		}
	}
}

func TestBatchWithUnknownDriversFailsFast(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	bg := testutil.WriteBackgroundPNG(t, t.TempDir(), 400, 300)
	tpl := testutil.SeedTemplate(t, ctx, stack.db, bg, cedulaTemplateConfig, true)

	session, err := stack.generation.StartBatch(ctx, uuid.New(), &tpl.ID, []uuid.UUID{uuid.New()}, true)
	if err == nil {
		t.Fatalf("empty driver scope must fail the batch")
	}
	if session == nil {
		t.Fatalf("configuration failures must still persist a visible session")
	}
	if session.Status != domain.SessionStatusError {
		t.Fatalf("expected errored session, got %s", session.Status)
	}

	// No units were scheduled.
	pending, err := stack.jobs.CountPending(ctx, nil)
	if err != nil {
		t.Fatalf("CountPending: %v", err)
	}
	if pending != 0 {
		t.Fatalf("no jobs should exist after a config failure, found %d", pending)
	}
}

func TestBatchWithoutTemplateFailsFast(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	testutil.SeedDriver(t, ctx, stack.db, "4444444444")

	session, err := stack.generation.StartBatch(ctx, uuid.New(), nil, nil, true)
	if err == nil || !strings.Contains(err.Error(), "template") {
		t.Fatalf("expected template config error, got %v", err)
	}
	if session == nil || session.Status != domain.SessionStatusError {
		t.Fatalf("configuration failure must persist an errored session")
	}
}

func TestBatchDefaultsToActiveDrivers(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	bg := testutil.WriteBackgroundPNG(t, t.TempDir(), 400, 300)
	tpl := testutil.SeedTemplate(t, ctx, stack.db, bg, cedulaTemplateConfig, true)

	testutil.SeedDriver(t, ctx, stack.db, "5555555555")
	inactive := testutil.SeedDriver(t, ctx, stack.db, "6666666666")
	if err := stack.db.Model(inactive).Update("status", "inactivo").Error; err != nil {
		t.Fatalf("deactivate driver: %v", err)
	}

	session, err := stack.generation.StartBatch(ctx, uuid.New(), &tpl.ID, nil, true)
	if err != nil {
		t.Fatalf("StartBatch: %v", err)
	}
	if session.Total != 1 {
		t.Fatalf("only active drivers should be scoped, total=%d", session.Total)
	}
}

func TestAsyncFanOutEnqueuesUnits(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	bg := testutil.WriteBackgroundPNG(t, t.TempDir(), 400, 300)
	tpl := testutil.SeedTemplate(t, ctx, stack.db, bg, cedulaTemplateConfig, true)

	ids := []uuid.UUID{
		testutil.SeedDriver(t, ctx, stack.db, "7777777777").ID,
		testutil.SeedDriver(t, ctx, stack.db, "8888888888").ID,
	}

	session, err := stack.generation.StartBatch(ctx, uuid.New(), &tpl.ID, ids, false)
	if err != nil {
		t.Fatalf("StartBatch async: %v", err)
	}

	refreshed, err := stack.sessions.GetByID(ctx, nil, session.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if refreshed.Status != domain.SessionStatusProcessing {
		t.Fatalf("async batch should be processing, got %s", refreshed.Status)
	}

	pending, err := stack.jobs.CountPending(ctx, nil)
	if err != nil {
		t.Fatalf("CountPending: %v", err)
	}
	if pending != 2 {
		t.Fatalf("expected 2 enqueued units, got %d", pending)
	}
}

func TestIndividualGenerationPersistsDriverDocument(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	bg := testutil.WriteBackgroundPNG(t, t.TempDir(), 400, 300)
	tpl := testutil.SeedTemplate(t, ctx, stack.db, bg, cedulaTemplateConfig, true)
	driver := testutil.SeedDriver(t, ctx, stack.db, "9999999999")

	session, err := stack.generation.StartIndividual(ctx, uuid.New(), driver.ID, &tpl.ID)
	if err != nil {
		t.Fatalf("StartIndividual: %v", err)
	}
	if session.Kind != domain.SessionKindIndividual {
		t.Fatalf("expected individual session kind")
	}

	refreshed, err := stack.drivers.GetByID(ctx, nil, driver.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if refreshed.CarnetPath == "" {
		t.Fatalf("driver should carry the generated document path")
	}
	if !strings.Contains(refreshed.CarnetPath, "carnet_9999999999_") {
		t.Fatalf("document name should derive from the cedula, got %q", refreshed.CarnetPath)
	}
}

func TestUnitFailureStillCountsAndSessionCompletes(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	// Background path that does not exist: every unit fails fatally.
	tpl := testutil.SeedTemplate(t, ctx, stack.db, "/nonexistent/bg.png", cedulaTemplateConfig, true)
	ids := []uuid.UUID{
		testutil.SeedDriver(t, ctx, stack.db, "1212121212").ID,
	}

	session, err := stack.generation.StartBatch(ctx, uuid.New(), &tpl.ID, ids, true)
	if err == nil {
		t.Fatalf("a batch with zero produced documents should surface the finalize error")
	}
	if session == nil {
		t.Fatalf("the session must exist even when finalization errored")
	}

	progress, err := stack.generation.Progress(ctx, session.Token)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if progress.Processed != 1 || progress.Failed != 1 {
		t.Fatalf("failed unit must still count: %+v", progress)
	}
	// No documents were produced, so finalization errors the session.
	if progress.Status != domain.SessionStatusError {
		t.Fatalf("session with zero documents should end in error, got %s", progress.Status)
	}
	if progress.Error == "" {
		t.Fatalf("errored session must carry a descriptive error")
	}
}
